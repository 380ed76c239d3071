package client

// ModuleStatus mirrors one entry of GET /status and GET /unexpected-stops.
type ModuleStatus struct {
	Name        string `json:"name"`
	Alive       bool   `json:"alive"`
	State       string `json:"state"`
	Provenance  string `json:"provenance"`
	Path        string `json:"path"`
	PID         int    `json:"pid"`
	RunningHint bool   `json:"running_hint"`
}

// Module mirrors one entry of GET /modules.
type Module struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Provenance string `json:"provenance"`
}

// AutostartRequest is the body of POST /autostart. Empty Modules selects the
// daemon's configured profile.
type AutostartRequest struct {
	Modules []string `json:"modules,omitempty"`
}

// AutostartResult reports per-module failures; the rest were started.
type AutostartResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type discoverResponse struct {
	Added int `json:"added"`
}

type logResponse struct {
	Name string `json:"name"`
	Log  string `json:"log"`
}
