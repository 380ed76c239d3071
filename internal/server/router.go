package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/sdctl/internal/manager"
	"github.com/loykin/sdctl/internal/metrics"
	"github.com/loykin/sdctl/internal/module"
)

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints, relative to basePath:
//
//	GET  /modules                 discovered modules
//	GET  /status                  query: name=... (optional)
//	POST /start|/stop|/toggle     query: name=...
//	POST /stop-all
//	POST /autostart               body: {"modules": [...]} (empty uses the configured profile)
//	POST /discover
//	GET  /unexpected-stops
//	GET  /log                     query: name=...&bytes=N
//
// /metrics is served at the root when enabled. Unknown module names yield 404.
type Router struct {
	mgr              *mng.Manager
	basePath         string
	metrics          bool
	defaultAutostart []string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/start, /api/stop, /api/status.
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// EnableMetrics mounts the Prometheus handler at /metrics.
func (r *Router) EnableMetrics() *Router {
	r.metrics = true
	return r
}

// SetDefaultAutostart sets the modules started by POST /autostart with an empty body.
func (r *Router) SetDefaultAutostart(names []string) *Router {
	r.defaultAutostart = append([]string(nil), names...)
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/modules", r.handleModules)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/toggle", r.handleToggle)
	group.POST("/stop-all", r.handleStopAll)
	group.POST("/autostart", r.handleAutostart)
	group.POST("/discover", r.handleDiscover)
	group.GET("/unexpected-stops", r.handleUnexpected)
	group.GET("/log", r.handleLog)
	return g
}

// NewServer binds addr and serves r in the background. Binding errors are
// returned; serve errors after that are logged.
func NewServer(addr string, r *Router, log *slog.Logger) (*http.Server, net.Addr, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", "error", err)
		}
	}()
	return srv, ln.Addr(), nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type moduleResp struct {
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Provenance module.Provenance `json:"provenance"`
}

type autostartReq struct {
	Modules []string `json:"modules"`
}

type autostartResp struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

type discoverResp struct {
	Added int `json:"added"`
}

type logResp struct {
	Name string `json:"name"`
	Log  string `json:"log"`
}

func (r *Router) handleModules(c *gin.Context) {
	mods := r.mgr.Modules()
	out := make([]moduleResp, 0, len(mods))
	for _, m := range mods {
		out = append(out, moduleResp{Name: m.Name(), Path: m.Path(), Provenance: m.Provenance()})
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.mgr.Status(c.Request.Context()))
		return
	}
	st, err := r.mgr.StatusOf(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) {
	r.byName(c, r.mgr.Start)
}

func (r *Router) handleStop(c *gin.Context) {
	r.byName(c, r.mgr.Stop)
}

func (r *Router) handleToggle(c *gin.Context) {
	r.byName(c, r.mgr.Toggle)
}

func (r *Router) byName(c *gin.Context, op func(context.Context, string) error) {
	name, ok := requireName(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopAll(c *gin.Context) {
	if err := r.mgr.StopAll(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleAutostart(c *gin.Context) {
	var req autostartReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	names := req.Modules
	if len(names) == 0 {
		names = r.defaultAutostart
	}
	for _, n := range names {
		if !isSafeName(n) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid module name: " + strconv.Quote(n)})
			return
		}
	}
	resp := autostartResp{OK: true}
	if err := r.mgr.Autostart(c.Request.Context(), names); err != nil {
		resp.OK = false
		resp.Errors = flatten(err)
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleDiscover(c *gin.Context) {
	writeJSON(c, http.StatusOK, discoverResp{Added: r.mgr.DiscoverModules(c.Request.Context())})
}

func (r *Router) handleUnexpected(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.UnexpectedStatus(c.Request.Context()))
}

// Tail sizes for GET /log. An absent or zero bytes parameter gets
// DefaultLogBytes; larger requests are clamped to MaxLogBytes.
const (
	DefaultLogBytes int64 = 64 << 10
	MaxLogBytes     int64 = 1 << 20
)

func (r *Router) handleLog(c *gin.Context) {
	name, ok := requireName(c)
	if !ok {
		return
	}
	maxBytes := DefaultLogBytes
	if s := c.Query("bytes"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "bytes must be a non-negative integer"})
			return
		}
		switch {
		case n == 0:
		case n > MaxLogBytes:
			maxBytes = MaxLogBytes
		default:
			maxBytes = n
		}
	}
	out, err := r.mgr.ReadLog(name, maxBytes)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, logResp{Name: name, Log: out})
}
