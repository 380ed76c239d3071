package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:5660/api"

// ErrNotFound is returned when the daemon does not know the module or has no log for it.
var ErrNotFound = errors.New("not found")

// Client provides HTTP client functionality to communicate with the sdctl daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new sdctl API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}
}

// IsReachable checks if the daemon is reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/modules", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	isReachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Modules lists the discovered modules in collection order.
func (c *Client) Modules(ctx context.Context) ([]Module, error) {
	var out []Module
	err := c.do(ctx, http.MethodGet, "/modules", nil, nil, &out)
	return out, err
}

// Status reports every module, or every copy of name when it is not empty.
func (c *Client) Status(ctx context.Context, name string) ([]ModuleStatus, error) {
	var q url.Values
	if name != "" {
		q = url.Values{"name": {name}}
	}
	var out []ModuleStatus
	err := c.do(ctx, http.MethodGet, "/status", q, nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, name string) error {
	c.logger.Debug("Starting module", "module", name)
	return c.do(ctx, http.MethodPost, "/start", url.Values{"name": {name}}, nil, &okResponse{})
}

func (c *Client) Stop(ctx context.Context, name string) error {
	c.logger.Debug("Stopping module", "module", name)
	return c.do(ctx, http.MethodPost, "/stop", url.Values{"name": {name}}, nil, &okResponse{})
}

func (c *Client) Toggle(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/toggle", url.Values{"name": {name}}, nil, &okResponse{})
}

func (c *Client) StopAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop-all", nil, nil, &okResponse{})
}

// Autostart starts modules in server-first order. A result with OK false
// carries the failures; it is not returned as an error.
func (c *Client) Autostart(ctx context.Context, modules []string) (AutostartResult, error) {
	var out AutostartResult
	err := c.do(ctx, http.MethodPost, "/autostart", nil, AutostartRequest{Modules: modules}, &out)
	return out, err
}

// Discover rescans and returns the number of newly added modules.
func (c *Client) Discover(ctx context.Context) (int, error) {
	var out discoverResponse
	err := c.do(ctx, http.MethodPost, "/discover", nil, nil, &out)
	return out.Added, err
}

// UnexpectedStops lists modules the daemon believes running whose process is gone.
func (c *Client) UnexpectedStops(ctx context.Context) ([]ModuleStatus, error) {
	var out []ModuleStatus
	err := c.do(ctx, http.MethodGet, "/unexpected-stops", nil, nil, &out)
	return out, err
}

// Log returns at most the last maxBytes of the module's captured output; 0
// leaves the tail size to the server, which also caps large requests.
func (c *Client) Log(ctx context.Context, name string, maxBytes int64) (string, error) {
	q := url.Values{"name": {name}}
	if maxBytes > 0 {
		q.Set("bytes", strconv.FormatInt(maxBytes, 10))
	}
	var out logResponse
	err := c.do(ctx, http.MethodGet, "/log", q, nil, &out)
	return out.Log, err
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errorResp.Error)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
