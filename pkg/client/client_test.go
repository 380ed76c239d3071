package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestDefaults(t *testing.T) {
	c := New(Config{})
	if c.baseURL != DefaultBaseURL {
		t.Fatalf("base url = %q", c.baseURL)
	}
	if c.client.Timeout != 10*time.Second {
		t.Fatalf("timeout = %v", c.client.Timeout)
	}
	if DefaultConfig().BaseURL != DefaultBaseURL {
		t.Fatalf("default config base url mismatch")
	}
}

func TestStartSendsName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/start" || r.URL.Query().Get("name") != "sd-server" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	if err := c.Start(context.Background(), "sd-server"); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestNotFoundIsTyped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown module: sd-nope"}`))
	})
	err := c.Stop(context.Background(), "sd-nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServerErrorWithoutJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if err := c.StopAll(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStatusAndModules(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			if r.URL.Query().Get("name") != "sd-server" {
				t.Errorf("missing name filter: %s", r.URL)
			}
			_, _ = w.Write([]byte(`[{"name":"sd-server","alive":true,"state":"running","provenance":"bundled","pid":42}]`))
		case "/api/modules":
			_, _ = w.Write([]byte(`[{"name":"sd-server","path":"/opt/sd-server","provenance":"bundled"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	sts, err := c.Status(context.Background(), "sd-server")
	if err != nil || len(sts) != 1 || !sts[0].Alive || sts[0].PID != 42 || sts[0].State != "running" {
		t.Fatalf("status = %+v err=%v", sts, err)
	}
	mods, err := c.Modules(context.Background())
	if err != nil || len(mods) != 1 || mods[0].Path != "/opt/sd-server" {
		t.Fatalf("modules = %+v err=%v", mods, err)
	}
}

func TestAutostartBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req AutostartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Modules) != 2 {
			t.Errorf("modules = %v", req.Modules)
		}
		_, _ = w.Write([]byte(`{"ok":false,"errors":["unknown module: sd-ghost"]}`))
	})
	res, err := c.Autostart(context.Background(), []string{"sd-server", "sd-ghost"})
	if err != nil {
		t.Fatalf("autostart: %v", err)
	}
	if res.OK || len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestLogAndDiscover(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/log":
			if r.URL.Query().Get("bytes") != "128" {
				t.Errorf("bytes = %q", r.URL.Query().Get("bytes"))
			}
			_, _ = w.Write([]byte(`{"name":"sd-server","log":"tail"}`))
		case "/api/discover":
			_, _ = w.Write([]byte(`{"added":2}`))
		}
	})
	out, err := c.Log(context.Background(), "sd-server", 128)
	if err != nil || out != "tail" {
		t.Fatalf("log = %q err=%v", out, err)
	}
	n, err := c.Discover(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("discover = %d err=%v", n, err)
	}
}

func TestIsReachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	if !c.IsReachable(context.Background()) {
		t.Fatalf("expected reachable")
	}
	dead := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 200 * time.Millisecond})
	if dead.IsReachable(context.Background()) {
		t.Fatalf("expected unreachable")
	}
}
