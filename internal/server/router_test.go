package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sdctl/internal/discovery"
	mng "github.com/loykin/sdctl/internal/manager"
	"github.com/loykin/sdctl/internal/module"
	"github.com/loykin/sdctl/internal/process/processtest"
	"github.com/loykin/sdctl/internal/store"
)

type staticDiscoverer []discovery.Candidate

func (s staticDiscoverer) Discover() []discovery.Candidate { return s }

type testEnv struct {
	srv    *httptest.Server
	mgr    *mng.Manager
	ctl    *processtest.Fake
	logDir string
}

func newTestEnv(t *testing.T, basePath string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{ctl: processtest.NewFake(), logDir: t.TempDir()}
	cands := staticDiscoverer{
		{Name: "sd-server", Path: "/opt/sd/sd-server", Provenance: module.Bundled},
		{Name: "sd-watcher-afk", Path: "/opt/sd/sd-watcher-afk", Provenance: module.Bundled},
		{Name: "sd-watcher-window", Path: "/usr/bin/sd-watcher-window", Provenance: module.System},
	}
	m, err := mng.New(context.Background(), mng.Options{
		Store:      store.NewMemory(),
		Baseline:   []string{"sd-server", "sd-watcher-afk", "sd-watcher-window"},
		Discoverer: cands,
		Controller: env.ctl,
		Names: mng.Names{
			CoreServer:    "sd-server",
			AltServer:     "sd-server-rust",
			Autostartable: []string{"sd-server", "sd-server-rust", "sd-watcher-afk", "sd-watcher-window"},
		},
		LogDir: env.logDir,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	env.mgr = m
	r := NewRouter(m, basePath).SetDefaultAutostart([]string{"sd-server", "sd-watcher-afk"}).EnableMetrics()
	env.srv = httptest.NewServer(r.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestStartStopStatusFlow(t *testing.T) {
	env := newTestEnv(t, "/api")

	resp, body := env.do(t, http.MethodPost, "/api/start?name=sd-watcher-afk", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, []string{"sd-watcher-afk"}, env.ctl.Names("spawn"))

	resp, body = env.do(t, http.MethodGet, "/api/status?name=sd-watcher-afk", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sts []mng.Status
	require.NoError(t, json.Unmarshal(body, &sts))
	require.Len(t, sts, 1)
	assert.True(t, sts[0].Alive)
	assert.Equal(t, module.StateRunning, sts[0].State)

	resp, _ = env.do(t, http.MethodPost, "/api/stop?name=sd-watcher-afk", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.ctl.AliveCount("sd-watcher-afk"))

	resp, body = env.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &sts))
	assert.Len(t, sts, 3)
}

func TestUnknownModuleIsNotFound(t *testing.T) {
	env := newTestEnv(t, "/api")
	for _, p := range []string{"/api/start?name=sd-nope", "/api/stop?name=sd-nope", "/api/toggle?name=sd-nope"} {
		resp, body := env.do(t, http.MethodPost, p, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
		assert.Contains(t, string(body), "unknown module")
	}
	resp, _ := env.do(t, http.MethodGet, "/api/status?name=sd-nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNameValidation(t *testing.T) {
	env := newTestEnv(t, "/api")
	resp, body := env.do(t, http.MethodPost, "/api/start", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "name required")

	resp, _ = env.do(t, http.MethodPost, "/api/start?name=../etc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, env.ctl.Calls())
}

func TestSpawnFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, "/api")
	env.ctl.FailSpawn("sd-server", errors.New("exec format error"))
	resp, body := env.do(t, http.MethodPost, "/api/start?name=sd-server", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "exec format error")
}

func TestToggle(t *testing.T) {
	env := newTestEnv(t, "/api")
	resp, _ := env.do(t, http.MethodPost, "/api/toggle?name=sd-server", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.ctl.AliveCount("sd-server"))
	resp, _ = env.do(t, http.MethodPost, "/api/toggle?name=sd-server", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.ctl.AliveCount("sd-server"))
}

func TestAutostartDefaultAndExplicit(t *testing.T) {
	env := newTestEnv(t, "/api")
	resp, body := env.do(t, http.MethodPost, "/api/autostart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, []string{"sd-server", "sd-watcher-afk"}, env.ctl.Names("spawn"))

	resp, body = env.do(t, http.MethodPost, "/api/autostart", map[string]any{"modules": []string{"sd-watcher-window", "sd-ghost"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out autostartResp
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.OK)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "sd-ghost")
	assert.Equal(t, 1, env.ctl.AliveCount("sd-watcher-window"))
}

func TestAutostartRejectsBadJSON(t *testing.T) {
	env := newTestEnv(t, "/api")
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/autostart", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStopAllAndUnexpected(t *testing.T) {
	env := newTestEnv(t, "/api")
	for _, n := range []string{"sd-server", "sd-watcher-afk"} {
		resp, _ := env.do(t, http.MethodPost, "/api/start?name="+n, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	rec, err := env.mgr.StatusOf(context.Background(), "sd-watcher-afk")
	require.NoError(t, err)
	env.ctl.Kill(rec[0].PID)

	resp, body := env.do(t, http.MethodGet, "/api/unexpected-stops", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var gone []mng.Status
	require.NoError(t, json.Unmarshal(body, &gone))
	require.Len(t, gone, 1)
	assert.Equal(t, "sd-watcher-afk", gone[0].Name)
	assert.Equal(t, rec[0].PID, gone[0].PID)
	assert.False(t, gone[0].Alive)

	resp, _ = env.do(t, http.MethodPost, "/api/stop-all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.ctl.AliveCount("sd-server"))
}

func TestModulesAndDiscover(t *testing.T) {
	env := newTestEnv(t, "api/")
	resp, body := env.do(t, http.MethodGet, "/api/modules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mods []moduleResp
	require.NoError(t, json.Unmarshal(body, &mods))
	require.Len(t, mods, 3)
	assert.Equal(t, module.System, mods[2].Provenance)

	resp, body = env.do(t, http.MethodPost, "/api/discover", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"added":0}`, string(body))
}

func TestLogEndpoint(t *testing.T) {
	env := newTestEnv(t, "/api")
	resp, _ := env.do(t, http.MethodGet, "/api/log?name=sd-server", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, os.WriteFile(filepath.Join(env.logDir, "sd-server.log"), []byte("hello\nworld\n"), 0o600))
	resp, body := env.do(t, http.MethodGet, "/api/log?name=sd-server&bytes=6", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out logResp
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "world\n", out.Log)

	resp, _ = env.do(t, http.MethodGet, "/api/log?name=sd-server&bytes=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogEndpointCapsTail(t *testing.T) {
	env := newTestEnv(t, "/api")
	big := append(bytes.Repeat([]byte("a"), int(MaxLogBytes)), []byte("tail\n")...)
	require.NoError(t, os.WriteFile(filepath.Join(env.logDir, "sd-server.log"), big, 0o600))

	for _, q := range []string{"", "&bytes=0"} {
		resp, body := env.do(t, http.MethodGet, "/api/log?name=sd-server"+q, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out logResp
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Len(t, out.Log, int(DefaultLogBytes), "query %q", q)
		assert.True(t, strings.HasSuffix(out.Log, "tail\n"))
	}

	resp, body := env.do(t, http.MethodGet, "/api/log?name=sd-server&bytes=99999999", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out logResp
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Log, int(MaxLogBytes))
}

func TestMetricsMountedAtRoot(t *testing.T) {
	env := newTestEnv(t, "/api")
	resp, _ := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServerBindsAndServes(t *testing.T) {
	env := newTestEnv(t, "/api")
	srv, addr, err := NewServer("127.0.0.1:0", NewRouter(env.mgr, "/api"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	resp, err := http.Get("http://" + addr.String() + "/api/modules")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, _, err = NewServer(addr.String(), NewRouter(env.mgr, "/api"), nil)
	assert.Error(t, err)
}
