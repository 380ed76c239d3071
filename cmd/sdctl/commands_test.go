package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/sdctl"
	"github.com/loykin/sdctl/internal/process/processtest"
)

type fixture struct {
	bin string
	cfg string
	ctl *processtest.Fake
	sup *sdctl.Supervisor
}

// shared keeps the fixture supervisor open across commands, like a daemon would.
type shared struct{ *local }

func (shared) Close() error { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"sd-server", "sd-watcher-afk", "sd-watcher-window"} {
		if err := os.WriteFile(filepath.Join(bin, n), []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	logDir := filepath.Join(root, "logs")
	cfg := filepath.Join(root, "sdctl.toml")
	content := "[supervisor]\nstate_dsn = \"" + filepath.ToSlash(filepath.Join(root, "process.ini")) + "\"\n" +
		"module_log_dir = \"" + filepath.ToSlash(logDir) + "\"\n" +
		"[log]\nlevel = \"error\"\n"
	if err := os.WriteFile(cfg, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return &fixture{bin: bin, cfg: cfg, ctl: processtest.NewFake()}
}

func (f *fixture) open(t *testing.T) *sdctl.Supervisor {
	t.Helper()
	cfg, err := sdctl.LoadConfig(f.cfg)
	if err != nil {
		t.Fatal(err)
	}
	sup, err := sdctl.Open(context.Background(), cfg, sdctl.Options{
		InstallDir: f.bin,
		SearchPath: []string{},
		Controller: f.ctl,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return sup
}

// run executes the CLI in-process against a supervisor backed by the fake controller.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	c := &command{flags: &GlobalFlags{}}
	if f.sup == nil {
		f.sup = f.open(t)
		t.Cleanup(func() { _ = f.sup.Close() })
	}
	c.open = func(context.Context) (backend, error) {
		return shared{&local{sup: f.sup, testing: c.flags.Testing}}, nil
	}
	root := newRoot(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", f.cfg}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStartPrintsStatusTable(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "start", "sd-watcher-afk")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	want := "name                status      type\nsd-watcher-afk      running     bundled\n"
	if out != want {
		t.Fatalf("output:\n%q\nwant:\n%q", out, want)
	}
}

func TestUnknownModuleFails(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, "start", "sd-nope"); err == nil || !strings.Contains(err.Error(), "unknown module") {
		t.Fatalf("expected unknown module error, got %v", err)
	}
}

func TestStatusJSONAndList(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "status", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var sts []sdctl.Status
	if err := json.Unmarshal([]byte(out), &sts); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(sts) != 3 {
		t.Fatalf("status rows = %d", len(sts))
	}
	out, err = f.run(t, "list")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "bundled") != 3 {
		t.Fatalf("list output:\n%s", out)
	}
}

func TestAutostartTestingProfileAndUnexpected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, "--testing", "autostart"); err != nil {
		t.Fatalf("autostart: %v", err)
	}
	if got := strings.Join(f.ctl.Names("spawn"), ","); got != "sd-server,sd-watcher-afk,sd-watcher-window" {
		t.Fatalf("spawn order %s", got)
	}
	for _, c := range f.ctl.Calls() {
		if c.Name == "sd-watcher-window" {
			f.ctl.Kill(c.PID)
		}
	}
	out, err := f.run(t, "unexpected")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "sd-watcher-window") || strings.Contains(out, "sd-server") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if _, err := f.run(t, "stop-all"); err != nil {
		t.Fatalf("stop-all: %v", err)
	}
	if f.ctl.AliveCount("sd-server") != 0 {
		t.Fatalf("server still alive after stop-all")
	}
}

func TestLogCommand(t *testing.T) {
	f := newFixture(t)
	logDir := filepath.Join(filepath.Dir(f.cfg), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "sd-server.log"), []byte("one\ntwo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := f.run(t, "log", "sd-server", "--bytes", "4")
	if err != nil {
		t.Fatal(err)
	}
	if out != "two\n" {
		t.Fatalf("log output %q", out)
	}
}

func TestRemoteMode(t *testing.T) {
	f := newFixture(t)
	sup := f.open(t)
	t.Cleanup(func() { _ = sup.Close() })
	srv := httptest.NewServer(sup.Handler(false))
	t.Cleanup(srv.Close)
	api := srv.URL + "/api"

	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", f.cfg, "--api-url", api, "toggle", "sd-server"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("remote toggle: %v", err)
	}
	if !strings.Contains(out.String(), "sd-server           running") {
		t.Fatalf("remote output:\n%s", out.String())
	}
	if f.ctl.AliveCount("sd-server") != 1 {
		t.Fatalf("remote toggle did not start the server")
	}

	root = buildRoot()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", f.cfg, "--api-url", api, "stop", "sd-ghost"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected remote error for unknown module")
	}
}

func TestServeRejectsAPIURL(t *testing.T) {
	root := buildRoot()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"serve", "--api-url", "http://127.0.0.1:1/api"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("serve with --api-url should fail")
	}
}

func TestUnexpectedHelpPointsAtDaemon(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"unexpected", "--help"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(out.String(), "--api-url") || !strings.Contains(out.String(), "sdctl serve") {
		t.Fatalf("unexpected help should point at the daemon:\n%s", out.String())
	}
}
