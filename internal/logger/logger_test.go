package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriter_Disabled(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer when Dir is empty")
	}
}

func TestFileWriter_Defaults(t *testing.T) {
	dir := t.TempDir()
	w := FileConfig{Dir: dir}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger: %T", w)
	}
	defer func() { _ = l.Close() }()
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	if l.Filename != filepath.Join(dir, DefaultFileName) {
		t.Fatalf("unexpected filename %s", l.Filename)
	}
}

func TestFileWriter_Overrides(t *testing.T) {
	w := FileConfig{Dir: t.TempDir(), Name: "x.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writer()
	l := w.(*lj.Logger)
	defer func() { _ = l.Close() }()
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	if filepath.Base(l.Filename) != "x.log" {
		t.Fatalf("unexpected filename %s", l.Filename)
	}
}

func TestNewSlogger_WritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Slog: SlogConfig{Level: "debug"}, File: FileConfig{Dir: dir}}
	log := cfg.NewSlogger()
	log.Debug("hello file", "module", "sd-server")
	b, err := os.ReadFile(filepath.Join(dir, DefaultFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "hello file") || !strings.Contains(string(b), "module=sd-server") {
		t.Fatalf("unexpected log content: %s", b)
	}
}

func TestHandler_JSONWithoutTime(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Format: "json"}}
	slog.New(cfg.handler(&buf)).Info("started", "pid", 42)
	out := buf.String()
	if !strings.Contains(out, `"msg":"started"`) || !strings.Contains(out, `"pid":42`) {
		t.Fatalf("unexpected json output: %s", out)
	}
	if strings.Contains(out, `"time"`) {
		t.Fatalf("time must be dropped when TimeStamps is false: %s", out)
	}
}

func TestHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: "warn"}}
	log := slog.New(cfg.handler(&buf))
	log.Info("quiet")
	log.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Fatalf("level filter not applied: %s", buf.String())
	}
}

func TestColorTextHandler_PrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Color: true}}
	h := cfg.handler(&buf)
	if _, ok := h.(*ColorTextHandler); !ok {
		t.Fatalf("expected ColorTextHandler, got %T", h)
	}
	slog.New(h).With("module", "sd-server").Error("boom")
	out := buf.String()
	if !strings.Contains(out, "[31mERROR") || !strings.Contains(out, "module=sd-server") {
		t.Fatalf("unexpected color output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
