package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultFileName   = "sdctl.log"
)

// Level and format names accepted in configuration.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	FormatText = "text"
	FormatJSON = "json"
)

// Config groups the supervisor's own structured logging (Slog) and its
// optional rotated log file (File).
type Config struct {
	Slog SlogConfig
	File FileConfig
}

type SlogConfig struct {
	Level      string // debug|info|warn|error (default info)
	Format     string // text|json (default text)
	Color      bool   // ANSI level colors; text format on a terminal only
	TimeStamps bool
	Source     bool
}

// FileConfig describes the rotated log file. Rotation parameters follow
// lumberjack semantics. Empty Dir disables file logging.
type FileConfig struct {
	Dir        string
	Name       string // file name inside Dir (default sdctl.log)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewSlogger builds a logger writing to stderr and, when File.Dir is set, to
// the rotated file as well. Colors are dropped when a file is attached.
func (c Config) NewSlogger() *slog.Logger {
	return slog.New(c.handler(os.Stderr))
}

func (c Config) handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Slog.Level), AddSource: c.Slog.Source}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	if fw := c.File.Writer(); fw != nil {
		w = io.MultiWriter(w, fw)
	} else if c.Slog.Color && strings.ToLower(c.Slog.Format) != FormatJSON {
		return NewColorTextHandler(w, opts, c.Slog.TimeStamps)
	}
	if strings.ToLower(c.Slog.Format) == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Writer returns the rotated file writer, or nil when Dir is empty.
func (f FileConfig) Writer() io.WriteCloser {
	if f.Dir == "" {
		return nil
	}
	name := f.Name
	if name == "" {
		name = DefaultFileName
	}
	return &lj.Logger{
		Filename:   filepath.Join(f.Dir, name),
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

// ParseLevel maps a level name to slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
