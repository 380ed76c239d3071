package factory

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/loykin/sdctl/internal/store"
	"github.com/loykin/sdctl/internal/store/inifile"
	pg "github.com/loykin/sdctl/internal/store/postgres"
	sq "github.com/loykin/sdctl/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite:   "sqlite://<path>", ":memory:", or a path ending in .db/.sqlite
//   - ini:      "ini://<path>" or any other bare path (the default state file format)
func NewFromDSN(dsn string, logger *slog.Logger) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	switch {
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case ld == ":memory:":
		return sq.New(d)
	case strings.HasPrefix(ld, "ini://"):
		return inifile.New(d[len("ini://"):], logger)
	}
	switch strings.ToLower(filepath.Ext(d)) {
	case ".db", ".sqlite", ".sqlite3":
		return sq.New(d)
	}
	return inifile.New(d, logger)
}
