package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/sdctl/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared across calls
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) Initialize(ctx context.Context, baseline []string) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS module_state(
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			UNIQUE(name, field)
		);`); err != nil {
		return err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM module_state;`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, name := range baseline {
		for _, kv := range [][2]string{{store.FieldStatus, store.FormatStatus(false)}, {store.FieldPID, "0"}} {
			if _, err := tx.ExecContext(ctx, `INSERT INTO module_state(name, field, value) VALUES(?, ?, ?);`, name, kv[0], kv[1]); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *DB) Get(ctx context.Context, name, field string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM module_state WHERE name=? AND field=?;`, name, field).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrRecordNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *DB) Set(ctx context.Context, name, field, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO module_state(name, field, value) VALUES(?, ?, ?)
		ON CONFLICT(name, field) DO UPDATE SET value=excluded.value;`,
		name, field, value)
	return err
}

func (s *DB) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM module_state GROUP BY name ORDER BY MIN(seq);`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *DB) Close() error { return s.db.Close() }
