package postgres

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/sdctl/internal/store"
)

// DB implements store.Store on PostgreSQL through the pgx stdlib driver.
// Useful when several hosts report into one place; the single-writer
// assumption per module name still applies.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) Initialize(ctx context.Context, baseline []string) error {
	if _, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS module_state(
			seq BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			UNIQUE(name, field)
		);`); err != nil {
		return err
	}
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM module_state;`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, name := range baseline {
		if _, err := tx.ExecContext(ctx, `INSERT INTO module_state(name, field, value) VALUES($1, $2, $3), ($1, $4, $5);`,
			name, store.FieldStatus, store.FormatStatus(false), store.FieldPID, "0"); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (p *DB) Get(ctx context.Context, name, field string) (string, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM module_state WHERE name=$1 AND field=$2;`, name, field).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrRecordNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (p *DB) Set(ctx context.Context, name, field, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO module_state(name, field, value) VALUES($1, $2, $3)
		ON CONFLICT(name, field) DO UPDATE SET value=EXCLUDED.value;`,
		name, field, value)
	return err
}

func (p *DB) Names(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM module_state GROUP BY name ORDER BY MIN(seq);`)
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

func (p *DB) Close() error { return p.db.Close() }
