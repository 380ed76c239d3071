package clickhouse

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/sdctl/internal/history"
)

const DefaultTable = "module_history"

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects with a clickhouse:// DSN. The optional "table" query
// parameter names the target table (default module_history); it is created
// when missing.
func New(dsn string) (*Sink, error) {
	opts, table, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func parseDSN(dsn string) (*clickhouse.Options, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("invalid ClickHouse DSN: %w", err)
	}
	// url.Query drops segments with a ';' silently; it must be rejected instead
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, "", fmt.Errorf("invalid ClickHouse DSN query: %w", err)
	}
	table := q.Get("table")
	if table == "" {
		table = DefaultTable
	}
	if !tableRe.MatchString(table) {
		return nil, "", fmt.Errorf("invalid ClickHouse table name %q", table)
	}
	q.Del("table")
	u.RawQuery = q.Encode()
	opts, err := clickhouse.ParseDSN(u.String())
	if err != nil {
		return nil, "", fmt.Errorf("invalid ClickHouse DSN: %w", err)
	}
	return opts, table, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		occurred_at DateTime64(6),
		event LowCardinality(String),
		name String,
		pid UInt32,
		provenance LowCardinality(String)
	) ENGINE = MergeTree()
	ORDER BY (name, occurred_at)`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	pid := e.PID
	if pid < 0 {
		pid = 0
	}
	err := s.conn.Exec(ctx,
		`INSERT INTO `+s.table+` (occurred_at, event, name, pid, provenance) VALUES (?, ?, ?, ?, ?)`,
		e.OccurredAt.UTC(), string(e.Type), e.Name, uint32(pid), e.Provenance) // #nosec G115 -- pid is non-negative and fits
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
