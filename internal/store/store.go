package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Field names of a module record.
const (
	FieldPID    = "pid"
	FieldStatus = "status"
)

// ErrRecordNotFound is returned when a module section or one of its fields is absent.
var ErrRecordNotFound = errors.New("record not found")

// Store keeps the last known pid and status per module name.
//
// Implementations persist every Set before returning. Concurrent writers from
// different supervisor processes are not coordinated; a single writer at a time
// is assumed.
type Store interface {
	// Initialize creates the backing storage seeded with baseline names
	// (status=False, pid=0). It never overwrites existing data.
	Initialize(ctx context.Context, baseline []string) error
	Get(ctx context.Context, name, field string) (string, error)
	Set(ctx context.Context, name, field, value string) error
	// Names lists every section ever written, in storage order.
	Names(ctx context.Context) ([]string, error)
	Close() error
}

// Record is the typed view of one module section.
type Record struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	Status bool   `json:"status"`
}

// Load reads the record for name. A missing section yields ErrRecordNotFound
// together with a zero record (pid=0, status=false). A malformed field is
// reported as an error and read as its zero value.
func Load(ctx context.Context, s Store, name string) (Record, error) {
	rec := Record{Name: name}
	rawPID, err := s.Get(ctx, name, FieldPID)
	if err != nil {
		return rec, err
	}
	pid, pidErr := ParsePID(rawPID)
	rec.PID = pid

	rawStatus, err := s.Get(ctx, name, FieldStatus)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return rec, err
	}
	status, statusErr := ParseStatus(rawStatus)
	rec.Status = status
	if pidErr != nil {
		return rec, pidErr
	}
	if err == nil && statusErr != nil {
		return rec, statusErr
	}
	return rec, nil
}

// Save writes both fields of rec. Each field is persisted by the store as it is set.
func Save(ctx context.Context, s Store, rec Record) error {
	if err := s.Set(ctx, rec.Name, FieldPID, strconv.Itoa(rec.PID)); err != nil {
		return fmt.Errorf("write pid for %s: %w", rec.Name, err)
	}
	if err := s.Set(ctx, rec.Name, FieldStatus, FormatStatus(rec.Status)); err != nil {
		return fmt.Errorf("write status for %s: %w", rec.Name, err)
	}
	return nil
}

// FormatStatus encodes a status the way the state file has always stored it.
func FormatStatus(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

// ParseStatus accepts "True"/"False" in any case as well as the strconv.ParseBool forms.
func ParseStatus(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return false, fmt.Errorf("invalid status %q: %w", s, err)
	}
	return v, nil
}

// ParsePID decodes a pid field. Negative or malformed values become 0.
func ParsePID(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid pid %q: %w", s, err)
	}
	if pid < 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	return pid, nil
}
