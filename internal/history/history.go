package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart          EventType = "start"
	EventStop           EventType = "stop"
	EventUnexpectedStop EventType = "unexpected_stop"
)

// Event is one module lifecycle transition.
type Event struct {
	Type       EventType `json:"type"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Provenance string    `json:"provenance"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Dispatch delivers e to every sink. Failures are logged and never returned;
// history is best effort and must not fail a lifecycle operation.
func Dispatch(ctx context.Context, log *slog.Logger, sinks []Sink, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil && log != nil {
			log.Warn("History sink failed", "module", e.Name, "event", string(e.Type), "error", err)
		}
	}
}
