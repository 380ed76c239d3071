package manager

import (
	"context"
	"fmt"

	"github.com/loykin/sdctl/internal/module"
)

// StatusHeader is the first line written by PrintStatus.
const StatusHeader = "name                status      type"

// Status is a read-only projection of one module.
type Status struct {
	Name        string            `json:"name"`
	Alive       bool              `json:"alive"`
	State       module.State      `json:"state"`
	Provenance  module.Provenance `json:"provenance"`
	Path        string            `json:"path"`
	PID         int               `json:"pid"`
	RunningHint bool              `json:"running_hint"`
}

func statusOf(ctx context.Context, mod *module.Module) Status {
	rec, _ := mod.Record(ctx)
	return Status{
		Name:        mod.Name(),
		Alive:       mod.IsAlive(ctx),
		State:       mod.State(ctx),
		Provenance:  mod.Provenance(),
		Path:        mod.Path(),
		PID:         rec.PID,
		RunningHint: mod.RunningHint(),
	}
}

// Status reports every module in collection order without changing anything.
func (m *Manager) Status(ctx context.Context) []Status {
	mods := m.Modules()
	out := make([]Status, 0, len(mods))
	for _, mod := range mods {
		out = append(out, statusOf(ctx, mod))
	}
	return out
}

// StatusOf reports every copy of name in collection order.
func (m *Manager) StatusOf(ctx context.Context, name string) ([]Status, error) {
	var out []Status
	for _, mod := range m.Modules() {
		if mod.Name() == name {
			out = append(out, statusOf(ctx, mod))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return out, nil
}

// UnexpectedStatus reports UnexpectedStops as status rows.
func (m *Manager) UnexpectedStatus(ctx context.Context) []Status {
	mods := m.UnexpectedStops(ctx)
	out := make([]Status, 0, len(mods))
	for _, mod := range mods {
		out = append(out, statusOf(ctx, mod))
	}
	return out
}
