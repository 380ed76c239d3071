// Package monitor polls the supervisor for modules that died while believed
// running and raises one alert per crash.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vawter.tech/stopper"

	"github.com/loykin/sdctl/internal/history"
	"github.com/loykin/sdctl/internal/metrics"
	"github.com/loykin/sdctl/internal/module"
)

const DefaultInterval = 5 * time.Second

// Source reports crashed modules; *manager.Manager implements it.
type Source interface {
	UnexpectedStops(ctx context.Context) []*module.Module
}

// Watcher reports writes to the state store made by another process.
type Watcher interface {
	Watch(ctx context.Context, onExternal func()) error
}

type Options struct {
	Interval time.Duration
	Sinks    []history.Sink
	// OnAlert runs once per detected crash, after logging.
	OnAlert func(*module.Module)
	// Watch, when set, is observed for external modifications of the state store.
	Watch  Watcher
	Logger *slog.Logger
}

type Monitor struct {
	src      Source
	interval time.Duration
	sinks    []history.Sink
	onAlert  func(*module.Module)
	watch    Watcher
	log      *slog.Logger

	mu      sync.Mutex
	alerted map[string]bool
}

func New(src Source, opts Options) *Monitor {
	iv := opts.Interval
	if iv <= 0 {
		iv = DefaultInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		src:      src,
		interval: iv,
		sinks:    opts.Sinks,
		onAlert:  opts.OnAlert,
		watch:    opts.Watch,
		log:      log,
		alerted:  map[string]bool{},
	}
}

// Check polls once and returns modules reported for the first time. A
// module is reported again only after it was seen alive or stopped in between.
func (m *Monitor) Check(ctx context.Context) []*module.Module {
	stops := m.src.UnexpectedStops(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	current := make(map[string]bool, len(stops))
	var fresh []*module.Module
	for _, mod := range stops {
		k := key(mod)
		current[k] = true
		if m.alerted[k] {
			continue
		}
		m.alerted[k] = true
		fresh = append(fresh, mod)
	}
	for k := range m.alerted {
		if !current[k] {
			delete(m.alerted, k)
		}
	}
	for _, mod := range fresh {
		m.alert(ctx, mod)
	}
	return fresh
}

func (m *Monitor) alert(ctx context.Context, mod *module.Module) {
	rec, _ := mod.Record(ctx)
	m.log.Warn("Module stopped unexpectedly", "module", mod.Name(), "provenance", string(mod.Provenance()), "pid", rec.PID)
	metrics.IncUnexpectedStop(mod.Name())
	metrics.RecordStateTransition(mod.Name(), string(module.StateRunning), string(module.StateExited))
	history.Dispatch(ctx, m.log, m.sinks, history.Event{
		Type:       history.EventUnexpectedStop,
		Name:       mod.Name(),
		PID:        rec.PID,
		Provenance: string(mod.Provenance()),
	})
	if m.onAlert != nil {
		m.onAlert(mod)
	}
}

// Start launches the polling loop and, if configured, the store watch. The
// returned function stops both and waits for them.
func (m *Monitor) Start(ctx context.Context) (stop func() error) {
	sctx := stopper.WithContext(ctx)

	sctx.Go(func(sctx *stopper.Context) error {
		t := time.NewTicker(m.interval)
		defer t.Stop()
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ctx.Done():
				return nil
			case <-t.C:
				m.Check(ctx)
			}
		}
	})

	if m.watch != nil {
		wctx, cancel := context.WithCancel(ctx)
		sctx.Go(func(sctx *stopper.Context) error {
			select {
			case <-sctx.Stopping():
			case <-wctx.Done():
			}
			cancel()
			return nil
		})
		sctx.Go(func(*stopper.Context) error {
			defer cancel()
			if err := m.watch.Watch(wctx, m.externalWrite); err != nil {
				m.log.Warn("State store watch ended", "error", err)
			}
			return nil
		})
	}

	return func() error {
		sctx.Stop(time.Second)
		return sctx.Wait()
	}
}

func (m *Monitor) externalWrite() {
	m.log.Warn("State store modified by another writer; concurrent supervisors are not coordinated")
}

func key(mod *module.Module) string {
	return mod.Name() + "|" + string(mod.Provenance())
}
