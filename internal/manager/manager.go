// Package manager owns the collection of discovered modules and the
// control operations on it: precedence, autostart order and shutdown order.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/loykin/sdctl/internal/discovery"
	"github.com/loykin/sdctl/internal/history"
	"github.com/loykin/sdctl/internal/metrics"
	"github.com/loykin/sdctl/internal/module"
	"github.com/loykin/sdctl/internal/process"
	"github.com/loykin/sdctl/internal/store"
)

// ErrUnknownModule is returned for names not in the collection.
var ErrUnknownModule = errors.New("unknown module")

// Discoverer produces candidates; *discovery.Engine is the usual one.
type Discoverer interface {
	Discover() []discovery.Candidate
}

// Names are the module names with a role in ordering.
type Names struct {
	CoreServer string
	// AltServer satisfies the core server requirement when requested.
	AltServer string
	// Autostartable is the allow-list consulted by Autostart.
	Autostartable []string
}

type Options struct {
	Store store.Store
	// Baseline sections written when the store is first created.
	Baseline   []string
	Discoverer Discoverer
	Controller process.Controller
	Names      Names
	Sinks      []history.Sink
	// LogDir is where module output is captured, used for ReadLog.
	LogDir string
	Logger *slog.Logger
}

// Manager is safe for concurrent use; control operations are serialized.
type Manager struct {
	mu sync.Mutex

	st     store.Store
	ctl    process.Controller
	disc   Discoverer
	names  Names
	sinks  []history.Sink
	logDir string
	log    *slog.Logger

	modules []*module.Module
}

// New initializes the store and runs discovery once. A store that cannot be
// initialized is fatal: no durability guarantee can be given without it.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("manager: store is required")
	}
	if opts.Controller == nil {
		return nil, errors.New("manager: process controller is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if err := opts.Store.Initialize(ctx, opts.Baseline); err != nil {
		return nil, fmt.Errorf("initialize state store: %w", err)
	}
	m := &Manager{
		st:     opts.Store,
		ctl:    opts.Controller,
		disc:   opts.Discoverer,
		names:  opts.Names,
		sinks:  append([]history.Sink(nil), opts.Sinks...),
		logDir: opts.LogDir,
		log:    log,
	}
	m.DiscoverModules(ctx)
	return m, nil
}

// DiscoverModules adds candidates not yet in the collection and returns how
// many were added. Known modules, including their running hint, are untouched.
func (m *Manager) DiscoverModules(ctx context.Context) int {
	if m.disc == nil {
		return 0
	}
	found := m.disc.Discover()

	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, c := range found {
		if m.findLocked(c.Name, c.Provenance) != nil {
			continue
		}
		firstOfName := m.findLocked(c.Name, "") == nil
		mod := module.New(c.Name, c.Path, c.Provenance, module.Options{
			Store:      m.st,
			Controller: m.ctl,
			Logger:     m.log,
			Sinks:      m.sinks,
			LogDir:     m.logDir,
		})
		if firstOfName {
			m.seedHint(ctx, mod)
		}
		m.modules = append(m.modules, mod)
		added++
	}
	m.publishCountsLocked()
	return added
}

// seedHint restores the running hint from a previous supervisor instance so
// a crash that happened while we were down is still reported.
func (m *Manager) seedHint(ctx context.Context, mod *module.Module) {
	rec, err := mod.Record(ctx)
	if err != nil || !rec.Status {
		return
	}
	if rec.PID != 0 && m.ctl.Alive(rec.PID) {
		mod.SetRunningHint(true)
		m.log.Info("Module recorded as running is still alive", "module", mod.Name(), "pid", rec.PID)
		return
	}
	m.log.Warn("Module recorded as running is not alive", "module", mod.Name(), "pid", rec.PID)
}

func (m *Manager) publishCountsLocked() {
	var b, s int
	for _, mod := range m.modules {
		if mod.Provenance() == module.Bundled {
			b++
		} else {
			s++
		}
	}
	metrics.SetDiscovered(string(module.Bundled), b)
	metrics.SetDiscovered(string(module.System), s)
}

// Modules returns the collection in discovery order.
func (m *Manager) Modules() []*module.Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*module.Module(nil), m.modules...)
}

func (m *Manager) Bundled() []*module.Module { return m.byProvenance(module.Bundled) }
func (m *Manager) System() []*module.Module  { return m.byProvenance(module.System) }

func (m *Manager) byProvenance(p module.Provenance) []*module.Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*module.Module
	for _, mod := range m.modules {
		if mod.Provenance() == p {
			out = append(out, mod)
		}
	}
	return out
}

// Lookup resolves name preferring the bundled copy.
func (m *Manager) Lookup(name string) (*module.Module, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod := m.resolveLocked(name)
	return mod, mod != nil
}

// Sinks returns the history sinks lifecycle events are sent to.
func (m *Manager) Sinks() []history.Sink {
	return append([]history.Sink(nil), m.sinks...)
}

// Start starts the bundled copy of name if there is one, else the system copy.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx, name)
}

func (m *Manager) startLocked(ctx context.Context, name string) error {
	mod := m.resolveLocked(name)
	if mod == nil {
		m.log.Error("Manager tried to start nonexistent module", "module", name)
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return mod.Start(ctx)
}

func (m *Manager) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod := m.resolveLocked(name)
	if mod == nil {
		m.log.Error("Manager tried to stop nonexistent module", "module", name)
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return mod.Stop(ctx)
}

func (m *Manager) Toggle(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod := m.resolveLocked(name)
	if mod == nil {
		m.log.Error("Manager tried to toggle nonexistent module", "module", name)
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return mod.Toggle(ctx)
}

// StopAll stops every alive module, both server variants last. It keeps
// going past failures and returns them aggregated.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		result  *multierror.Error
		alt     []*module.Module
		servers []*module.Module
	)
	for _, mod := range m.modules {
		switch {
		case mod.Name() == m.names.CoreServer:
			servers = append(servers, mod)
		case m.names.AltServer != "" && mod.Name() == m.names.AltServer:
			alt = append(alt, mod)
		case mod.IsAlive(ctx):
			if err := mod.Stop(ctx); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	for _, mod := range append(alt, servers...) {
		if mod.IsAlive(ctx) {
			if err := mod.Stop(ctx); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// Autostart brings up the requested modules, server first. Only names on the
// allow-list are started, except the alternate server which is always
// honored when requested.
func (m *Manager) Autostart(ctx context.Context, requested []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result *multierror.Error
	req := dedupe(requested)
	unknown := map[string]bool{}
	for _, name := range req {
		if m.findLocked(name, "") == nil {
			m.log.Error("Module not found", "module", name)
			unknown[name] = true
			result = multierror.Append(result, fmt.Errorf("%w: %s", ErrUnknownModule, name))
		}
	}
	want := toSet(req)
	allowed := toSet(m.names.Autostartable)
	start := func(name string) {
		if unknown[name] {
			return
		}
		if err := m.startLocked(ctx, name); err != nil {
			result = multierror.Append(result, err)
		}
	}

	alt, core := m.names.AltServer, m.names.CoreServer
	switch {
	case alt != "" && want[alt]:
		start(alt)
	case core != "" && want[core] && allowed[core]:
		start(core)
	}
	for _, name := range req {
		if name == core || (alt != "" && name == alt) {
			continue
		}
		if !allowed[name] {
			m.log.Error("Module is not auto-startable, ignoring", "module", name)
			continue
		}
		start(name)
	}
	return result.ErrorOrNil()
}

// UnexpectedStops lists modules this supervisor believes are running but
// whose process is gone.
func (m *Manager) UnexpectedStops(ctx context.Context) []*module.Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*module.Module
	for _, mod := range m.modules {
		if mod.RunningHint() && !mod.IsAlive(ctx) {
			out = append(out, mod)
		}
	}
	return out
}

// ReadLog returns the tail of the captured output of name.
func (m *Manager) ReadLog(name string, maxBytes int64) (string, error) {
	mod, ok := m.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return mod.ReadLog(maxBytes)
}

// PrintStatus writes a fixed-width table for every module, or for the
// modules named name when it is not empty.
func (m *Manager) PrintStatus(ctx context.Context, w io.Writer, name string) error {
	var (
		rows []Status
		err  error
	)
	if name == "" {
		rows = m.Status(ctx)
	} else if rows, err = m.StatusOf(ctx, name); err != nil {
		m.log.Error("Module not found", "module", name)
		return err
	}
	return WriteStatusTable(w, rows)
}

// WriteStatusTable writes StatusHeader and one fixed-width line per row.
func WriteStatusTable(w io.Writer, rows []Status) error {
	if _, err := fmt.Fprintln(w, StatusHeader); err != nil {
		return err
	}
	for _, s := range rows {
		running := "stopped"
		if s.Alive {
			running = "running"
		}
		if _, err := fmt.Fprintf(w, "%-18s  %-10s  %s\n", s.Name, running, s.Provenance); err != nil {
			return err
		}
	}
	return nil
}

// resolveLocked prefers a bundled module over a system one.
func (m *Manager) resolveLocked(name string) *module.Module {
	if mod := m.findLocked(name, module.Bundled); mod != nil {
		return mod
	}
	return m.findLocked(name, module.System)
}

// findLocked returns the first module named name; an empty provenance matches any.
func (m *Manager) findLocked(name string, p module.Provenance) *module.Module {
	for _, mod := range m.modules {
		if mod.Name() == name && (p == "" || mod.Provenance() == p) {
			return mod
		}
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func toSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[s] = true
	}
	return out
}
