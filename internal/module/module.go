// Package module implements the descriptor of one discoverable executable
// and its start/stop contract against the persisted state store.
package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/sdctl/internal/history"
	"github.com/loykin/sdctl/internal/metrics"
	"github.com/loykin/sdctl/internal/process"
	"github.com/loykin/sdctl/internal/store"
)

// Provenance tells where a module was found.
type Provenance string

const (
	Bundled Provenance = "bundled"
	System  Provenance = "system"
)

// State is a reporting projection combining the persisted record, the OS
// liveness check and the in-memory running hint.
type State string

const (
	StateUnknown State = "unknown" // no persisted record yet
	StateStopped State = "stopped"
	StateRunning State = "running"
	StateExited  State = "exited" // started by us, gone without a stop
)

// ErrSpawn wraps failures to launch the executable.
var ErrSpawn = errors.New("spawn failed")

type Options struct {
	Store      store.Store
	Controller process.Controller
	Logger     *slog.Logger
	Sinks      []history.Sink
	// LogDir is where the controller writes <name>.log; used by ReadLog.
	LogDir string
}

// Module is one executable the supervisor can start and stop. Identity is
// the name; provenance decides precedence when two copies share a name.
type Module struct {
	name string
	path string
	prov Provenance

	st     store.Store
	ctl    process.Controller
	log    *slog.Logger
	sinks  []history.Sink
	logDir string

	mu      sync.Mutex
	started bool
}

func New(name, path string, prov Provenance, opts Options) *Module {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Module{
		name:   name,
		path:   path,
		prov:   prov,
		st:     opts.Store,
		ctl:    opts.Controller,
		log:    log.With("module", name, "provenance", string(prov)),
		sinks:  opts.Sinks,
		logDir: opts.LogDir,
	}
}

func (m *Module) Name() string           { return m.name }
func (m *Module) Path() string           { return m.path }
func (m *Module) Provenance() Provenance { return m.prov }

func (m *Module) String() string {
	return fmt.Sprintf("%s (%s) %s", m.name, m.prov, m.path)
}

// RunningHint reports whether this supervisor started the module and has not
// stopped it since. It is not a liveness check.
func (m *Module) RunningHint() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Module) SetRunningHint(v bool) {
	m.mu.Lock()
	m.started = v
	m.mu.Unlock()
}

// Start spawns the module unless the persisted pid is a live process.
func (m *Module) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.stateLocked(ctx)
	if pid := m.readPID(ctx); pid != 0 && m.ctl.Alive(pid) {
		m.log.Info("Module already running", "pid", pid)
		return nil
	}

	m.log.Info("Starting module", "path", m.path)
	pid, err := m.ctl.Spawn(m.name, m.path)
	if err != nil {
		metrics.IncSpawnFailure(m.name)
		m.log.Error("Failed to start module", "error", err)
		return fmt.Errorf("%w: %s: %w", ErrSpawn, m.name, err)
	}
	if err := store.Save(ctx, m.st, store.Record{Name: m.name, PID: pid, Status: true}); err != nil {
		// an unrecorded child would be spawned again by the next Start
		m.log.Error("Failed to persist module state, terminating spawned process", "pid", pid, "error", err)
		if terr := m.ctl.Terminate(pid); terr != nil {
			m.log.Error("Failed to terminate unrecorded process", "pid", pid, "error", terr)
			return fmt.Errorf("persist %s: %w", m.name, errors.Join(err, terr))
		}
		return fmt.Errorf("persist %s: %w", m.name, err)
	}
	m.started = true
	metrics.IncStart(m.name)
	m.log.Debug("Module pid written to state store", "pid", pid)
	metrics.RecordStateTransition(m.name, string(before), string(StateRunning))
	m.emit(ctx, history.EventStart, pid)
	return nil
}

// Stop sends one graceful termination signal. It never escalates and does
// not wait for the process to exit.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pid := m.readPID(ctx)
	if pid == 0 || !m.ctl.Alive(pid) {
		m.log.Info("Module is not running or PID is invalid", "pid", pid)
		return nil
	}
	before := m.stateLocked(ctx)
	if err := m.ctl.Terminate(pid); err != nil {
		m.log.Error("Error stopping module", "pid", pid, "error", err)
		return fmt.Errorf("stop %s (pid %d): %w", m.name, pid, err)
	}
	m.log.Info("Stopped module", "pid", pid)
	m.started = false
	metrics.IncStop(m.name)
	if err := store.Save(ctx, m.st, store.Record{Name: m.name}); err != nil {
		m.log.Error("Failed to persist module state", "error", err)
		return fmt.Errorf("persist %s: %w", m.name, err)
	}
	metrics.RecordStateTransition(m.name, string(before), string(StateStopped))
	m.emit(ctx, history.EventStop, pid)
	return nil
}

// IsAlive is the ground truth: persisted pid non-zero and an OS process with
// that pid running. It ignores the running hint.
func (m *Module) IsAlive(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aliveLocked(ctx)
}

// Toggle stops when the running hint is set and starts otherwise. The hint
// may be stale; callers wanting the truth use IsAlive.
func (m *Module) Toggle(ctx context.Context) error {
	if m.RunningHint() {
		return m.Stop(ctx)
	}
	return m.Start(ctx)
}

func (m *Module) State(ctx context.Context) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(ctx)
}

// Record returns the persisted record. A missing record yields a zero
// record and store.ErrRecordNotFound.
func (m *Module) Record(ctx context.Context) (store.Record, error) {
	return store.Load(ctx, m.st, m.name)
}

func (m *Module) stateLocked(ctx context.Context) State {
	rec, err := store.Load(ctx, m.st, m.name)
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		if m.started {
			return StateExited
		}
		return StateUnknown
	case rec.PID != 0 && m.ctl.Alive(rec.PID):
		return StateRunning
	case m.started:
		return StateExited
	default:
		return StateStopped
	}
}

func (m *Module) aliveLocked(ctx context.Context) bool {
	pid := m.readPID(ctx)
	return pid != 0 && m.ctl.Alive(pid)
}

// readPID treats a missing or malformed record as pid 0.
func (m *Module) readPID(ctx context.Context) int {
	rec, err := store.Load(ctx, m.st, m.name)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		m.log.Error("Error reading PID", "error", err)
		return 0
	}
	return rec.PID
}

func (m *Module) emit(ctx context.Context, t history.EventType, pid int) {
	if len(m.sinks) == 0 {
		return
	}
	history.Dispatch(ctx, m.log, m.sinks, history.Event{Type: t, Name: m.name, PID: pid, Provenance: string(m.prov)})
}
