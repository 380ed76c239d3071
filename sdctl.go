// Package sdctl is the embeddable facade of the module supervisor: it wires
// configuration, the state store, discovery, the process controller and
// history sinks into a ready manager.
package sdctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/sdctl/internal/config"
	"github.com/loykin/sdctl/internal/discovery"
	"github.com/loykin/sdctl/internal/history"
	hfactory "github.com/loykin/sdctl/internal/history/factory"
	"github.com/loykin/sdctl/internal/manager"
	"github.com/loykin/sdctl/internal/metrics"
	"github.com/loykin/sdctl/internal/module"
	"github.com/loykin/sdctl/internal/monitor"
	"github.com/loykin/sdctl/internal/process"
	iapi "github.com/loykin/sdctl/internal/server"
	"github.com/loykin/sdctl/internal/store"
	sfactory "github.com/loykin/sdctl/internal/store/factory"
)

// Re-export core types for external consumers.

type Config = config.FileConfig

type Status = manager.Status

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Controller = process.Controller

var (
	ErrUnknownModule = manager.ErrUnknownModule
	ErrSpawn         = module.ErrSpawn
	ErrNoLog         = module.ErrNoLog
)

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

type Options struct {
	// InstallDir is the directory of the supervisor binary. It roots bundled
	// discovery and the default state file. Empty resolves the running executable.
	InstallDir string
	// SearchPath overrides the executable search path; nil reads PATH.
	SearchPath []string
	// Controller overrides the OS process controller.
	Controller Controller
	// Sinks are added to the sink built from the history DSN.
	Sinks  []HistorySink
	Logger *slog.Logger
}

// Supervisor owns a manager and the resources opened for it.
type Supervisor struct {
	cfg   *Config
	st    store.Store
	sinks []HistorySink
	mgr   *manager.Manager
	log   *slog.Logger
}

// Open builds a Supervisor from cfg. Store initialization failures are fatal.
func Open(ctx context.Context, cfg *Config, opts Options) (*Supervisor, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	installDir, searchPath := opts.InstallDir, opts.SearchPath
	if installDir == "" || searchPath == nil {
		self, path, err := discovery.FromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("resolve install dir: %w", err)
		}
		if installDir == "" {
			installDir = self
		}
		if searchPath == nil {
			searchPath = path
		}
	}

	dsn := cfg.StateDSN(installDir)
	st, err := sfactory.NewFromDSN(dsn, log)
	if err != nil {
		return nil, fmt.Errorf("open state store %s: %w", dsn, err)
	}

	sinks := append([]HistorySink(nil), opts.Sinks...)
	var owned history.Sink
	if cfg.History.DSN != "" {
		s, err := hfactory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open history sink: %w", err)
		}
		owned = s
		sinks = append(sinks, s)
	}

	sup := cfg.Supervisor
	ctl := opts.Controller
	if ctl == nil {
		ctl = &process.Local{
			LogDir:     sup.ModuleLogDir,
			Retries:    sup.SpawnRetries,
			RetryDelay: sup.SpawnRetryDelay,
			Env:        sup.ModuleEnv,
			Logger:     log,
		}
	}
	eng := &discovery.Engine{
		Prefix:     sup.Prefix,
		SelfDir:    installDir,
		ExtraDirs:  sup.ExtraDirs,
		SearchPath: searchPath,
		Ignored:    sup.Ignored,
		MaxDepth:   sup.MaxDepth,
		Logger:     log,
	}
	mgr, err := manager.New(ctx, manager.Options{
		Store:      st,
		Baseline:   sup.Baseline,
		Discoverer: eng,
		Controller: ctl,
		Names:      cfg.ManagerNames(),
		Sinks:      sinks,
		LogDir:     sup.ModuleLogDir,
		Logger:     log,
	})
	if err != nil {
		_ = st.Close()
		closeSink(owned)
		return nil, err
	}
	s := &Supervisor{cfg: cfg, st: st, mgr: mgr, log: log}
	if owned != nil {
		s.sinks = []HistorySink{owned}
	}
	return s, nil
}

func (s *Supervisor) Config() *Config { return s.cfg }

func (s *Supervisor) Start(ctx context.Context, name string) error  { return s.mgr.Start(ctx, name) }
func (s *Supervisor) Stop(ctx context.Context, name string) error   { return s.mgr.Stop(ctx, name) }
func (s *Supervisor) Toggle(ctx context.Context, name string) error { return s.mgr.Toggle(ctx, name) }
func (s *Supervisor) StopAll(ctx context.Context) error             { return s.mgr.StopAll(ctx) }
func (s *Supervisor) Discover(ctx context.Context) int              { return s.mgr.DiscoverModules(ctx) }
func (s *Supervisor) Status(ctx context.Context) []Status           { return s.mgr.Status(ctx) }
func (s *Supervisor) StatusOf(ctx context.Context, name string) ([]Status, error) {
	return s.mgr.StatusOf(ctx, name)
}
func (s *Supervisor) PrintStatus(ctx context.Context, w io.Writer, name string) error {
	return s.mgr.PrintStatus(ctx, w, name)
}
func (s *Supervisor) ReadLog(name string, maxBytes int64) (string, error) {
	return s.mgr.ReadLog(name, maxBytes)
}

// Autostart starts names, or the configured profile when names is empty.
func (s *Supervisor) Autostart(ctx context.Context, names []string, testing bool) error {
	if len(names) == 0 {
		names = s.cfg.AutostartModules(testing)
	}
	return s.mgr.Autostart(ctx, names)
}

// UnexpectedStops reports modules believed running whose process is gone.
func (s *Supervisor) UnexpectedStops(ctx context.Context) []Status {
	return s.mgr.UnexpectedStatus(ctx)
}

// Handler returns the HTTP control API mounted under basePath.
func (s *Supervisor) Handler(testing bool) http.Handler {
	return s.router(testing).Handler()
}

// NewHTTPServer binds the configured listen address and serves the control API.
func (s *Supervisor) NewHTTPServer(testing bool) (*http.Server, net.Addr, error) {
	return iapi.NewServer(s.cfg.Server.Listen, s.router(testing), s.log)
}

func (s *Supervisor) router(testing bool) *iapi.Router {
	r := iapi.NewRouter(s.mgr, s.cfg.Server.BasePath).SetDefaultAutostart(s.cfg.AutostartModules(testing))
	if s.cfg.Server.Metrics {
		r.EnableMetrics()
	}
	return r
}

// StartMonitor polls for unexpected stops until the returned stop func is called.
// onAlert may be nil.
func (s *Supervisor) StartMonitor(ctx context.Context, onAlert func(Status)) (stop func() error) {
	opts := monitor.Options{
		Interval: s.cfg.Monitor.Interval,
		Sinks:    s.mgr.Sinks(),
		Logger:   s.log,
	}
	if onAlert != nil {
		opts.OnAlert = func(mod *module.Module) {
			rec, _ := mod.Record(ctx)
			onAlert(Status{
				Name:       mod.Name(),
				State:      module.StateExited,
				Provenance: mod.Provenance(),
				Path:       mod.Path(),
				PID:        rec.PID,
			})
		}
	}
	if w, ok := s.st.(monitor.Watcher); ok {
		opts.Watch = w
	}
	return monitor.New(s.mgr, opts).Start(ctx)
}

// Close releases the state store and owned history sinks. Modules keep running.
func (s *Supervisor) Close() error {
	var result *multierror.Error
	if err := s.st.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, sk := range s.sinks {
		if c, ok := sk.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func closeSink(s history.Sink) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
