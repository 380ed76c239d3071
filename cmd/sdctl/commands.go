package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/sdctl"
	"github.com/loykin/sdctl/internal/manager"
	"github.com/loykin/sdctl/internal/module"
	"github.com/loykin/sdctl/pkg/client"
)

// backend is implemented by the local supervisor and by the daemon client.
type backend interface {
	List(ctx context.Context) ([]client.Module, error)
	Status(ctx context.Context, name string) ([]sdctl.Status, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Toggle(ctx context.Context, name string) error
	StopAll(ctx context.Context) error
	Autostart(ctx context.Context, names []string) error
	Unexpected(ctx context.Context) ([]sdctl.Status, error)
	Log(ctx context.Context, name string, maxBytes int64) (string, error)
	Close() error
}

type command struct {
	flags *GlobalFlags
	// open is swapped in tests.
	open func(ctx context.Context) (backend, error)
}

func (c *command) loadConfig() (*sdctl.Config, *slog.Logger, error) {
	cfg, err := sdctl.LoadConfig(c.flags.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	if c.flags.LogLevel != "" {
		cfg.Log.Level = c.flags.LogLevel
	}
	return cfg, cfg.Log.Logger().NewSlogger(), nil
}

func (c *command) backend(ctx context.Context) (backend, error) {
	if c.open != nil {
		return c.open(ctx)
	}
	if c.flags.APIUrl != "" {
		_, log, err := c.loadConfig()
		if err != nil {
			return nil, err
		}
		return &remote{c: client.New(client.Config{BaseURL: c.flags.APIUrl, Timeout: c.flags.APITimeout, Logger: log})}, nil
	}
	cfg, log, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	sup, err := sdctl.Open(ctx, cfg, sdctl.Options{InstallDir: c.flags.InstallDir, Logger: log})
	if err != nil {
		return nil, err
	}
	return &local{sup: sup, testing: c.flags.Testing}, nil
}

func (c *command) with(ctx context.Context, fn func(backend) error) error {
	b, err := c.backend(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return fn(b)
}

func (c *command) list(ctx context.Context, w io.Writer) error {
	return c.with(ctx, func(b backend) error {
		mods, err := b.List(ctx)
		if err != nil {
			return err
		}
		for _, m := range mods {
			if _, err := fmt.Fprintf(w, "%-18s  %-8s  %s\n", m.Name, m.Provenance, m.Path); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *command) byName(ctx context.Context, w io.Writer, op, name string) error {
	return c.with(ctx, func(b backend) error {
		var err error
		switch op {
		case "start":
			err = b.Start(ctx, name)
		case "stop":
			err = b.Stop(ctx, name)
		case "toggle":
			err = b.Toggle(ctx, name)
		default:
			return fmt.Errorf("unknown operation %q", op)
		}
		if err != nil {
			return err
		}
		return printStatus(ctx, w, b, name)
	})
}

func (c *command) stopAll(ctx context.Context, w io.Writer) error {
	return c.with(ctx, func(b backend) error {
		if err := b.StopAll(ctx); err != nil {
			return err
		}
		return printStatus(ctx, w, b, "")
	})
}

func (c *command) autostart(ctx context.Context, w io.Writer, names []string) error {
	return c.with(ctx, func(b backend) error {
		err := b.Autostart(ctx, names)
		if perr := printStatus(ctx, w, b, ""); perr != nil && err == nil {
			err = perr
		}
		return err
	})
}

func (c *command) status(ctx context.Context, w io.Writer, name string, asJSON bool) error {
	return c.with(ctx, func(b backend) error {
		if !asJSON {
			return printStatus(ctx, w, b, name)
		}
		sts, err := b.Status(ctx, name)
		if err != nil {
			return err
		}
		return printJSON(w, sts)
	})
}

func (c *command) unexpected(ctx context.Context, w io.Writer) error {
	return c.with(ctx, func(b backend) error {
		sts, err := b.Unexpected(ctx)
		if err != nil {
			return err
		}
		for _, s := range sts {
			if _, err := fmt.Fprintf(w, "%-18s  %-8s  pid=%d\n", s.Name, s.Provenance, s.PID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *command) log(ctx context.Context, w io.Writer, name string, maxBytes int64) error {
	return c.with(ctx, func(b backend) error {
		out, err := b.Log(ctx, name, maxBytes)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	})
}

func printStatus(ctx context.Context, w io.Writer, b backend, name string) error {
	sts, err := b.Status(ctx, name)
	if err != nil {
		return err
	}
	return manager.WriteStatusTable(w, sts)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// local acts on the state store and processes of this host.
type local struct {
	sup     *sdctl.Supervisor
	testing bool
}

func (l *local) List(ctx context.Context) ([]client.Module, error) {
	sts := l.sup.Status(ctx)
	out := make([]client.Module, 0, len(sts))
	for _, s := range sts {
		out = append(out, client.Module{Name: s.Name, Path: s.Path, Provenance: string(s.Provenance)})
	}
	return out, nil
}

func (l *local) Status(ctx context.Context, name string) ([]sdctl.Status, error) {
	if name == "" {
		return l.sup.Status(ctx), nil
	}
	return l.sup.StatusOf(ctx, name)
}

func (l *local) Start(ctx context.Context, name string) error  { return l.sup.Start(ctx, name) }
func (l *local) Stop(ctx context.Context, name string) error   { return l.sup.Stop(ctx, name) }
func (l *local) Toggle(ctx context.Context, name string) error { return l.sup.Toggle(ctx, name) }
func (l *local) StopAll(ctx context.Context) error             { return l.sup.StopAll(ctx) }
func (l *local) Autostart(ctx context.Context, names []string) error {
	return l.sup.Autostart(ctx, names, l.testing)
}
func (l *local) Unexpected(ctx context.Context) ([]sdctl.Status, error) {
	return l.sup.UnexpectedStops(ctx), nil
}
func (l *local) Log(_ context.Context, name string, maxBytes int64) (string, error) {
	return l.sup.ReadLog(name, maxBytes)
}
func (l *local) Close() error { return l.sup.Close() }

// remote forwards to a running daemon.
type remote struct {
	c *client.Client
}

func (r *remote) List(ctx context.Context) ([]client.Module, error) { return r.c.Modules(ctx) }

func (r *remote) Status(ctx context.Context, name string) ([]sdctl.Status, error) {
	sts, err := r.c.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	return fromWire(sts), nil
}

func fromWire(sts []client.ModuleStatus) []sdctl.Status {
	out := make([]sdctl.Status, 0, len(sts))
	for _, s := range sts {
		out = append(out, sdctl.Status{
			Name:        s.Name,
			Alive:       s.Alive,
			State:       module.State(s.State),
			Provenance:  module.Provenance(s.Provenance),
			Path:        s.Path,
			PID:         s.PID,
			RunningHint: s.RunningHint,
		})
	}
	return out
}

func (r *remote) Start(ctx context.Context, name string) error  { return r.c.Start(ctx, name) }
func (r *remote) Stop(ctx context.Context, name string) error   { return r.c.Stop(ctx, name) }
func (r *remote) Toggle(ctx context.Context, name string) error { return r.c.Toggle(ctx, name) }
func (r *remote) StopAll(ctx context.Context) error             { return r.c.StopAll(ctx) }

func (r *remote) Autostart(ctx context.Context, names []string) error {
	res, err := r.c.Autostart(ctx, names)
	if err != nil {
		return err
	}
	if !res.OK {
		errs := make([]error, 0, len(res.Errors))
		for _, e := range res.Errors {
			errs = append(errs, errors.New(e))
		}
		return errors.Join(errs...)
	}
	return nil
}

func (r *remote) Unexpected(ctx context.Context) ([]sdctl.Status, error) {
	sts, err := r.c.UnexpectedStops(ctx)
	if err != nil {
		return nil, err
	}
	return fromWire(sts), nil
}

func (r *remote) Log(ctx context.Context, name string, maxBytes int64) (string, error) {
	return r.c.Log(ctx, name, maxBytes)
}

func (r *remote) Close() error { return nil }
