package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/sdctl"
)

// serve runs until ctx is cancelled (SIGINT/SIGTERM in main), then stops
// every module with the server last.
func (c *command) serve(ctx context.Context, f *ServeFlags, settleSet bool) error {
	if c.flags.APIUrl != "" {
		return errors.New("serve does not accept --api-url")
	}
	cfg, log, err := c.loadConfig()
	if err != nil {
		return err
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	settle := cfg.Autostart.Settle
	if settleSet {
		settle = f.Settle
	}

	lock, err := acquireLock(f.LockFile)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	sup, err := sdctl.Open(ctx, cfg, sdctl.Options{InstallDir: c.flags.InstallDir, Logger: log})
	if err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	defer func() { _ = sup.Close() }()

	if cfg.Server.Metrics {
		if err := sdctl.RegisterMetricsDefault(); err != nil {
			log.Warn("Metrics registration failed", "error", err)
		}
	}

	srv, addr, err := sup.NewHTTPServer(c.flags.Testing)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	log.Info("Control API listening", "addr", addr.String(), "base_path", cfg.Server.BasePath)

	if !f.NoAutostart {
		if err := sup.Autostart(ctx, nil, c.flags.Testing); err != nil {
			log.Error("Autostart finished with errors", "error", err)
		}
		if settle > 0 {
			log.Info("Waiting for modules to settle", "settle", settle)
			select {
			case <-time.After(settle):
			case <-ctx.Done():
			}
		}
	}

	stopMonitor := sup.StartMonitor(ctx, nil)
	log.Info("Supervisor ready")
	<-ctx.Done()

	log.Info("Shutting down")
	if err := stopMonitor(); err != nil {
		log.Warn("Monitor stopped with error", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", "error", err)
	}
	if err := sup.StopAll(context.Background()); err != nil {
		log.Error("Some modules failed to stop", "error", err)
	}
	return nil
}
