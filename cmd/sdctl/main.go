package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and every subcommand.
func buildRoot() *cobra.Command {
	return newRoot(&command{flags: &GlobalFlags{}})
}

func newRoot(c *command) *cobra.Command {
	root := createRootCommand(c.flags)
	root.AddCommand(
		createServeCommand(c),
		createListCommand(c),
		createStartCommand(c),
		createStopCommand(c),
		createStopAllCommand(c),
		createToggleCommand(c),
		createAutostartCommand(c),
		createStatusCommand(c),
		createUnexpectedCommand(c),
		createLogCommand(c),
	)
	return root
}

func createRootCommand(g *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sdctl",
		Short: "Supervisor for sd- modules",
		Long: `sdctl discovers sd- module executables, starts and stops them, and keeps
track of which ones are running across its own restarts.

Control commands act on the local state store unless --api-url points at a
running "sdctl serve".

Examples:
  sdctl serve                                  # autostart, HTTP API, crash monitor
  sdctl status
  sdctl start sd-watcher-afk
  sdctl status --api-url=http://127.0.0.1:5660/api --json`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&g.InstallDir, "install-dir", "", "directory to search bundled modules from (default: directory of this binary)")
	pf.BoolVar(&g.Testing, "testing", false, "use the testing autostart profile")
	pf.StringVar(&g.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	pf.StringVar(&g.APIUrl, "api-url", "", "control a running daemon at this base URL instead of the local store")
	pf.DurationVar(&g.APITimeout, "api-timeout", 10*time.Second, "timeout for daemon API requests")
	return root
}

func createServeCommand(c *command) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		Long: `Run the supervisor: autostart the configured profile, wait for the settle
delay, serve the HTTP control API and watch for modules that stop unexpectedly.
SIGINT or SIGTERM stops every module, the server last, and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), f, cmd.Flags().Changed("settle"))
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "HTTP listen address (default from config)")
	cmd.Flags().DurationVar(&f.Settle, "settle", 10*time.Second, "delay after autostart before the supervisor reports ready")
	cmd.Flags().BoolVar(&f.NoAutostart, "no-autostart", false, "skip autostart")
	cmd.Flags().StringVar(&f.LockFile, "lock-file", "", "single-instance lock file (default: sdctl.lock in the temp dir)")
	return cmd
}

func createListCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.list(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createStartCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "start NAME",
		Short: "Start a module (bundled copy preferred)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.byName(cmd.Context(), cmd.OutOrStdout(), "start", args[0])
		},
	}
}

func createStopCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop NAME",
		Short: "Ask a module to terminate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.byName(cmd.Context(), cmd.OutOrStdout(), "stop", args[0])
		},
	}
}

func createToggleCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle NAME",
		Short: "Start a module if it is believed stopped, stop it otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.byName(cmd.Context(), cmd.OutOrStdout(), "toggle", args[0])
		},
	}
}

func createStopAllCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every running module, servers last",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.stopAll(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createAutostartCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "autostart [NAME...]",
		Short: "Start modules server first (default: the configured profile)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.autostart(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

func createStatusCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status [NAME]",
		Short: "Show module status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.status(cmd.Context(), cmd.OutOrStdout(), name, f.JSON)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

func createUnexpectedCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "unexpected",
		Short: "List modules believed running whose process is gone",
		Long: `List modules believed running whose process is gone.

Only a long-lived supervisor can tell that a module it started has died. Run
against "sdctl serve" with --api-url to see what the daemon detected. Without
--api-url a fresh local supervisor is built for this call, and it only knows
about modules it starts itself, so the list is normally empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.unexpected(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createLogCommand(c *command) *cobra.Command {
	f := &LogFlags{}
	cmd := &cobra.Command{
		Use:   "log NAME",
		Short: "Print the captured output of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.log(cmd.Context(), cmd.OutOrStdout(), args[0], f.Bytes)
		},
	}
	cmd.Flags().Int64Var(&f.Bytes, "bytes", 0, "print at most the last N bytes (0 for all locally, the daemon default with --api-url)")
	return cmd
}
