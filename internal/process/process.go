package process

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/avast/retry-go"
	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/sdctl/internal/env"
)

// Controller is the OS boundary used by module descriptors.
type Controller interface {
	// Spawn starts the executable at path detached from the supervisor and returns its pid.
	Spawn(name, path string) (int, error)
	// Terminate asks pid to exit gracefully. It does not wait and never escalates.
	Terminate(pid int) error
	// Alive reports whether pid exists and is running (zombies are not alive).
	Alive(pid int) bool
}

// Local controls processes on this host.
type Local struct {
	// LogDir, when set, receives <name>.log with the child's stdout and stderr.
	LogDir string
	// Retries is the number of extra spawn attempts after a failure.
	Retries    uint
	RetryDelay time.Duration
	// Env entries (K=V) override the inherited environment of every module.
	Env    []string
	Logger *slog.Logger
}

var _ Controller = (*Local)(nil)

func (l *Local) Spawn(name, path string) (int, error) {
	var pid int
	delay := l.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	err := retry.Do(
		func() error {
			p, err := l.spawnOnce(name, path)
			if err != nil {
				return err
			}
			pid = p
			return nil
		},
		retry.Attempts(l.Retries+1),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// a missing or non-executable file will not fix itself
			return !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission)
		}),
		retry.OnRetry(func(n uint, err error) {
			l.logger().Warn("Spawn failed, retrying", "module", name, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return 0, err
	}
	return pid, nil
}

func (l *Local) spawnOnce(name, path string) (int, error) {
	// #nosec G204 -- path comes from discovery of prefixed executables
	cmd := exec.Command(path)
	configureSysProcAttr(cmd)
	if len(l.Env) > 0 {
		cmd.Env = env.Compose(nil, l.Env)
	}

	var out *os.File
	if l.LogDir != "" {
		if err := os.MkdirAll(l.LogDir, 0o750); err != nil {
			return 0, fmt.Errorf("create module log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(l.LogDir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return 0, fmt.Errorf("open module log: %w", err)
		}
		// a real descriptor (not a pipe) keeps the child writable after the supervisor exits
		out = f
		cmd.Stdout = f
		cmd.Stderr = f
	}
	err := cmd.Start()
	if out != nil {
		_ = out.Close()
	}
	if err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// reap when the child exits so it never lingers as a zombie of ours
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func (l *Local) Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return terminate(pid)
}

func (l *Local) Alive(pid int) bool { return Alive(pid) }

func (l *Local) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Alive reports whether an OS process with pid currently exists and is not a zombie.
func Alive(pid int) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	if st, err := p.Status(); err == nil {
		for _, s := range st {
			if s == gopsproc.Zombie {
				return false
			}
		}
	}
	return true
}
