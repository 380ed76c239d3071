package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// DefaultLockName is created in os.TempDir() while serve runs.
const DefaultLockName = "sdctl.lock"

var errAlreadyRunning = errors.New("another sdctl instance is already running")

type instanceLock struct {
	fl      *flock.Flock
	pidPath string
}

// acquireLock takes an advisory lock on path and records our pid next to it. The
// kernel drops the lock when its holder exits, so a file left behind by a
// crashed instance does not block the next one.
func acquireLock(path string) (*instanceLock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), DefaultLockName)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		if pid := lockOwner(path); pid > 0 {
			return nil, fmt.Errorf("%w (pid %d, lock %s)", errAlreadyRunning, pid, path)
		}
		return nil, fmt.Errorf("%w (lock %s)", errAlreadyRunning, path)
	}
	// the pid is informational; the lock itself is what excludes other instances
	pidPath := pidFile(path)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write lock pid file: %w", err)
	}
	return &instanceLock{fl: fl, pidPath: pidPath}, nil
}

// pidFile is kept apart from the lock file, which some platforms refuse to
// write through a second handle while it is locked.
func pidFile(lockPath string) string { return lockPath + ".pid" }

// lockOwner reads the pid recorded by the holder of lockPath.
func lockOwner(lockPath string) int {
	b, err := os.ReadFile(pidFile(lockPath)) // #nosec G304 -- our own pid file
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}

// Release unlocks. The file stays in place: removing it would let a new
// instance lock a fresh inode while another still waits on the old one.
func (l *instanceLock) Release() error {
	if err := os.Remove(l.pidPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(err, l.fl.Unlock())
	}
	return l.fl.Unlock()
}
