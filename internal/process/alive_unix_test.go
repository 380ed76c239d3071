//go:build !windows

package process

import (
	"os/exec"
	"syscall"
	"testing"
	"time"
)

// A module killed behind the supervisor's back must read as dead once reaped.
func TestAliveAfterOutOfBandKill(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real processes")
	}
	path := writeScript(t, t.TempDir(), "sd-victim", "while true; do sleep 1; done")
	l := &Local{}
	pid, err := l.Spawn("sd-victim", path)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !Alive(pid) {
		t.Fatalf("pid %d should be alive after spawn", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if !waitUntil(t, 3*time.Second, func() bool { return !Alive(pid) }) {
		t.Fatalf("false positive: pid %d killed but still reported alive", pid)
	}
}

// An exited child nobody has waited on is a zombie and is not alive.
func TestZombieIsNotAlive(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real processes")
	}
	cmd := exec.Command("sh", "-c", "exit 0")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	t.Cleanup(func() { _ = cmd.Wait() })
	if !waitUntil(t, 3*time.Second, func() bool { return !Alive(pid) }) {
		t.Fatalf("zombie pid %d reported alive", pid)
	}
}
