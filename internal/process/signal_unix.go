//go:build !windows

package process

import "syscall"

// terminate sends SIGTERM to pid only; the module owns its own children.
func terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
