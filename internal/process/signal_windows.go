//go:build windows

package process

import "os"

// terminate ends pid. Windows has no SIGTERM; TerminateProcess is what a
// termination request maps to there.
func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
