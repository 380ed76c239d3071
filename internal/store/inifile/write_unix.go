//go:build !windows

package inifile

import (
	"os"

	"github.com/google/renameio/v2"
)

// writeFile replaces path atomically so a crash mid-write never leaves a truncated state file.
func writeFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
