//go:build windows

package inifile

import "os"

// writeFile writes path in place; rename-over-open-file is not reliable on Windows.
func writeFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
