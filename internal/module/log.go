package module

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNoLog is returned by ReadLog when module output is not captured or the
// module has not written anything yet.
var ErrNoLog = errors.New("no log file found")

// LogPath is the file the process controller appends the module's output to.
func (m *Module) LogPath() string {
	if m.logDir == "" {
		return ""
	}
	return filepath.Join(m.logDir, m.name+".log")
}

// ReadLog returns at most the last maxBytes of the module log. maxBytes <= 0 reads it all.
func (m *Module) ReadLog(maxBytes int64) (string, error) {
	p := m.LogPath()
	if p == "" {
		return "", ErrNoLog
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoLog
	}
	if err != nil {
		return "", fmt.Errorf("open log for %s: %w", m.name, err)
	}
	defer func() { _ = f.Close() }()

	if maxBytes > 0 {
		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		if off := info.Size() - maxBytes; off > 0 {
			if _, err := f.Seek(off, io.SeekStart); err != nil {
				return "", err
			}
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
