package inifile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/ini.v1"

	"github.com/loykin/sdctl/internal/store"
)

// Store implements store.Store on an INI text file with one section per module:
//
//	[sd-server]
//	status = True
//	pid    = 4242
//
// The whole file is re-read on every Get and rewritten on every Set so another
// reader (or a restarted supervisor) always sees the last written value.
type Store struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last [sha256.Size]byte // digest of the content last written here or last reported as external
}

// New returns a store backed by path. The file is not touched until Initialize or Set.
func New(path string, logger *slog.Logger) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty state file path")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("resolve state file path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: abs, logger: logger}, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) Initialize(_ context.Context, baseline []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat state file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	f := ini.Empty()
	for _, name := range baseline {
		sec := f.Section(name)
		sec.Key(store.FieldStatus).SetValue(store.FormatStatus(false))
		sec.Key(store.FieldPID).SetValue("0")
	}
	if err := s.write(f); err != nil {
		return fmt.Errorf("initialize state file: %w", err)
	}
	s.logger.Info("Initialized new state file with default values", "path", s.path)
	return nil
}

func (s *Store) Get(_ context.Context, name, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return "", err
	}
	sec, err := f.GetSection(name)
	if err != nil {
		return "", store.ErrRecordNotFound
	}
	if !sec.HasKey(field) {
		return "", store.ErrRecordNotFound
	}
	return sec.Key(field).String(), nil
}

func (s *Store) Set(_ context.Context, name, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	f.Section(name).Key(field).SetValue(value)
	return s.write(f)
}

func (s *Store) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.Sections()))
	for _, n := range f.SectionStrings() {
		if n == ini.DefaultSection {
			continue
		}
		names = append(names, n)
	}
	return names, nil
}

func (s *Store) Close() error { return nil }

// Watch blocks until ctx is done, calling onExternal whenever the file changes
// to content this process did not write. It is a diagnostic for the
// single-writer assumption, not a coordination mechanism.
func (s *Store) Watch(ctx context.Context, onExternal func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	// Watch the directory: atomic replacement swaps the inode under a file watch.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if s.changedExternally() {
				onExternal()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("State file watch error", "path", s.path, "error", err)
		}
	}
}

func (s *Store) changedExternally() bool {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum == s.last {
		return false
	}
	s.last = sum
	return true
}

// load parses the file; a missing file reads as empty. Callers hold mu.
func (s *Store) load() (*ini.File, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ini.Empty(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	f, err := ini.Load(b)
	if err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	return f, nil
}

// write serializes f and replaces the file before returning. Callers hold mu.
func (s *Store) write(f *ini.File) error {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return err
	}
	if err := writeFile(s.path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	s.last = sha256.Sum256(buf.Bytes())
	return nil
}
