// Package discovery finds module executables next to the supervisor binary
// (bundled) and on the executable search path (system).
package discovery

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"

	"github.com/loykin/sdctl/internal/module"
)

const DefaultMaxDepth = 8

// Candidate is one discovered executable.
type Candidate struct {
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Provenance module.Provenance `json:"provenance"`
}

// Engine walks the bundled and system locations. The zero value is not
// usable; Prefix and SelfDir are required.
type Engine struct {
	Fs afero.Fs
	// Prefix every module file name starts with, e.g. "sd-".
	Prefix string
	// SelfDir is the directory holding the supervisor binary.
	SelfDir string
	// ExtraDirs are scanned as additional bundled roots.
	ExtraDirs []string
	// SearchPath is the ordered executable search path.
	SearchPath []string
	// Ignored names are companions that are never managed.
	Ignored  []string
	MaxDepth int
	// GOOS selects the executable rules; defaults to runtime.GOOS.
	GOOS   string
	Logger *slog.Logger
}

// FromEnvironment returns the search path and the directory of the running
// binary with symlinks resolved.
func FromEnvironment() (selfDir string, searchPath []string, err error) {
	exe, err := os.Executable()
	if err != nil {
		return "", nil, err
	}
	if resolved, rerr := filepath.EvalSymlinks(exe); rerr == nil {
		exe = resolved
	}
	return filepath.Dir(exe), filepath.SplitList(os.Getenv("PATH")), nil
}

// Discover returns bundled candidates followed by system candidates. A name
// may appear once per provenance.
func (e *Engine) Discover() []Candidate {
	out := e.Bundled()
	return append(out, e.System()...)
}

// BundledRoots lists the directories the bundled search starts from.
func (e *Engine) BundledRoots() []string {
	self := filepath.Clean(e.SelfDir)
	parent := filepath.Dir(self)
	roots := []string{self, parent}
	if e.goos() == "darwin" {
		roots = append(roots, filepath.Join(filepath.Dir(parent), "MacOS"))
	}
	return append(roots, e.ExtraDirs...)
}

// Bundled walks the bundled roots breadth first, descending only into
// prefixed directories, at most MaxDepth levels below a root.
func (e *Engine) Bundled() []Candidate {
	type item struct {
		dir   string
		depth int
	}
	var (
		out     []Candidate
		seen    = map[string]bool{}
		visited = map[string]bool{}
		queue   []item
	)
	for _, r := range e.BundledRoots() {
		queue = append(queue, item{dir: filepath.Clean(r)})
	}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if visited[it.dir] {
			continue
		}
		visited[it.dir] = true

		entries, err := afero.ReadDir(e.fs(), it.dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				e.logger().Warn("Cannot list bundled directory, skipping", "dir", it.dir, "error", err)
			}
			continue
		}
		for _, ent := range entries {
			base := ent.Name()
			if !strings.HasPrefix(base, e.Prefix) {
				continue
			}
			p := filepath.Join(it.dir, base)
			info, err := e.fs().Stat(p)
			if err != nil {
				e.logger().Warn("Found matching file but could not stat it", "path", p, "error", err)
				continue
			}
			switch {
			case e.isExecutable(info):
				name := e.nameOf(base)
				if e.ignored(name) || seen[name] {
					continue
				}
				seen[name] = true
				out = append(out, Candidate{Name: name, Path: p, Provenance: module.Bundled})
			case info.IsDir() && e.traversable(info):
				if it.depth >= e.maxDepth() {
					e.logger().Warn("Bundled directory deeper than max depth, skipping", "dir", p, "max_depth", e.maxDepth())
					continue
				}
				queue = append(queue, item{dir: p, depth: it.depth + 1})
			default:
				e.logger().Warn("Found matching file but was not executable", "path", p)
			}
		}
	}
	e.logger().Info("Found bundled modules", "count", len(out))
	logCandidates(e.logger(), out)
	return out
}

// System lists prefixed executables in each search path directory. The
// first directory on the path wins for a given name. The supervisor's own
// directory and its parent are skipped so bundled copies are not reported twice.
func (e *Engine) System() []Candidate {
	self := filepath.Clean(e.SelfDir)
	skip := map[string]bool{self: true, filepath.Dir(self): true}

	var out []Candidate
	seen := map[string]bool{}
	for _, dir := range e.SearchPath {
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if skip[dir] {
			continue
		}
		entries, err := afero.ReadDir(e.fs(), dir)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				e.logger().Warn("PermissionError while listing search path entry, skipping", "dir", dir)
			}
			continue
		}
		for _, ent := range entries {
			base := ent.Name()
			if !strings.HasPrefix(base, e.Prefix) {
				continue
			}
			p := filepath.Join(dir, base)
			info, err := e.fs().Stat(p)
			if err != nil || !e.isExecutable(info) {
				continue
			}
			name := e.nameOf(base)
			if e.ignored(name) || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, Candidate{Name: name, Path: p, Provenance: module.System})
		}
	}
	e.logger().Info("Found system modules", "count", len(out))
	logCandidates(e.logger(), out)
	return out
}

func (e *Engine) isExecutable(info fs.FileInfo) bool {
	if !info.Mode().IsRegular() {
		return false
	}
	name := info.Name()
	if e.goos() == "windows" {
		return strings.HasSuffix(strings.ToLower(name), ".exe")
	}
	return info.Mode().Perm()&0o111 != 0 && !strings.HasSuffix(name, ".desktop")
}

func (e *Engine) traversable(info fs.FileInfo) bool {
	if e.goos() == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func (e *Engine) nameOf(base string) string {
	if e.goos() == "windows" && strings.HasSuffix(strings.ToLower(base), ".exe") {
		return base[:len(base)-len(".exe")]
	}
	return base
}

func (e *Engine) ignored(name string) bool {
	for _, ig := range e.Ignored {
		if ig == name {
			return true
		}
	}
	return false
}

func (e *Engine) fs() afero.Fs {
	if e.Fs == nil {
		return afero.NewOsFs()
	}
	return e.Fs
}

func (e *Engine) goos() string {
	if e.GOOS == "" {
		return runtime.GOOS
	}
	return e.GOOS
}

func (e *Engine) maxDepth() int {
	if e.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return e.MaxDepth
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func logCandidates(log *slog.Logger, cs []Candidate) {
	for _, c := range cs {
		log.Debug("Discovered module", "module", c.Name, "path", c.Path, "provenance", string(c.Provenance))
	}
}
