// Package processtest provides an in-memory process.Controller for tests.
package processtest

import (
	"errors"
	"sync"

	"github.com/loykin/sdctl/internal/process"
)

// Call is one recorded controller operation.
type Call struct {
	Op   string // "spawn" or "terminate"
	Name string
	Path string
	PID  int
}

// Fake hands out increasing pids and tracks liveness in memory.
type Fake struct {
	mu       sync.Mutex
	next     int
	alive    map[int]bool
	names    map[int]string
	calls    []Call
	spawnErr map[string]error
	termErr  error
}

var _ process.Controller = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{next: 1000, alive: map[int]bool{}, names: map[int]string{}, spawnErr: map[string]error{}}
}

func (f *Fake) Spawn(name, path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.spawnErr[name]; err != nil {
		return 0, err
	}
	f.next++
	pid := f.next
	f.alive[pid] = true
	f.names[pid] = name
	f.calls = append(f.calls, Call{Op: "spawn", Name: name, Path: path, PID: pid})
	return pid, nil
}

func (f *Fake) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.termErr != nil {
		return f.termErr
	}
	if !f.alive[pid] {
		return errors.New("no such process")
	}
	f.alive[pid] = false
	f.calls = append(f.calls, Call{Op: "terminate", Name: f.names[pid], PID: pid})
	return nil
}

func (f *Fake) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

// Kill marks pid dead without a recorded call, as an out-of-band kill would.
func (f *Fake) Kill(pid int) {
	f.mu.Lock()
	f.alive[pid] = false
	f.mu.Unlock()
}

// Adopt registers pid as a live process not spawned through the fake.
func (f *Fake) Adopt(pid int, name string) {
	f.mu.Lock()
	f.alive[pid] = true
	f.names[pid] = name
	f.mu.Unlock()
}

func (f *Fake) FailSpawn(name string, err error) {
	f.mu.Lock()
	f.spawnErr[name] = err
	f.mu.Unlock()
}

func (f *Fake) FailTerminate(err error) {
	f.mu.Lock()
	f.termErr = err
	f.mu.Unlock()
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Names lists the module names of calls with the given op, in order.
func (f *Fake) Names(op string) []string {
	var out []string
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c.Name)
		}
	}
	return out
}

// AliveCount counts live pids spawned for name.
func (f *Fake) AliveCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for pid, ok := range f.alive {
		if ok && f.names[pid] == name {
			n++
		}
	}
	return n
}
