package store

import (
	"context"
	"strconv"
	"sync"
)

// Memory is an in-process Store. It is useful when embedding the manager
// without durability and in tests.
type Memory struct {
	mu       sync.Mutex
	order    []string
	sections map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{sections: make(map[string]map[string]string)}
}

func (m *Memory) Initialize(_ context.Context, baseline []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sections) > 0 {
		return nil
	}
	for _, name := range baseline {
		m.section(name)[FieldStatus] = FormatStatus(false)
		m.section(name)[FieldPID] = strconv.Itoa(0)
	}
	return nil
}

func (m *Memory) Get(_ context.Context, name, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.sections[name]
	if !ok {
		return "", ErrRecordNotFound
	}
	v, ok := sec[field]
	if !ok {
		return "", ErrRecordNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, name, field, value string) error {
	m.mu.Lock()
	m.section(name)[field] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Names(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}

func (m *Memory) Close() error { return nil }

// section returns the field map for name, creating it. Callers hold mu.
func (m *Memory) section(name string) map[string]string {
	sec, ok := m.sections[name]
	if !ok {
		sec = make(map[string]string)
		m.sections[name] = sec
		m.order = append(m.order, name)
	}
	return sec
}
