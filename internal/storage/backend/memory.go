package backend

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xtxerr/quarry/internal/errors"
)

// Memory is a map-backed backend used by tests and demo seeding. It also
// supports fault injection: a non-nil FailWith hook is consulted before
// every operation and may return an error to simulate backend trouble.
type Memory struct {
	name string

	mu      sync.RWMutex
	objects map[string][]byte

	// FailWith, when set, is called with the operation name ("open",
	// "list", "exists") and path before each operation. A non-nil return
	// aborts the operation with that error.
	FailWith func(op, path string) error
}

// NewMemory creates an empty in-memory backend.
func NewMemory(name string) *Memory {
	return &Memory{name: name, objects: make(map[string][]byte)}
}

// Put stores an object. Not part of the Backend contract; the query core
// is read-only over partitions produced upstream.
func (m *Memory) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte(nil), data...)
}

// Delete removes an object.
func (m *Memory) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
}

// Name implements Backend.
func (m *Memory) Name() string { return m.name }

func (m *Memory) fail(op, path string) error {
	if m.FailWith != nil {
		return m.FailWith(op, path)
	}
	return nil
}

// Open implements Backend.
func (m *Memory) Open(ctx context.Context, path string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.fail("open", path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, errors.ErrNotFound)
	}
	return &memBlob{Reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

// List implements Backend.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.fail("list", prefix); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for path := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Exists implements Backend.
func (m *Memory) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := m.fail("exists", path); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok, nil
}

// Health implements Backend.
func (m *Memory) Health(ctx context.Context) Health {
	return Health{Backend: m.name, OK: true}
}
