package storage

import (
	"context"
	"fmt"
	"sync"
)

const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Scope is a key-value namespace holding serialized values
type Scope interface {
	// Get returns the value stored under key and whether it exists
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put overwrites the value stored under key
	Put(ctx context.Context, key string, value []byte) error

	// Close releases the underlying resources
	Close() error
}

// Open creates the scope for the named backend. location is the database
// path for sqlite and the directory for file; memory ignores it.
func Open(backend, location string) (Scope, error) {
	switch backend {
	case BackendSQLite:
		return NewSQLiteScope(location)
	case BackendFile:
		return NewFileScope(location)
	case BackendMemory:
		return NewMemoryScope(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", backend)
	}
}

// MemoryScope keeps values in process memory
type MemoryScope struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryScope creates an empty in-memory scope
func NewMemoryScope() *MemoryScope {
	return &MemoryScope{values: make(map[string][]byte)}
}

func (m *MemoryScope) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryScope) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.values[key] = v
	return nil
}

func (m *MemoryScope) Close() error {
	return nil
}
