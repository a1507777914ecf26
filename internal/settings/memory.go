package settings

import (
	"context"
	"sync"
)

type memoryEntry struct {
	kind  Kind
	value []byte
}

// MemoryStore is an in-process Backend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Get implements Backend.
func (m *MemoryStore) Get(ctx context.Context, key string) (Kind, []byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return "", nil, false, nil
	}
	return e.kind, append([]byte(nil), e.value...), true, nil
}

// Put implements Backend.
func (m *MemoryStore) Put(ctx context.Context, key string, kind Kind, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{kind: kind, value: append([]byte(nil), value...)}
	return nil
}

// Delete implements Backend.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Ping implements Backend.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Backend.
func (m *MemoryStore) Close() error {
	return nil
}
