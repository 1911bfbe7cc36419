package cache

import (
	"context"
	"encoding/json"
	"sync"
)

// memoryStore is an in-process Store with first-write-wins semantics.
type memoryStore struct {
	mu    sync.RWMutex
	items map[Key]json.RawMessage
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: make(map[Key]json.RawMessage)}
}

func (m *memoryStore) GetCached(_ context.Context, key Key) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[key]
	return p, ok, nil
}

func (m *memoryStore) PutCached(_ context.Context, key Key, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; ok {
		return nil
	}
	m.items[key] = append(json.RawMessage(nil), payload...)
	return nil
}

func (m *memoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
