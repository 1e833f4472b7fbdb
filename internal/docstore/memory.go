// ABOUTME: In-memory Store implementation for testing
// ABOUTME: Allows tests to run without SQLite or bbolt files

package docstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte

	// FailSaves makes every Save return an error when set; used by tests
	// that exercise persistence-failure atomicity.
	FailSaves error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Load retrieves the document stored under key.
func (m *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save stores the document under key.
func (m *MemoryStore) Save(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	m.docs[key] = append([]byte(nil), data...)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
