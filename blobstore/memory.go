package blobstore

import (
	"sync"

	"github.com/hanzong05/farm2go-sub002/internal/errors"
)

// Memory is an in-memory Store implementation.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates a new in-memory blob store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[key]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}

	// Copy to avoid external modification of the stored slice.
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (m *Memory) Set(key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(blob))
	copy(stored, blob)
	m.blobs[key] = stored
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, key)
	return nil
}
