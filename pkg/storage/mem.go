package storage

import (
	"fmt"
	"slices"
	"sync"
)

// MemStore keeps the store in a map; used by tests and the `memory` backend.
type MemStore struct { // Implements Store.
	mux  sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(prefix Prefix, key []byte) ([]byte, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	value, exists := m.data[string(prefix.Key(key))]
	if !exists {
		return nil, fmt.Errorf("%w: %s%x", ErrKeyNotFound, prefix, key)
	}
	return slices.Clone(value), nil
}

func (m *MemStore) Put(prefix Prefix, key, value []byte) error {
	if err := prefix.Validate(); err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	m.data[string(prefix.Key(key))] = slices.Clone(value)
	return nil
}

// Delete removes the key; deleting an absent key is not an error.
func (m *MemStore) Delete(prefix Prefix, key []byte) error {
	if err := prefix.Validate(); err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.data, string(prefix.Key(key)))
	return nil
}

// Len returns the number of stored keys.
func (m *MemStore) Len() int {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return len(m.data)
}

func (m *MemStore) Close() error {
	return nil
}
