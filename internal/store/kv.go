package store

import (
	"context"
	"sync"
)

// KVStore defines durable key/value persistence for small client-side state
// such as the active session id. Values are opaque strings.
// Version: 1.0
type KVStore interface {
	// Get returns the value for key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}

// MemoryKVStore is a process-local KVStore. It is used in tests and as the
// fallback when no persistent backend is available.
type MemoryKVStore struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

// Ensure MemoryKVStore implements KVStore interface
var _ KVStore = (*MemoryKVStore)(nil)

// NewMemoryKVStore creates an empty in-memory store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{values: make(map[string]string)}
}

// Get implements KVStore.Get.
func (s *MemoryKVStore) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", NewStoreError(key, "get", "key is empty", ErrInvalidKey)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", NewStoreError(key, "get", "store is closed", ErrClosed)
	}
	v, ok := s.values[key]
	if !ok {
		return "", NewStoreError(key, "get", "no such key", ErrNotFound)
	}
	return v, nil
}

// Set implements KVStore.Set.
func (s *MemoryKVStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return NewStoreError(key, "set", "key is empty", ErrInvalidKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewStoreError(key, "set", "store is closed", ErrClosed)
	}
	s.values[key] = value
	return nil
}

// Delete implements KVStore.Delete.
func (s *MemoryKVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewStoreError(key, "delete", "store is closed", ErrClosed)
	}
	delete(s.values, key)
	return nil
}

// Close implements KVStore.Close.
func (s *MemoryKVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
