package mocks

import (
	"context"

	"github.com/phrazzld/scry-deck/internal/store"
)

// Ensure MockKVStore implements store.KVStore.
var _ store.KVStore = (*MockKVStore)(nil)

// MockKVStore wraps an in-memory store and lets tests inject failures.
type MockKVStore struct {
	CallRecorder

	GetErr    error
	SetErr    error
	DeleteErr error

	inner *store.MemoryKVStore
}

// NewMockKVStore creates a MockKVStore with the given initial values.
func NewMockKVStore(initial map[string]string) *MockKVStore {
	m := &MockKVStore{inner: store.NewMemoryKVStore()}
	for k, v := range initial {
		_ = m.inner.Set(context.Background(), k, v)
	}
	return m
}

// Get implements store.KVStore.
func (m *MockKVStore) Get(ctx context.Context, key string) (string, error) {
	m.record("Get", key)
	if m.GetErr != nil {
		return "", m.GetErr
	}
	return m.inner.Get(ctx, key)
}

// Set implements store.KVStore.
func (m *MockKVStore) Set(ctx context.Context, key, value string) error {
	m.record("Set", key, value)
	if m.SetErr != nil {
		return m.SetErr
	}
	return m.inner.Set(ctx, key, value)
}

// Delete implements store.KVStore.
func (m *MockKVStore) Delete(ctx context.Context, key string) error {
	m.record("Delete", key)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	return m.inner.Delete(ctx, key)
}

// Close implements store.KVStore.
func (m *MockKVStore) Close() error {
	return m.inner.Close()
}
