package mocks

import "context"

// MockAnkiClient implements service.AnkiClient for testing
type MockAnkiClient struct {
	CallRecorder

	UpdateNoteFieldsFn func(ctx context.Context, noteID int64, fields map[string]string) error
	DeleteNotesFn      func(ctx context.Context, noteIDs []int64) error

	DefaultError error
}

// UpdateNoteFields implements service.AnkiClient.
func (m *MockAnkiClient) UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error {
	m.record("UpdateNoteFields", noteID, fields)
	if m.UpdateNoteFieldsFn != nil {
		return m.UpdateNoteFieldsFn(ctx, noteID, fields)
	}
	return m.DefaultError
}

// DeleteNotes implements service.AnkiClient.
func (m *MockAnkiClient) DeleteNotes(ctx context.Context, noteIDs []int64) error {
	m.record("DeleteNotes", noteIDs)
	if m.DeleteNotesFn != nil {
		return m.DeleteNotesFn(ctx, noteIDs)
	}
	return m.DefaultError
}
