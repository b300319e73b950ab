package mocks

import (
	"context"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/events"
	"github.com/phrazzld/scry-deck/internal/generation"
)

// Ensure MockGenerationService implements generation.Service.
var _ generation.Service = (*MockGenerationService)(nil)

// MockGenerationService implements generation.Service for testing.
// Methods without a custom function return the default values below.
type MockGenerationService struct {
	CallRecorder

	EstimateFn           func(ctx context.Context, req generation.EstimateRequest) (domain.Estimation, error)
	GenerateFn           func(ctx context.Context, req generation.Request) (string, events.Stream, error)
	StreamSessionFn      func(ctx context.Context, sessionID string) (events.Stream, error)
	CancelFn             func(ctx context.Context, sessionID string) error
	GetSessionFn         func(ctx context.Context, sessionID string) (generation.SessionInfo, error)
	GetDraftsFn          func(ctx context.Context, sessionID string) ([]domain.Card, error)
	UpdateDraftFn        func(ctx context.Context, sessionID string, index int, card domain.Card) error
	DeleteDraftFn        func(ctx context.Context, sessionID string, index int) error
	UpdateSessionCardsFn func(ctx context.Context, sessionID string, cards []domain.Card) error
	DeleteSessionCardFn  func(ctx context.Context, sessionID string, index int) error
	SyncDraftsFn         func(ctx context.Context, sessionID string) (events.Stream, error)
	SyncSessionToAnkiFn  func(ctx context.Context, sessionID string) (events.Stream, error)

	// Default return values
	SessionID    string
	Cards        []domain.Card
	Session      generation.SessionInfo
	Estimation   domain.Estimation
	DefaultError error
}

// Estimate implements generation.Service.
func (m *MockGenerationService) Estimate(ctx context.Context, req generation.EstimateRequest) (domain.Estimation, error) {
	m.record("Estimate", req)
	if m.EstimateFn != nil {
		return m.EstimateFn(ctx, req)
	}
	return m.Estimation, m.DefaultError
}

// Generate implements generation.Service.
func (m *MockGenerationService) Generate(ctx context.Context, req generation.Request) (string, events.Stream, error) {
	m.record("Generate", req)
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	if m.DefaultError != nil {
		return "", nil, m.DefaultError
	}
	return m.SessionID, NewMockStream(), nil
}

// StreamSession implements generation.Service.
func (m *MockGenerationService) StreamSession(ctx context.Context, sessionID string) (events.Stream, error) {
	m.record("StreamSession", sessionID)
	if m.StreamSessionFn != nil {
		return m.StreamSessionFn(ctx, sessionID)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	return NewMockStream(), nil
}

// Cancel implements generation.Service.
func (m *MockGenerationService) Cancel(ctx context.Context, sessionID string) error {
	m.record("Cancel", sessionID)
	if m.CancelFn != nil {
		return m.CancelFn(ctx, sessionID)
	}
	return m.DefaultError
}

// GetSession implements generation.Service.
func (m *MockGenerationService) GetSession(ctx context.Context, sessionID string) (generation.SessionInfo, error) {
	m.record("GetSession", sessionID)
	if m.GetSessionFn != nil {
		return m.GetSessionFn(ctx, sessionID)
	}
	return m.Session, m.DefaultError
}

// GetDrafts implements generation.Service.
func (m *MockGenerationService) GetDrafts(ctx context.Context, sessionID string) ([]domain.Card, error) {
	m.record("GetDrafts", sessionID)
	if m.GetDraftsFn != nil {
		return m.GetDraftsFn(ctx, sessionID)
	}
	return m.Cards, m.DefaultError
}

// UpdateDraft implements generation.Service.
func (m *MockGenerationService) UpdateDraft(ctx context.Context, sessionID string, index int, card domain.Card) error {
	m.record("UpdateDraft", sessionID, index, card)
	if m.UpdateDraftFn != nil {
		return m.UpdateDraftFn(ctx, sessionID, index, card)
	}
	return m.DefaultError
}

// DeleteDraft implements generation.Service.
func (m *MockGenerationService) DeleteDraft(ctx context.Context, sessionID string, index int) error {
	m.record("DeleteDraft", sessionID, index)
	if m.DeleteDraftFn != nil {
		return m.DeleteDraftFn(ctx, sessionID, index)
	}
	return m.DefaultError
}

// UpdateSessionCards implements generation.Service.
func (m *MockGenerationService) UpdateSessionCards(ctx context.Context, sessionID string, cards []domain.Card) error {
	m.record("UpdateSessionCards", sessionID, cards)
	if m.UpdateSessionCardsFn != nil {
		return m.UpdateSessionCardsFn(ctx, sessionID, cards)
	}
	return m.DefaultError
}

// DeleteSessionCard implements generation.Service.
func (m *MockGenerationService) DeleteSessionCard(ctx context.Context, sessionID string, index int) error {
	m.record("DeleteSessionCard", sessionID, index)
	if m.DeleteSessionCardFn != nil {
		return m.DeleteSessionCardFn(ctx, sessionID, index)
	}
	return m.DefaultError
}

// SyncDrafts implements generation.Service.
func (m *MockGenerationService) SyncDrafts(ctx context.Context, sessionID string) (events.Stream, error) {
	m.record("SyncDrafts", sessionID)
	if m.SyncDraftsFn != nil {
		return m.SyncDraftsFn(ctx, sessionID)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	return NewMockStream(), nil
}

// SyncSessionToAnki implements generation.Service.
func (m *MockGenerationService) SyncSessionToAnki(ctx context.Context, sessionID string) (events.Stream, error) {
	m.record("SyncSessionToAnki", sessionID)
	if m.SyncSessionToAnkiFn != nil {
		return m.SyncSessionToAnkiFn(ctx, sessionID)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	return NewMockStream(), nil
}
