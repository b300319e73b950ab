package generation

import (
	"context"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/events"
)

// Document is an uploaded source file.
type Document struct {
	FileName string `json:"file_name" validate:"required"`
	Content  []byte `json:"-"         validate:"required,min=1"`

	// ContentType is sent with the upload when set.
	ContentType string `json:"-"`
}

// Request is a deck generation request.
type Request struct {
	Document    Document
	TargetCards int               `validate:"required,min=1,max=500"`
	SourceType  domain.SourceType `validate:"required,oneof=slides script"`
	Model       string
	DeckName    string
}

// EstimateRequest asks the service to measure a document before generation.
type EstimateRequest struct {
	Document   Document
	SourceType domain.SourceType `validate:"required,oneof=slides script"`
	Model      string
}

// SessionInfo is the service's snapshot of one generation job.
type SessionInfo struct {
	ID     string               `json:"session_id"`
	Status domain.SessionStatus `json:"status"`
	Cards  []domain.Card        `json:"cards"`
}

// Service is the remote generation service.
//
// Every method that returns an events.Stream hands ownership of the stream to
// the caller, who must Close it.
type Service interface {
	// Estimate measures a document without generating anything.
	Estimate(ctx context.Context, req EstimateRequest) (domain.Estimation, error)

	// Generate starts a run. The session id is known as soon as the request is
	// accepted, before the first event arrives.
	Generate(ctx context.Context, req Request) (string, events.Stream, error)

	// StreamSession re-opens the progress stream of a running session.
	StreamSession(ctx context.Context, sessionID string) (events.Stream, error)

	// Cancel requests cooperative cancellation. The run ends when the stream
	// delivers a cancelled event.
	Cancel(ctx context.Context, sessionID string) error

	// GetSession returns the status and cards of a session.
	// Returns ErrSessionNotFound if the service does not know the session.
	GetSession(ctx context.Context, sessionID string) (SessionInfo, error)

	// GetDrafts returns the draft cards of a session in server order.
	GetDrafts(ctx context.Context, sessionID string) ([]domain.Card, error)

	// UpdateDraft replaces the draft card at index.
	UpdateDraft(ctx context.Context, sessionID string, index int, card domain.Card) error

	// DeleteDraft removes the draft card at index.
	DeleteDraft(ctx context.Context, sessionID string, index int) error

	// UpdateSessionCards replaces the full card array of a historical session.
	UpdateSessionCards(ctx context.Context, sessionID string, cards []domain.Card) error

	// DeleteSessionCard removes the card at index from a historical session.
	DeleteSessionCard(ctx context.Context, sessionID string, index int) error

	// SyncDrafts pushes a draft session's cards to Anki.
	SyncDrafts(ctx context.Context, sessionID string) (events.Stream, error)

	// SyncSessionToAnki pushes a historical session's cards to Anki.
	SyncSessionToAnki(ctx context.Context, sessionID string) (events.Stream, error)
}
