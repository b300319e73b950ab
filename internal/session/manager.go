package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/generation"
	"github.com/phrazzld/scry-deck/internal/progress"
	"github.com/phrazzld/scry-deck/internal/redact"
	"github.com/phrazzld/scry-deck/internal/state"
	"github.com/phrazzld/scry-deck/internal/store"
)

// StorageKey is the durable slot holding the active generation session id.
const StorageKey = "scry-deck.active-session"

// Remote is the part of the generation service the manager needs to confirm a
// recovered session.
type Remote interface {
	GetSession(ctx context.Context, sessionID string) (generation.SessionInfo, error)
	GetDrafts(ctx context.Context, sessionID string) ([]domain.Card, error)
}

// Manager owns the active session identity and its durable copy.
//
// Storage is best effort: a nil store or a failing one degrades to in-memory
// tracking and is only logged.
type Manager struct {
	state  *state.Container
	store  store.KVStore
	remote Remote
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager. kv may be nil.
func NewManager(st *state.Container, kv store.KVStore, remote Remote, log *slog.Logger) (*Manager, error) {
	if st == nil {
		return nil, domain.NewValidationError("state", "cannot be nil", domain.ErrValidation)
	}
	if remote == nil {
		return nil, domain.NewValidationError("remote", "cannot be nil", domain.ErrValidation)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		state:  st,
		store:  kv,
		remote: remote,
		logger: log.With(slog.String("component", "session_manager")),
		now:    time.Now,
	}, nil
}

// Assign makes id the active, freshly generated session and persists it.
func (m *Manager) Assign(ctx context.Context, id string) {
	log := m.logger

	m.state.Update(func(s state.State) state.State {
		s.Session = domain.Session{ID: id, IsHistorical: false}
		return s
	})

	if m.store == nil {
		log.Debug("no durable storage, session tracked in memory", slog.String("session_id", id))
		return
	}
	if err := m.store.Set(ctx, StorageKey, id); err != nil {
		log.Warn("failed to persist session id",
			slog.String("session_id", id),
			redact.Attr(err))
		return
	}
	log.Debug("session id persisted", slog.String("session_id", id))
}

// Clear unsets the active session and removes its durable copy.
func (m *Manager) Clear(ctx context.Context) {
	m.state.Update(func(s state.State) state.State {
		s.Session = domain.Session{}
		return s
	})
	m.Forget(ctx)
}

// Forget removes the durable copy of the session id without touching state.
func (m *Manager) Forget(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.Delete(ctx, StorageKey); err != nil {
		m.logger.Warn("failed to remove persisted session id",
			redact.Attr(err))
	}
}

// RecoverOnStart restores a persisted session id, if any, and marks the
// workflow as recovering in the generating step. No request is re-issued.
// It reports whether a session was recovered.
func (m *Manager) RecoverOnStart(ctx context.Context) bool {
	log := m.logger

	if m.store == nil {
		return false
	}

	id, err := m.store.Get(ctx, StorageKey)
	if err != nil {
		if !store.IsNotFoundError(err) {
			log.Warn("failed to read persisted session id", redact.Attr(err))
		}
		return false
	}
	if id == "" {
		return false
	}

	m.state.Update(func(s state.State) state.State {
		s.Session = domain.Session{ID: id, IsHistorical: false}
		s.Workflow.Step = domain.StepGenerating
		s.Workflow.IsRecovering = true
		return s
	})

	log.Info("recovered session from storage", slog.String("session_id", id))
	return true
}

// RefreshRecovered asks the service for the status of the recovered session
// and moves the workflow accordingly:
//
//   - completed: review, with the session's cards
//   - processing: stays in generating; the caller may re-attach to the stream
//   - failed: stays in generating with the error flag and a log entry
//   - cancelled or unknown to the service: identity cleared, back to dashboard
//
// It returns the status it acted on. Without a recovered session it returns
// an empty status and no error.
func (m *Manager) RefreshRecovered(ctx context.Context) (domain.SessionStatus, error) {
	snap := m.state.Snapshot()
	if !snap.Session.Active() || !snap.Workflow.IsRecovering {
		return "", nil
	}

	id := snap.Session.ID
	log := m.logger.With(slog.String("session_id", id))

	info, err := m.remote.GetSession(ctx, id)
	if errors.Is(err, generation.ErrSessionNotFound) {
		log.Info("recovered session is unknown to the service, discarding")
		m.discard(ctx)
		return "", nil
	}
	if err != nil {
		log.Warn("failed to refresh recovered session", redact.Attr(err))
		return "", fmt.Errorf("refresh session %s: %w", id, err)
	}

	switch info.Status {
	case domain.SessionCompleted:
		cards, err := m.remote.GetDrafts(ctx, id)
		if err != nil {
			log.Warn("failed to list drafts, using session snapshot", redact.Attr(err))
			cards = info.Cards
		}
		cards = domain.NormalizeAll(cards)

		m.state.Update(func(s state.State) state.State {
			s.Workflow.IsRecovering = false
			s.Workflow.Step = domain.StepReview
			s.Review = state.Review{Cards: cards}
			return s
		})
		log.Info("recovered session already completed", slog.Int("card_count", len(cards)))

	case domain.SessionFailed:
		m.state.Update(func(s state.State) state.State {
			s.Workflow.IsRecovering = false
			s.Workflow.IsError = true
			return state.AppendWorkflowLog(s, progress.LogEntry{
				Timestamp: m.now(),
				Type:      "error",
				Message:   "generation failed while the client was away",
			})
		})
		log.Info("recovered session had failed")

	case domain.SessionCancelled:
		log.Info("recovered session was cancelled, discarding")
		m.discard(ctx)

	default:
		m.state.Update(func(s state.State) state.State {
			s.Workflow.IsRecovering = false
			return s
		})
		log.Info("recovered session still running", slog.String("status", string(info.Status)))
	}

	return info.Status, nil
}

// discard clears the identity and returns the workflow to the dashboard in
// one update.
func (m *Manager) discard(ctx context.Context) {
	m.state.Update(func(s state.State) state.State {
		s.Session = domain.Session{}
		s.Workflow = state.Initial().Workflow
		return s
	})
	m.Forget(ctx)
}
