package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/events"
	"github.com/phrazzld/scry-deck/internal/generation"
	"github.com/phrazzld/scry-deck/internal/progress"
	"github.com/phrazzld/scry-deck/internal/redact"
	"github.com/phrazzld/scry-deck/internal/state"
)

// DefaultSuccessBannerTTL applies when SyncOptions leaves it unset.
const DefaultSuccessBannerTTL = 3 * time.Second

// SyncOptions configures a SyncService.
type SyncOptions struct {
	// StreamIdleTimeout fails a sync whose stream is silent for this long.
	StreamIdleTimeout time.Duration

	// SuccessBannerTTL is how long Sync.Success stays set after a sync.
	SuccessBannerTTL time.Duration
}

// SyncService pushes the active session's cards to Anki through the
// generation service and follows the sync stream.
type SyncService struct {
	state  *state.Container
	remote generation.Service
	opts   SyncOptions
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	banner    *time.Timer
	runID     string
	runCancel context.CancelFunc
}

// NewSyncService creates a SyncService.
// It returns an error if any of the required dependencies are nil.
func NewSyncService(st *state.Container, remote generation.Service, opts SyncOptions, log *slog.Logger) (*SyncService, error) {
	if st == nil {
		return nil, domain.NewValidationError("state", "cannot be nil", domain.ErrValidation)
	}
	if remote == nil {
		return nil, domain.NewValidationError("remote", "cannot be nil", domain.ErrValidation)
	}
	if opts.SuccessBannerTTL <= 0 {
		opts.SuccessBannerTTL = DefaultSuccessBannerTTL
	}
	if log == nil {
		log = slog.Default()
	}

	return &SyncService{
		state:  st,
		remote: remote,
		opts:   opts,
		logger: log.With(slog.String("component", "sync_service")),
		now:    time.Now,
	}, nil
}

// HandleSync starts a sync of the active session and follows it to the end.
// It returns ErrBusy while another sync is running and ErrNoSession without
// an active session. IsSyncing is cleared however the sync ends.
//
// Failures reported by the stream return nil; they are recorded in the sync
// log with Sync.IsError set.
func (s *SyncService) HandleSync(ctx context.Context) error {
	runID := uuid.NewString()
	snap, err := s.state.TryUpdate(func(st state.State) (state.State, error) {
		if !st.Session.Active() {
			return st, ErrNoSession
		}
		if st.Sync.IsSyncing {
			return st, ErrBusy
		}
		st.Sync = state.Sync{
			IsSyncing: true,
			Tracker:   progress.NewTracker(),
			RunID:     runID,
		}
		return st, nil
	})
	if err != nil {
		return err
	}
	defer s.finish(runID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.attach(runID, cancel)
	defer s.detach(runID)

	sess := snap.Session
	log := s.logger.With(
		slog.String("session_id", sess.ID),
		slog.Bool("historical", sess.IsHistorical))

	var stream events.Stream
	if sess.IsHistorical {
		stream, err = s.remote.SyncSessionToAnki(ctx, sess.ID)
	} else {
		stream, err = s.remote.SyncDrafts(ctx, sess.ID)
	}
	if err != nil {
		log.Warn("sync request failed", redact.Attr(err))
		s.fail(runID, s.now(), "sync request failed: "+redact.Error(err))
		return NewServiceError("sync", "sync request failed", err)
	}
	defer func() { _ = stream.Close() }()

	log.Info("sync started")

	terminal, err := consumeStream(ctx, stream, s.opts.StreamIdleTimeout, func(ev events.Event) {
		s.updateRun(runID, func(st state.State) state.State {
			st.Sync.Tracker, _ = progress.Apply(ev, st.Sync.Tracker)
			return st
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("stopped following sync stream")
			return ctx.Err()
		}
		msg := redact.Error(err)
		if errors.Is(err, ErrStreamStalled) {
			msg = fmt.Sprintf("%s: no event received for %s", ErrStreamStalled, s.opts.StreamIdleTimeout)
		}
		log.Warn("sync stream failed", slog.String("error", msg))
		s.fail(runID, s.now(), msg)
		return nil
	}

	switch ev := terminal.(type) {
	case events.DoneEvent:
		s.complete(ctx, log, runID, sess)

	case events.FailedEvent:
		msg := ev.MessageOr("sync failed")
		log.Warn("sync failed", slog.String("error", redact.String(msg)))
		s.fail(runID, failureTime(ev.Timestamp, s.now), msg)

	case events.CancelledEvent:
		s.updateRun(runID, func(st state.State) state.State {
			return state.AppendSyncLog(st, progress.LogEntry{
				Timestamp: s.now(),
				Type:      "warning",
				Message:   "sync cancelled",
			})
		})
		log.Info("sync cancelled")
	}
	return nil
}

// complete refreshes the ledger so note ids assigned during the sync become
// visible, then raises the success flag.
func (s *SyncService) complete(ctx context.Context, log *slog.Logger, runID string, sess domain.Session) {
	cards, err := fetchCards(ctx, s.remote, sess)
	if err != nil {
		log.Warn("sync finished but cards could not be refreshed", redact.Attr(err))
	}

	if !s.updateRun(runID, func(st state.State) state.State {
		st.Sync.Success = true
		if err != nil {
			return state.AppendSyncLog(st, progress.LogEntry{
				Timestamp: s.now(),
				Type:      "warning",
				Message:   "synced, but the card list could not be refreshed: " + redact.Error(err),
			})
		}
		if st.Session == sess {
			st.Review.Cards = cards
			st.Review.Edit = nil
			st.Review.PendingDelete = nil
		}
		return st
	}) {
		return
	}

	s.scheduleBannerClear()
	log.Info("sync completed", slog.Int("card_count", len(cards)))
}

// scheduleBannerClear clears Sync.Success after the banner TTL. A newer
// success restarts the timer.
func (s *SyncService) scheduleBannerClear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.banner != nil {
		s.banner.Stop()
	}
	s.banner = time.AfterFunc(s.opts.SuccessBannerTTL, func() {
		s.state.Update(func(st state.State) state.State {
			st.Sync.Success = false
			return st
		})
	})
}

// Detach stops following a running sync and closes its stream. The sync
// itself continues on the server. Detach is a no-op when no sync runs.
func (s *SyncService) Detach() {
	s.mu.Lock()
	cancel := s.runCancel
	s.runID, s.runCancel = "", nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close detaches a running sync and stops a pending banner timer.
func (s *SyncService) Close() {
	s.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.banner != nil {
		s.banner.Stop()
		s.banner = nil
	}
}

func (s *SyncService) attach(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID, s.runCancel = runID, cancel
}

func (s *SyncService) detach(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == runID {
		s.runID, s.runCancel = "", nil
	}
}

func (s *SyncService) fail(runID string, ts time.Time, message string) {
	s.updateRun(runID, func(st state.State) state.State {
		st.Sync.IsError = true
		return state.AppendSyncLog(st, progress.LogEntry{
			Timestamp: ts,
			Type:      "error",
			Message:   message,
		})
	})
}

func (s *SyncService) finish(runID string) {
	s.updateRun(runID, func(st state.State) state.State {
		st.Sync.IsSyncing = false
		st.Sync.RunID = ""
		return st
	})
}

func (s *SyncService) updateRun(runID string, fn func(state.State) state.State) bool {
	_, err := s.state.TryUpdate(func(st state.State) (state.State, error) {
		if st.Sync.RunID != runID {
			return st, errStaleRun
		}
		return fn(st), nil
	})
	return err == nil
}
