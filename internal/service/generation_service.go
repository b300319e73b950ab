package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/events"
	"github.com/phrazzld/scry-deck/internal/generation"
	"github.com/phrazzld/scry-deck/internal/progress"
	"github.com/phrazzld/scry-deck/internal/redact"
	"github.com/phrazzld/scry-deck/internal/session"
	"github.com/phrazzld/scry-deck/internal/state"
)

// errStaleRun refuses updates from a run that no longer owns the workflow.
var errStaleRun = errors.New("run no longer attached")

// GenerationOptions configures a GenerationService.
type GenerationOptions struct {
	// StreamIdleTimeout fails a run whose stream is silent for this long.
	// Zero disables the watchdog.
	StreamIdleTimeout time.Duration

	// DefaultModel is used when a request names no model.
	DefaultModel string
}

// GenerationService drives the generation wizard: dashboard, config,
// generating, review.
//
// Failures before a session exists are returned to the caller. Once a
// session is assigned, failures are recorded in the generation log and the
// workflow stays in the generating step.
type GenerationService struct {
	state    *state.Container
	remote   generation.Service
	sessions *session.Manager
	validate *validator.Validate
	opts     GenerationOptions
	logger   *slog.Logger
	now      func() time.Time

	// mu guards the attached run's cancel function and orders session
	// assignment against cancel-before-assignment.
	mu        sync.Mutex
	runID     string
	runCancel context.CancelFunc
}

// NewGenerationService creates a GenerationService.
// It returns an error if any of the required dependencies are nil.
func NewGenerationService(
	st *state.Container,
	remote generation.Service,
	sessions *session.Manager,
	opts GenerationOptions,
	log *slog.Logger,
) (*GenerationService, error) {
	if st == nil {
		return nil, domain.NewValidationError("state", "cannot be nil", domain.ErrValidation)
	}
	if remote == nil {
		return nil, domain.NewValidationError("remote", "cannot be nil", domain.ErrValidation)
	}
	if sessions == nil {
		return nil, domain.NewValidationError("sessions", "cannot be nil", domain.ErrValidation)
	}
	if log == nil {
		log = slog.Default()
	}

	return &GenerationService{
		state:    st,
		remote:   remote,
		sessions: sessions,
		validate: validator.New(),
		opts:     opts,
		logger:   log.With(slog.String("component", "generation_service")),
		now:      time.Now,
	}, nil
}

// Configure moves the wizard to the config step.
func (s *GenerationService) Configure() error {
	_, err := s.state.TryUpdate(func(st state.State) (state.State, error) {
		if st.Workflow.Busy() {
			return st, ErrBusy
		}
		st = state.ClearRun(st)
		st.Workflow.Step = domain.StepConfig
		st.Workflow.IsRecovering = false
		return st, nil
	})
	return err
}

// HandleGenerate validates req, starts a run and follows its stream until a
// terminal event. It returns ErrBusy while another run is attached.
//
// In-stream failures return nil; they are visible in the workflow state.
func (s *GenerationService) HandleGenerate(ctx context.Context, req generation.Request) error {
	log := s.logger

	if req.Model == "" {
		req.Model = s.opts.DefaultModel
	}
	if err := s.validate.Struct(req); err != nil {
		return validationError(err)
	}

	runID := uuid.NewString()
	if _, err := s.state.TryUpdate(func(st state.State) (state.State, error) {
		if st.Workflow.Busy() {
			return st, ErrBusy
		}
		st = state.ClearRun(st)
		st.Session = domain.Session{}
		st.Review = state.Review{}
		st.Workflow.Step = domain.StepGenerating
		st.Workflow.IsRecovering = false
		st.Workflow.RunID = runID
		return st, nil
	}); err != nil {
		return err
	}
	s.sessions.Forget(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.attach(runID, cancel)
	defer s.detach(runID)

	log.Info("starting generation",
		slog.String("file_name", req.Document.FileName),
		slog.Int("target_cards", req.TargetCards),
		slog.String("source_type", string(req.SourceType)),
		slog.String("model", req.Model))

	sessionID, stream, err := s.remote.Generate(runCtx, req)
	if err != nil {
		if !s.owns(runID) {
			log.Info("generation cancelled before a session was assigned")
			return nil
		}
		s.updateRun(runID, func(st state.State) state.State {
			st.Workflow.Step = domain.StepConfig
			st.Workflow.RunID = ""
			return st
		})
		log.Warn("generation request failed", redact.Attr(err))
		return NewServiceError("generate", "generation request failed", err)
	}

	if !s.assign(ctx, runID, sessionID) {
		_ = stream.Close()
		log.Info("run was cancelled while the request was in flight",
			slog.String("session_id", sessionID))
		if err := s.remote.Cancel(ctx, sessionID); err != nil {
			log.Warn("failed to cancel orphaned session",
				slog.String("session_id", sessionID),
				redact.Attr(err))
		}
		return nil
	}

	return s.follow(runCtx, runID, domain.Session{ID: sessionID}, stream)
}

// assign records sessionID as the active session if runID still owns the
// workflow.
func (s *GenerationService) assign(ctx context.Context, runID, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owns(runID) {
		return false
	}
	s.sessions.Assign(ctx, sessionID)
	return true
}

// Reattach follows the stream of a recovered session that the service still
// reports as processing. Call it after session.Manager.RefreshRecovered.
func (s *GenerationService) Reattach(ctx context.Context) error {
	runID := uuid.NewString()
	snap, err := s.state.TryUpdate(func(st state.State) (state.State, error) {
		if st.Workflow.Busy() {
			return st, ErrBusy
		}
		if !st.Session.Active() || st.Session.IsHistorical ||
			st.Workflow.Step != domain.StepGenerating ||
			st.Workflow.IsRecovering || st.Workflow.IsError {
			return st, ErrNotRecoverable
		}
		st.Workflow.RunID = runID
		return st, nil
	})
	if err != nil {
		return err
	}

	sess := snap.Session
	log := s.logger.With(slog.String("session_id", sess.ID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.attach(runID, cancel)
	defer s.detach(runID)

	stream, err := s.remote.StreamSession(runCtx, sess.ID)
	if errors.Is(err, generation.ErrSessionNotFound) {
		log.Info("session expired before re-attaching, discarding")
		if s.updateRun(runID, func(st state.State) state.State {
			st.Session = domain.Session{}
			st.Workflow = state.Initial().Workflow
			return st
		}) {
			s.sessions.Forget(ctx)
		}
		return NewServiceError("reattach", "session no longer exists", err)
	}
	if err != nil {
		s.updateRun(runID, func(st state.State) state.State {
			st.Workflow.RunID = ""
			return st
		})
		log.Warn("failed to re-open session stream", redact.Attr(err))
		return NewServiceError("reattach", "failed to open session stream", err)
	}

	log.Info("re-attached to session stream")
	return s.follow(runCtx, runID, sess, stream)
}

// follow consumes stream for runID and applies its terminal event.
func (s *GenerationService) follow(ctx context.Context, runID string, sess domain.Session, stream events.Stream) error {
	defer func() { _ = stream.Close() }()

	log := s.logger.With(slog.String("session_id", sess.ID))

	terminal, err := consumeStream(ctx, stream, s.opts.StreamIdleTimeout, func(ev events.Event) {
		s.updateRun(runID, func(st state.State) state.State {
			st.Workflow.Tracker, _ = progress.Apply(ev, st.Workflow.Tracker)
			return st
		})
	})

	if err != nil && ctx.Err() != nil {
		if !s.updateRun(runID, func(st state.State) state.State {
			st.Workflow.RunID = ""
			st.Workflow.IsCancelling = false
			return st
		}) {
			log.Debug("run detached by reset")
			return nil
		}
		log.Info("stopped following generation stream, session stays recoverable")
		return ctx.Err()
	}

	if err != nil {
		msg := redact.Error(err)
		if errors.Is(err, ErrStreamStalled) {
			msg = fmt.Sprintf("%s: no event received for %s", ErrStreamStalled, s.opts.StreamIdleTimeout)
		}
		log.Warn("generation stream failed", slog.String("error", msg))
		s.failRun(runID, s.now(), msg)
		return nil
	}

	switch ev := terminal.(type) {
	case events.DoneEvent:
		cards, err := fetchCards(ctx, s.remote, sess)
		if err != nil {
			log.Warn("failed to load generated cards", redact.Attr(err))
			s.failRun(runID, s.now(), "failed to load generated cards: "+redact.Error(err))
			return nil
		}
		s.updateRun(runID, func(st state.State) state.State {
			st.Workflow.Step = domain.StepReview
			st.Workflow.RunID = ""
			st.Workflow.IsCancelling = false
			st.Review = state.Review{Cards: cards}
			return st
		})
		log.Info("generation completed", slog.Int("card_count", len(cards)))

	case events.FailedEvent:
		msg := ev.MessageOr("generation failed")
		log.Warn("generation failed", slog.String("error", redact.String(msg)))
		s.failRun(runID, failureTime(ev.Timestamp, s.now), msg)

	case events.CancelledEvent:
		if s.updateRun(runID, func(st state.State) state.State {
			st = state.ClearRun(st)
			st.Session = domain.Session{}
			st.Review = state.Review{}
			st.Workflow.Step = domain.StepDashboard
			st.Workflow.RunID = ""
			return st
		}) {
			s.sessions.Forget(ctx)
		}
		log.Info("generation cancelled")
	}

	return nil
}

// failRun records an in-stream failure. The workflow stays in generating.
func (s *GenerationService) failRun(runID string, ts time.Time, message string) {
	s.updateRun(runID, func(st state.State) state.State {
		st.Workflow.IsError = true
		st.Workflow.IsCancelling = false
		st.Workflow.RunID = ""
		return state.AppendWorkflowLog(st, progress.LogEntry{
			Timestamp: ts,
			Type:      "error",
			Message:   message,
		})
	})
}

// HandleCancel requests cancellation of the current run. The run ends when
// the stream delivers its cancelled event; before a session is assigned the
// pending request is abandoned and the wizard returns to the dashboard.
func (s *GenerationService) HandleCancel(ctx context.Context) error {
	log := s.logger

	s.mu.Lock()
	snap, err := s.state.TryUpdate(func(st state.State) (state.State, error) {
		if st.Workflow.Step != domain.StepGenerating {
			return st, ErrNoSession
		}
		if !st.Session.Active() {
			st = state.ClearRun(st)
			st.Workflow.Step = domain.StepDashboard
			st.Workflow.RunID = ""
			return st, nil
		}
		st.Workflow.IsCancelling = true
		return st, nil
	})
	var abandon context.CancelFunc
	if err == nil && !snap.Session.Active() {
		abandon = s.runCancel
		s.runID, s.runCancel = "", nil
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if abandon != nil {
		abandon()
		log.Info("generation abandoned before a session was assigned")
		return nil
	}
	if !snap.Session.Active() {
		return nil
	}

	id := snap.Session.ID
	log = log.With(slog.String("session_id", id))
	if err := s.remote.Cancel(ctx, id); err != nil {
		s.state.Update(func(st state.State) state.State {
			st.Workflow.IsCancelling = false
			return state.AppendWorkflowLog(st, progress.LogEntry{
				Timestamp: s.now(),
				Type:      "error",
				Message:   "cancel request failed: " + redact.Error(err),
			})
		})
		log.Warn("cancel request failed", redact.Attr(err))
		return NewServiceError("cancel", "cancel request failed", err)
	}

	// Without an attached stream no cancelled event will arrive.
	if !snap.Workflow.Busy() {
		s.state.Update(func(st state.State) state.State {
			if st.Workflow.Busy() || st.Session.ID != id {
				return st
			}
			st = state.ClearRun(st)
			st.Session = domain.Session{}
			st.Workflow.Step = domain.StepDashboard
			return st
		})
		s.sessions.Forget(ctx)
	}

	log.Info("cancellation requested")
	return nil
}

// LoadSession opens a session from history and jumps straight to review.
// The session id is not persisted.
func (s *GenerationService) LoadSession(ctx context.Context, id string) error {
	if id == "" {
		return domain.NewValidationError("session_id", "cannot be empty", domain.ErrValidation)
	}
	if s.state.Snapshot().Workflow.Busy() {
		return ErrBusy
	}

	log := s.logger.With(slog.String("session_id", id))

	info, err := s.remote.GetSession(ctx, id)
	if err != nil {
		log.Warn("failed to load session", redact.Attr(err))
		return NewServiceError("load session", "failed to fetch session", err)
	}
	cards := domain.NormalizeAll(info.Cards)

	if _, err := s.state.TryUpdate(func(st state.State) (state.State, error) {
		if st.Workflow.Busy() {
			return st, ErrBusy
		}
		st.Session = domain.Session{ID: id, IsHistorical: true}
		st.Workflow = state.Initial().Workflow
		st.Workflow.Step = domain.StepReview
		st.Review = state.Review{Cards: cards}
		st.Sync = state.Initial().Sync
		return st, nil
	}); err != nil {
		return err
	}

	log.Info("loaded historical session", slog.Int("card_count", len(cards)))
	return nil
}

// Reset tears everything down to the initial state in one update, detaches
// any running stream and forgets the persisted session id.
func (s *GenerationService) Reset(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	s.runID, s.runCancel = "", nil
	s.state.Update(func(state.State) state.State {
		return state.Initial()
	})
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.sessions.Forget(ctx)
	s.logger.Debug("workflow reset")
}

// Estimate measures a document and caches the result for Recompute.
func (s *GenerationService) Estimate(ctx context.Context, req generation.EstimateRequest) (domain.Estimation, error) {
	log := s.logger

	if req.Model == "" {
		req.Model = s.opts.DefaultModel
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Estimation{}, validationError(err)
	}

	est, err := s.remote.Estimate(ctx, req)
	if err != nil {
		log.Warn("estimation failed", redact.Attr(err))
		return domain.Estimation{}, NewServiceError("estimate", "failed to estimate document", err)
	}

	s.state.Update(func(st state.State) state.State {
		st.Estimation = &est
		return st
	})
	log.Debug("estimation cached",
		slog.Int("token_count", est.TokenCount),
		slog.Int("page_count", est.PageCount))
	return est, nil
}

// Recompute derives the cost of targetCards from the cached estimation
// without contacting the service.
func (s *GenerationService) Recompute(targetCards int) (domain.CostEstimate, error) {
	if targetCards < 1 {
		return domain.CostEstimate{}, domain.NewValidationError("target_cards", "must be at least 1", domain.ErrValidation)
	}
	snap := s.state.Snapshot()
	if snap.Estimation == nil {
		return domain.CostEstimate{}, ErrNoEstimation
	}
	return domain.RecomputeCost(*snap.Estimation, targetCards), nil
}

// updateRun applies fn only while runID owns the workflow and reports
// whether it did.
func (s *GenerationService) updateRun(runID string, fn func(state.State) state.State) bool {
	_, err := s.state.TryUpdate(func(st state.State) (state.State, error) {
		if st.Workflow.RunID != runID {
			return st, errStaleRun
		}
		return fn(st), nil
	})
	return err == nil
}

func (s *GenerationService) owns(runID string) bool {
	return s.state.Snapshot().Workflow.RunID == runID
}

func (s *GenerationService) attach(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID, s.runCancel = runID, cancel
}

func (s *GenerationService) detach(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == runID {
		s.runID, s.runCancel = "", nil
	}
}

// validationError converts the first validator failure into a domain
// ValidationError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.NewValidationError(fe.Field(), fmt.Sprintf("failed %q constraint", fe.Tag()), domain.ErrValidation)
	}
	return domain.NewValidationError("request", err.Error(), domain.ErrValidation)
}
