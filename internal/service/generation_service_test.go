package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/events"
	"github.com/phrazzld/scry-deck/internal/generation"
	"github.com/phrazzld/scry-deck/internal/mocks"
	"github.com/phrazzld/scry-deck/internal/platform/logger"
	"github.com/phrazzld/scry-deck/internal/session"
	"github.com/phrazzld/scry-deck/internal/state"
	"github.com/phrazzld/scry-deck/internal/store"
)

type generationFixture struct {
	st     *state.Container
	remote *mocks.MockGenerationService
	kv     *mocks.MockKVStore
	svc    *GenerationService
}

func newGenerationFixture(t *testing.T, opts GenerationOptions) *generationFixture {
	t.Helper()

	st := state.New(logger.Discard())
	remote := &mocks.MockGenerationService{SessionID: "sess-1"}
	kv := mocks.NewMockKVStore(nil)

	sessions, err := session.NewManager(st, kv, remote, logger.Discard())
	require.NoError(t, err)

	svc, err := NewGenerationService(st, remote, sessions, opts, logger.Discard())
	require.NoError(t, err)

	return &generationFixture{st: st, remote: remote, kv: kv, svc: svc}
}

func validRequest() generation.Request {
	return generation.Request{
		Document: generation.Document{
			FileName: "lecture.pdf",
			Content:  []byte("%PDF-1.7"),
		},
		TargetCards: 10,
		SourceType:  domain.SourceSlides,
	}
}

func basicCards(fronts ...string) []domain.Card {
	cards := make([]domain.Card, len(fronts))
	for i, f := range fronts {
		cards[i] = domain.Card{Front: f, Back: "answer " + f}
	}
	return cards
}

func (f *generationFixture) streamGenerate(stream *mocks.MockStream) {
	f.remote.GenerateFn = func(ctx context.Context, req generation.Request) (string, events.Stream, error) {
		return "sess-1", stream, nil
	}
}

func (f *generationFixture) persistedSession(t *testing.T) (string, bool) {
	t.Helper()
	v, err := f.kv.Get(context.Background(), session.StorageKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", false
	}
	require.NoError(t, err)
	return v, true
}

func TestNewGenerationServiceValidatesDependencies(t *testing.T) {
	st := state.New(nil)
	remote := &mocks.MockGenerationService{}
	sessions, err := session.NewManager(st, nil, remote, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		st       *state.Container
		remote   generation.Service
		sessions *session.Manager
		field    string
	}{
		{name: "nil state", remote: remote, sessions: sessions, field: "state"},
		{name: "nil remote", st: st, sessions: sessions, field: "remote"},
		{name: "nil sessions", st: st, remote: remote, field: "sessions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewGenerationService(tt.st, tt.remote, tt.sessions, GenerationOptions{}, nil)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfigure(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})

	require.NoError(t, f.svc.Configure())
	assert.Equal(t, domain.StepConfig, f.st.Snapshot().Workflow.Step)

	f.st.Update(func(s state.State) state.State {
		s.Workflow.RunID = "run-1"
		return s
	})
	assert.ErrorIs(t, f.svc.Configure(), ErrBusy)
}

func TestHandleGenerateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*generation.Request)
		field  string
	}{
		{name: "missing file name", mutate: func(r *generation.Request) { r.Document.FileName = "" }, field: "FileName"},
		{name: "empty document", mutate: func(r *generation.Request) { r.Document.Content = nil }, field: "Content"},
		{name: "zero target", mutate: func(r *generation.Request) { r.TargetCards = 0 }, field: "TargetCards"},
		{name: "target too large", mutate: func(r *generation.Request) { r.TargetCards = 501 }, field: "TargetCards"},
		{name: "unknown source type", mutate: func(r *generation.Request) { r.SourceType = "video" }, field: "SourceType"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGenerationFixture(t, GenerationOptions{})
			require.NoError(t, f.svc.Configure())

			req := validRequest()
			tt.mutate(&req)

			err := f.svc.HandleGenerate(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)

			assert.Equal(t, 0, f.remote.CallCount("Generate"))
			assert.Equal(t, domain.StepConfig, f.st.Snapshot().Workflow.Step)
		})
	}
}

func TestHandleGenerateSuccess(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	stream := mocks.NewMockStream(
		mocks.PhaseEvent("extracting"),
		mocks.LogEvent("reading slides"),
		mocks.ProgressEvent(3, 10),
		events.RawEvent{Type: "heartbeat"},
		mocks.DoneEvent(),
	)
	f.streamGenerate(stream)
	f.remote.Cards = basicCards("q1", "q2")

	err := f.svc.HandleGenerate(context.Background(), validRequest())
	require.NoError(t, err)

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepReview, snap.Workflow.Step)
	assert.False(t, snap.Workflow.Busy())
	assert.False(t, snap.Workflow.IsError)
	assert.Equal(t, domain.Session{ID: "sess-1"}, snap.Session)

	require.Len(t, snap.Review.Cards, 2)
	assert.Equal(t, "q1", snap.Review.Cards[0].Front)
	assert.Equal(t, domain.ModelBasic, snap.Review.Cards[0].ModelName)
	assert.NotEmpty(t, snap.Review.Cards[0].UID)

	require.Len(t, snap.Workflow.Tracker.Logs, 1)
	assert.Equal(t, "reading slides", snap.Workflow.Tracker.Logs[0].Message)
	assert.Equal(t, 3, snap.Workflow.Tracker.Progress.Current)
	assert.Equal(t, 10, snap.Workflow.Tracker.Progress.Total)
	assert.Equal(t, "extracting", snap.Workflow.Tracker.Phase)

	id, ok := f.persistedSession(t)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", id)
	assert.True(t, stream.Closed())
	assert.Equal(t, 1, f.remote.CallCount("GetDrafts"))
}

func TestHandleGenerateDefaultsModel(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{DefaultModel: "gemini-2.5-flash"})
	f.streamGenerate(mocks.NewMockStream(mocks.DoneEvent()))

	require.NoError(t, f.svc.HandleGenerate(context.Background(), validRequest()))

	call, ok := f.remote.LastCall("Generate")
	require.True(t, ok)
	assert.Equal(t, "gemini-2.5-flash", call.Args[0].(generation.Request).Model)
}

func TestHandleGenerateRequestRejected(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	require.NoError(t, f.svc.Configure())
	f.remote.GenerateFn = func(ctx context.Context, req generation.Request) (string, events.Stream, error) {
		return "", nil, generation.NewRemoteError("generate", 422, "unsupported file", generation.ErrRejected)
	}

	err := f.svc.HandleGenerate(context.Background(), validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrRejected)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "generate", svcErr.Operation)

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepConfig, snap.Workflow.Step)
	assert.False(t, snap.Workflow.Busy())
	assert.False(t, snap.Session.Active())
	_, persisted := f.persistedSession(t)
	assert.False(t, persisted)
}

func TestHandleGenerateInStreamError(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	stream := mocks.NewMockStream(
		mocks.LogEvent("reading slides"),
		mocks.ErrorEvent("model quota exhausted"),
	)
	f.streamGenerate(stream)

	err := f.svc.HandleGenerate(context.Background(), validRequest())
	require.NoError(t, err)

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepGenerating, snap.Workflow.Step)
	assert.True(t, snap.Workflow.IsError)
	assert.False(t, snap.Workflow.Busy())
	assert.True(t, snap.Session.Active())

	logs := snap.Workflow.Tracker.Logs
	require.Len(t, logs, 2)
	assert.Equal(t, "error", logs[1].Type)
	assert.Equal(t, "model quota exhausted", logs[1].Message)
	assert.False(t, logs[1].Timestamp.IsZero())
	assert.True(t, stream.Closed())
}

func TestHandleGenerateErrorWithoutMessage(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	f.streamGenerate(mocks.NewMockStream(mocks.ErrorEvent("")))

	require.NoError(t, f.svc.HandleGenerate(context.Background(), validRequest()))

	logs := f.st.Snapshot().Workflow.Tracker.Logs
	require.Len(t, logs, 1)
	assert.Equal(t, "generation failed", logs[0].Message)
}

func TestHandleGenerateCancelledEvent(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	f.streamGenerate(mocks.NewMockStream(
		mocks.LogEvent("reading slides"),
		mocks.CancelledEvent(),
	))

	require.NoError(t, f.svc.HandleGenerate(context.Background(), validRequest()))

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepDashboard, snap.Workflow.Step)
	assert.Empty(t, snap.Workflow.Tracker.Logs)
	assert.Equal(t, domain.PhaseIdle, snap.Workflow.Tracker.Phase)
	assert.False(t, snap.Session.Active())
	_, persisted := f.persistedSession(t)
	assert.False(t, persisted)
}

func TestHandleGenerateStreamEndsEarly(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	f.streamGenerate(mocks.NewMockStream(mocks.ProgressEvent(1, 10)))

	require.NoError(t, f.svc.HandleGenerate(context.Background(), validRequest()))

	snap := f.st.Snapshot()
	assert.True(t, snap.Workflow.IsError)
	assert.Equal(t, domain.StepGenerating, snap.Workflow.Step)
	require.NotEmpty(t, snap.Workflow.Tracker.Logs)
	last := snap.Workflow.Tracker.Logs[len(snap.Workflow.Tracker.Logs)-1]
	assert.Contains(t, last.Message, ErrStreamEnded.Error())
}

func TestHandleGenerateStalledStream(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{StreamIdleTimeout: 20 * time.Millisecond})
	stream := mocks.NewMockStream(mocks.LogEvent("reading slides"))
	stream.Stall = true
	f.streamGenerate(stream)

	require.NoError(t, f.svc.HandleGenerate(context.Background(), validRequest()))

	snap := f.st.Snapshot()
	assert.True(t, snap.Workflow.IsError)
	assert.False(t, snap.Workflow.Busy())
	require.Len(t, snap.Workflow.Tracker.Logs, 2)
	assert.Contains(t, snap.Workflow.Tracker.Logs[1].Message, "stream stalled")
	assert.True(t, stream.Closed())
}

func TestHandleGenerateCardFetchFailure(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	f.streamGenerate(mocks.NewMockStream(mocks.DoneEvent()))
	f.remote.GetDraftsFn = func(ctx context.Context, sessionID string) ([]domain.Card, error) {
		return nil, generation.ErrUnavailable
	}

	require.NoError(t, f.svc.HandleGenerate(context.Background(), validRequest()))

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepGenerating, snap.Workflow.Step)
	assert.True(t, snap.Workflow.IsError)
	require.Len(t, snap.Workflow.Tracker.Logs, 1)
	assert.Contains(t, snap.Workflow.Tracker.Logs[0].Message, "failed to load generated cards")
}

func TestHandleGenerateRejectsConcurrentRun(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	stream := mocks.NewMockStream(mocks.LogEvent("one"), mocks.DoneEvent())

	var concurrentErr error
	stream.BeforeNext = func(index int) {
		if index == 0 {
			concurrentErr = f.svc.HandleGenerate(context.Background(), validRequest())
		}
	}
	f.streamGenerate(stream)

	require.NoError(t, f.svc.HandleGenerate(context.Background(), validRequest()))
	assert.ErrorIs(t, concurrentErr, ErrBusy)
	assert.Equal(t, 1, f.remote.CallCount("Generate"))
	assert.Equal(t, domain.StepReview, f.st.Snapshot().Workflow.Step)
}

func TestHandleGenerateCallerStopsFollowing(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	stream := mocks.NewMockStream(mocks.LogEvent("one"))
	stream.Stall = true
	f.streamGenerate(stream)

	ctx, cancel := context.WithCancel(context.Background())
	stream.BeforeNext = func(int) { cancel() }

	err := f.svc.HandleGenerate(ctx, validRequest())
	assert.ErrorIs(t, err, context.Canceled)

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepGenerating, snap.Workflow.Step)
	assert.False(t, snap.Workflow.Busy())
	assert.False(t, snap.Workflow.IsError)
	id, ok := f.persistedSession(t)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", id)
}

func TestResetThenGenerateStartsWithEmptyLogs(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t, GenerationOptions{})
	f.streamGenerate(mocks.NewMockStream(
		mocks.LogEvent("first run"),
		mocks.ErrorEvent("boom"),
	))
	require.NoError(t, f.svc.HandleGenerate(ctx, validRequest()))
	require.Len(t, f.st.Snapshot().Workflow.Tracker.Logs, 2)

	f.svc.Reset(ctx)

	snap := f.st.Snapshot()
	assert.Equal(t, state.Initial(), snap)
	assert.Empty(t, snap.Workflow.Tracker.Logs)
	_, persisted := f.persistedSession(t)
	assert.False(t, persisted)

	var logsAtStart = -1
	second := mocks.NewMockStream(mocks.LogEvent("second run"), mocks.DoneEvent())
	second.BeforeNext = func(index int) {
		if index == 0 {
			logsAtStart = len(f.st.Snapshot().Workflow.Tracker.Logs)
		}
	}
	f.streamGenerate(second)

	require.NoError(t, f.svc.HandleGenerate(ctx, validRequest()))
	assert.Equal(t, 0, logsAtStart)
	require.Len(t, f.st.Snapshot().Workflow.Tracker.Logs, 1)
	assert.Equal(t, "second run", f.st.Snapshot().Workflow.Tracker.Logs[0].Message)
}

func TestResetDetachesRunningStream(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t, GenerationOptions{})
	stream := mocks.NewMockStream(mocks.LogEvent("one"), mocks.LogEvent("two"))
	stream.Stall = true
	stream.BeforeNext = func(index int) {
		if index == 1 {
			f.svc.Reset(ctx)
		}
	}
	f.streamGenerate(stream)

	require.NoError(t, f.svc.HandleGenerate(ctx, validRequest()))

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepDashboard, snap.Workflow.Step)
	assert.Empty(t, snap.Workflow.Tracker.Logs)
	assert.False(t, snap.Session.Active())
	assert.True(t, stream.Closed())
}

func TestHandleCancelRequestsCooperativeCancel(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture(t, GenerationOptions{})

	var cancellingSeen bool
	var cancelErr error
	stream := mocks.NewMockStream(mocks.LogEvent("one"), mocks.CancelledEvent())
	stream.BeforeNext = func(index int) {
		if index == 1 {
			cancelErr = f.svc.HandleCancel(ctx)
			cancellingSeen = f.st.Snapshot().Workflow.IsCancelling
		}
	}
	f.streamGenerate(stream)

	require.NoError(t, f.svc.HandleGenerate(ctx, validRequest()))
	require.NoError(t, cancelErr)
	assert.True(t, cancellingSeen)

	call, ok := f.remote.LastCall("Cancel")
	require.True(t, ok)
	assert.Equal(t, "sess-1", call.Args[0])

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepDashboard, snap.Workflow.Step)
	assert.False(t, snap.Workflow.IsCancelling)
}

func TestHandleCancelFailure(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	f.st.Update(func(s state.State) state.State {
		s.Session = domain.Session{ID: "sess-1"}
		s.Workflow.Step = domain.StepGenerating
		s.Workflow.RunID = "run-1"
		return s
	})
	f.remote.CancelFn = func(ctx context.Context, sessionID string) error {
		return generation.ErrUnavailable
	}

	err := f.svc.HandleCancel(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrUnavailable)

	snap := f.st.Snapshot()
	assert.False(t, snap.Workflow.IsCancelling)
	assert.Equal(t, domain.StepGenerating, snap.Workflow.Step)
	require.Len(t, snap.Workflow.Tracker.Logs, 1)
	assert.Contains(t, snap.Workflow.Tracker.Logs[0].Message, "cancel request failed")
}

func TestHandleCancelBeforeAssignment(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})

	started := make(chan struct{})
	f.remote.GenerateFn = func(ctx context.Context, req generation.Request) (string, events.Stream, error) {
		close(started)
		<-ctx.Done()
		return "", nil, ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		done <- f.svc.HandleGenerate(context.Background(), validRequest())
	}()

	<-started
	require.NoError(t, f.svc.HandleCancel(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("HandleGenerate did not return after cancel")
	}

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepDashboard, snap.Workflow.Step)
	assert.False(t, snap.Workflow.Busy())
	assert.Equal(t, 0, f.remote.CallCount("Cancel"))
}

func TestHandleCancelRecoveredSessionWithoutStream(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	require.NoError(t, f.kv.Set(context.Background(), session.StorageKey, "sess-9"))
	f.st.Update(func(s state.State) state.State {
		s.Session = domain.Session{ID: "sess-9"}
		s.Workflow.Step = domain.StepGenerating
		return s
	})

	require.NoError(t, f.svc.HandleCancel(context.Background()))

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepDashboard, snap.Workflow.Step)
	assert.False(t, snap.Session.Active())
	_, persisted := f.persistedSession(t)
	assert.False(t, persisted)
}

func TestHandleCancelOutsideGenerating(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	assert.ErrorIs(t, f.svc.HandleCancel(context.Background()), ErrNoSession)
}

func TestLoadSession(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	f.remote.Session = generation.SessionInfo{
		ID:     "old-1",
		Status: domain.SessionCompleted,
		Cards:  basicCards("q1", "q2", "q3"),
	}

	require.NoError(t, f.svc.LoadSession(context.Background(), "old-1"))

	snap := f.st.Snapshot()
	assert.Equal(t, domain.Session{ID: "old-1", IsHistorical: true}, snap.Session)
	assert.Equal(t, domain.StepReview, snap.Workflow.Step)
	assert.Len(t, snap.Review.Cards, 3)
	assert.Equal(t, 0, f.remote.CallCount("Generate"))
	assert.Equal(t, 0, f.kv.CallCount("Set"))
}

func TestLoadSessionErrors(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})

	err := f.svc.LoadSession(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.remote.DefaultError = generation.ErrSessionNotFound
	err = f.svc.LoadSession(context.Background(), "gone")
	assert.ErrorIs(t, err, generation.ErrSessionNotFound)
	assert.Equal(t, state.Initial(), f.st.Snapshot())

	f.remote.DefaultError = nil
	f.st.Update(func(s state.State) state.State {
		s.Workflow.RunID = "run-1"
		return s
	})
	assert.ErrorIs(t, f.svc.LoadSession(context.Background(), "old-1"), ErrBusy)
}

func TestReattach(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	f.st.Update(func(s state.State) state.State {
		s.Session = domain.Session{ID: "sess-7"}
		s.Workflow.Step = domain.StepGenerating
		return s
	})
	f.remote.StreamSessionFn = func(ctx context.Context, sessionID string) (events.Stream, error) {
		return mocks.NewMockStream(mocks.ProgressEvent(9, 10), mocks.DoneEvent()), nil
	}
	f.remote.Cards = basicCards("q1")

	require.NoError(t, f.svc.Reattach(context.Background()))

	call, ok := f.remote.LastCall("StreamSession")
	require.True(t, ok)
	assert.Equal(t, "sess-7", call.Args[0])

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepReview, snap.Workflow.Step)
	assert.Len(t, snap.Review.Cards, 1)
	assert.Equal(t, 9, snap.Workflow.Tracker.Progress.Current)
}

func TestReattachRequiresConfirmedSession(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	assert.ErrorIs(t, f.svc.Reattach(context.Background()), ErrNotRecoverable)

	f.st.Update(func(s state.State) state.State {
		s.Session = domain.Session{ID: "sess-7"}
		s.Workflow.Step = domain.StepGenerating
		s.Workflow.IsRecovering = true
		return s
	})
	assert.ErrorIs(t, f.svc.Reattach(context.Background()), ErrNotRecoverable)
	assert.Equal(t, 0, f.remote.CallCount("StreamSession"))
}

func TestReattachExpiredSession(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})
	require.NoError(t, f.kv.Set(context.Background(), session.StorageKey, "sess-7"))
	f.st.Update(func(s state.State) state.State {
		s.Session = domain.Session{ID: "sess-7"}
		s.Workflow.Step = domain.StepGenerating
		return s
	})
	f.remote.StreamSessionFn = func(ctx context.Context, sessionID string) (events.Stream, error) {
		return nil, generation.NewRemoteError("stream session", 404, "not found", generation.ErrSessionNotFound)
	}

	err := f.svc.Reattach(context.Background())
	assert.ErrorIs(t, err, generation.ErrSessionNotFound)

	snap := f.st.Snapshot()
	assert.Equal(t, domain.StepDashboard, snap.Workflow.Step)
	assert.False(t, snap.Session.Active())
	_, persisted := f.persistedSession(t)
	assert.False(t, persisted)
}

func TestEstimateAndRecompute(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{DefaultModel: "gemini-2.5-flash"})

	_, err := f.svc.Recompute(10)
	assert.ErrorIs(t, err, ErrNoEstimation)

	f.remote.Estimation = domain.Estimation{
		TokenCount:     1000,
		PageCount:      12,
		ModelID:        "gemini-2.5-flash",
		SuggestedCards: 18,
	}

	est, err := f.svc.Estimate(context.Background(), generation.EstimateRequest{
		Document:   validRequest().Document,
		SourceType: domain.SourceSlides,
	})
	require.NoError(t, err)
	assert.Equal(t, 18, est.SuggestedCards)
	require.NotNil(t, f.st.Snapshot().Estimation)

	for _, target := range []int{5, 10, 40} {
		_, err := f.svc.Recompute(target)
		require.NoError(t, err)
	}

	cost, err := f.svc.Recompute(10)
	require.NoError(t, err)
	assert.Equal(t, 4000, cost.InputTokens)
	assert.Equal(t, 1800, cost.OutputTokens)
	assert.Equal(t, "gemini-2.5-flash", cost.Tier)
	assert.Equal(t, 1, f.remote.CallCount("Estimate"))

	_, err = f.svc.Recompute(0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEstimateErrors(t *testing.T) {
	f := newGenerationFixture(t, GenerationOptions{})

	_, err := f.svc.Estimate(context.Background(), generation.EstimateRequest{SourceType: domain.SourceScript})
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.remote.DefaultError = generation.ErrUnavailable
	_, err = f.svc.Estimate(context.Background(), generation.EstimateRequest{
		Document:   validRequest().Document,
		SourceType: domain.SourceScript,
	})
	assert.ErrorIs(t, err, generation.ErrUnavailable)
	assert.Nil(t, f.st.Snapshot().Estimation)
}
