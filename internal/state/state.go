package state

import (
	"slices"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/progress"
)

// Workflow is the generation wizard's position and the transient status of
// the current run.
type Workflow struct {
	Step    domain.Step      `json:"step"`
	Tracker progress.Tracker `json:"tracker"`

	IsError      bool `json:"is_error"`
	IsCancelling bool `json:"is_cancelling"`

	// IsRecovering is set when the session was restored from durable storage
	// and its remote status has not been confirmed yet.
	IsRecovering bool `json:"is_recovering"`

	// RunID identifies the run currently consuming a generation stream. Empty
	// when no stream is attached. Stream updates carry the id they started
	// with and are dropped once it no longer matches.
	RunID string `json:"run_id,omitempty"`
}

// Busy reports whether a generation run is attached.
func (w Workflow) Busy() bool {
	return w.RunID != ""
}

// EditSession is the single open card edit. Form is a private deep copy of
// the card at Index.
type EditSession struct {
	Index int         `json:"index"`
	Form  domain.Card `json:"form"`
}

// Review is the card ledger and its modal state.
type Review struct {
	Cards []domain.Card `json:"cards"`
	Edit  *EditSession  `json:"edit,omitempty"`

	// PendingDelete is the index awaiting delete confirmation.
	PendingDelete *int `json:"pending_delete,omitempty"`
}

// Sync is the state of the push-to-Anki workflow.
type Sync struct {
	IsSyncing bool             `json:"is_syncing"`
	Tracker   progress.Tracker `json:"tracker"`
	Success   bool             `json:"success"`
	IsError   bool             `json:"is_error"`

	// RunID identifies the sync run currently consuming a stream.
	RunID string `json:"run_id,omitempty"`
}

// State is everything the client owns for the lifetime of the process.
type State struct {
	Session  domain.Session `json:"session"`
	Workflow Workflow       `json:"workflow"`
	Review   Review         `json:"review"`
	Sync     Sync           `json:"sync"`

	// Estimation is the cached base measurement of the selected document.
	Estimation *domain.Estimation `json:"estimation,omitempty"`
}

// Initial returns the state of a freshly started client.
func Initial() State {
	return State{
		Workflow: Workflow{
			Step:    domain.StepDashboard,
			Tracker: progress.NewTracker(),
		},
		Sync: Sync{
			Tracker: progress.NewTracker(),
		},
	}
}

// Clone returns a deep copy of s. Nothing reachable from the result aliases s.
func (s State) Clone() State {
	out := s
	out.Workflow.Tracker = s.Workflow.Tracker.Clone()
	out.Sync.Tracker = s.Sync.Tracker.Clone()
	out.Review.Cards = cloneCards(s.Review.Cards)

	if s.Review.Edit != nil {
		edit := EditSession{Index: s.Review.Edit.Index, Form: s.Review.Edit.Form.Clone()}
		out.Review.Edit = &edit
	}
	if s.Review.PendingDelete != nil {
		idx := *s.Review.PendingDelete
		out.Review.PendingDelete = &idx
	}
	if s.Estimation != nil {
		est := *s.Estimation
		out.Estimation = &est
	}
	return out
}

func cloneCards(cards []domain.Card) []domain.Card {
	if cards == nil {
		return nil
	}
	out := make([]domain.Card, len(cards))
	for i, c := range cards {
		out[i] = c.Clone()
	}
	return out
}

// ReplaceCard returns a new slice with cards[index] replaced by card.
func ReplaceCard(cards []domain.Card, index int, card domain.Card) ([]domain.Card, error) {
	if index < 0 || index >= len(cards) {
		return nil, domain.ErrInvalidCardIndex
	}
	out := slices.Clone(cards)
	out[index] = card
	return out, nil
}

// RemoveCard returns a new slice without cards[index]. The relative order of
// the remaining cards is unchanged.
func RemoveCard(cards []domain.Card, index int) ([]domain.Card, error) {
	if index < 0 || index >= len(cards) {
		return nil, domain.ErrInvalidCardIndex
	}
	out := make([]domain.Card, 0, len(cards)-1)
	out = append(out, cards[:index]...)
	return append(out, cards[index+1:]...), nil
}

// ClearRun resets the generation log, progress, and failure flags for a new run.
func ClearRun(s State) State {
	s.Workflow.Tracker = progress.NewTracker()
	s.Workflow.IsError = false
	s.Workflow.IsCancelling = false
	return s
}

// AppendWorkflowLog appends a log entry to the generation log.
func AppendWorkflowLog(s State, entry progress.LogEntry) State {
	s.Workflow.Tracker = progress.AppendLog(s.Workflow.Tracker, entry)
	return s
}

// AppendSyncLog appends a log entry to the sync log.
func AppendSyncLog(s State, entry progress.LogEntry) State {
	s.Sync.Tracker = progress.AppendLog(s.Sync.Tracker, entry)
	return s
}
