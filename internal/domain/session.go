package domain

import "fmt"

// Step is the generation wizard's position. Exactly one step is active.
type Step string

// Workflow steps in their natural order.
const (
	StepDashboard  Step = "dashboard"
	StepConfig     Step = "config"
	StepGenerating Step = "generating"
	StepReview     Step = "review"
)

// PhaseIdle is the phase tag before any remote phase has been reported.
const PhaseIdle = "idle"

// ParseStep converts a string into a Step.
func ParseStep(s string) (Step, error) {
	switch Step(s) {
	case StepDashboard, StepConfig, StepGenerating, StepReview:
		return Step(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStep, s)
	}
}

// Session identifies one generation job on the remote service.
type Session struct {
	ID string `json:"session_id"`

	// IsHistorical is true when the session was opened from history rather
	// than created by a generation run in this process.
	IsHistorical bool `json:"is_historical"`
}

// Active reports whether a session id has been assigned.
func (s Session) Active() bool {
	return s.ID != ""
}

// SessionStatus is the remote service's view of a generation job.
type SessionStatus string

// Remote session statuses.
const (
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
)

// SourceType describes what kind of document a deck is generated from.
type SourceType string

// Supported source types.
const (
	SourceSlides SourceType = "slides"
	SourceScript SourceType = "script"
)

// ParseSourceType converts a string into a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceSlides, SourceScript:
		return SourceType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceType, s)
	}
}
