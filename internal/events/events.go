package events

import (
	"context"
	"encoding/json"
	"time"
)

// Wire type discriminators.
const (
	TypeLog       = "log"
	TypeProgress  = "progress"
	TypeStepStart = "step_start"
	TypeError     = "error"
	TypeDone      = "done"
	TypeCancelled = "cancelled"
)

// RawEvent is one progress event as received from the remote service.
type RawEvent struct {
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`

	// Phase, Current and Total are accepted at the top level as well as
	// inside Data.
	Phase   string `json:"phase,omitempty"`
	Current *int   `json:"current,omitempty"`
	Total   *int   `json:"total,omitempty"`

	// ReceivedAt is stamped by the Reader and used when Timestamp is absent.
	ReceivedAt time.Time `json:"-"`
}

// Stream yields RawEvents in arrival order. Next returns io.EOF once the
// stream has ended. A Stream must be consumed exactly once.
type Stream interface {
	Next(ctx context.Context) (RawEvent, error)
	Close() error
}

// Kind classifies a decoded event.
type Kind int

// Event kinds.
const (
	KindUnknown Kind = iota
	KindLog
	KindProgress
	KindPhase
	KindDone
	KindFailed
	KindCancelled
)

// String returns the wire name for the kind.
func (k Kind) String() string {
	switch k {
	case KindLog:
		return TypeLog
	case KindProgress:
		return TypeProgress
	case KindPhase:
		return TypeStepStart
	case KindDone:
		return TypeDone
	case KindFailed:
		return TypeError
	case KindCancelled:
		return TypeCancelled
	default:
		return "unknown"
	}
}

// Event is a decoded progress event. The concrete types are LogEvent,
// ProgressEvent, PhaseEvent, DoneEvent, FailedEvent, CancelledEvent and
// UnknownEvent.
type Event interface {
	Kind() Kind
	// Terminal reports whether no further events follow this one.
	Terminal() bool
}

// LogEvent appends a line to the run log.
type LogEvent struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// ProgressEvent carries a partial progress update. Nil fields are absent.
type ProgressEvent struct {
	Current *int
	Total   *int
}

// PhaseEvent announces the remote pipeline step that is now running.
type PhaseEvent struct {
	Phase   string
	Message string
}

// DoneEvent terminates a run successfully.
type DoneEvent struct {
	Message string
	Data    json.RawMessage
}

// FailedEvent terminates a run with an error. Message is empty when the
// server sent none.
type FailedEvent struct {
	Timestamp time.Time
	Message   string
}

// MessageOr returns the event's message, or fallback when it has none.
func (e FailedEvent) MessageOr(fallback string) string {
	if e.Message == "" {
		return fallback
	}
	return e.Message
}

// CancelledEvent terminates a run after a cancellation request.
type CancelledEvent struct {
	Message string
}

// UnknownEvent is any event this client does not understand. It is ignored.
type UnknownEvent struct {
	Type string
}

func (LogEvent) Kind() Kind       { return KindLog }
func (ProgressEvent) Kind() Kind  { return KindProgress }
func (PhaseEvent) Kind() Kind     { return KindPhase }
func (DoneEvent) Kind() Kind      { return KindDone }
func (FailedEvent) Kind() Kind    { return KindFailed }
func (CancelledEvent) Kind() Kind { return KindCancelled }
func (UnknownEvent) Kind() Kind   { return KindUnknown }

func (LogEvent) Terminal() bool       { return false }
func (ProgressEvent) Terminal() bool  { return false }
func (PhaseEvent) Terminal() bool     { return false }
func (DoneEvent) Terminal() bool      { return true }
func (FailedEvent) Terminal() bool    { return true }
func (CancelledEvent) Terminal() bool { return true }
func (UnknownEvent) Terminal() bool   { return false }
