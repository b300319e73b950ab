package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/phrazzld/scry-deck/internal/events"
)

// Ensure MockStream implements events.Stream.
var _ events.Stream = (*MockStream)(nil)

// MockStream replays a fixed list of events. After the last event it returns
// Err (io.EOF when unset), or blocks until the context is done when Stall is
// set.
type MockStream struct {
	Events []events.RawEvent
	Err    error
	Stall  bool

	// BeforeNext, when set, runs before each event is returned with the
	// index of that event.
	BeforeNext func(index int)

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewMockStream creates a MockStream over evs.
func NewMockStream(evs ...events.RawEvent) *MockStream {
	return &MockStream{Events: evs}
}

// Next implements events.Stream.
func (s *MockStream) Next(ctx context.Context) (events.RawEvent, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return events.RawEvent{}, io.EOF
	}
	if s.pos < len(s.Events) {
		idx := s.pos
		ev := s.Events[idx]
		s.pos++
		hook := s.BeforeNext
		s.mu.Unlock()
		if hook != nil {
			hook(idx)
		}
		return ev, nil
	}
	stall, err := s.Stall, s.Err
	s.mu.Unlock()

	if stall {
		<-ctx.Done()
		return events.RawEvent{}, ctx.Err()
	}
	if err == nil {
		err = io.EOF
	}
	return events.RawEvent{}, err
}

// Close implements events.Stream.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Consumed returns how many events have been handed out.
func (s *MockStream) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// LogEvent builds a raw log event.
func LogEvent(message string) events.RawEvent {
	return events.RawEvent{Type: events.TypeLog, Message: message}
}

// ProgressEvent builds a raw progress event with both fields present.
func ProgressEvent(current, total int) events.RawEvent {
	return events.RawEvent{Type: events.TypeProgress, Current: &current, Total: &total}
}

// PhaseEvent builds a raw step_start event.
func PhaseEvent(phase string) events.RawEvent {
	return events.RawEvent{Type: events.TypeStepStart, Phase: phase}
}

// DoneEvent builds a raw done event.
func DoneEvent() events.RawEvent {
	return events.RawEvent{Type: events.TypeDone, Message: "done"}
}

// ErrorEvent builds a raw error event.
func ErrorEvent(message string) events.RawEvent {
	return events.RawEvent{Type: events.TypeError, Message: message}
}

// CancelledEvent builds a raw cancelled event.
func CancelledEvent() events.RawEvent {
	return events.RawEvent{Type: events.TypeCancelled, Message: "cancelled"}
}
