// Package progress applies decoded progress events to a log/progress/phase
// tracker. It is shared by the generation stream and the sync stream.
//
// Every function here is a pure state transition: it takes a Tracker value
// and returns a new one. Logs are append-only and an append always copies
// into a fresh backing array, so a Logs slice held by an earlier snapshot is
// never modified.
package progress

import (
	"slices"
	"time"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/events"
)

// LogEntry is one line of a run log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// Counter is a {current, total} progress pair.
type Counter struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Tracker is the state the reducer operates on.
type Tracker struct {
	Logs     []LogEntry `json:"logs"`
	Progress Counter    `json:"progress"`
	Phase    string     `json:"phase"`
}

// NewTracker returns an empty tracker in the idle phase.
func NewTracker() Tracker {
	return Tracker{Phase: domain.PhaseIdle}
}

// Apply applies ev to t. The returned bool is true when ev was one of the
// shared kinds (log, progress, phase) so callers can skip their own handling;
// terminal and unknown events leave t unchanged and return false.
func Apply(ev events.Event, t Tracker) (Tracker, bool) {
	switch e := ev.(type) {
	case events.LogEvent:
		return AppendLog(t, LogEntry{Timestamp: e.Timestamp, Type: e.Level, Message: e.Message}), true

	case events.ProgressEvent:
		if e.Current != nil {
			t.Progress.Current = *e.Current
		}
		if e.Total != nil {
			t.Progress.Total = *e.Total
		}
		return t, true

	case events.PhaseEvent:
		t.Phase = e.Phase
		return t, true

	default:
		return t, false
	}
}

// AppendLog returns t with entry appended. The new Logs slice never shares a
// backing array with t.Logs.
func AppendLog(t Tracker, entry LogEntry) Tracker {
	logs := make([]LogEntry, len(t.Logs), len(t.Logs)+1)
	copy(logs, t.Logs)
	t.Logs = append(logs, entry)
	return t
}

// Clone returns a tracker whose Logs slice is independent of t's.
func (t Tracker) Clone() Tracker {
	t.Logs = slices.Clone(t.Logs)
	return t
}
