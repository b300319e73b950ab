package events

import (
	"encoding/json"
	"time"
)

// eventData is the union of the payload fields the decoder looks at.
type eventData struct {
	Phase   string `json:"phase"`
	Current *int   `json:"current"`
	Total   *int   `json:"total"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Decode classifies a raw event. It has no side effects. Unrecognised types,
// and step_start events without a phase, decode to UnknownEvent.
func Decode(raw RawEvent) Event {
	data := parseData(raw.Data)
	message := raw.Message
	if message == "" {
		message = data.Message
	}

	switch raw.Type {
	case TypeLog:
		level := data.Level
		if level == "" {
			level = "info"
		}
		return LogEvent{
			Timestamp: eventTime(raw),
			Level:     level,
			Message:   message,
		}

	case TypeProgress:
		ev := ProgressEvent{Current: data.Current, Total: data.Total}
		if raw.Current != nil {
			ev.Current = raw.Current
		}
		if raw.Total != nil {
			ev.Total = raw.Total
		}
		return ev

	case TypeStepStart:
		phase := raw.Phase
		if phase == "" {
			phase = data.Phase
		}
		if phase == "" {
			return UnknownEvent{Type: raw.Type}
		}
		return PhaseEvent{Phase: phase, Message: message}

	case TypeDone:
		return DoneEvent{Message: message, Data: raw.Data}

	case TypeError:
		return FailedEvent{Timestamp: eventTime(raw), Message: message}

	case TypeCancelled:
		return CancelledEvent{Message: message}

	default:
		return UnknownEvent{Type: raw.Type}
	}
}

// parseData leniently decodes the payload. Payloads that are not objects
// (strings, arrays, malformed JSON) yield an empty eventData.
func parseData(raw json.RawMessage) eventData {
	var d eventData
	if len(raw) == 0 {
		return d
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return eventData{}
	}
	return d
}

// eventTime prefers the server timestamp and falls back to receipt time.
func eventTime(raw RawEvent) time.Time {
	if raw.Timestamp != "" {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
			if t, err := time.Parse(layout, raw.Timestamp); err == nil {
				return t
			}
		}
	}
	return raw.ReceivedAt
}
