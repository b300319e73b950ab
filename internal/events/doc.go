// Package events implements the progress event protocol shared by the
// generation and sync streams.
//
// The primary components are:
//   - RawEvent: the wire shape of one progress event
//   - Event: the decoded, typed event (log, progress, phase, done, error,
//     cancelled or unknown)
//   - Decode: pure classification of a RawEvent into an Event
//   - Reader: a Stream that reads RawEvents from an HTTP response body
//     (text/event-stream or newline-delimited JSON)
package events
