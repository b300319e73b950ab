// Package mocks provides hand-written test doubles for the client's external
// boundaries: the generation service, its event streams, the Anki client and
// the durable key/value store.
//
// Each mock exposes one function field per method. A nil field falls back to
// a harmless default (zero values, nil error, an empty stream). Every call is
// recorded by the embedded CallRecorder, so tests can assert on what reached
// the remote side:
//
//	remote := &mocks.MockGenerationService{
//	    CancelFn: func(ctx context.Context, sessionID string) error {
//	        return generation.ErrUnavailable
//	    },
//	}
//	...
//	call, ok := remote.LastCall("Cancel")
//
// MockStream replays a fixed list of raw events. It can stall after the last
// one for watchdog tests, and its BeforeNext hook lets a test act between
// events. The LogEvent, DoneEvent and related helpers build those events.
package mocks
