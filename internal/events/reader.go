package events

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// maxEventSize bounds a single event line. Done events may carry a full card
// list, so this is generous.
const maxEventSize = 8 << 20

// Reader reads RawEvents from an event-stream body. It accepts both
// text/event-stream framing ("data:" lines separated by blank lines) and
// newline-delimited JSON objects.
//
// The body is read on a background goroutine so that Next can honour context
// cancellation and deadlines even while the underlying read is blocked.
type Reader struct {
	body      io.ReadCloser
	results   chan readResult
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

type readResult struct {
	event RawEvent
	err   error
}

// Ensure Reader implements Stream.
var _ Stream = (*Reader)(nil)

// NewReader starts reading events from body. The caller must call Close.
func NewReader(body io.ReadCloser) *Reader {
	r := &Reader{
		body:    body,
		results: make(chan readResult),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go r.pump()
	return r
}

// Next returns the next event, io.EOF when the stream has ended, or the
// context error if ctx is done first.
func (r *Reader) Next(ctx context.Context) (RawEvent, error) {
	select {
	case <-ctx.Done():
		return RawEvent{}, ctx.Err()
	case res, ok := <-r.results:
		if !ok {
			return RawEvent{}, io.EOF
		}
		return res.event, res.err
	}
}

// Close stops the reader and closes the body. It is safe to call more than once.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.body.Close()
	})
	return err
}

func (r *Reader) pump() {
	defer close(r.results)

	scanner := bufio.NewScanner(r.body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data []string
	var name string

	flush := func() bool {
		if len(data) == 0 {
			name = ""
			return true
		}
		payload := strings.Join(data, "\n")
		eventName := name
		data, name = nil, ""
		return r.emit(payload, eventName)
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "{") && len(data) == 0:
			if !r.emit(line, "") {
				return
			}
		}
	}

	if !flush() {
		return
	}

	if err := scanner.Err(); err != nil {
		r.send(readResult{err: err})
	}
}

// emit decodes one payload and hands it to Next. Payloads that are not JSON
// objects (for example "[DONE]" sentinels) are skipped.
func (r *Reader) emit(payload, eventName string) bool {
	var ev RawEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return true
	}
	if ev.Type == "" {
		ev.Type = eventName
	}
	ev.ReceivedAt = r.now()
	return r.send(readResult{event: ev})
}

func (r *Reader) send(res readResult) bool {
	select {
	case r.results <- res:
		return true
	case <-r.done:
		return false
	}
}
