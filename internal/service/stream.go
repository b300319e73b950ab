package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/events"
	"github.com/phrazzld/scry-deck/internal/generation"
)

// consumeStream reads stream until a terminal event arrives and returns it.
// Every non-terminal event is decoded and handed to apply in arrival order.
//
// With idle > 0 each read is bounded by idle; a read that times out while ctx
// is still live yields ErrStreamStalled. A stream that ends without a terminal
// event yields ErrStreamEnded. Errors from ctx itself are returned unchanged.
func consumeStream(
	ctx context.Context,
	stream events.Stream,
	idle time.Duration,
	apply func(events.Event),
) (events.Event, error) {
	for {
		raw, err := nextEvent(ctx, stream, idle)
		if errors.Is(err, io.EOF) {
			return nil, ErrStreamEnded
		}
		if err != nil {
			return nil, err
		}

		ev := events.Decode(raw)
		if ev.Terminal() {
			return ev, nil
		}
		apply(ev)
	}
}

func nextEvent(ctx context.Context, stream events.Stream, idle time.Duration) (events.RawEvent, error) {
	if idle <= 0 {
		return stream.Next(ctx)
	}

	readCtx, cancel := context.WithTimeout(ctx, idle)
	defer cancel()

	raw, err := stream.Next(readCtx)
	if err != nil && ctx.Err() == nil && errors.Is(readCtx.Err(), context.DeadlineExceeded) {
		return raw, ErrStreamStalled
	}
	return raw, err
}

// cardSource is the part of the generation service used to read a session's
// authoritative card list.
type cardSource interface {
	GetSession(ctx context.Context, sessionID string) (generation.SessionInfo, error)
	GetDrafts(ctx context.Context, sessionID string) ([]domain.Card, error)
}

// fetchCards returns the normalized card list of s from the backend that owns
// it: the session record for historical sessions, the draft list otherwise.
func fetchCards(ctx context.Context, remote cardSource, s domain.Session) ([]domain.Card, error) {
	if s.IsHistorical {
		info, err := remote.GetSession(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		return domain.NormalizeAll(info.Cards), nil
	}

	cards, err := remote.GetDrafts(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	return domain.NormalizeAll(cards), nil
}

// failureTime prefers the time carried by the event.
func failureTime(ts time.Time, now func() time.Time) time.Time {
	if ts.IsZero() {
		return now()
	}
	return ts
}
