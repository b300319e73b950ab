package state

import (
	"log/slog"
	"slices"
	"sync"
)

// Subscriber receives the state produced by each update.
type Subscriber func(State)

// Container owns the client State. Every change goes through Update, which
// applies a pure function under a mutex so there is exactly one writer.
type Container struct {
	mu          sync.Mutex
	state       State
	seq         uint64
	nextID      int
	subscribers map[int]Subscriber
	logger      *slog.Logger

	// Deliveries run outside mu, one at a time, in seq order.
	deliverMu sync.Mutex
	turn      *sync.Cond
	delivered uint64
}

// New creates a container holding Initial().
func New(logger *slog.Logger) *Container {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		state:       Initial(),
		subscribers: make(map[int]Subscriber),
		logger:      logger.With(slog.String("component", "state")),
	}
	c.turn = sync.NewCond(&c.deliverMu)
	return c
}

// Snapshot returns a deep copy of the current state.
func (c *Container) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Update applies fn to the current state and stores the result. fn must not
// mutate its argument's slices or maps in place and must not call back into
// the container. Subscribers are notified after the state lock is released
// and before Update returns, in update order.
func (c *Container) Update(fn func(State) State) State {
	next, _ := c.TryUpdate(func(s State) (State, error) {
		return fn(s), nil
	})
	return next
}

// TryUpdate is Update for transitions that can be refused. When fn returns an
// error the state is left untouched and no subscriber is notified.
func (c *Container) TryUpdate(fn func(State) (State, error)) (State, error) {
	c.mu.Lock()
	next, err := fn(c.state.Clone())
	if err != nil {
		current := c.state.Clone()
		c.mu.Unlock()
		return current, err
	}
	c.state = next
	seq := c.seq
	c.seq++

	ids := make([]int, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]Subscriber, len(ids))
	for i, id := range ids {
		subs[i] = c.subscribers[id]
	}

	c.mu.Unlock()

	c.deliverMu.Lock()
	for c.delivered != seq {
		c.turn.Wait()
	}
	for i, sub := range subs {
		c.notify(ids[i], sub, next.Clone())
	}
	c.delivered++
	c.turn.Broadcast()
	c.deliverMu.Unlock()

	return next.Clone(), nil
}

func (c *Container) notify(id int, sub Subscriber, s State) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("state subscriber panicked",
				slog.Int("subscriber", id),
				slog.Any("panic", r))
		}
	}()
	sub(s)
}

// Subscribe registers fn for every future update and returns a function
// that removes it. Subscribers are called in registration order. They may
// read the container with Snapshot but must not call Update or TryUpdate,
// which would block on the delivery in progress.
func (c *Container) Subscribe(fn Subscriber) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}
