// Package coordinator provides the orchestration layer: a state value,
// a dispatch path through the router, and a bus subscription that
// classifies every incoming event as direct (the terminal outcome of a
// job this coordinator dispatched) or passive (observed from
// elsewhere). A per-event-type circuit breaker guards the handler
// against feedback loops.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/breaker"
	"github.com/helixrun/conduit/bus"
	"github.com/helixrun/conduit/event"
	"github.com/helixrun/conduit/id"
	"github.com/helixrun/conduit/job"
	"github.com/helixrun/conduit/router"
)

// OnEvent folds one event into the coordinator's state. direct is true
// when the event's correlation ID belongs to a job this coordinator
// dispatched and is still awaiting.
type OnEvent[S any] func(state S, ev event.Event, direct bool) S

// Dispatcher submits jobs for execution. Satisfied by
// *router.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, j *job.Job) (*router.Handle, error)
}

// Coordinator holds an application-state value, an active-job set, and
// one bus subscription. State mutation is serialized under the
// coordinator's state mutex: OnEvent always sees the previous state it
// produced. The active set has its own lock so OnEvent may call
// Dispatch for follow-up jobs without contending with the fold.
type Coordinator[S any] struct {
	mu       sync.Mutex
	state    S
	watchers map[int]chan S
	nextID   int

	activeMu sync.Mutex
	active   map[id.ID]struct{}

	onEvent    OnEvent[S]
	dispatcher Dispatcher
	brk        *breaker.Breaker
	sub        *bus.Subscription
	disposed   atomic.Bool
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option[S any] func(*Coordinator[S])

// WithBreaker replaces the default circuit breaker.
func WithBreaker[S any](b *breaker.Breaker) Option[S] {
	return func(c *Coordinator[S]) { c.brk = b }
}

// New creates a coordinator with the given initial state, subscribed to
// b. Dispose must be called when the coordinator's lifetime ends.
func New[S any](
	initial S,
	dispatcher Dispatcher,
	b *bus.Bus,
	onEvent OnEvent[S],
	logger *slog.Logger,
	opts ...Option[S],
) *Coordinator[S] {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator[S]{
		state:      initial,
		active:     make(map[id.ID]struct{}),
		watchers:   make(map[int]chan S),
		onEvent:    onEvent,
		dispatcher: dispatcher,
		brk:        breaker.New(logger),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sub = b.Subscribe(c.handleEvent)
	return c
}

// Dispatch submits a job through the router and records its ID as
// active. Returns conduit.ErrDisposed after Dispose.
func (c *Coordinator[S]) Dispatch(ctx context.Context, j *job.Job) (*router.Handle, error) {
	if c.disposed.Load() {
		return nil, conduit.ErrDisposed
	}

	// Record before dispatching: the executor may publish the terminal
	// event before Dispatch returns, and that event must classify as
	// direct.
	c.activeMu.Lock()
	c.active[j.ID] = struct{}{}
	c.activeMu.Unlock()

	h, err := c.dispatcher.Dispatch(ctx, j)
	if err != nil {
		c.activeMu.Lock()
		delete(c.active, j.ID)
		c.activeMu.Unlock()
		return nil, err
	}
	return h, nil
}

// handleEvent is the bus callback: breaker first, then direct/passive
// classification, then the state fold.
func (c *Coordinator[S]) handleEvent(ev event.Event) {
	if c.disposed.Load() {
		return
	}
	if !c.brk.Allow(event.TypeName(ev)) {
		return
	}

	corr := ev.CorrelationID()
	c.activeMu.Lock()
	_, direct := c.active[corr]
	if direct && event.IsTerminal(ev) {
		delete(c.active, corr)
	}
	c.activeMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed.Load() {
		return
	}
	c.state = c.onEvent(c.state, ev, direct)
	c.notifyLocked()
}

// State returns the current state value.
func (c *Coordinator[S]) State() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// States returns a stream of state values, one per fold. A slow
// consumer observes the latest state, not every intermediate one. The
// channel closes on Dispose.
func (c *Coordinator[S]) States() <-chan S {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan S, 1)
	if c.disposed.Load() {
		close(ch)
		return ch
	}
	c.watchers[c.nextID] = ch
	c.nextID++
	return ch
}

// notifyLocked pushes the current state to every watcher, coalescing
// for slow consumers. Caller holds c.mu.
func (c *Coordinator[S]) notifyLocked() {
	for _, ch := range c.watchers {
		select {
		case ch <- c.state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c.state:
			default:
			}
		}
	}
}

// ActiveCount returns how many dispatched jobs still await a terminal
// event.
func (c *Coordinator[S]) ActiveCount() int {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return len(c.active)
}

// Dispose cancels the bus subscription, clears the active set, and
// closes all state streams. Dispatch after Dispose fails with
// conduit.ErrDisposed rather than silently leaking.
func (c *Coordinator[S]) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.sub.Cancel()

	c.activeMu.Lock()
	c.active = make(map[id.ID]struct{})
	c.activeMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ch := range c.watchers {
		close(ch)
		delete(c.watchers, key)
	}
}
