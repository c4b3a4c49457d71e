// Package bus provides the in-process event bus: broadcast publish and
// subscribe with isolated (scoped) instances. Every event published on a
// bus is delivered to every current subscriber of that bus, in
// publication order. Scoped buses share nothing; an event emitted on one
// is never observed on another.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/event"
	"github.com/helixrun/conduit/id"
)

// Bus is a broadcast pub/sub channel. It is safe for concurrent use.
//
// Delivery is synchronous: Publish invokes every subscriber callback on
// the publisher's goroutine before returning, and a queue serializes
// publishes so all subscribers observe events in the same order. A
// callback may itself publish; the nested event is queued and delivered
// after the current event finishes its round. Callbacks must not block.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
	// order preserves subscription order for deterministic delivery.
	order []string

	// qmu guards the publish queue. The goroutine that finds the queue
	// idle becomes the drainer; publishes from within a subscriber
	// callback enqueue and return instead of blocking on the drainer.
	qmu      sync.Mutex
	queue    []event.Event
	draining bool

	closed atomic.Bool
	strict bool
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithStrictClose makes Publish return conduit.ErrBusClosed after Close
// instead of silently dropping the event. Recommended in development
// builds; the default (drop and log) suits release builds where a
// late event during teardown is not worth crashing over.
func WithStrictClose() Option {
	return func(b *Bus) { b.strict = true }
}

// New creates an independent bus with its own subscriber set.
// Construct one process-wide instance at the composition root and pass
// it by reference; there is no ambient global.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:   make(map[string]*Subscription),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Scoped returns a fresh bus isolated from this one, inheriting its
// logger and close semantics. Use one per module that must not observe
// (or be observed by) the rest of the process.
func (b *Bus) Scoped() *Bus {
	nb := New(b.logger)
	nb.strict = b.strict
	return nb
}

// Subscribe registers a callback for every event published on this bus.
// The returned Subscription stops delivery when cancelled.
// Subscribing to a closed bus returns an already-cancelled subscription.
func (b *Bus) Subscribe(fn func(event.Event)) *Subscription {
	sub := &Subscription{
		id:  id.NewSubscriptionID(),
		bus: b,
		fn:  fn,
	}
	if b.closed.Load() {
		sub.cancelled.Store(true)
		return sub
	}

	b.mu.Lock()
	key := sub.id.String()
	b.subs[key] = sub
	b.order = append(b.order, key)
	b.mu.Unlock()
	return sub
}

// Publish delivers ev to all current subscribers in subscription order.
// When called from inside a subscriber callback the event is queued and
// delivered once the event currently in flight completes, so callbacks
// may publish follow-up events without deadlocking.
// After Close it returns conduit.ErrBusClosed when the bus was built
// with WithStrictClose, and is a logged no-op otherwise.
func (b *Bus) Publish(ev event.Event) error {
	if b.closed.Load() {
		if b.strict {
			return conduit.ErrBusClosed
		}
		b.logger.Debug("event dropped: bus closed",
			slog.String("event", event.TypeName(ev)),
			slog.String("correlation_id", ev.CorrelationID().String()),
		)
		return nil
	}

	b.qmu.Lock()
	b.queue = append(b.queue, ev)
	if b.draining {
		// A publish already in progress on this bus will drain the
		// queue; nested and concurrent publishes just enqueue.
		b.qmu.Unlock()
		return nil
	}
	b.draining = true
	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.qmu.Unlock()
		b.broadcast(next)
		b.qmu.Lock()
	}
	b.draining = false
	b.qmu.Unlock()
	return nil
}

// broadcast delivers one event to a snapshot of the subscriber set.
// The snapshot is taken under the read lock and callbacks run outside
// it so a callback may subscribe or cancel without deadlocking.
func (b *Bus) broadcast(ev event.Event) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.order))
	for _, key := range b.order {
		if sub, ok := b.subs[key]; ok {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(ev)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close disposes the bus. Subsequent publishes fail or no-op per the
// close semantics; all subscriptions are cancelled. Safe to call twice.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*Subscription)
	b.order = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancelled.Store(true)
	}
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool { return b.closed.Load() }

// remove detaches a subscription (called by Subscription.Cancel).
func (b *Bus) remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[key]; !ok {
		return
	}
	delete(b.subs, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Subscription is the handle returned by Subscribe. Cancel stops
// delivery; events already in flight may still arrive on other
// goroutines that snapshotted the subscriber set before cancellation.
type Subscription struct {
	id        id.SubscriptionID
	bus       *Bus
	fn        func(event.Event)
	cancelled atomic.Bool
}

// ID returns the subscription identifier.
func (s *Subscription) ID() id.SubscriptionID { return s.id }

// Cancel stops delivery. Safe to call multiple times.
func (s *Subscription) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.bus.remove(s.id.String())
}

// deliver invokes the callback unless the subscription is cancelled.
func (s *Subscription) deliver(ev event.Event) {
	if s.cancelled.Load() {
		return
	}
	s.fn(ev)
}
