package router

import (
	"context"
	"sync"

	"github.com/helixrun/conduit/bus"
	"github.com/helixrun/conduit/event"
	"github.com/helixrun/conduit/id"
)

// progressBuffer bounds the progress channel. Slow consumers lose
// intermediate progress, never the terminal event.
const progressBuffer = 16

// Handle tracks one dispatch: the assigned correlation ID, a result
// future resolving to the terminal event, and a progress stream.
type Handle struct {
	corr id.ID

	sub      *bus.Subscription
	result   chan event.Event
	progress chan event.Progress
	done     chan struct{}

	once     sync.Once
	terminal event.Event
}

func newHandle(corr id.ID) *Handle {
	return &Handle{
		corr:     corr,
		result:   make(chan event.Event, 1),
		progress: make(chan event.Progress, progressBuffer),
		done:     make(chan struct{}),
	}
}

// newResolvedHandle builds a handle already settled with ev, used for
// offline dispatches whose optimistic outcome is known immediately.
func newResolvedHandle(corr id.ID, ev event.Event) *Handle {
	h := newHandle(corr)
	h.resolve(ev)
	return h
}

// attach subscribes the handle to the job's bus. Must run before the
// executor is invoked so no event can be missed.
func (h *Handle) attach(b *bus.Bus) {
	h.sub = b.Subscribe(h.observe)
}

// observe filters bus traffic down to this dispatch's events.
func (h *Handle) observe(ev event.Event) {
	if ev.CorrelationID() != h.corr {
		return
	}
	if p, ok := ev.(event.Progress); ok {
		select {
		case h.progress <- p:
		default:
		}
		return
	}
	if !event.IsTerminal(ev) {
		// Placeholders and other transient events pass through the
		// progress-free path; only the terminal event settles the handle.
		return
	}
	h.resolve(ev)
}

// resolve settles the handle exactly once.
func (h *Handle) resolve(ev event.Event) {
	h.once.Do(func() {
		h.terminal = ev
		h.result <- ev
		close(h.done)
		close(h.progress)
		if h.sub != nil {
			h.sub.Cancel()
		}
	})
}

// CorrelationID returns the dispatch's correlation ID, matching the
// job's ID.
func (h *Handle) CorrelationID() id.ID { return h.corr }

// Result returns a channel delivering the terminal event. Exactly one
// event is ever sent.
func (h *Handle) Result() <-chan event.Event { return h.result }

// Progress returns the progress stream. It is closed when the dispatch
// settles.
func (h *Handle) Progress() <-chan event.Progress { return h.progress }

// Await blocks until the terminal event or context expiry. The dispatch
// keeps running if the context ends first; only the wait stops.
func (h *Handle) Await(ctx context.Context) (event.Event, error) {
	select {
	case <-h.done:
		return h.terminal, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
