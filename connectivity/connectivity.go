// Package connectivity defines the pluggable connectivity signal the
// router and offline queue consult. The core never probes the network
// itself; an externally-supplied Signal reports the point-in-time state
// and streams changes.
package connectivity

import (
	"context"
	"sync"
)

// Signal reports connectivity. Implementations must be safe for
// concurrent use.
type Signal interface {
	// IsConnected reports the point-in-time connectivity state.
	IsConnected() bool

	// Changes returns a stream of connectivity transitions. The channel
	// is closed when ctx is cancelled. Slow consumers observe the
	// latest state, not every intermediate flap.
	Changes(ctx context.Context) <-chan bool
}

// Manual is a Signal driven by explicit SetConnected calls. It backs
// tests and hosts that derive connectivity from their own platform
// callbacks.
type Manual struct {
	mu        sync.Mutex
	connected bool
	watchers  map[int]chan bool
	nextID    int
}

// NewManual creates a Manual signal with the given initial state.
func NewManual(connected bool) *Manual {
	return &Manual{
		connected: connected,
		watchers:  make(map[int]chan bool),
	}
}

// IsConnected implements Signal.
func (m *Manual) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetConnected updates the state and notifies watchers of transitions.
// Setting the current state again is a no-op.
func (m *Manual) SetConnected(connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	// Sends stay under the lock so a watcher channel is never closed
	// concurrently with a send. All sends are non-blocking.
	for _, ch := range m.watchers {
		// Coalesce: drop the stale value if the consumer has not
		// drained it, then deliver the latest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- connected:
		default:
		}
	}
	m.mu.Unlock()
}

// Changes implements Signal.
func (m *Manual) Changes(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	m.mu.Lock()
	watcherID := m.nextID
	m.nextID++
	m.watchers[watcherID] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, watcherID)
		m.mu.Unlock()
		close(ch)
	}()

	return ch
}
