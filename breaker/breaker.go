// Package breaker caps per-event-type throughput for a coordinator.
// Its purpose is loop protection: without it, an onEvent handler that
// triggers a dispatch whose result re-enters the same handler can spin
// the process into unbounded CPU use. Excess events are dropped, never
// queued.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/helixrun/conduit"
)

// Breaker counts events per concrete type inside a tumbling one-second
// window and rejects a type once its count exceeds the limit. Other
// types are unaffected. Safe for concurrent use.
type Breaker struct {
	mu          sync.Mutex
	limit       int
	overrides   map[string]int
	counts      map[string]int
	dropped     map[string]bool
	windowStart time.Time
	window      time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLimit overrides the process-wide default per-type limit.
func WithLimit(n int) Option {
	return func(b *Breaker) { b.limit = n }
}

// WithTypeLimit overrides the limit for one concrete event type, keyed
// by event.TypeName.
func WithTypeLimit(eventType string, n int) Option {
	return func(b *Breaker) { b.overrides[eventType] = n }
}

// WithWindow overrides the window length. Tests use short windows; the
// production default is one second.
func WithWindow(d time.Duration) Option {
	return func(b *Breaker) { b.window = d }
}

func withClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a Breaker with the process default limit.
func New(logger *slog.Logger, opts ...Option) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		limit:     conduit.DefaultConfig().BreakerLimit,
		overrides: make(map[string]int),
		counts:    make(map[string]int),
		dropped:   make(map[string]bool),
		window:    time.Second,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.windowStart = b.now()
	return b
}

// Allow records one event of the given type and reports whether it may
// proceed. False means the event must be dropped.
func (b *Breaker) Allow(eventType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Sub(b.windowStart) >= b.window {
		b.counts = make(map[string]int)
		b.dropped = make(map[string]bool)
		b.windowStart = now
	}

	b.counts[eventType]++

	limit := b.limit
	if override, ok := b.overrides[eventType]; ok {
		limit = override
	}

	if b.counts[eventType] > limit {
		// One warning per type per window; a hot loop would otherwise
		// flood the log as fast as it floods the bus.
		if !b.dropped[eventType] {
			b.dropped[eventType] = true
			b.logger.Warn("event type exceeded rate limit, dropping",
				slog.String("event_type", eventType),
				slog.Int("limit", limit),
			)
		}
		return false
	}
	return true
}
