// Package event defines the domain events Conduit publishes on its bus:
// immutable facts carrying a correlation identifier and a payload.
// The executor publishes exactly one terminal event per dispatched job;
// any number of Progress events may precede it.
package event

import (
	"fmt"
	"time"

	"github.com/helixrun/conduit/id"
)

// Event is an immutable published fact. Concrete events embed Meta.
//
// The correlation ID matches the job that produced the event, or is the
// Nil ID for spontaneous events no dispatch requested.
type Event interface {
	CorrelationID() id.ID
	OccurredAt() time.Time
}

// Meta carries the fields shared by all events. Embed it in concrete
// event types; it satisfies the Event interface.
type Meta struct {
	Correlation id.ID     `json:"correlation_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewMeta builds event metadata for the given correlation ID,
// timestamped now.
func NewMeta(correlation id.ID) Meta {
	return Meta{Correlation: correlation, Timestamp: time.Now().UTC()}
}

// CorrelationID implements Event.
func (m Meta) CorrelationID() id.ID { return m.Correlation }

// OccurredAt implements Event.
func (m Meta) OccurredAt() time.Time { return m.Timestamp }

// Source tags where a result's data came from.
type Source string

const (
	// SourceFresh means the handler produced the value just now.
	SourceFresh Source = "fresh"
	// SourceCached means the value was served from the cache provider.
	SourceCached Source = "cached"
	// SourceOptimistic means the value is a placeholder or a synthesized
	// success for a queued offline action; the real result may differ.
	SourceOptimistic Source = "optimistic"
	// SourceFailed means no value was produced.
	SourceFailed Source = "failed"
)

// TypeName returns the concrete Go type of an event as a string.
// The coordinator's circuit breaker keys its per-type counters on this.
func TypeName(ev Event) string {
	return fmt.Sprintf("%T", ev)
}

// Transient is implemented by events that do not end a dispatch:
// progress reports and optimistic placeholders. Custom event types that
// serve as placeholders should implement it; events without the method
// are always terminal.
type Transient interface {
	Transient() bool
}

// IsTerminal reports whether ev is the terminal outcome of a dispatch.
// Dispatch handles resolve on the first terminal event bearing their
// correlation ID; coordinators retire active job IDs on it.
func IsTerminal(ev Event) bool {
	if t, ok := ev.(Transient); ok {
		return !t.Transient()
	}
	return true
}
