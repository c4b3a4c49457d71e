package job

import (
	"context"

	"github.com/helixrun/conduit/event"
)

// EventFunc constructs the domain event reporting a result of type R.
// The pairing between a job type and its event constructor is fixed at
// registration, so every job has exactly one.
type EventFunc[R any] func(meta event.Meta, value R, source event.Source) event.Event

// Definition is a typed job definition: a name, a handler producing R
// from payload P, and the event constructor for R.
type Definition[P, R any] struct {
	// Name is the unique identifier for this job type.
	Name string

	// Handler processes the payload and returns the typed result.
	Handler func(ctx context.Context, payload P) (R, error)

	// Event builds the success event for a result. Nil uses the
	// generic event.Result[R].
	Event EventFunc[R]

	// Opts are the baseline options applied to every job of this type.
	// Per-dispatch options override them.
	Opts []Option
}

// NewDefinition creates a typed job definition reporting results through
// the generic event.Result[R].
func NewDefinition[P, R any](name string, handler func(ctx context.Context, payload P) (R, error), opts ...Option) *Definition[P, R] {
	return &Definition[P, R]{Name: name, Handler: handler, Opts: opts}
}

// NewDefinitionWithEvent creates a typed job definition with a custom
// event constructor for its results.
func NewDefinitionWithEvent[P, R any](
	name string,
	handler func(ctx context.Context, payload P) (R, error),
	eventFn EventFunc[R],
	opts ...Option,
) *Definition[P, R] {
	return &Definition[P, R]{Name: name, Handler: handler, Event: eventFn, Opts: opts}
}
