package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/helixrun/conduit/event"
)

// Handler is the type-erased execution entry for one job type. The
// typed Definition[P, R] is converted to a Handler at registration time
// by closing over msgpack encode/decode, the typed handler, and the
// event constructor.
type Handler struct {
	// Name is the job type this handler serves.
	Name string

	// Opts are the definition's baseline job options.
	Opts []Option

	// Invoke runs the business logic once. It returns the msgpack
	// encoding of the result (for the cache) and the success event.
	Invoke func(ctx context.Context, j *Job) (encoded []byte, ev event.Event, err error)

	// Decode rebuilds a success event from a previously encoded result
	// (cache hits, placeholders), tagged with the given source.
	Decode func(meta event.Meta, encoded []byte, source event.Source) (event.Event, error)
}

// Registry maps job type names to type-erased handlers.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// RegisterDefinition registers a typed job definition, replacing any
// existing handler for the same name. At most one handler serves a job
// type; fan-out happens on the bus, never at the routing layer.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[P, R any](r *Registry, def *Definition[P, R]) {
	eventFn := def.Event
	if eventFn == nil {
		eventFn = func(meta event.Meta, value R, source event.Source) event.Event {
			return event.NewResult(meta, def.Name, value, source)
		}
	}

	h := &Handler{
		Name: def.Name,
		Opts: def.Opts,
		Invoke: func(ctx context.Context, j *Job) ([]byte, event.Event, error) {
			var p P
			if len(j.Payload) > 0 {
				if err := DecodeValue(j.Payload, &p); err != nil {
					return nil, nil, fmt.Errorf("job %q: %w", def.Name, err)
				}
			}
			value, err := def.Handler(ctx, p)
			if err != nil {
				return nil, nil, err
			}
			encoded, err := EncodeValue(value)
			if err != nil {
				return nil, nil, fmt.Errorf("job %q: %w", def.Name, err)
			}
			return encoded, eventFn(event.NewMeta(j.ID), value, event.SourceFresh), nil
		},
		Decode: func(meta event.Meta, encoded []byte, source event.Source) (event.Event, error) {
			var value R
			if err := DecodeValue(encoded, &value); err != nil {
				return nil, fmt.Errorf("job %q: %w", def.Name, err)
			}
			return eventFn(meta, value, source), nil
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = h
}

// Register installs a pre-built type-erased handler, replacing any
// existing handler for the same name.
func (r *Registry) Register(h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name] = h
}

// Get returns the handler for the given job type name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered job type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
