// Package router resolves dispatched jobs to their registered handlers
// and hands back a Handle exposing the result future, the progress
// stream, and the assigned correlation ID. When connectivity is down
// and a job is a network action, the router diverts it to the offline
// queue and synthesizes an immediate optimistic success event instead
// of invoking the handler.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/bus"
	"github.com/helixrun/conduit/connectivity"
	"github.com/helixrun/conduit/event"
	"github.com/helixrun/conduit/job"
	"github.com/helixrun/conduit/offline"
)

// Executor runs a dispatched job to its terminal event. Satisfied by
// *executor.Executor.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) (event.Event, error)
}

// Dispatcher is the job router: one long-lived object owning the
// type→handler registry, constructed once at process start.
type Dispatcher struct {
	registry *job.Registry
	exec     Executor
	bus      *bus.Bus
	signal   connectivity.Signal
	offline  *offline.Manager
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConnectivity installs the connectivity signal consulted before
// each network-action dispatch.
func WithConnectivity(s connectivity.Signal) Option {
	return func(d *Dispatcher) { d.signal = s }
}

// WithOfflineManager installs the offline queue for network actions.
func WithOfflineManager(m *offline.Manager) Option {
	return func(d *Dispatcher) { d.offline = m }
}

// New creates a Dispatcher publishing to b by default. Jobs carrying
// their own bus keep it; this is how scoped modules stay isolated.
func New(registry *job.Registry, exec Executor, b *bus.Bus, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		exec:     exec,
		bus:      b,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register installs or replaces the handler for a job type.
func (d *Dispatcher) Register(h *job.Handler) {
	d.registry.Register(h)
}

// Dispatch routes a job to its handler. The returned Handle settles
// with exactly one terminal event.
//
// Dispatching an unregistered job type fails immediately with
// conduit.ErrHandlerNotFound; the job never reaches the bus.
func (d *Dispatcher) Dispatch(ctx context.Context, j *job.Job) (*Handle, error) {
	handler, ok := d.registry.Get(j.Name)
	if !ok {
		return nil, fmt.Errorf("dispatch %q: %w", j.Name, conduit.ErrHandlerNotFound)
	}

	if j.Bus == nil {
		j.Bus = d.bus
	}

	if d.shouldQueueOffline(j) {
		return d.dispatchOffline(ctx, j, handler)
	}

	h := newHandle(j.ID)
	h.attach(j.Bus)

	go func() {
		if _, err := d.exec.Execute(ctx, j); err != nil {
			// The handler disappeared between lookup and execution.
			// The executor published nothing, so settle the handle
			// ourselves to keep the one-terminal-event guarantee.
			h.resolve(event.NewFailure(event.NewMeta(j.ID), j.Name, err, 0))
		}
	}()

	return h, nil
}

// shouldQueueOffline reports whether the job must be persisted instead
// of executed.
func (d *Dispatcher) shouldQueueOffline(j *job.Job) bool {
	if !j.Offline || d.offline == nil || d.signal == nil {
		return false
	}
	return !d.signal.IsConnected()
}

// dispatchOffline persists the job and synthesizes the optimistic
// success event. The handle is returned already settled; the real
// outcome arrives later, under the same correlation ID, when the queue
// drains.
func (d *Dispatcher) dispatchOffline(ctx context.Context, j *job.Job, handler *job.Handler) (*Handle, error) {
	if err := d.offline.QueueAction(ctx, j); err != nil {
		return nil, err
	}

	ev := d.optimisticEvent(j, handler)
	if err := j.Bus.Publish(ev); err != nil {
		d.logger.Error("optimistic event publish failed",
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}

	d.logger.Info("network action queued offline",
		slog.String("job_name", j.Name),
		slog.String("dedup_key", j.DedupKey()),
	)
	return newResolvedHandle(j.ID, ev), nil
}

// optimisticEvent builds the synthesized success. A configured
// placeholder gives it a typed value; otherwise the event carries no
// payload.
func (d *Dispatcher) optimisticEvent(j *job.Job, handler *job.Handler) event.Event {
	meta := event.NewMeta(j.ID)
	if j.Data != nil && j.Data.Placeholder != nil {
		ev, err := handler.Decode(meta, j.Data.Placeholder, event.SourceOptimistic)
		if err == nil {
			return ev
		}
		d.logger.Warn("placeholder decode failed for optimistic event",
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}
	return event.NewResult[any](meta, j.Name, nil, event.SourceOptimistic)
}
