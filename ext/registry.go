package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/helixrun/conduit/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobSucceededEntry struct {
	name string
	hook JobSucceeded
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type jobTimedOutEntry struct {
	name string
	hook JobTimedOut
}

type jobQueuedEntry struct {
	name string
	hook JobQueued
}

type jobPoisonedEntry struct {
	name string
	hook JobPoisoned
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobStarted   []jobStartedEntry
	jobSucceeded []jobSucceededEntry
	jobFailed    []jobFailedEntry
	jobRetrying  []jobRetryingEntry
	jobCancelled []jobCancelledEntry
	jobTimedOut  []jobTimedOutEntry
	jobQueued    []jobQueuedEntry
	jobPoisoned  []jobPoisonedEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobSucceeded); ok {
		r.jobSucceeded = append(r.jobSucceeded, jobSucceededEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(JobTimedOut); ok {
		r.jobTimedOut = append(r.jobTimedOut, jobTimedOutEntry{name, h})
	}
	if h, ok := e.(JobQueued); ok {
		r.jobQueued = append(r.jobQueued, jobQueuedEntry{name, h})
	}
	if h, ok := e.(JobPoisoned); ok {
		r.jobPoisoned = append(r.jobPoisoned, jobPoisonedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobSucceeded notifies all extensions that implement JobSucceeded.
func (r *Registry) EmitJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobSucceeded {
		if err := e.hook.OnJobSucceeded(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobSucceeded", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, delay time.Duration) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, delay); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitJobTimedOut notifies all extensions that implement JobTimedOut.
func (r *Registry) EmitJobTimedOut(ctx context.Context, j *job.Job, timeout time.Duration) {
	for _, e := range r.jobTimedOut {
		if err := e.hook.OnJobTimedOut(ctx, j, timeout); err != nil {
			r.logHookError("OnJobTimedOut", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Offline queue emitters
// ──────────────────────────────────────────────────

// EmitJobQueued notifies all extensions that implement JobQueued.
func (r *Registry) EmitJobQueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobQueued {
		if err := e.hook.OnJobQueued(ctx, j); err != nil {
			r.logHookError("OnJobQueued", e.name, err)
		}
	}
}

// EmitJobPoisoned notifies all extensions that implement JobPoisoned.
func (r *Registry) EmitJobPoisoned(ctx context.Context, dedupKey string, poisonErr error) {
	for _, e := range r.jobPoisoned {
		if err := e.hook.OnJobPoisoned(ctx, dedupKey, poisonErr); err != nil {
			r.logHookError("OnJobPoisoned", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
