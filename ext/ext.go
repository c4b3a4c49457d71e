// Package ext defines the extension system for Conduit.
// Extensions are notified of lifecycle events (job started, succeeded,
// failed, poisoned, etc.) and can react to them — logging, metrics,
// audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/helixrun/conduit/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobStarted is called when the executor begins running a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a job finishes successfully.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but another attempt remains.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, delay time.Duration) error
}

// JobCancelled is called when a job is stopped by its cancellation token.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobTimedOut is called when a job exceeds its execution timeout.
type JobTimedOut interface {
	OnJobTimedOut(ctx context.Context, j *job.Job, timeout time.Duration) error
}

// ──────────────────────────────────────────────────
// Offline queue hooks
// ──────────────────────────────────────────────────

// JobQueued is called when a job is persisted to the offline queue
// instead of running immediately.
type JobQueued interface {
	OnJobQueued(ctx context.Context, j *job.Job) error
}

// JobPoisoned is called when a queued record exhausts its replay
// attempts and is quarantined.
type JobPoisoned interface {
	OnJobPoisoned(ctx context.Context, dedupKey string, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
