package conduit

import "errors"

var (
	// Routing errors.
	ErrHandlerNotFound = errors.New("conduit: no handler registered for job type")

	// Execution outcomes, reported distinctly from business failures.
	ErrCancelled = errors.New("conduit: cancelled")
	ErrTimeout   = errors.New("conduit: timed out")

	// Offline queue errors.
	ErrPoisoned       = errors.New("conduit: job poisoned after exhausting retries")
	ErrRecordNotFound = errors.New("conduit: offline record not found")
	ErrNoPendingJobs  = errors.New("conduit: no pending offline jobs")

	// Lifecycle errors.
	ErrBusClosed = errors.New("conduit: event bus closed")
	ErrDisposed  = errors.New("conduit: coordinator disposed")

	// Cache errors.
	ErrCacheMiss = errors.New("conduit: cache miss")
)
