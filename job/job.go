package job

import (
	"time"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/bus"
	"github.com/helixrun/conduit/cache"
	"github.com/helixrun/conduit/cancel"
	"github.com/helixrun/conduit/id"
	"github.com/helixrun/conduit/retry"
)

// NetworkAction is implemented by payload types whose jobs must survive
// connectivity loss. When the dispatcher is offline, such jobs are
// persisted to the offline queue instead of invoked, and an optimistic
// success event is synthesized immediately.
type NetworkAction interface {
	// DedupKey returns the deduplication key for the offline queue.
	// Return the empty string to derive the key from the job ID.
	DedupKey() string
}

// DataStrategy configures a job's placeholder and cache behavior.
type DataStrategy struct {
	// Placeholder is an optional msgpack-encoded value emitted as an
	// optimistic event before the handler runs. Nil disables it.
	Placeholder []byte

	// Cache is the optional cache policy for the job's result.
	Cache *cache.Policy
}

// Job is an immutable request for work. Create one with New; all fields
// are read-only after creation.
type Job struct {
	conduit.Entity

	// ID uniquely identifies the job and doubles as the correlation ID
	// on every event it produces.
	ID id.JobID `json:"id"`

	// Name is the registered job type this job routes to.
	Name string `json:"name"`

	// Payload is the msgpack-encoded typed payload.
	Payload []byte `json:"payload"`

	// Metadata carries optional caller-supplied key/value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Token is the optional cooperative cancellation token.
	Token *cancel.Token `json:"-"`

	// Timeout bounds how long the caller waits for the handler. Zero
	// means no timeout. The handler's underlying work may continue
	// after the timeout fires; only the wait stops.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Retry is the optional retry policy. Nil means no retries.
	Retry *retry.Policy `json:"-"`

	// Data is the optional placeholder/cache strategy.
	Data *DataStrategy `json:"-"`

	// Offline marks the job as a network action eligible for the
	// offline queue.
	Offline bool `json:"offline,omitempty"`

	// Dedup is the offline-queue deduplication key. Empty derives the
	// key from ID.
	Dedup string `json:"dedup,omitempty"`

	// Bus is the bus active at dispatch time. Executors publish every
	// event for this job here and nowhere else; this is how module
	// isolation works without changing caller code.
	Bus *bus.Bus `json:"-"`
}

// New creates a job for the given registered type name and encoded
// payload.
func New(name string, payload []byte, opts ...Option) *Job {
	now := time.Now().UTC()
	j := &Job{
		Entity:  conduit.Entity{CreatedAt: now, UpdatedAt: now},
		ID:      id.NewJobID(),
		Name:    name,
		Payload: payload,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// DedupKey returns the offline deduplication key: the explicit key if
// set, otherwise one derived from the job ID.
func (j *Job) DedupKey() string {
	if j.Dedup != "" {
		return j.Dedup
	}
	return j.ID.String()
}

// CancelRequested reports whether the job's token (if any) is cancelled.
func (j *Job) CancelRequested() bool {
	return j.Token != nil && j.Token.Cancelled()
}
