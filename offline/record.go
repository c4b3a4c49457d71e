// Package offline persists network-action jobs while connectivity is
// down and replays them when it returns. Records are deduplicated by
// key, claimed oldest-first under a serializing mutex, retried a
// bounded number of times, and quarantined as poison pills when the
// budget is exhausted.
package offline

import (
	"time"

	"github.com/helixrun/conduit/bus"
	"github.com/helixrun/conduit/id"
	"github.com/helixrun/conduit/job"
)

// Status is the lifecycle state of a queued record. Poisoned is
// terminal: the record is excluded from claims but kept for operator
// inspection.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPoisoned   Status = "poisoned"
)

// Record is the persisted representation of a queued network action.
// This is the only structure Conduit serializes across process
// restarts, so its shape must stay compatible across versions.
type Record struct {
	// ID identifies the record itself.
	ID id.RecordID `msgpack:"id" json:"id"`

	// JobID is the original job's ID, preserved so replayed executions
	// publish events under the correlation ID the dispatching
	// coordinator is still watching.
	JobID id.JobID `msgpack:"job_id" json:"job_id"`

	// DedupKey deduplicates submissions: at most one record per key.
	DedupKey string `msgpack:"dedup_key" json:"dedup_key"`

	// Name is the registered job type to replay through.
	Name string `msgpack:"name" json:"name"`

	// Payload is the job's msgpack-encoded payload, with any temp-file
	// references rewritten to durable paths by the FileSafety delegate.
	Payload []byte `msgpack:"payload" json:"payload"`

	// Metadata carries the job's metadata through persistence.
	Metadata map[string]string `msgpack:"metadata,omitempty" json:"metadata,omitempty"`

	Status     Status `msgpack:"status" json:"status"`
	RetryCount int    `msgpack:"retry_count" json:"retry_count"`
	LastError  string `msgpack:"last_error,omitempty" json:"last_error,omitempty"`

	// Timestamp is the enqueue time; the queue drains oldest first.
	Timestamp time.Time `msgpack:"timestamp" json:"timestamp"`
}

// Job rebuilds a dispatchable job from the record, bound to the given
// bus. The rebuilt job keeps the original ID so its events correlate.
func (r *Record) Job(b *bus.Bus) *job.Job {
	return &job.Job{
		ID:       r.JobID,
		Name:     r.Name,
		Payload:  r.Payload,
		Metadata: r.Metadata,
		Offline:  true,
		Dedup:    r.DedupKey,
		Bus:      b,
	}
}
