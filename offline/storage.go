package offline

import (
	"context"

	"github.com/helixrun/conduit/id"
)

// Storage persists offline queue records. Implementations must return
// conduit.ErrRecordNotFound for missing IDs and keep GetAllJobs in
// FIFO order by Timestamp.
//
// Implementations need not serialize claims; the Manager holds its own
// claim mutex. They must still be safe for concurrent reads and writes.
type Storage interface {
	SaveJob(ctx context.Context, rec *Record) error
	GetJob(ctx context.Context, recID id.RecordID) (*Record, error)

	// GetJobByDedupKey returns the record for the key, or
	// conduit.ErrRecordNotFound if no record holds it.
	GetJobByDedupKey(ctx context.Context, key string) (*Record, error)

	// GetAllJobs returns every record ordered by Timestamp, oldest
	// first.
	GetAllJobs(ctx context.Context) ([]*Record, error)

	UpdateJob(ctx context.Context, rec *Record) error
	RemoveJob(ctx context.Context, recID id.RecordID) error
	ClearAll(ctx context.Context) error
}

// Claimer is optionally implemented by storages that can atomically
// claim the oldest pending record themselves (for example with
// SELECT ... FOR UPDATE SKIP LOCKED). When the Manager's storage
// implements it, claims go through here instead of the generic
// read-modify-write path.
type Claimer interface {
	// ClaimNextPending marks the oldest pending record processing and
	// returns it, or conduit.ErrNoPendingJobs.
	ClaimNextPending(ctx context.Context) (*Record, error)
}

// FileSafety copies temp-file references in a payload to durable
// storage before the record is persisted, and deletes those copies once
// the record completes or is poisoned. OS temp directories may be
// purged at any time while a record waits.
type FileSafety interface {
	// SecureFiles returns a copy of the payload with any temp-file
	// paths rewritten to durable locations.
	SecureFiles(ctx context.Context, payload []byte) ([]byte, error)

	// CleanupFiles deletes the durable copies referenced by a payload
	// previously returned from SecureFiles.
	CleanupFiles(ctx context.Context, payload []byte) error
}
