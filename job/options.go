package job

import (
	"time"

	"github.com/helixrun/conduit/cache"
	"github.com/helixrun/conduit/cancel"
	"github.com/helixrun/conduit/retry"
)

// Option configures a Job at creation time.
type Option func(*Job)

// WithTimeout bounds how long the caller waits for the handler.
func WithTimeout(d time.Duration) Option {
	return func(j *Job) { j.Timeout = d }
}

// WithRetry sets the retry policy.
func WithRetry(p *retry.Policy) Option {
	return func(j *Job) { j.Retry = p }
}

// WithToken attaches a cooperative cancellation token.
func WithToken(t *cancel.Token) Option {
	return func(j *Job) { j.Token = t }
}

// WithMetadata attaches caller-supplied key/value pairs.
func WithMetadata(md map[string]string) Option {
	return func(j *Job) { j.Metadata = md }
}

// WithCachePolicy sets the cache policy, creating a data strategy if
// the job has none yet.
func WithCachePolicy(p cache.Policy) Option {
	return func(j *Job) {
		if j.Data == nil {
			j.Data = &DataStrategy{}
		}
		j.Data.Cache = &p
	}
}

// WithPlaceholder sets the msgpack-encoded placeholder value emitted as
// an optimistic event before the handler runs. Encode typed values with
// EncodeValue.
func WithPlaceholder(encoded []byte) Option {
	return func(j *Job) {
		if j.Data == nil {
			j.Data = &DataStrategy{}
		}
		j.Data.Placeholder = encoded
	}
}

// AsNetworkAction marks the job for offline queueing when disconnected.
func AsNetworkAction() Option {
	return func(j *Job) { j.Offline = true }
}

// WithDedupKey sets the offline-queue deduplication key and marks the
// job as a network action.
func WithDedupKey(key string) Option {
	return func(j *Job) {
		j.Offline = true
		j.Dedup = key
	}
}
