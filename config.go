package conduit

import "time"

// Config holds process-wide defaults for the runtime. Individual
// components accept overrides through functional options.
type Config struct {
	// BreakerLimit is the default number of events of one type a
	// coordinator will handle per one-second window before dropping.
	BreakerLimit int

	// OfflineMaxRetries is how many claim-execute cycles an offline job
	// may fail before being poisoned.
	OfflineMaxRetries int

	// CacheMaxEntries bounds the cache provider's entry count. Least
	// recently accessed entries are evicted beyond this bound.
	CacheMaxEntries int

	// DrainRate is the maximum sustained offline replays per second
	// once connectivity returns. Zero disables throttling.
	DrainRate float64

	// DrainBurst is the token-bucket burst size for drain throttling.
	DrainBurst int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BreakerLimit:      50,
		OfflineMaxRetries: 5,
		CacheMaxEntries:   1000,
		DrainRate:         20,
		DrainBurst:        5,
		ShutdownTimeout:   30 * time.Second,
	}
}
