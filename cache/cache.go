// Package cache provides the cache-aware execution support: a Policy
// describing how a job's result is cached, a Provider orchestrating
// reads and writes over a pluggable Storage backend, a bounded in-memory
// LRU storage with TTL, and a cron-scheduled janitor sweeping expired
// entries.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Policy describes how a job's result interacts with the cache.
type Policy struct {
	// Key is the cache key the result is stored under.
	Key string

	// TTL is how long the entry stays fresh. Zero means no expiry.
	TTL time.Duration

	// ForceRefresh skips the cache read and always invokes the handler.
	ForceRefresh bool

	// Revalidate serves a cache hit immediately but still invokes the
	// handler so a fresh result follows (stale-while-revalidate).
	Revalidate bool
}

// Storage is the backend key-value contract. Implementations: the
// in-memory LRU storage in this package, and the Redis storage under
// store/redis. A ttl of zero means no expiry.
type Storage interface {
	Write(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Read(ctx context.Context, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, key string) error
	DeleteMatching(ctx context.Context, pred func(key string) bool) error
	Clear(ctx context.Context) error
}

// Provider wraps a Storage with the read/write/invalidation operations
// the executor uses. It is safe for concurrent use if its Storage is.
type Provider struct {
	storage Storage
	logger  *slog.Logger
}

// NewProvider creates a cache provider over the given storage.
func NewProvider(storage Storage, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{storage: storage, logger: logger}
}

// Read returns the cached value for key. Expired entries read as absent
// (the backend evicts them on read).
func (p *Provider) Read(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := p.storage.Read(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return value, ok, nil
}

// Write stores value under key with the given TTL.
func (p *Provider) Write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.storage.Write(ctx, key, value, ttl)
}

// Invalidate removes one key. Missing keys are a no-op.
func (p *Provider) Invalidate(ctx context.Context, key string) error {
	return p.storage.Delete(ctx, key)
}

// InvalidatePrefix removes every key with the given prefix. Handlers
// call this after a mutation touching a family of cached reads.
func (p *Provider) InvalidatePrefix(ctx context.Context, prefix string) error {
	return p.storage.DeleteMatching(ctx, func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// InvalidateMatching removes every key accepted by pred.
func (p *Provider) InvalidateMatching(ctx context.Context, pred func(key string) bool) error {
	return p.storage.DeleteMatching(ctx, pred)
}

// Clear removes all entries.
func (p *Provider) Clear(ctx context.Context) error {
	return p.storage.Clear(ctx)
}
