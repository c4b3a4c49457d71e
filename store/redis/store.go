// Package redis implements cache.Storage on Redis, for hosts that want
// job results shared across processes or surviving restarts. Entries
// rely on Redis's native TTL expiry, so the cache janitor is not needed
// with this backend.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	provider := cache.NewProvider(s, logger)
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/helixrun/conduit/cache"
)

// keyPrefix namespaces every cache entry so Conduit never collides with
// the host application's own keys.
const keyPrefix = "conduit:cache:"

// Compile-time interface check.
var _ cache.Storage = (*Store)(nil)

// Store implements cache.Storage backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Redis-backed cache storage. The caller owns the Redis
// client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Write stores a value. A zero ttl means no expiry.
func (s *Store) Write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("conduit/redis: write %q: %w", key, err)
	}
	return nil
}

// Read returns the value for key. Expired or absent keys read as
// (nil, false, nil).
func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("conduit/redis: read %q: %w", key, err)
	}
	return value, true, nil
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("conduit/redis: delete %q: %w", key, err)
	}
	return nil
}

// DeleteMatching removes every key the predicate accepts. The predicate
// sees cache keys without the Redis namespace prefix.
func (s *Store) DeleteMatching(ctx context.Context, pred func(key string) bool) error {
	return s.scan(ctx, func(fullKey string) (bool, error) {
		return pred(fullKey[len(keyPrefix):]), nil
	})
}

// Clear removes every Conduit cache entry, leaving the rest of the
// database untouched.
func (s *Store) Clear(ctx context.Context) error {
	return s.scan(ctx, func(string) (bool, error) { return true, nil })
}

// scan iterates all namespaced keys with SCAN and deletes those the
// filter accepts. SCAN keeps large caches from blocking Redis the way
// KEYS would.
func (s *Store) scan(ctx context.Context, del func(fullKey string) (bool, error)) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("conduit/redis: scan: %w", err)
		}

		var doomed []string
		for _, k := range keys {
			ok, err := del(k)
			if err != nil {
				return err
			}
			if ok {
				doomed = append(doomed, k)
			}
		}
		if len(doomed) > 0 {
			if err := s.client.Del(ctx, doomed...).Err(); err != nil {
				return fmt.Errorf("conduit/redis: delete matched: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
