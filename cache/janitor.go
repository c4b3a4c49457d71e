package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Sweeper is implemented by storages that can proactively evict expired
// entries. MemoryStorage implements it; backends with native expiry
// (Redis) do not need to.
type Sweeper interface {
	Sweep(ctx context.Context) (removed int, err error)
}

// janitorParser supports standard 5-field cron and descriptors like "@every 30s".
var janitorParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Janitor sweeps expired cache entries on a cron schedule, so TTL expiry
// also reclaims memory for keys that are never read again.
type Janitor struct {
	sweeper  Sweeper
	schedule cronlib.Schedule
	logger   *slog.Logger
}

// NewJanitor creates a janitor sweeping on the given cron expression
// (e.g. "@every 30s" or "*/5 * * * *").
func NewJanitor(sweeper Sweeper, schedule string, logger *slog.Logger) (*Janitor, error) {
	sched, err := janitorParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("cache: parse janitor schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{sweeper: sweeper, schedule: sched, logger: logger}, nil
}

// Run sweeps on schedule until ctx is cancelled. It blocks; run it on
// its own goroutine.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		removed, err := j.sweeper.Sweep(ctx)
		if err != nil {
			j.logger.Error("cache sweep failed", slog.String("error", err.Error()))
			continue
		}
		if removed > 0 {
			j.logger.Debug("cache sweep evicted expired entries", slog.Int("removed", removed))
		}
	}
}
