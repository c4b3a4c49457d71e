// Package executor provides the uniform execution contract wrapped
// around every registered handler: error boundary, timeout race, retry
// with backoff, cooperative cancellation, cache-aware execution, and
// progress reporting.
//
// The central guarantee is that one dispatch yields exactly one
// terminal event. Every failure mode inside Execute — handler errors,
// panics, timeouts, cancellation — is converted into a published
// outcome; nothing propagates into the caller's stack.
//
// Timeout is a race, not preemption: when a job's timeout fires the
// executor stops waiting and reports ErrTimeout, but the handler
// goroutine may keep running in the background until it returns.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/cache"
	"github.com/helixrun/conduit/event"
	"github.com/helixrun/conduit/ext"
	"github.com/helixrun/conduit/job"
	"github.com/helixrun/conduit/middleware"
)

// Executor runs jobs through the middleware chain and the registered
// handler, applying the execution contract uniformly to every job type.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	cache      *cache.Provider
	mw         middleware.Middleware
	logger     *slog.Logger
}

// New creates an Executor. The cache provider may be nil, in which case
// cache policies on jobs are ignored.
func New(
	registry *job.Registry,
	extensions *ext.Registry,
	cacheProvider *cache.Provider,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		cache:      cacheProvider,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs one job to its terminal event, publishing every event on
// the job's bus. The returned event is the terminal outcome already
// published.
//
// The only error return is conduit.ErrHandlerNotFound: a routing
// failure surfaces immediately to the dispatcher and the job never
// reaches the bus. Every other failure becomes a published Failure
// event and a nil error.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (event.Event, error) {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		return nil, fmt.Errorf("job %q: %w", j.Name, conduit.ErrHandlerNotFound)
	}

	// A token cancelled before dispatch means the handler never runs.
	if j.Token != nil && j.Token.Cancelled() {
		failure := e.publishFailure(j, conduit.ErrCancelled, 0)
		e.extensions.EmitJobCancelled(ctx, j)
		return failure, nil
	}

	if j.Data != nil {
		if ev, done := e.serveDataStrategy(ctx, j, handler); done {
			return ev, nil
		}
	}

	return e.run(ctx, j, handler), nil
}

// serveDataStrategy emits the placeholder event if configured, then
// tries the cache. It reports done=true when a cache hit fully answers
// the dispatch; with Revalidate set the cached event is published but
// execution continues to refresh the entry.
func (e *Executor) serveDataStrategy(ctx context.Context, j *job.Job, h *job.Handler) (event.Event, bool) {
	if j.Data.Placeholder != nil {
		ev, err := h.Decode(event.NewMeta(j.ID), j.Data.Placeholder, event.SourceOptimistic)
		if err != nil {
			e.logger.Warn("placeholder decode failed",
				slog.String("job_name", j.Name),
				slog.String("error", err.Error()),
			)
		} else {
			e.publish(j, ev)
		}
	}

	pol := j.Data.Cache
	if pol == nil || pol.ForceRefresh || e.cache == nil {
		return nil, false
	}

	value, ok, err := e.cache.Read(ctx, pol.Key)
	if err != nil {
		e.logger.Warn("cache read failed",
			slog.String("job_name", j.Name),
			slog.String("cache_key", pol.Key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	ev, err := h.Decode(event.NewMeta(j.ID), value, event.SourceCached)
	if err != nil {
		// A stale encoding in the cache must not fail the dispatch.
		e.logger.Warn("cached value decode failed, treating as miss",
			slog.String("job_name", j.Name),
			slog.String("cache_key", pol.Key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	e.publish(j, ev)
	if pol.Revalidate {
		// The cached event answers the dispatch now; the caller keeps
		// going so a fresh result refreshes the cache behind it.
		return ev, false
	}

	e.extensions.EmitJobSucceeded(ctx, j, 0)
	return ev, true
}

// run drives the invoke/retry loop to a terminal event.
func (e *Executor) run(ctx context.Context, j *job.Job, h *job.Handler) event.Event {
	runCtx := ctx
	if j.Token != nil {
		var stop func()
		runCtx, stop = j.Token.Bind(ctx)
		defer stop()
	}
	runCtx = withReporter(runCtx, func(fraction float64, message string) {
		e.ReportProgress(j, fraction, message)
	})

	e.extensions.EmitJobStarted(ctx, j)
	start := time.Now()

	attempt := 0
	for {
		encoded, ev, err := e.invokeOnce(runCtx, j, h)
		if err == nil {
			e.writeCache(ctx, j, encoded)
			e.publish(j, ev)
			e.extensions.EmitJobSucceeded(ctx, j, time.Since(start))
			return ev
		}

		if e.wasCancelled(j, err) {
			failure := e.publishFailure(j, conduit.ErrCancelled, attempt+1)
			e.extensions.EmitJobCancelled(ctx, j)
			return failure
		}

		if j.Retry != nil && j.Retry.CanRetry(err, attempt) {
			delay := j.Retry.Delay(attempt)
			e.extensions.EmitJobRetrying(ctx, j, attempt+1, delay)
			e.logger.Info("job retrying after failure",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", j.Retry.MaxRetries),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			if !e.backoff(runCtx, delay) {
				failure := e.publishFailure(j, conduit.ErrCancelled, attempt+1)
				e.extensions.EmitJobCancelled(ctx, j)
				return failure
			}
			attempt++
			continue
		}

		if errors.Is(err, conduit.ErrTimeout) {
			e.extensions.EmitJobTimedOut(ctx, j, j.Timeout)
		} else {
			e.extensions.EmitJobFailed(ctx, j, err)
		}
		return e.publishFailure(j, err, attempt+1)
	}
}

// invocation carries one invoke's outcome across the timeout race.
type invocation struct {
	encoded []byte
	ev      event.Event
	err     error
}

// invokeOnce runs the middleware chain and handler a single time,
// racing it against the job's timeout when one is set.
func (e *Executor) invokeOnce(ctx context.Context, j *job.Job, h *job.Handler) ([]byte, event.Event, error) {
	invoke := func(ctx context.Context) ([]byte, event.Event, error) {
		var encoded []byte
		var ev event.Event
		terminal := func(ctx context.Context) error {
			var err error
			encoded, ev, err = h.Invoke(ctx, j)
			return err
		}
		err := e.mw(ctx, j, terminal)
		return encoded, ev, err
	}

	if j.Timeout <= 0 {
		return invoke(ctx)
	}

	raceCtx, cancelRace := context.WithTimeout(ctx, j.Timeout)
	defer cancelRace()

	done := make(chan invocation, 1)
	go func() {
		inv := invocation{}
		inv.encoded, inv.ev, inv.err = invoke(raceCtx)
		done <- inv
	}()

	select {
	case inv := <-done:
		if inv.err != nil && errors.Is(inv.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil, e.timeoutErr(j)
		}
		return inv.encoded, inv.ev, inv.err
	case <-raceCtx.Done():
		if ctx.Err() != nil {
			// Parent cancelled or expired; not this job's timeout.
			return nil, nil, ctx.Err()
		}
		return nil, nil, e.timeoutErr(j)
	}
}

func (e *Executor) timeoutErr(j *job.Job) error {
	return fmt.Errorf("job %q after %s: %w", j.Name, j.Timeout, conduit.ErrTimeout)
}

// wasCancelled distinguishes cooperative cancellation from every other
// failure. Cancellation is never retried.
func (e *Executor) wasCancelled(j *job.Job, err error) bool {
	if j.Token != nil && j.Token.Cancelled() {
		return true
	}
	return errors.Is(err, conduit.ErrCancelled) || errors.Is(err, context.Canceled)
}

// backoff sleeps for the retry delay, returning false if the context is
// cancelled first.
func (e *Executor) backoff(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeCache persists a successful result under the job's cache policy.
func (e *Executor) writeCache(ctx context.Context, j *job.Job, encoded []byte) {
	if e.cache == nil || j.Data == nil || j.Data.Cache == nil || encoded == nil {
		return
	}
	pol := j.Data.Cache
	if err := e.cache.Write(ctx, pol.Key, encoded, pol.TTL); err != nil {
		e.logger.Warn("cache write failed",
			slog.String("job_name", j.Name),
			slog.String("cache_key", pol.Key),
			slog.String("error", err.Error()),
		)
	}
}

// ReportProgress publishes a progress event for the job. Any number of
// progress events may precede the terminal event.
func (e *Executor) ReportProgress(j *job.Job, fraction float64, message string) {
	e.publish(j, event.NewProgress(event.NewMeta(j.ID), fraction, message))
}

// InvalidateKey removes one cache entry. For use inside handlers after
// a mutation.
func (e *Executor) InvalidateKey(ctx context.Context, key string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx, key)
}

// InvalidatePrefix removes all cache entries whose key starts with
// prefix.
func (e *Executor) InvalidatePrefix(ctx context.Context, prefix string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.InvalidatePrefix(ctx, prefix)
}

// InvalidateMatching removes all cache entries whose key satisfies pred.
func (e *Executor) InvalidateMatching(ctx context.Context, pred func(key string) bool) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.InvalidateMatching(ctx, pred)
}

// publish sends an event to the job's bus. Publish failures are logged,
// never propagated; the terminal-event guarantee is about producing the
// event, and a closed bus in strict mode is a caller lifecycle bug.
func (e *Executor) publish(j *job.Job, ev event.Event) {
	if j.Bus == nil {
		return
	}
	if err := j.Bus.Publish(ev); err != nil {
		e.logger.Error("event publish failed",
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// publishFailure builds, publishes, and returns the terminal failure
// event for the job.
func (e *Executor) publishFailure(j *job.Job, cause error, attempts int) event.Event {
	failure := event.NewFailure(event.NewMeta(j.ID), j.Name, cause, attempts)
	e.publish(j, failure)
	return failure
}
