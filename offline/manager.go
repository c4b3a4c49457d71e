package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/bus"
	"github.com/helixrun/conduit/connectivity"
	"github.com/helixrun/conduit/event"
	"github.com/helixrun/conduit/ext"
	"github.com/helixrun/conduit/id"
	"github.com/helixrun/conduit/job"
)

// Executor replays a queued job to its terminal event. Satisfied by
// *executor.Executor.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) (event.Event, error)
}

// Manager owns the offline queue: dedup upserts, serialized claims,
// retry counting, poison-pill quarantine, and rate-limited FIFO drain
// on connectivity restoration.
type Manager struct {
	storage    Storage
	files      FileSafety
	exec       Executor
	bus        *bus.Bus
	signal     connectivity.Signal
	extensions *ext.Registry
	limiter    *rate.Limiter
	maxRetries int
	logger     *slog.Logger

	// claimMu serializes ClaimNextPending so two concurrent drains can
	// never claim the same record.
	claimMu sync.Mutex

	// queueMu serializes the dedup lookup and save in QueueAction so two
	// concurrent submissions with the same key persist one record.
	queueMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithFileSafety installs the delegate that secures temp-file
// references before persistence.
func WithFileSafety(fs FileSafety) Option {
	return func(m *Manager) { m.files = fs }
}

// WithMaxRetries overrides the poison threshold (default 5).
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithDrainRate overrides replay pacing. perSecond <= 0 disables
// throttling entirely.
func WithDrainRate(perSecond float64, burst int) Option {
	return func(m *Manager) {
		if perSecond <= 0 {
			m.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithExtensions installs the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Manager) { m.extensions = r }
}

// NewManager creates an offline queue manager. The signal may be nil
// when Run is never used (drains triggered manually).
func NewManager(
	storage Storage,
	exec Executor,
	b *bus.Bus,
	signal connectivity.Signal,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	cfg := conduit.DefaultConfig()
	m := &Manager{
		storage:    storage,
		exec:       exec,
		bus:        b,
		signal:     signal,
		extensions: ext.NewRegistry(logger),
		limiter:    rate.NewLimiter(rate.Limit(cfg.DrainRate), cfg.DrainBurst),
		maxRetries: cfg.OfflineMaxRetries,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// QueueAction persists a job for later replay. A second submission with
// the same deduplication key is a no-op. File safety runs before
// persistence so the record never references a purgeable temp path.
func (m *Manager) QueueAction(ctx context.Context, j *job.Job) error {
	key := j.DedupKey()

	payload := j.Payload
	if m.files != nil {
		secured, err := m.files.SecureFiles(ctx, payload)
		if err != nil {
			return fmt.Errorf("secure files for %q: %w", key, err)
		}
		payload = secured
	}

	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	existing, err := m.storage.GetJobByDedupKey(ctx, key)
	if err != nil && !errors.Is(err, conduit.ErrRecordNotFound) {
		return fmt.Errorf("dedup lookup for %q: %w", key, err)
	}
	if existing != nil {
		// Duplicate submission. Drop the freshly secured copies; the
		// existing record keeps its own.
		if m.files != nil {
			if cleanErr := m.files.CleanupFiles(ctx, payload); cleanErr != nil {
				m.logger.Warn("cleanup of duplicate secured files failed",
					slog.String("dedup_key", key),
					slog.String("error", cleanErr.Error()),
				)
			}
		}
		m.logger.Debug("duplicate offline action ignored", slog.String("dedup_key", key))
		return nil
	}

	rec := &Record{
		ID:        id.NewRecordID(),
		JobID:     j.ID,
		DedupKey:  key,
		Name:      j.Name,
		Payload:   payload,
		Metadata:  j.Metadata,
		Status:    StatusPending,
		Timestamp: time.Now().UTC(),
	}
	if err := m.storage.SaveJob(ctx, rec); err != nil {
		return fmt.Errorf("persist offline action %q: %w", key, err)
	}

	m.extensions.EmitJobQueued(ctx, j)
	m.logger.Info("offline action queued",
		slog.String("dedup_key", key),
		slog.String("job_name", j.Name),
	)
	return nil
}

// ClaimNextPending atomically selects the oldest pending record and
// marks it processing. Concurrent callers never claim the same record.
// Returns conduit.ErrNoPendingJobs when the queue holds nothing
// claimable.
func (m *Manager) ClaimNextPending(ctx context.Context) (*Record, error) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()

	if c, ok := m.storage.(Claimer); ok {
		return c.ClaimNextPending(ctx)
	}

	recs, err := m.storage.GetAllJobs(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.Status != StatusPending {
			continue
		}
		rec.Status = StatusProcessing
		if err := m.storage.UpdateJob(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, conduit.ErrNoPendingJobs
}

// Remove deletes a completed record and its durable file copies.
func (m *Manager) Remove(ctx context.Context, rec *Record) error {
	if err := m.storage.RemoveJob(ctx, rec.ID); err != nil {
		return err
	}
	m.cleanupFiles(ctx, rec)
	return nil
}

// RecordFailure notes a failed replay attempt. Below the retry budget
// the record returns to pending for a future drain; at the budget it is
// poisoned: excluded from claims, kept for inspection, its file copies
// released, and a distinct failure event published so callers can roll
// back optimistic state.
func (m *Manager) RecordFailure(ctx context.Context, rec *Record, cause error) error {
	rec.RetryCount++
	rec.LastError = cause.Error()

	if rec.RetryCount < m.maxRetries {
		rec.Status = StatusPending
		if err := m.storage.UpdateJob(ctx, rec); err != nil {
			return err
		}
		m.logger.Warn("offline replay failed, will retry",
			slog.String("dedup_key", rec.DedupKey),
			slog.Int("retry_count", rec.RetryCount),
			slog.Int("max_retries", m.maxRetries),
			slog.String("error", cause.Error()),
		)
		return nil
	}

	rec.Status = StatusPoisoned
	if err := m.storage.UpdateJob(ctx, rec); err != nil {
		return err
	}

	poisonErr := fmt.Errorf("offline action %q after %d attempts (%v): %w",
		rec.DedupKey, rec.RetryCount, cause, conduit.ErrPoisoned)

	if m.bus != nil {
		failure := event.NewFailure(event.NewMeta(rec.JobID), rec.Name, poisonErr, rec.RetryCount)
		if err := m.bus.Publish(failure); err != nil {
			m.logger.Error("poison failure event publish failed",
				slog.String("dedup_key", rec.DedupKey),
				slog.String("error", err.Error()),
			)
		}
	}

	m.cleanupFiles(ctx, rec)
	m.extensions.EmitJobPoisoned(ctx, rec.DedupKey, poisonErr)
	m.logger.Error("offline action poisoned",
		slog.String("dedup_key", rec.DedupKey),
		slog.Int("retry_count", rec.RetryCount),
		slog.String("error", cause.Error()),
	)
	return nil
}

// Drain replays pending records in FIFO order until the queue is empty
// or the context ends. Replay is paced by the drain limiter so a large
// backlog does not saturate the network the moment connectivity
// returns.
func (m *Manager) Drain(ctx context.Context) error {
	for {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		rec, err := m.ClaimNextPending(ctx)
		if errors.Is(err, conduit.ErrNoPendingJobs) {
			return nil
		}
		if err != nil {
			return err
		}

		m.replay(ctx, rec)
	}
}

// replay executes one claimed record and settles it.
//
// Execution runs against a scoped bus so a failed attempt never reaches
// main-bus subscribers: a queued job carries one correlation ID across
// every retry, and each attempt's Failure would read as another
// terminal outcome for it. Only the final success is forwarded; the
// poison failure is published once by RecordFailure at the budget.
func (m *Manager) replay(ctx context.Context, rec *Record) {
	var staging *bus.Bus
	if m.bus != nil {
		staging = m.bus.Scoped()
	}

	ev, err := m.exec.Execute(ctx, rec.Job(staging))
	if err != nil {
		// Routing failure: the handler set changed since the record
		// was persisted. Counts against the retry budget like any
		// other failure.
		m.recordFailureLogged(ctx, rec, err)
		return
	}

	if failure, ok := ev.(event.Failure); ok {
		cause := failure.Cause
		if cause == nil {
			cause = errors.New(failure.Message)
		}
		m.recordFailureLogged(ctx, rec, cause)
		return
	}

	if err := m.Remove(ctx, rec); err != nil {
		m.logger.Error("failed to remove completed offline record",
			slog.String("dedup_key", rec.DedupKey),
			slog.String("error", err.Error()),
		)
	}

	if m.bus != nil {
		if pubErr := m.bus.Publish(ev); pubErr != nil {
			m.logger.Error("replay result publish failed",
				slog.String("dedup_key", rec.DedupKey),
				slog.String("error", pubErr.Error()),
			)
		}
	}
}

func (m *Manager) recordFailureLogged(ctx context.Context, rec *Record, cause error) {
	if err := m.RecordFailure(ctx, rec, cause); err != nil {
		m.logger.Error("failed to record offline replay failure",
			slog.String("dedup_key", rec.DedupKey),
			slog.String("error", err.Error()),
		)
	}
}

// Run watches the connectivity signal and drains the queue every time
// connectivity is restored. It returns when the context ends or the
// signal's change stream closes.
func (m *Manager) Run(ctx context.Context) error {
	if m.signal == nil {
		return errors.New("offline: Run requires a connectivity signal")
	}

	changes := m.signal.Changes(ctx)
	if m.signal.IsConnected() {
		m.drainLogged(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case connected, ok := <-changes:
			if !ok {
				return nil
			}
			if connected {
				m.drainLogged(ctx)
			}
		}
	}
}

func (m *Manager) drainLogged(ctx context.Context) {
	if err := m.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("offline drain failed", slog.String("error", err.Error()))
	}
}

// PendingCount returns how many records are claimable right now.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	recs, err := m.storage.GetAllJobs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (m *Manager) cleanupFiles(ctx context.Context, rec *Record) {
	if m.files == nil {
		return
	}
	if err := m.files.CleanupFiles(ctx, rec.Payload); err != nil {
		m.logger.Warn("durable file cleanup failed",
			slog.String("dedup_key", rec.DedupKey),
			slog.String("error", err.Error()),
		)
	}
}
