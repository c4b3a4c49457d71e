package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/helixrun/conduit/ext"
	"github.com/helixrun/conduit/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/helixrun/conduit/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobSucceeded = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.JobTimedOut  = (*MetricsExtension)(nil)
	_ ext.JobQueued    = (*MetricsExtension)(nil)
	_ ext.JobPoisoned  = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters over the
// extension hooks. Register it to track dispatch rates, success and
// failure counts, retries, cancellations, timeouts, and the offline
// queue's queued/poisoned volumes. Per-execution latency lives in the
// metrics middleware, not here.
type MetricsExtension struct {
	started   metric.Int64Counter
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	cancelled metric.Int64Counter
	timedOut  metric.Int64Counter
	queued    metric.Int64Counter
	poisoned  metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name,
			metric.WithDescription(desc),
			metric.WithUnit("{job}"),
		)
		_ = err // noop fallback guaranteed by OTel API contract
		return c
	}
	return &MetricsExtension{
		started:   counter("conduit.job.started", "Jobs handed to the executor"),
		succeeded: counter("conduit.job.succeeded", "Jobs finished successfully"),
		failed:    counter("conduit.job.failed", "Jobs failed terminally"),
		retried:   counter("conduit.job.retried", "Job retry attempts"),
		cancelled: counter("conduit.job.cancelled", "Jobs stopped by their cancellation token"),
		timedOut:  counter("conduit.job.timedout", "Jobs that exceeded their timeout"),
		queued:    counter("conduit.job.queued", "Jobs persisted to the offline queue"),
		poisoned:  counter("conduit.job.poisoned", "Offline records quarantined after exhausting retries"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_name", j.Name))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.started.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.succeeded.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Duration) error {
	m.retried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobTimedOut implements ext.JobTimedOut.
func (m *MetricsExtension) OnJobTimedOut(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.timedOut.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Offline queue hooks ─────────────────────────────

// OnJobQueued implements ext.JobQueued.
func (m *MetricsExtension) OnJobQueued(ctx context.Context, j *job.Job) error {
	m.queued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobPoisoned implements ext.JobPoisoned.
func (m *MetricsExtension) OnJobPoisoned(ctx context.Context, dedupKey string, _ error) error {
	m.poisoned.Add(ctx, 1, metric.WithAttributes(attribute.String("dedup_key", dedupKey)))
	return nil
}
