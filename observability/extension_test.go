package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/helixrun/conduit/id"
	"github.com/helixrun/conduit/job"
	"github.com/helixrun/conduit/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:   id.NewJobID(),
		Name: "send-email",
	}
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64] data type", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobStarted(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobStarted(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "conduit.job.started"); got != 1 {
		t.Errorf("conduit.job.started: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobSucceeded(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobSucceeded(context.Background(), newTestJob(), 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "conduit.job.succeeded"); got != 1 {
		t.Errorf("conduit.job.succeeded: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobFailed(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobFailed(context.Background(), newTestJob(), errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "conduit.job.failed"); got != 1 {
		t.Errorf("conduit.job.failed: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobRetrying(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobRetrying(context.Background(), newTestJob(), 1, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "conduit.job.retried"); got != 1 {
		t.Errorf("conduit.job.retried: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobCancelled(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobCancelled(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "conduit.job.cancelled"); got != 1 {
		t.Errorf("conduit.job.cancelled: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobTimedOut(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobTimedOut(context.Background(), newTestJob(), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "conduit.job.timedout"); got != 1 {
		t.Errorf("conduit.job.timedout: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobQueued(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobQueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "conduit.job.queued"); got != 1 {
		t.Errorf("conduit.job.queued: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobPoisoned(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobPoisoned(context.Background(), "profile:42", errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "conduit.job.poisoned"); got != 1 {
		t.Errorf("conduit.job.poisoned: want 1, got %d", got)
	}
}

func TestMetricsExtension_AccumulatesAcrossJobs(t *testing.T) {
	e, reader := newTestExtension()
	for range 3 {
		if err := e.OnJobStarted(context.Background(), newTestJob()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := counterValue(t, reader, "conduit.job.started"); got != 3 {
		t.Errorf("conduit.job.started: want 3, got %d", got)
	}
}
