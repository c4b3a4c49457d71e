// Package observability provides an OpenTelemetry-based metrics
// extension for Conduit. The MetricsExtension implements lifecycle hooks
// to record system-wide counters for job start, success, failure, retry,
// cancellation, timeout, and offline-queue events.
//
// For per-execution tracing and latency, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
