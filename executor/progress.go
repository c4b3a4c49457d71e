package executor

import "context"

type reporterKey struct{}

// withReporter attaches a progress callback to the context before the
// handler runs.
func withReporter(ctx context.Context, fn func(fraction float64, message string)) context.Context {
	return context.WithValue(ctx, reporterKey{}, fn)
}

// Progress reports partial completion from inside a handler. It is a
// no-op outside executor-managed contexts, so handlers stay testable
// without a running executor.
func Progress(ctx context.Context, fraction float64, message string) {
	if fn, ok := ctx.Value(reporterKey{}).(func(float64, string)); ok {
		fn(fraction, message)
	}
}
