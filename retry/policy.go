package retry

import (
	"context"
	"errors"
	"time"

	"github.com/helixrun/conduit"
)

// Policy decides whether and when a failed execution attempt is retried.
// It is a pure computation with no side effects.
type Policy struct {
	// MaxRetries is the maximum number of retries after the initial
	// attempt. Zero means never retry.
	MaxRetries int

	// Strategy computes the backoff delay per attempt. Nil uses
	// DefaultStrategy.
	Strategy Strategy

	// Predicate decides whether an error is retryable. Nil retries
	// every error. Cancellation is never retried regardless of the
	// predicate.
	Predicate func(error) bool
}

// NewPolicy creates a policy retrying up to maxRetries times with the
// default exponential backoff.
func NewPolicy(maxRetries int) *Policy {
	return &Policy{MaxRetries: maxRetries, Strategy: DefaultStrategy()}
}

// Delay returns the backoff before retry attempt n (0-indexed).
func (p *Policy) Delay(attempt int) time.Duration {
	s := p.Strategy
	if s == nil {
		s = DefaultStrategy()
	}
	return s.Delay(attempt)
}

// CanRetry reports whether the given failed attempt may be retried.
// False once attempt reaches MaxRetries, regardless of the predicate.
// Cancellation errors are never retried.
func (p *Policy) CanRetry(err error, attempt int) bool {
	checkAttempt(attempt)
	if attempt >= p.MaxRetries {
		return false
	}
	if errors.Is(err, conduit.ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	if p.Predicate != nil {
		return p.Predicate(err)
	}
	return true
}
