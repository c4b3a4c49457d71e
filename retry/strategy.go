// Package retry provides pure retry computation: pluggable backoff delay
// strategies and a Policy deciding whether a failed attempt may be
// retried. All types are stateless and safe for concurrent use.
package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retrying after failed
	// attempt n (0-indexed: attempt 0 is the first retry after the
	// initial failure). Negative attempts are a programming error and
	// panic rather than silently underflowing.
	Delay(attempt int) time.Duration
}

func checkAttempt(attempt int) {
	if attempt < 0 {
		panic(fmt.Sprintf("retry: negative attempt %d", attempt))
	}
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(attempt int) time.Duration {
	checkAttempt(attempt)
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^attempt, Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^attempt, capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	checkAttempt(attempt)
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt)))
	if e.Max > 0 && (d > e.Max || d < 0) {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Base * 2^attempt, Max)].
// This prevents thundering herd when many retries happen simultaneously.
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Base * 2^attempt, Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	checkAttempt(attempt)
	base := float64(e.Base) * math.Pow(2, float64(attempt))
	if e.Max > 0 && (base > float64(e.Max) || base < 0) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy returns the default backoff used by the executor:
// Exponential with 1s base and 30s max.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 30*time.Second)
}
