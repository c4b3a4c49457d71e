package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/retry"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := retry.NewConstant(5 * time.Second)
	for attempt := 0; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := retry.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},  // 1 * 2^0
		{1, 2 * time.Second},  // 1 * 2^1
		{2, 4 * time.Second},  // 1 * 2^2
		{3, 8 * time.Second},  // 1 * 2^3
		{4, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := retry.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(4); got != 10*time.Second {
		t.Errorf("Delay(4) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(40); got != 10*time.Second {
		t.Errorf("Delay(40) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponential_MonotonicallyNonDecreasing(t *testing.T) {
	e := retry.NewExponential(100*time.Millisecond, 30*time.Second)
	prev := time.Duration(-1)
	for attempt := 0; attempt < 20; attempt++ {
		d := e.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(%d) = %v decreased below %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestExponentialWithJitter_BoundedByCap(t *testing.T) {
	e := retry.NewExponentialWithJitter(time.Second, 5*time.Second)
	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := e.Delay(attempt)
			if d < 0 || d > 5*time.Second {
				t.Fatalf("Delay(%d) = %v outside [0, 5s]", attempt, d)
			}
		}
	}
}

func TestDelay_NegativeAttemptPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Delay(-1) did not panic")
		}
	}()
	retry.NewExponential(time.Second, time.Minute).Delay(-1)
}

func TestPolicy_CanRetryExhaustsAtMaxRetries(t *testing.T) {
	p := retry.NewPolicy(3)
	err := errors.New("boom")

	for attempt := 0; attempt < 3; attempt++ {
		if !p.CanRetry(err, attempt) {
			t.Errorf("CanRetry(err, %d) = false, want true", attempt)
		}
	}
	if p.CanRetry(err, 3) {
		t.Error("CanRetry(err, 3) = true, want false at MaxRetries")
	}
}

func TestPolicy_PredicateAndCancellation(t *testing.T) {
	retryable := errors.New("transient")
	p := &retry.Policy{
		MaxRetries: 5,
		Strategy:   retry.NewConstant(time.Millisecond),
		Predicate:  func(err error) bool { return errors.Is(err, retryable) },
	}

	if !p.CanRetry(retryable, 0) {
		t.Error("predicate-accepted error not retryable")
	}
	if p.CanRetry(errors.New("permanent"), 0) {
		t.Error("predicate-rejected error retryable")
	}
	// Cancellation never retries even when the predicate says yes.
	always := &retry.Policy{MaxRetries: 5}
	if always.CanRetry(conduit.ErrCancelled, 0) {
		t.Error("cancellation was retried")
	}
}

func TestPolicy_MaxRetriesOverridesPredicate(t *testing.T) {
	p := &retry.Policy{
		MaxRetries: 2,
		Predicate:  func(error) bool { return true },
	}
	if p.CanRetry(errors.New("x"), 2) {
		t.Error("CanRetry true at attempt == MaxRetries despite predicate")
	}
}
