package breaker

import (
	"log/slog"
	"testing"
	"time"
)

func TestAllow_UnderLimit(t *testing.T) {
	b := New(slog.Default(), WithLimit(3))

	for i := 0; i < 3; i++ {
		if !b.Allow("event.A") {
			t.Fatalf("event %d under the limit was blocked", i+1)
		}
	}
}

func TestNew_NilLoggerFallsBack(t *testing.T) {
	b := New(nil, WithLimit(1))

	// The second Allow warns; it must use the default logger, not panic.
	b.Allow("event.A")
	if b.Allow("event.A") {
		t.Fatal("event beyond the limit was allowed")
	}
}

func TestAllow_DropsBeyondLimit(t *testing.T) {
	b := New(slog.Default(), WithLimit(3))

	for i := 0; i < 3; i++ {
		b.Allow("event.A")
	}
	for i := 0; i < 5; i++ {
		if b.Allow("event.A") {
			t.Fatal("event beyond the limit was allowed")
		}
	}
}

func TestAllow_TypesAreIndependent(t *testing.T) {
	b := New(slog.Default(), WithLimit(2))

	b.Allow("event.A")
	b.Allow("event.A")
	if b.Allow("event.A") {
		t.Fatal("A over limit was allowed")
	}
	if !b.Allow("event.B") {
		t.Fatal("B was blocked by A's counter")
	}
}

func TestAllow_WindowTumbles(t *testing.T) {
	clock := time.Unix(1000, 0)
	b := New(slog.Default(),
		WithLimit(1),
		withClock(func() time.Time { return clock }),
	)

	if !b.Allow("event.A") {
		t.Fatal("first event blocked")
	}
	if b.Allow("event.A") {
		t.Fatal("second event in window allowed")
	}

	clock = clock.Add(time.Second)
	if !b.Allow("event.A") {
		t.Fatal("counter did not reset after the window tumbled")
	}
}

func TestAllow_PerTypeOverride(t *testing.T) {
	b := New(slog.Default(),
		WithLimit(10),
		WithTypeLimit("event.Chatty", 1),
	)

	if !b.Allow("event.Chatty") {
		t.Fatal("first chatty event blocked")
	}
	if b.Allow("event.Chatty") {
		t.Fatal("chatty override not applied")
	}
	for i := 0; i < 10; i++ {
		if !b.Allow("event.Other") {
			t.Fatalf("default-limit type blocked at %d", i+1)
		}
	}
}

func TestAllow_DefaultLimit(t *testing.T) {
	b := New(slog.Default())

	allowed := 0
	for i := 0; i < 60; i++ {
		if b.Allow("event.A") {
			allowed++
		}
	}
	if allowed != 50 {
		t.Errorf("allowed = %d, want default limit 50", allowed)
	}
}
