package cache_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/helixrun/conduit/cache"
)

func TestMemoryStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := cache.NewMemoryStorage(10)

	if err := s.Write(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok, err := s.Read(ctx, "k")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ok {
		t.Fatal("Read ok = false, want true before TTL")
	}
	if string(got) != "v" {
		t.Errorf("Read = %q, want %q", got, "v")
	}
}

func TestMemoryStorage_ExpiredReadIsAbsentAndEvicts(t *testing.T) {
	ctx := context.Background()
	s := cache.NewMemoryStorage(10)

	if err := s.Write(ctx, "k", []byte("v"), time.Nanosecond); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, ok, err := s.Read(ctx, "k")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Error("Read ok = true after TTL elapsed, want false")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after expired read, want 0 (entry evicted)", s.Len())
	}
}

func TestMemoryStorage_LRUEvictsLeastRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	s := cache.NewMemoryStorage(2)

	_ = s.Write(ctx, "a", []byte("1"), 0)
	_ = s.Write(ctx, "b", []byte("2"), 0)

	// Touch "a" so "b" becomes least recently accessed.
	if _, ok, _ := s.Read(ctx, "a"); !ok {
		t.Fatal("read a")
	}

	_ = s.Write(ctx, "c", []byte("3"), 0)

	if _, ok, _ := s.Read(ctx, "b"); ok {
		t.Error("entry b survived eviction, want least-recently-accessed evicted")
	}
	if _, ok, _ := s.Read(ctx, "a"); !ok {
		t.Error("entry a evicted despite recent access")
	}
	if _, ok, _ := s.Read(ctx, "c"); !ok {
		t.Error("entry c missing")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2 (bound respected)", s.Len())
	}
}

func TestMemoryStorage_Sweep(t *testing.T) {
	ctx := context.Background()
	s := cache.NewMemoryStorage(10)

	_ = s.Write(ctx, "stale", []byte("1"), time.Nanosecond)
	_ = s.Write(ctx, "fresh", []byte("2"), time.Hour)
	time.Sleep(5 * time.Millisecond)

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d after sweep, want 1", s.Len())
	}
}

func TestProvider_InvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	p := cache.NewProvider(cache.NewMemoryStorage(10), slog.Default())

	_ = p.Write(ctx, "user:1", []byte("a"), 0)
	_ = p.Write(ctx, "user:2", []byte("b"), 0)
	_ = p.Write(ctx, "order:1", []byte("c"), 0)

	if err := p.InvalidatePrefix(ctx, "user:"); err != nil {
		t.Fatalf("InvalidatePrefix: %v", err)
	}

	if _, ok, _ := p.Read(ctx, "user:1"); ok {
		t.Error("user:1 survived prefix invalidation")
	}
	if _, ok, _ := p.Read(ctx, "user:2"); ok {
		t.Error("user:2 survived prefix invalidation")
	}
	if _, ok, _ := p.Read(ctx, "order:1"); !ok {
		t.Error("order:1 removed by unrelated prefix invalidation")
	}
}

func TestProvider_InvalidateMatchingAndClear(t *testing.T) {
	ctx := context.Background()
	p := cache.NewProvider(cache.NewMemoryStorage(10), slog.Default())

	_ = p.Write(ctx, "a1", []byte("x"), 0)
	_ = p.Write(ctx, "b1", []byte("y"), 0)

	if err := p.InvalidateMatching(ctx, func(key string) bool { return key == "a1" }); err != nil {
		t.Fatalf("InvalidateMatching: %v", err)
	}
	if _, ok, _ := p.Read(ctx, "a1"); ok {
		t.Error("a1 survived matching invalidation")
	}

	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := p.Read(ctx, "b1"); ok {
		t.Error("b1 survived Clear")
	}
}

func TestNewJanitor_RejectsBadSchedule(t *testing.T) {
	_, err := cache.NewJanitor(cache.NewMemoryStorage(1), "not a schedule", slog.Default())
	if err == nil {
		t.Error("NewJanitor accepted an invalid cron expression")
	}
}

func TestJanitor_SweepsOnSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := cache.NewMemoryStorage(10)
	_ = s.Write(ctx, "stale", []byte("1"), time.Nanosecond)

	j, err := cache.NewJanitor(s, "@every 10ms", slog.Default())
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	go j.Run(ctx)

	deadline := time.After(2 * time.Second)
	for s.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("janitor did not sweep expired entry in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
