package coordinator_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/breaker"
	"github.com/helixrun/conduit/bus"
	"github.com/helixrun/conduit/connectivity"
	"github.com/helixrun/conduit/coordinator"
	"github.com/helixrun/conduit/event"
	"github.com/helixrun/conduit/executor"
	"github.com/helixrun/conduit/ext"
	"github.com/helixrun/conduit/id"
	"github.com/helixrun/conduit/job"
	"github.com/helixrun/conduit/middleware"
	"github.com/helixrun/conduit/offline"
	"github.com/helixrun/conduit/router"
	"github.com/helixrun/conduit/store/memory"
)

// tally is the test coordinator state: a fold over observed events.
type tally struct {
	direct  int
	passive int
	values  []string
}

func foldTally(s tally, ev event.Event, direct bool) tally {
	if direct {
		s.direct++
	} else {
		s.passive++
	}
	if r, ok := ev.(event.Result[string]); ok {
		s.values = append(s.values, r.Value)
	}
	return s
}

type fixture struct {
	bus        *bus.Bus
	registry   *job.Registry
	dispatcher *router.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.Default()
	b := bus.New(logger)
	registry := job.NewRegistry()
	exec := executor.New(registry, ext.NewRegistry(logger), nil, logger,
		middleware.Recover(logger),
	)
	d := router.New(registry, exec, b, logger)

	job.RegisterDefinition(registry, job.NewDefinition("echo",
		func(_ context.Context, s string) (string, error) { return s, nil },
	))
	return &fixture{bus: b, registry: registry, dispatcher: d}
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCoordinator_DirectClassification(t *testing.T) {
	f := newFixture(t)
	c := coordinator.New(tally{}, f.dispatcher, f.bus, foldTally, slog.Default())
	defer c.Dispose()

	h, err := c.Dispatch(context.Background(), job.New("echo", job.MustEncodeValue("hi")))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := h.Await(awaitCtx(t)); err != nil {
		t.Fatalf("await: %v", err)
	}

	s := c.State()
	if s.direct != 1 {
		t.Errorf("direct = %d, want 1", s.direct)
	}
	if s.passive != 0 {
		t.Errorf("passive = %d, want 0", s.passive)
	}
	if c.ActiveCount() != 0 {
		t.Errorf("active count = %d after terminal event, want 0", c.ActiveCount())
	}
}

func TestCoordinator_PassiveClassification(t *testing.T) {
	f := newFixture(t)
	c := coordinator.New(tally{}, f.dispatcher, f.bus, foldTally, slog.Default())
	defer c.Dispose()

	// An event this coordinator never asked for.
	ev := event.NewResult(event.NewMeta(id.NewJobID()), "echo", "elsewhere", event.SourceFresh)
	if err := f.bus.Publish(ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	s := c.State()
	if s.passive != 1 {
		t.Errorf("passive = %d, want 1", s.passive)
	}
	if s.direct != 0 {
		t.Errorf("direct = %d, want 0", s.direct)
	}
}

func TestCoordinator_SameCorrelationIsPassiveAfterTerminal(t *testing.T) {
	f := newFixture(t)
	c := coordinator.New(tally{}, f.dispatcher, f.bus, foldTally, slog.Default())
	defer c.Dispose()

	j := job.New("echo", job.MustEncodeValue("once"))
	h, err := c.Dispatch(context.Background(), j)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := h.Await(awaitCtx(t)); err != nil {
		t.Fatalf("await: %v", err)
	}

	// A replayed event under a retired correlation ID routes passive.
	if err := f.bus.Publish(event.NewResult(event.NewMeta(j.ID), "echo", "again", event.SourceFresh)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	s := c.State()
	if s.direct != 1 || s.passive != 1 {
		t.Errorf("direct = %d passive = %d, want 1 and 1", s.direct, s.passive)
	}
}

func TestCoordinator_BreakerDropsBeforeOnEvent(t *testing.T) {
	f := newFixture(t)
	brk := breaker.New(slog.Default(), breaker.WithLimit(2))
	c := coordinator.New(tally{}, f.dispatcher, f.bus, foldTally, slog.Default(),
		coordinator.WithBreaker[tally](brk),
	)
	defer c.Dispose()

	for i := 0; i < 5; i++ {
		ev := event.NewResult(event.NewMeta(id.NewJobID()), "echo", "spam", event.SourceFresh)
		if err := f.bus.Publish(ev); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	s := c.State()
	if got := s.direct + s.passive; got != 2 {
		t.Errorf("onEvent invoked %d times, want 2 (breaker limit)", got)
	}
}

func TestCoordinator_StatesStream(t *testing.T) {
	f := newFixture(t)
	c := coordinator.New(tally{}, f.dispatcher, f.bus, foldTally, slog.Default())
	defer c.Dispose()

	states := c.States()

	h, err := c.Dispatch(context.Background(), job.New("echo", job.MustEncodeValue("streamed")))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := h.Await(awaitCtx(t)); err != nil {
		t.Fatalf("await: %v", err)
	}

	select {
	case s := <-states:
		if len(s.values) == 0 || s.values[len(s.values)-1] != "streamed" {
			t.Errorf("unexpected streamed state: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("state stream delivered nothing")
	}
}

func TestCoordinator_DisposeStopsEverything(t *testing.T) {
	f := newFixture(t)
	c := coordinator.New(tally{}, f.dispatcher, f.bus, foldTally, slog.Default())

	states := c.States()
	c.Dispose()

	// Dispatch after disposal fails instead of silently leaking.
	_, err := c.Dispatch(context.Background(), job.New("echo", job.MustEncodeValue("late")))
	if !errors.Is(err, conduit.ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}

	// Events after disposal never reach onEvent.
	ev := event.NewResult(event.NewMeta(id.NewJobID()), "echo", "ignored", event.SourceFresh)
	if err := f.bus.Publish(ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if s := c.State(); s.direct+s.passive != 0 {
		t.Errorf("disposed coordinator folded %d events", s.direct+s.passive)
	}

	// State streams are closed.
	if _, ok := <-states; ok {
		t.Error("state stream still open after dispose")
	}

	// Dispose is idempotent.
	c.Dispose()
}

func TestCoordinator_NilLoggerFallsBack(t *testing.T) {
	f := newFixture(t)
	c := coordinator.New(tally{}, f.dispatcher, f.bus, foldTally, nil)
	defer c.Dispose()

	// Flood one event type past the breaker limit; the drop warning
	// must go to the default logger, not panic on a nil one.
	for i := 0; i < conduit.DefaultConfig().BreakerLimit+5; i++ {
		ev := event.NewResult(event.NewMeta(id.NewJobID()), "echo", "flood", event.SourceFresh)
		if err := f.bus.Publish(ev); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	if got := c.State().passive; got != conduit.DefaultConfig().BreakerLimit {
		t.Errorf("folded %d events, want breaker limit %d", got, conduit.DefaultConfig().BreakerLimit)
	}
}

func TestCoordinator_OnEventDispatchesFollowUp(t *testing.T) {
	f := newFixture(t)

	// The fold reacts to one job's result by dispatching another, the
	// feedback shape the breaker exists to bound. It must complete
	// rather than deadlock on the coordinator's own locks.
	var c *coordinator.Coordinator[tally]
	fold := func(s tally, ev event.Event, direct bool) tally {
		s = foldTally(s, ev, direct)
		if r, ok := ev.(event.Result[string]); ok && r.Value == "first" {
			if _, err := c.Dispatch(context.Background(), job.New("echo", job.MustEncodeValue("second"))); err != nil {
				t.Errorf("follow-up dispatch: %v", err)
			}
		}
		return s
	}
	c = coordinator.New(tally{}, f.dispatcher, f.bus, fold, slog.Default())
	defer c.Dispose()

	if _, err := c.Dispatch(context.Background(), job.New("echo", job.MustEncodeValue("first"))); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.State()
		if len(s.values) == 2 {
			if s.values[0] != "first" || s.values[1] != "second" {
				t.Errorf("values = %v, want [first second]", s.values)
			}
			if s.direct != 2 {
				t.Errorf("direct = %d, want 2", s.direct)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("follow-up never folded: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCoordinator_OnEventDispatchesNetworkActionOffline(t *testing.T) {
	logger := slog.Default()
	b := bus.New(logger)
	registry := job.NewRegistry()
	exec := executor.New(registry, ext.NewRegistry(logger), nil, logger,
		middleware.Recover(logger),
	)
	signal := connectivity.NewManual(false)
	mgr := offline.NewManager(memory.New(), exec, b, signal, logger)
	d := router.New(registry, exec, b, logger,
		router.WithConnectivity(signal),
		router.WithOfflineManager(mgr),
	)
	job.RegisterDefinition(registry, job.NewDefinition("echo",
		func(_ context.Context, s string) (string, error) { return s, nil },
	))
	job.RegisterDefinition(registry, job.NewDefinition("sync",
		func(_ context.Context, s string) (string, error) { return s, nil },
	))

	// The fold queues a network action while disconnected; the router
	// publishes the optimistic event from inside the fold's own bus
	// delivery. The nested publish must be delivered, not deadlock.
	var c *coordinator.Coordinator[tally]
	fold := func(s tally, ev event.Event, direct bool) tally {
		s = foldTally(s, ev, direct)
		if r, ok := ev.(event.Result[string]); ok && r.Value == "trigger" {
			followUp := job.New("sync", job.MustEncodeValue("queued"),
				job.WithDedupKey("sync:queued"),
			)
			if _, err := c.Dispatch(context.Background(), followUp); err != nil {
				t.Errorf("offline dispatch: %v", err)
			}
		}
		return s
	}
	c = coordinator.New(tally{}, d, b, fold, logger)
	defer c.Dispose()

	if _, err := c.Dispatch(context.Background(), job.New("echo", job.MustEncodeValue("trigger"))); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.State()
		if s.direct >= 2 {
			// Terminal echo result plus the optimistic placeholder; the
			// optimistic event is transient so the action stays active.
			if c.ActiveCount() != 1 {
				t.Errorf("active count = %d, want 1 pending network action", c.ActiveCount())
			}
			n, err := mgr.PendingCount(context.Background())
			if err != nil {
				t.Fatalf("pending count: %v", err)
			}
			if n != 1 {
				t.Errorf("pending records = %d, want 1", n)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("optimistic event never folded: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCoordinator_DispatchErrorRetiresActiveID(t *testing.T) {
	f := newFixture(t)
	c := coordinator.New(tally{}, f.dispatcher, f.bus, foldTally, slog.Default())
	defer c.Dispose()

	_, err := c.Dispatch(context.Background(), job.New("unregistered", nil))
	if !errors.Is(err, conduit.ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
	if c.ActiveCount() != 0 {
		t.Errorf("failed dispatch left %d active IDs", c.ActiveCount())
	}
}
