package event_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/helixrun/conduit"
	"github.com/helixrun/conduit/event"
	"github.com/helixrun/conduit/id"
)

func TestIsTerminal(t *testing.T) {
	meta := event.NewMeta(id.NewJobID())

	tests := []struct {
		name string
		ev   event.Event
		want bool
	}{
		{"fresh result", event.NewResult(meta, "sync", 42, event.SourceFresh), true},
		{"cached result", event.NewResult(meta, "sync", 42, event.SourceCached), true},
		{"optimistic result", event.NewResult(meta, "sync", 42, event.SourceOptimistic), false},
		{"progress", event.NewProgress(meta, 0.5, "halfway"), false},
		{"failure", event.NewFailure(meta, "sync", errors.New("boom"), 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := event.IsTerminal(tt.ev); got != tt.want {
				t.Errorf("IsTerminal(%T) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want event.FailureKind
	}{
		{"business", errors.New("validation failed"), event.KindBusiness},
		{"cancelled sentinel", conduit.ErrCancelled, event.KindCancelled},
		{"wrapped cancelled", fmt.Errorf("run: %w", conduit.ErrCancelled), event.KindCancelled},
		{"context cancelled", context.Canceled, event.KindCancelled},
		{"timeout sentinel", conduit.ErrTimeout, event.KindTimeout},
		{"deadline exceeded", context.DeadlineExceeded, event.KindTimeout},
		{"handler not found", conduit.ErrHandlerNotFound, event.KindHandlerNotFound},
		{"poisoned", fmt.Errorf("record x: %w", conduit.ErrPoisoned), event.KindPoisoned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := event.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewFailure_CarriesCauseAndMessage(t *testing.T) {
	cause := errors.New("boom")
	f := event.NewFailure(event.NewMeta(id.NewJobID()), "sync", cause, 3)

	if f.Cause != cause {
		t.Error("cause not preserved")
	}
	if f.Message != "boom" {
		t.Errorf("message = %q, want %q", f.Message, "boom")
	}
	if f.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", f.Attempts)
	}
}

func TestMeta_CorrelationRoundTrip(t *testing.T) {
	corr := id.NewJobID()
	meta := event.NewMeta(corr)
	if meta.CorrelationID() != corr {
		t.Error("correlation ID not preserved")
	}
	if meta.OccurredAt().IsZero() {
		t.Error("timestamp not set")
	}
}
