// Package saga gives multi-step workflows all-or-nothing semantics
// without a transactional backend: each completed step registers a
// compensation, and on failure the stack unwinds strictly LIFO,
// continuing past individual compensation failures.
package saga

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Saga holds the compensation stack for one workflow attempt. Safe for
// concurrent registration (Parallel runs steps from multiple
// goroutines).
type Saga struct {
	mu            sync.Mutex
	compensations []func(ctx context.Context) error
	logger        *slog.Logger
}

// New creates an empty saga.
func New(logger *slog.Logger) *Saga {
	return &Saga{logger: logger}
}

// Run executes action; on success the compensation is pushed onto the
// stack. On failure nothing is pushed and the error propagates —
// a failed step has nothing to undo.
func (s *Saga) Run(ctx context.Context, action func(ctx context.Context) error, compensate func(ctx context.Context) error) error {
	if err := action(ctx); err != nil {
		return err
	}
	s.push(compensate)
	return nil
}

// RunResult executes a step producing a typed value. The compensation
// receives the captured result when the saga rolls back.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RunResult[T any](
	s *Saga,
	ctx context.Context,
	action func(ctx context.Context) (T, error),
	compensate func(ctx context.Context, result T) error,
) (T, error) {
	result, err := action(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	s.push(func(ctx context.Context) error {
		return compensate(ctx, result)
	})
	return result, nil
}

// Step pairs an action with its compensation for Parallel.
type Step struct {
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Parallel runs all steps concurrently. Each step that completes
// registers its compensation even when a sibling fails, so Rollback
// undoes exactly the work that happened. The first error cancels the
// group context and is returned.
func (s *Saga) Parallel(ctx context.Context, steps ...Step) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, step := range steps {
		g.Go(func() error {
			if err := step.Action(gctx); err != nil {
				return err
			}
			if step.Compensate != nil {
				s.push(step.Compensate)
			}
			return nil
		})
	}
	return g.Wait()
}

// Rollback pops and invokes every compensation in reverse registration
// order. Compensation failures are logged and collected, never fatal to
// the remaining rollback sequence. The stack is cleared regardless.
func (s *Saga) Rollback(ctx context.Context) error {
	s.mu.Lock()
	comps := s.compensations
	s.compensations = nil
	s.mu.Unlock()

	var errs []error
	for i := len(comps) - 1; i >= 0; i-- {
		if err := comps[i](ctx); err != nil {
			s.logger.Warn("saga compensation failed",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Commit clears the stack without running compensations: the workflow
// succeeded and there is nothing to undo.
func (s *Saga) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensations = nil
}

// Depth returns how many compensations are currently registered.
func (s *Saga) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.compensations)
}

func (s *Saga) push(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensations = append(s.compensations, fn)
}
