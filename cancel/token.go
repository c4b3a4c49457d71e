// Package cancel provides the cooperative cancellation primitive used by
// executors and jobs. A Token sets a flag and invokes registered
// callbacks; it never forcibly interrupts a running handler. Handler
// bodies must poll the token (or select on Done) at safe points for
// timely cancellation.
package cancel

import (
	"context"
	"sync"

	"github.com/helixrun/conduit"
)

// Token is a cooperative cancellation signal. The zero value is not
// usable; create tokens with NewToken. Safe for concurrent use.
type Token struct {
	mu        sync.Mutex
	done      chan struct{}
	cancelled bool
	callbacks []func()
}

// NewToken creates an uncancelled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel sets the flag, closes Done, and invokes registered callbacks in
// registration order. Subsequent calls are no-ops.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	cbs := t.callbacks
	t.callbacks = nil
	close(t.done)
	t.mu.Unlock()

	for _, fn := range cbs {
		fn()
	}
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed on cancellation, for use in select.
func (t *Token) Done() <-chan struct{} { return t.done }

// Err returns conduit.ErrCancelled after cancellation, nil before.
func (t *Token) Err() error {
	if t.Cancelled() {
		return conduit.ErrCancelled
	}
	return nil
}

// OnCancel registers a callback to run on cancellation. If the token is
// already cancelled the callback runs immediately on the caller's
// goroutine.
func (t *Token) OnCancel(fn func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}

// Bind derives a context cancelled when either the parent or the token
// is cancelled. The returned stop function releases the watcher
// goroutine; call it when the guarded work completes.
func (t *Token) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cause := context.WithCancelCause(parent)
	stop := make(chan struct{})
	go func() {
		select {
		case <-t.done:
			cause(conduit.ErrCancelled)
		case <-ctx.Done():
		case <-stop:
		}
	}()
	var once sync.Once
	return ctx, func() {
		once.Do(func() { close(stop) })
		cause(nil)
	}
}
