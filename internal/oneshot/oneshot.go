// Package oneshot provides a single-use completion handle connecting a
// producer that resolves a value once with a consumer that waits for it.
package oneshot

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDropped is returned by Wait when the producer closed the handle
	// without delivering a value.
	ErrDropped = errors.New("oneshot: sender dropped")
	// ErrConsumed is returned by Wait when the value was already taken.
	ErrConsumed = errors.New("oneshot: already consumed")
)

// Promise is resolved at most once. The first Resolve or Close wins and
// later calls are ignored.
type Promise[T any] struct {
	once      sync.Once
	done      chan struct{}
	abandon   sync.Once
	abandoned chan struct{}

	mu       sync.Mutex
	val      T
	err      error
	consumed bool
}

// New returns an unresolved promise.
func New[T any]() *Promise[T] {
	return &Promise[T]{
		done:      make(chan struct{}),
		abandoned: make(chan struct{}),
	}
}

// Resolve delivers a value or an error. It reports whether this call
// resolved the promise.
func (p *Promise[T]) Resolve(v T, err error) bool {
	won := false
	p.once.Do(func() {
		p.mu.Lock()
		p.val, p.err = v, err
		p.mu.Unlock()
		close(p.done)
		won = true
	})
	return won
}

// Close resolves the promise with ErrDropped unless it already resolved.
func (p *Promise[T]) Close() {
	var zero T
	p.Resolve(zero, ErrDropped)
}

// Done is closed once the promise resolves.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Abandon records that nobody will wait for the value anymore.
func (p *Promise[T]) Abandon() {
	p.abandon.Do(func() { close(p.abandoned) })
}

// Abandoned is closed once the consumer gave up on the promise.
func (p *Promise[T]) Abandoned() <-chan struct{} { return p.abandoned }

// IsAbandoned reports whether Abandon was called.
func (p *Promise[T]) IsAbandoned() bool {
	select {
	case <-p.abandoned:
		return true
	default:
		return false
	}
}

// Wait blocks until the promise resolves or ctx is done, then takes the
// value. A value can be taken only once.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-p.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed {
		return zero, ErrConsumed
	}
	p.consumed = true
	v, err := p.val, p.err
	p.val = zero
	return v, err
}
