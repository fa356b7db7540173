// Package future provides the single-value asynchronous result type used by
// all blob store operations. A Future settles exactly once, with either one
// success value or one error.
package future

import (
	"context"
	"sync"
)

// Void is the success payload of operations that produce no value.
type Void = struct{}

// Scheduler decides when a completion becomes observable. clock.Clock
// satisfies this interface.
type Scheduler interface {
	Schedule(fn func())
}

// Future holds the eventual outcome of an operation: one value or one error.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// New returns an unsettled Future and its completion function. The second
// and later calls to complete are no-ops.
func New[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.complete
}

func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
	})
}

// Resolved returns a Future already settled with v. Used for outcomes that
// must be observable synchronously, bypassing any scheduler.
func Resolved[T any](v T) *Future[T] {
	f, complete := New[T]()
	complete(v, nil)
	return f
}

// Rejected returns a Future already settled with err.
func Rejected[T any](err error) *Future[T] {
	f, complete := New[T]()
	var zero T
	complete(zero, err)
	return f
}

// Complete settles a new Future with the given outcome through the
// scheduler. With an inline scheduler the Future is settled on return; a
// deferred scheduler settles it when the scheduler decides to run the
// delivery.
func Complete[T any](s Scheduler, v T, err error) *Future[T] {
	f, complete := New[T]()
	s.Schedule(func() { complete(v, err) })
	return f
}

// Done returns a channel closed once the Future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the Future settles or ctx is canceled. Canceling the
// wait does not cancel the operation that produced the Future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
