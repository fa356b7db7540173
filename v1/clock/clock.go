// Package clock provides the time source and scheduling hook injected into
// blob stores. The system clock delivers scheduled work inline; the virtual
// clock can be advanced programmatically so expiration tests do not depend
// on wall-clock delays.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time and the execution context through which
// asynchronous results are delivered.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Schedule queues fn for execution. The system clock runs fn inline;
	// a virtual clock in deferred mode holds it until time is advanced.
	Schedule(fn func())
}

type systemClock struct{}

// System returns the wall clock. Scheduled functions run inline.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time     { return time.Now() }
func (systemClock) Schedule(fn func()) { fn() }

// Virtual is a manually advanced Clock.
//
// By default scheduled functions run inline, like the system clock. With
// WithDeferredDelivery they queue until Advance or Flush is called, which
// lets a test observe the gap between invoking an operation and its result
// becoming available.
type Virtual struct {
	mu       sync.Mutex
	now      time.Time
	deferred bool
	pending  []func()
}

// VirtualOption configures a Virtual clock.
type VirtualOption func(*Virtual)

// WithDeferredDelivery queues scheduled functions until Advance or Flush.
func WithDeferredDelivery() VirtualOption {
	return func(v *Virtual) {
		v.deferred = true
	}
}

// NewVirtual returns a Virtual clock starting at the given instant.
func NewVirtual(start time.Time, opts ...VirtualOption) *Virtual {
	v := &Virtual{now: start}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Now implements Clock.Now.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Schedule implements Clock.Schedule.
func (v *Virtual) Schedule(fn func()) {
	v.mu.Lock()
	if v.deferred {
		v.pending = append(v.pending, fn)
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()
	fn()
}

// Advance moves the clock forward by d and runs any pending functions.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	v.mu.Unlock()
	v.Flush()
}

// Flush runs all pending functions without moving the clock.
func (v *Virtual) Flush() {
	for {
		v.mu.Lock()
		if len(v.pending) == 0 {
			v.mu.Unlock()
			return
		}
		fns := v.pending
		v.pending = nil
		v.mu.Unlock()
		// Run outside the lock: fn may schedule again.
		for _, fn := range fns {
			fn()
		}
	}
}
