// Package scheduler provides the bounded-concurrency primitive intake
// uses to cap how many chat events it handles at once, per spec.md §5
// ("within intake, multiple chat events are handled concurrently").
package scheduler

import "context"

// Semaphore is a channel-based counting semaphore for concurrency
// control, unchanged in shape from the original single-purpose
// implementation it is grounded on.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(cap int) *Semaphore {
	if cap <= 0 {
		cap = 1
	}
	return &Semaphore{ch: make(chan struct{}, cap)}
}

// TryAcquire attempts to acquire a slot without blocking, reporting
// whether it got one. Intake does not use it; it waits in Acquire.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire blocks until a slot is free or ctx is canceled. Intake's
// per-event goroutines use this to gate how many events they handle at
// once, rather than spawning unboundedly.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Must only be called after a successful
// TryAcquire or Acquire.
func (s *Semaphore) Release() {
	<-s.ch
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}

// Cap returns the total capacity.
func (s *Semaphore) Cap() int {
	return cap(s.ch)
}
