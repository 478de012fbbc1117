// Package limiter bounds how many sub-agents run at the same time.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 2

// Limiter is a counting semaphore with FIFO, cancellable acquisition.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
}

// New creates a limiter with n slots. n <= 0 selects DefaultCapacity.
func New(n int) *Limiter {
	if n <= 0 {
		n = DefaultCapacity
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), capacity: n}
}

// Acquire blocks until a slot is free or ctx is done, in which case it returns ctx's error
// and holds no slot. Waiters are served in arrival order.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inFlight.Add(1)
	return nil
}

// TryAcquire takes a slot only if one is free right now.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inFlight.Add(1)
	return true
}

// Release frees one slot and wakes the next waiter. Releasing more than was acquired is a no-op.
func (l *Limiter) Release() {
	for {
		n := l.inFlight.Load()
		if n <= 0 {
			return
		}
		if l.inFlight.CompareAndSwap(n, n-1) {
			l.sem.Release(1)
			return
		}
	}
}

// InFlight returns the number of held slots.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Capacity returns the number of slots.
func (l *Limiter) Capacity() int {
	return l.capacity
}
