package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
	assert.Equal(t, DefaultCapacity, New(-3).Capacity())
	assert.Equal(t, 5, New(5).Capacity())
}

func TestLimiter_Bound(t *testing.T) {
	l := New(3)
	var current, peak atomic.Int64

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
			defer l.Release()

			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Zero(t, l.InFlight(), "no leaked permits")
}

func TestLimiter_AcquireCancelled(t *testing.T) {
	l := New(1)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("acquire did not honour cancellation")
	}
	assert.Equal(t, 1, l.InFlight())

	l.Release()
	assert.Zero(t, l.InFlight())
	assert.True(t, l.TryAcquire(), "slot is free again after cancelled waiter")
	l.Release()
}

func TestLimiter_FIFO(t *testing.T) {
	l := New(1)
	require.NoError(t, l.Acquire(context.Background()))

	order := make(chan int, 3)
	for i := range 3 {
		go func() {
			if err := l.Acquire(context.Background()); err == nil {
				order <- i
				l.Release()
			}
		}()
		// make arrival order deterministic
		time.Sleep(10 * time.Millisecond)
	}

	l.Release()
	for want := range 3 {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("waiter never woke up")
		}
	}
}

func TestLimiter_OverRelease(t *testing.T) {
	l := New(1)
	assert.NotPanics(t, func() { l.Release() })
	assert.Zero(t, l.InFlight())

	require.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	l.Release()
	assert.Zero(t, l.InFlight())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire(), "extra release must not create a slot")
}
