package team

import (
	"strings"
	"sync"
	"time"
)

// DefaultFlushInterval bounds how often streamed text is published.
const DefaultFlushInterval = 250 * time.Millisecond

// textThrottle coalesces streamed text into fewer member updates. The first buffered chunk
// arms a timer, so text is published at most one interval after it arrived even when the
// stream goes quiet. The timer fires on its own goroutine.
type textThrottle struct {
	interval time.Duration
	flush    func(string)

	mu      sync.Mutex
	pending strings.Builder
	timer   *time.Timer
}

func newTextThrottle(interval time.Duration, flush func(string)) *textThrottle {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &textThrottle{interval: interval, flush: flush}
}

// Add buffers text until the next flush.
func (t *textThrottle) Add(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending.WriteString(text)
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval, t.Flush)
	}
}

// Flush publishes whatever is buffered and disarms the timer. flush is called with the lock
// held so updates keep their order.
func (t *textThrottle) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.pending.Len() == 0 {
		return
	}
	text := t.pending.String()
	t.pending.Reset()
	t.flush(text)
}
