// Package queue provides the mailbox through which messages reach a running agent loop.
// Producers push at any time; the loop drains only between iterations.
package queue

import (
	"sync"

	"github.com/casualjim/flock/pkg/messages"
)

// Queue is a FIFO buffer of pending conversation messages. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending []messages.ConversationMessage
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends messages in order.
func (q *Queue) Push(msgs ...messages.ConversationMessage) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, msgs...)
	q.mu.Unlock()
}

// Drain returns every pending message in push order and empties the queue.
// It returns nil when nothing is pending.
func (q *Queue) Drain() []messages.ConversationMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
