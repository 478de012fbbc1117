// Package runstate provides the working state of a single agent run: the local copy of the
// conversation history the loop appends to, and the token usage it accumulated.
package runstate

import (
	"iter"
	"slices"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/pkg/uuidx"
	"github.com/google/uuid"
)

// Aggregator holds the working copy of a conversation and its usage statistics.
// The caller's history is cloned on creation and never mutated.
//
// An Aggregator is owned by one loop and is not safe for concurrent use.
type Aggregator struct {
	id        uuid.UUID                      // Unique identifier for this aggregator
	messages  []messages.ConversationMessage // Working history
	initLen   int                            // Length of the caller-provided history
	usage     messages.Usage                 // Cumulative usage over the run
	lastUsage messages.Usage                 // Usage reported for the most recent provider call
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{id: uuidx.New()}
}

// From creates an aggregator seeded with a copy of history.
func From(history []messages.ConversationMessage) *Aggregator {
	return &Aggregator{
		id:       uuidx.New(),
		messages: slices.Clone(history),
		initLen:  len(history),
	}
}

// ID returns the unique identifier of this aggregator.
func (a *Aggregator) ID() uuid.UUID {
	return a.id
}

// Len returns the total number of messages currently held by the aggregator.
func (a *Aggregator) Len() int {
	return len(a.messages)
}

// TurnLen returns the number of messages added since the aggregator was created.
func (a *Aggregator) TurnLen() int {
	return len(a.messages) - a.initLen
}

// Messages returns a copy of all messages in the aggregator.
func (a *Aggregator) Messages() []messages.ConversationMessage {
	return slices.Clone(a.messages)
}

// MessagesIter returns an iterator over all messages without copying them.
func (a *Aggregator) MessagesIter() iter.Seq2[int, messages.ConversationMessage] {
	return slices.All(a.messages)
}

// Appended returns a copy of the messages added after creation.
func (a *Aggregator) Appended() []messages.ConversationMessage {
	return slices.Clone(a.messages[a.initLen:])
}

// Last returns the most recent message, if any.
func (a *Aggregator) Last() (messages.ConversationMessage, bool) {
	if len(a.messages) == 0 {
		return messages.ConversationMessage{}, false
	}
	return a.messages[len(a.messages)-1], true
}

// Add appends messages in order.
func (a *Aggregator) Add(msgs ...messages.ConversationMessage) {
	a.messages = append(a.messages, msgs...)
}

// Replace swaps the whole history, as done by context compression.
// Messages that replaced the caller-provided prefix count as part of it.
func (a *Aggregator) Replace(msgs []messages.ConversationMessage) {
	appended := a.TurnLen()
	a.messages = slices.Clone(msgs)
	a.initLen = max(0, len(a.messages)-appended)
}

// Usage returns the cumulative usage for this run.
func (a *Aggregator) Usage() messages.Usage {
	return a.usage
}

// AddUsage records the usage reported by one provider call.
func (a *Aggregator) AddUsage(u messages.Usage) {
	a.usage.Add(u)
	a.lastUsage = u
}

// LastInputTokens returns the prompt size of the most recent provider call.
func (a *Aggregator) LastInputTokens() int64 {
	return a.lastUsage.ContextTokens()
}

// ResetInputTokens forgets the last prompt size, after the history was compressed.
func (a *Aggregator) ResetInputTokens() {
	a.lastUsage = messages.Usage{}
}
