package loop

import (
	"time"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/provider"
	"github.com/google/uuid"
)

// Reason explains why a loop ended.
type Reason string

const (
	ReasonCompleted     Reason = "completed"
	ReasonMaxIterations Reason = "max_iterations"
	ReasonAborted       Reason = "aborted"
	ReasonError         Reason = "error"
)

// Event is the sealed set of lifecycle events a loop emits.
type Event interface {
	loopEvent()
}

// LoopStart is always the first event.
type LoopStart struct {
	RunID     uuid.UUID
	AgentName string
}

// IterationStart opens an iteration, after queued messages were injected.
type IterationStart struct {
	Iteration int
}

// TextDelta is streamed answer text.
type TextDelta struct {
	Iteration int
	Text      string
}

// ThinkingDelta is streamed reasoning.
type ThinkingDelta struct {
	Iteration int
	Text      string
}

// ToolUseStreamingStart announces a tool call whose arguments are being generated.
type ToolUseStreamingStart struct {
	ID   string
	Name string
}

// ToolUseArgsDelta reports argument progress. Partial is the best-effort parse of the
// arguments so far and may be nil.
type ToolUseArgsDelta struct {
	ID      string
	Delta   string
	Partial map[string]any
}

// ToolUseGenerated reports a tool call whose arguments are complete.
type ToolUseGenerated struct {
	Call ToolCallState
}

// ToolCallApprovalNeeded is emitted before the loop waits for the approver.
type ToolCallApprovalNeeded struct {
	Call ToolCallState
}

// ToolCallStart is emitted once per call, before its ToolCallResult. An approved call is
// running at that point; a denied one is still pending approval and its result follows.
type ToolCallStart struct {
	Call ToolCallState
}

// ToolCallResult carries the final state of a call, including denials.
type ToolCallResult struct {
	Call ToolCallState
}

// MessageEnd reports usage and timing of one provider response.
type MessageEnd struct {
	Iteration  int
	Usage      messages.Usage
	Timing     provider.Timing
	StopReason string
}

// IterationEnd closes an iteration.
type IterationEnd struct {
	Iteration int
	ToolCalls int
}

// ContextCompressionStart is emitted before the history is compressed.
type ContextCompressionStart struct {
	Mode        CompressionMode
	InputTokens int64
}

// ContextCompressed is emitted after a successful compression. Before and After count
// messages; Blocks counts the blocks a prune dropped or emptied.
type ContextCompressed struct {
	Mode   CompressionMode
	Before int
	After  int
	Blocks int
}

// Error reports a provider failure. Retrying is set when the loop will try the same
// iteration again after Delay; the content streamed by the failed attempt is discarded.
type Error struct {
	Err      error
	Retrying bool
	Attempt  int
	Delay    time.Duration
}

// LoopEnd is the single terminal event.
type LoopEnd struct {
	Reason     Reason
	Iterations int
	// Messages is the final working history, caller history included.
	Messages []messages.ConversationMessage
	Usage    messages.Usage
	Err      error
	// Interrupted is set when the Interrupt hook stopped the loop.
	Interrupted bool
}

func (LoopStart) loopEvent()               {}
func (IterationStart) loopEvent()          {}
func (TextDelta) loopEvent()               {}
func (ThinkingDelta) loopEvent()           {}
func (ToolUseStreamingStart) loopEvent()   {}
func (ToolUseArgsDelta) loopEvent()        {}
func (ToolUseGenerated) loopEvent()        {}
func (ToolCallApprovalNeeded) loopEvent()  {}
func (ToolCallStart) loopEvent()           {}
func (ToolCallResult) loopEvent()          {}
func (MessageEnd) loopEvent()              {}
func (IterationEnd) loopEvent()            {}
func (ContextCompressionStart) loopEvent() {}
func (ContextCompressed) loopEvent()       {}
func (Error) loopEvent()                   {}
func (LoopEnd) loopEvent()                 {}

// Drain consumes events until the loop ends, calling fn for each one when fn is not nil,
// and returns the terminal event.
func Drain(events <-chan Event, fn func(Event)) LoopEnd {
	var end LoopEnd
	for ev := range events {
		if fn != nil {
			fn(ev)
		}
		if e, ok := ev.(LoopEnd); ok {
			end = e
		}
	}
	return end
}
