package loop

import (
	"time"

	"github.com/casualjim/flock/pkg/jsonx"
	"github.com/casualjim/flock/pkg/messages"
	"github.com/go-openapi/strfmt"
)

type pendingCall struct {
	id       string
	name     string
	blockIdx int
	args     jsonx.PartialObject
	state    *ToolCallState
}

// accumulator reduces the provider stream of one attempt into an assistant message.
type accumulator struct {
	blocks   []messages.ContentBlock
	calls    map[string]*pendingCall
	order    []string
	usage    messages.Usage
	streamed bool
}

func newAccumulator() *accumulator {
	return &accumulator{calls: make(map[string]*pendingCall)}
}

func (a *accumulator) closeThinking() {
	if n := len(a.blocks); n > 0 {
		if tb, ok := a.blocks[n-1].(messages.ThinkingBlock); ok && tb.CompletedAt.IsZero() {
			tb.CompletedAt = strfmt.DateTime(time.Now())
			a.blocks[n-1] = tb
		}
	}
}

func (a *accumulator) text(s string) {
	a.streamed = true
	if n := len(a.blocks); n > 0 {
		if tb, ok := a.blocks[n-1].(messages.TextBlock); ok {
			tb.Text += s
			a.blocks[n-1] = tb
			return
		}
	}
	a.closeThinking()
	a.blocks = append(a.blocks, messages.TextBlock{Text: s})
}

func (a *accumulator) thinking(s string) {
	a.streamed = true
	if n := len(a.blocks); n > 0 {
		if tb, ok := a.blocks[n-1].(messages.ThinkingBlock); ok {
			tb.Text += s
			a.blocks[n-1] = tb
			return
		}
	}
	a.blocks = append(a.blocks, messages.ThinkingBlock{Text: s, StartedAt: strfmt.DateTime(time.Now())})
}

func (a *accumulator) call(id, name string) *pendingCall {
	if pc, ok := a.calls[id]; ok {
		if pc.name == "" {
			pc.name = name
		}
		return pc
	}
	a.closeThinking()
	pc := &pendingCall{id: id, name: name, blockIdx: len(a.blocks)}
	a.blocks = append(a.blocks, messages.ToolUseBlock{ID: id, Name: name})
	a.calls[id] = pc
	a.order = append(a.order, id)
	return pc
}

func (a *accumulator) startCall(id, name string) {
	a.streamed = true
	a.call(id, name)
}

// argsDelta appends an argument fragment and returns the best-effort parse so far.
func (a *accumulator) argsDelta(id, delta string) map[string]any {
	a.streamed = true
	snapshot, _ := a.call(id, "").args.Write(delta)
	return snapshot
}

// endCall finalizes a call. input wins over the accumulated arguments when not nil.
// A repeated end for the same id returns the existing state.
func (a *accumulator) endCall(id, name string, input map[string]any) *ToolCallState {
	a.streamed = true
	pc := a.call(id, name)
	if pc.state != nil {
		return pc.state
	}
	if name != "" {
		pc.name = name
	}
	if input == nil {
		input = finalArgs(&pc.args)
	}
	a.blocks[pc.blockIdx] = messages.ToolUseBlock{ID: pc.id, Name: pc.name, Input: input}
	pc.state = &ToolCallState{ID: pc.id, Name: pc.name, Input: input, Status: StatusStreaming}
	return pc.state
}

func finalArgs(args *jsonx.PartialObject) map[string]any {
	if v, ok := jsonx.ParsePartial(args.String()); ok {
		return v
	}
	if v := args.Snapshot(); v != nil {
		return v
	}
	return map[string]any{}
}

// unfinished returns the ids of calls that never received an end event, in start order.
func (a *accumulator) unfinished() []string {
	var ids []string
	for _, id := range a.order {
		if a.calls[id].state == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// toolCalls returns the tool call states in emission order; only valid after every call ended.
func (a *accumulator) toolCalls() []*ToolCallState {
	out := make([]*ToolCallState, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.calls[id].state)
	}
	return out
}

func (a *accumulator) message() messages.ConversationMessage {
	a.closeThinking()
	msg := messages.Assistant(a.blocks...)
	if !a.usage.IsZero() {
		u := a.usage
		msg.Usage = &u
	}
	return msg
}
