package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/pkg/runstate"
	"github.com/casualjim/flock/pkg/slogx"
	"github.com/casualjim/flock/pkg/uuidx"
	"github.com/casualjim/flock/provider"
	"github.com/casualjim/flock/retry"
	"github.com/casualjim/flock/tool"
	"github.com/google/uuid"
)

// ErrNoProvider is reported when the configuration has no provider.
var ErrNoProvider = errors.New("loop: provider is required")

// Run starts an agent loop over a copy of history and returns its event stream.
//
// The channel is unbuffered and has a single consumer, which must read until it is closed.
// LoopStart is always the first event and exactly one LoopEnd is always the last.
// Once ctx is done every other event may be dropped.
func Run(ctx context.Context, history []messages.ConversationMessage, cfg Config) <-chan Event {
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuidx.New()
	}
	r := &runner{
		cfg:    cfg,
		out:    make(chan Event),
		thread: runstate.From(history),
		retry:  cfg.retryConfig(),
		log:    cfg.logger(),
	}
	go r.run(ctx)
	return r.out
}

type runner struct {
	cfg       Config
	out       chan Event
	thread    *runstate.Aggregator
	retry     retry.Config
	log       *slog.Logger
	iteration int
}

func (r *runner) run(ctx context.Context) {
	defer close(r.out)
	r.out <- LoopStart{RunID: r.cfg.RunID, AgentName: r.cfg.AgentName}

	end := r.guardedLoop(ctx)
	end.Iterations = r.iteration
	end.Messages = r.thread.Messages()
	end.Usage = r.thread.Usage()

	r.log.DebugContext(ctx, "agent loop ended",
		slog.String("reason", string(end.Reason)),
		slog.Int("iterations", end.Iterations),
	)
	r.out <- end
}

// guardedLoop turns a panic anywhere in the loop into an error end.
func (r *runner) guardedLoop(ctx context.Context) (end LoopEnd) {
	defer func() {
		if p := recover(); p != nil {
			r.log.ErrorContext(ctx, "agent loop panicked", slog.Any("panic", p))
			end = LoopEnd{Reason: ReasonError, Err: fmt.Errorf("agent loop panicked: %v", p)}
		}
	}()
	if r.cfg.Provider == nil {
		return LoopEnd{Reason: ReasonError, Err: ErrNoProvider}
	}
	return r.loop(ctx)
}

// emit delivers ev unless ctx is done. It reports whether the event was delivered.
func (r *runner) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case r.out <- ev:
		return true
	}
}

func (r *runner) aborted(ctx context.Context) LoopEnd {
	return LoopEnd{Reason: ReasonAborted, Err: context.Cause(ctx)}
}

func (r *runner) loop(ctx context.Context) LoopEnd {
	for {
		r.maybeCompress(ctx)

		if ctx.Err() != nil {
			return r.aborted(ctx)
		}

		if r.cfg.Queue != nil {
			if pending := r.cfg.Queue.Drain(); len(pending) > 0 {
				r.thread.Add(pending...)
			}
		}

		if r.cfg.MaxIterations > 0 && r.iteration >= r.cfg.MaxIterations {
			return LoopEnd{Reason: ReasonMaxIterations}
		}
		r.iteration++
		r.emit(ctx, IterationStart{Iteration: r.iteration})

		if r.cfg.Interrupt != nil && r.cfg.Interrupt(r.iteration) {
			return LoopEnd{Reason: ReasonCompleted, Interrupted: true}
		}

		acc, err := r.callProvider(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.aborted(ctx)
			}
			r.log.ErrorContext(ctx, "provider call failed", slogx.Error(err))
			r.emit(ctx, Error{Err: err})
			return LoopEnd{Reason: ReasonError, Err: err}
		}

		r.thread.Add(acc.message())
		calls := acc.toolCalls()
		if len(calls) == 0 {
			r.emit(ctx, IterationEnd{Iteration: r.iteration})
			return LoopEnd{Reason: ReasonCompleted}
		}

		results, aborted := r.runTools(ctx, calls)
		r.thread.Add(messages.ToolResults(results...))
		if aborted {
			return r.aborted(ctx)
		}
		r.emit(ctx, IterationEnd{Iteration: r.iteration, ToolCalls: len(calls)})
	}
}

// callProvider runs one provider call, retrying the same iteration with a fresh stream
// and a fresh accumulator as the retry policy allows.
func (r *runner) callProvider(ctx context.Context) (*accumulator, error) {
	for attempt := 0; ; attempt++ {
		acc := newAccumulator()
		err := r.consume(ctx, acc)
		if err == nil {
			return acc, nil
		}
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}

		d := r.retry.Decide(err, attempt, acc.streamed)
		if !d.Retry {
			return nil, err
		}
		r.log.WarnContext(ctx, "retrying provider call",
			slogx.Error(err),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", d.Delay),
			slog.String("reason", d.Reason),
		)
		r.emit(ctx, Error{Err: err, Retrying: true, Attempt: attempt + 1, Delay: d.Delay})
		if err := retry.Wait(ctx, d.Delay); err != nil {
			return nil, err
		}
	}
}

func (r *runner) consume(ctx context.Context, acc *accumulator) error {
	events, err := r.cfg.Provider.SendMessage(ctx, provider.Request{
		RunID:        r.cfg.RunID,
		SystemPrompt: r.cfg.SystemPrompt,
		Messages:     r.thread.Messages(),
		Tools:        r.cfg.definitions(),
		Config:       r.cfg.ProviderConfig,
	})
	if err != nil {
		return err
	}

	for {
		var (
			ev provider.StreamEvent
			ok bool
		)
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case ev, ok = <-events:
		}
		if !ok {
			break
		}

		switch e := ev.(type) {
		case provider.ThinkingDelta:
			acc.thinking(e.Text)
			r.emit(ctx, ThinkingDelta{Iteration: r.iteration, Text: e.Text})
		case provider.TextDelta:
			acc.text(e.Text)
			r.emit(ctx, TextDelta{Iteration: r.iteration, Text: e.Text})
		case provider.ToolCallStart:
			acc.startCall(e.ID, e.Name)
			r.emit(ctx, ToolUseStreamingStart{ID: e.ID, Name: e.Name})
		case provider.ToolCallDelta:
			partial := acc.argsDelta(e.ID, e.ArgumentsDelta)
			r.emit(ctx, ToolUseArgsDelta{ID: e.ID, Delta: e.ArgumentsDelta, Partial: partial})
		case provider.ToolCallEnd:
			r.generated(ctx, acc.endCall(e.ID, e.Name, e.Input))
		case provider.MessageEnd:
			acc.usage.Add(e.Usage)
			r.thread.AddUsage(e.Usage)
			r.emit(ctx, MessageEnd{Iteration: r.iteration, Usage: e.Usage, Timing: e.Timing, StopReason: e.StopReason})
		case provider.Error:
			return e
		default:
			r.log.WarnContext(ctx, "ignoring unknown stream event", slog.String("type", fmt.Sprintf("%T", ev)))
		}
	}

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	for _, id := range acc.unfinished() {
		r.log.WarnContext(ctx, "stream ended without tool call end, using accumulated arguments", slogx.ToolCall(id))
		r.generated(ctx, acc.endCall(id, "", nil))
	}
	return nil
}

func (r *runner) execContext(callID string) tool.ExecContext {
	return tool.ExecContext{
		AgentName:     r.cfg.AgentName,
		RunID:         r.cfg.RunID.String(),
		ToolCallID:    callID,
		WorkingFolder: r.cfg.WorkingFolder,
	}
}

func (r *runner) generated(ctx context.Context, call *ToolCallState) {
	if r.cfg.Tools != nil {
		call.RequiresApproval = r.cfg.Tools.RequiresApproval(ctx, call.Name, call.Input, r.execContext(call.ID))
	}
	r.emit(ctx, ToolUseGenerated{Call: *call})
}

// runTools executes calls in emission order. When ctx is done before a call starts, that
// call and every later one get an aborted placeholder result.
func (r *runner) runTools(ctx context.Context, calls []*ToolCallState) ([]messages.ToolResultBlock, bool) {
	results := make([]messages.ToolResultBlock, 0, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			for _, rest := range calls[i:] {
				_ = rest.Fail(AbortedMessage)
				results = append(results, rest.ResultBlock())
			}
			return results, true
		}
		r.runTool(ctx, call)
		results = append(results, call.ResultBlock())
	}
	return results, false
}

func (r *runner) runTool(ctx context.Context, call *ToolCallState) {
	if call.RequiresApproval {
		_ = call.Transition(StatusPendingApproval)
		r.emit(ctx, ToolCallApprovalNeeded{Call: *call})

		approved, err := r.approve(ctx, *call)
		if !approved {
			msg := DeniedMessage
			if ctx.Err() != nil {
				msg = AbortedMessage
			} else if err != nil {
				r.log.WarnContext(ctx, "approval failed", slogx.ToolCall(call.ID), slogx.Error(err))
			}
			r.emit(ctx, ToolCallStart{Call: *call})
			_ = call.Fail(msg)
			r.emit(ctx, ToolCallResult{Call: *call})
			return
		}
	}

	_ = call.Transition(StatusRunning)
	r.emit(ctx, ToolCallStart{Call: *call})

	res, err := r.execute(ctx, call)
	switch {
	case err != nil:
		_ = call.Fail(err.Error())
	case res.IsError:
		_ = call.Fail(res.Content)
	default:
		_ = call.Complete(res.Content)
	}
	r.emit(ctx, ToolCallResult{Call: *call})
}

func (r *runner) approve(ctx context.Context, call ToolCallState) (bool, error) {
	if r.cfg.Approver == nil {
		return false, nil
	}
	return r.cfg.Approver.Approve(ctx, call)
}

func (r *runner) execute(ctx context.Context, call *ToolCallState) (res tool.Result, err error) {
	if r.cfg.Tools == nil {
		return tool.Result{}, fmt.Errorf("%w: %s", tool.ErrUnknownTool, call.Name)
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.ErrorContext(ctx, "tool panicked", slogx.ToolCall(call.ID), slog.String("tool", call.Name), slog.Any("panic", p))
			res, err = tool.Result{}, fmt.Errorf("tool %s panicked: %v", call.Name, p)
		}
	}()
	return r.cfg.Tools.Execute(ctx, call.Name, call.Input, r.execContext(call.ID))
}
