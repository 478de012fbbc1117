package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/flock/bus"
	"github.com/casualjim/flock/loop"
	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/pkg/slogx"
	"github.com/casualjim/flock/pkg/stdx"
	"github.com/casualjim/flock/provider"
	"github.com/casualjim/flock/queue"
	"github.com/casualjim/flock/retry"
	"github.com/casualjim/flock/subagent"
	"github.com/casualjim/flock/tool"
	"github.com/go-openapi/strfmt"
)

const (
	// DefaultLead is the member id of the lead agent.
	DefaultLead = "lead"
	// ReportLimit bounds the size of a completion report.
	ReportLimit = 4000
	// DefaultMaxIterations applies to teammates without their own budget.
	DefaultMaxIterations = 50
)

// StopReason tells how a teammate ended.
type StopReason string

const (
	StopCompleted StopReason = "completed"
	StopAborted   StopReason = "aborted"
	StopError     StopReason = "error"
	StopShutdown  StopReason = "shutdown"
)

// Config describes one teammate.
type Config struct {
	// ID is the member id other members address messages to.
	ID string
	// Lead receives the completion report, DefaultLead when empty.
	Lead string
	// Prompt is the initial instruction.
	Prompt string
	// TaskID is a task the teammate must claim before it starts. Without one the teammate
	// claims the oldest claimable task, if any.
	TaskID         string
	SystemPrompt   string
	MaxIterations  int
	Provider       provider.Provider
	ProviderConfig provider.Config
	Tools          tool.Registry
	WorkingFolder  string
	Retry          *retry.Config
	FlushInterval  time.Duration
	Logger         *slog.Logger
}

// Outcome summarizes a finished teammate. It is written once, when the teammate stops.
type Outcome struct {
	MemberID   string                    `json:"member_id"`
	Reason     StopReason                `json:"reason"`
	TaskID     string                    `json:"task_id,omitempty"`
	Report     string                    `json:"report,omitempty"`
	Iterations int                       `json:"iterations"`
	Usage      messages.Usage            `json:"usage"`
	Elapsed    time.Duration             `json:"elapsed"`
	ToolCalls  []subagent.ToolCallRecord `json:"tool_calls,omitempty"`
	Err        error                     `json:"-"`
}

// Runner drives one teammate from spawn to stop.
type Runner struct {
	cfg   Config
	coord *Coordinator
	board *Board
	topic bus.Topic
	queue *queue.Queue
	log   *slog.Logger

	mu              sync.Mutex
	runCtx          context.Context
	cancel          context.CancelCauseFunc
	unregister      func()
	taskID          string
	explicitReport  string
	completedByTool bool
}

// NewRunner validates cfg and creates a runner.
func NewRunner(cfg Config, coord *Coordinator, board *Board, topic bus.Topic) (*Runner, error) {
	var err error
	if strings.TrimSpace(cfg.ID) == "" {
		err = errors.Join(err, errors.New("teammate id is required"))
	}
	if cfg.Provider == nil {
		err = errors.Join(err, errors.New("provider is required"))
	}
	if coord == nil {
		err = errors.Join(err, errors.New("coordinator is required"))
	}
	if board == nil {
		err = errors.Join(err, errors.New("board is required"))
	}
	if topic == nil {
		err = errors.Join(err, errors.New("topic is required"))
	}
	if err != nil {
		return nil, err
	}

	if cfg.Lead == "" {
		cfg.Lead = DefaultLead
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default().With(slogx.LoggerName("flock.team"))
	}
	return &Runner{
		cfg:   cfg,
		coord: coord,
		board: board,
		topic: topic,
		queue: queue.New(),
		log:   log.With(slogx.Teammate(cfg.ID)),
	}, nil
}

// ID returns the member id.
func (r *Runner) ID() string {
	return r.cfg.ID
}

// Queue returns the queue messages for this teammate are delivered to.
func (r *Runner) Queue() *queue.Queue {
	return r.queue
}

func (r *Runner) publish(ctx context.Context, ev bus.Event) {
	if err := r.topic.Publish(ctx, ev); err != nil {
		r.log.WarnContext(ctx, "failed to publish team event", slogx.Error(err))
	}
}

func (r *Runner) publishMember(ctx context.Context, patch bus.MemberPatch) {
	r.publish(ctx, bus.MemberUpdate{MemberID: r.cfg.ID, Patch: patch, Timestamp: strfmt.DateTime(time.Now())})
}

func (r *Runner) onMessage(_ context.Context, msg bus.Message) {
	if !msg.For(r.cfg.ID) {
		return
	}
	switch msg.Type {
	case bus.TypeShutdownRequest:
		r.log.Info("shutdown requested", slog.String("by", msg.From))
		r.coord.RequestShutdown(r.cfg.ID)
	case bus.TypeCompletionReport:
		r.queue.Push(messages.User(fmt.Sprintf("Completion report from %s:\n%s", msg.From, msg.Content)))
	default:
		r.queue.Push(messages.User(fmt.Sprintf("Message from %s:\n%s", msg.From, msg.Content)))
	}
}

func (r *Runner) currentTask() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taskID
}

func (r *Runner) taskDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completedByTool
}

func (r *Runner) acquireTask(ctx context.Context) (*Task, error) {
	id := r.cfg.ID
	if r.cfg.TaskID != "" {
		if t, ok := r.board.Get(r.cfg.TaskID); ok && t.Owner == id && t.Status == bus.TaskInProgress {
			return &t, nil
		}
		t, err := r.board.Claim(ctx, r.cfg.TaskID, id)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	if t, ok := r.board.ClaimNext(ctx, id); ok {
		return &t, nil
	}
	return nil, nil
}

// Start registers the teammate with the coordinator and returns the context to hand to Run.
// From then on AbortTeammate stops the teammate, even when Run has not begun yet. Calling
// Start again returns the same context.
func (r *Runner) Start(ctx context.Context) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runCtx != nil {
		return r.runCtx
	}
	r.runCtx, r.cancel = context.WithCancelCause(ctx)
	r.unregister = sync.OnceFunc(r.coord.Register(r.cfg.ID, r.cancel))
	return r.runCtx
}

// Run executes the teammate until it completes, fails, is shut down or aborted. Run calls
// Start itself when the caller did not. A hard abort through the coordinator stops it
// without a completion report.
func (r *Runner) Run(ctx context.Context) Outcome {
	start := time.Now()
	id := r.cfg.ID
	ctx = r.Start(ctx)
	r.mu.Lock()
	cancel, unregister := r.cancel, r.unregister
	r.mu.Unlock()
	defer cancel(nil)
	defer unregister()
	defer r.coord.ClearShutdown(id)
	// final updates are published even when the run was cancelled
	bg := context.WithoutCancel(ctx)

	r.publishMember(bg, bus.MemberPatch{Status: bus.MemberSpawned})

	if errors.Is(context.Cause(ctx), ErrHardAbort) {
		// aborted before it began to work; a task claimed on its behalf goes back to the board
		unregister()
		if t, ok := r.board.Get(r.cfg.TaskID); ok && t.Owner == id && t.Status == bus.TaskInProgress {
			r.mu.Lock()
			r.taskID = t.ID
			r.mu.Unlock()
			r.releaseTask(bg)
		}
		return r.finish(bg, Outcome{MemberID: id, Reason: StopAborted, TaskID: r.cfg.TaskID, Err: context.Cause(ctx)}, true, start)
	}
	task, err := r.acquireTask(ctx)
	if err != nil {
		return r.finish(bg, Outcome{MemberID: id, Reason: StopError, TaskID: r.cfg.TaskID, Err: err, Report: err.Error()}, false, start)
	}
	if task != nil {
		r.mu.Lock()
		r.taskID = task.ID
		r.mu.Unlock()
	}

	sub, err := r.topic.Subscribe(ctx, bus.Handlers{Message: r.onMessage})
	if err != nil {
		r.releaseTask(bg)
		return r.finish(bg, Outcome{MemberID: id, Reason: StopError, TaskID: r.currentTask(), Err: err, Report: err.Error()}, false, start)
	}
	defer sub.Unsubscribe()

	var stop StopReason
	cfg := loop.Config{
		AgentName:      id,
		MaxIterations:  r.cfg.MaxIterations,
		Provider:       r.cfg.Provider,
		ProviderConfig: r.cfg.ProviderConfig,
		Tools:          tool.Merge(r.teamTools(), r.cfg.Tools),
		SystemPrompt:   r.systemPrompt(),
		WorkingFolder:  r.cfg.WorkingFolder,
		Queue:          r.queue,
		Approver:       r.coord.Approvals(),
		Retry:          r.cfg.Retry,
		Logger:         r.log,
		Interrupt: func(int) bool {
			if r.coord.ShutdownRequested(id) {
				stop = StopShutdown
				return true
			}
			if r.taskDone() {
				stop = StopCompleted
				return true
			}
			return false
		},
	}

	r.publishMember(bg, bus.MemberPatch{Status: bus.MemberWorking, TaskID: r.currentTask()})

	var (
		current, last strings.Builder
		usage         messages.Usage
		calls         []subagent.ToolCallRecord
	)
	throttle := newTextThrottle(r.cfg.FlushInterval, func(text string) {
		r.publishMember(bg, bus.MemberPatch{Text: text})
	})
	toolActivity := func(call loop.ToolCallState) {
		throttle.Flush()
		r.publishMember(bg, bus.MemberPatch{ToolCall: &bus.ToolActivity{ID: call.ID, Name: call.Name, Status: string(call.Status)}})
	}

	history := []messages.ConversationMessage{messages.User(r.initialPrompt(task))}
	end := loop.Drain(loop.Run(ctx, history, cfg), func(ev loop.Event) {
		switch e := ev.(type) {
		case loop.IterationStart:
			if current.Len() > 0 {
				last.Reset()
				last.WriteString(current.String())
				current.Reset()
			}
		case loop.TextDelta:
			current.WriteString(e.Text)
			throttle.Add(e.Text)
		case loop.ToolUseGenerated:
			toolActivity(e.Call)
		case loop.ToolCallApprovalNeeded:
			toolActivity(e.Call)
		case loop.ToolCallStart:
			toolActivity(e.Call)
		case loop.ToolCallResult:
			toolActivity(e.Call)
			calls = append(calls, subagent.Record(e.Call))
		case loop.MessageEnd:
			usage.Add(e.Usage)
			u := usage
			r.publishMember(bg, bus.MemberPatch{Usage: &u})
		case loop.IterationEnd:
			throttle.Flush()
		}
	})
	throttle.Flush()
	if current.Len() > 0 {
		last.Reset()
		last.WriteString(current.String())
	}

	// an abort that arrives once the loop has stopped is a no-op
	unregister()
	hard := end.Reason == loop.ReasonAborted && errors.Is(context.Cause(ctx), ErrHardAbort)
	out := Outcome{
		MemberID:   id,
		TaskID:     r.currentTask(),
		Iterations: end.Iterations,
		Usage:      end.Usage,
		ToolCalls:  calls,
		Err:        end.Err,
	}
	switch {
	case end.Reason == loop.ReasonAborted:
		out.Reason = StopAborted
	case end.Reason == loop.ReasonError:
		out.Reason = StopError
	case end.Interrupted && stop == StopShutdown:
		out.Reason = StopShutdown
	default:
		out.Reason = StopCompleted
	}
	out.Report = r.composeReport(end.Messages[len(history):], last.String())

	if out.TaskID != "" && !r.taskDone() {
		if out.Reason == StopCompleted {
			if _, err := r.board.Complete(bg, out.TaskID, id, out.Report); err != nil {
				r.log.WarnContext(ctx, "failed to complete task", slogx.Task(out.TaskID), slogx.Error(err))
			}
		} else {
			r.releaseTask(bg)
		}
	}
	return r.finish(bg, out, hard, start)
}

func (r *Runner) releaseTask(ctx context.Context) {
	id := r.currentTask()
	if id == "" {
		return
	}
	if err := r.board.Release(ctx, id, r.cfg.ID); err != nil {
		r.log.WarnContext(ctx, "failed to release task", slogx.Task(id), slogx.Error(err))
	}
}

// finish publishes the stopped status and, unless the teammate was hard-aborted, the
// completion report for the lead.
func (r *Runner) finish(ctx context.Context, out Outcome, hard bool, start time.Time) Outcome {
	out.Elapsed = time.Since(start)
	out.Report = stdx.Truncate(out.Report, ReportLimit)
	usage := out.Usage
	r.publishMember(ctx, bus.MemberPatch{
		Status:     bus.MemberStopped,
		StopReason: string(out.Reason),
		Iterations: out.Iterations,
		Usage:      &usage,
	})
	if !hard {
		r.publish(ctx, bus.NewMessage(r.cfg.ID, r.cfg.Lead, bus.TypeCompletionReport, formatReport(out)))
	}
	r.log.InfoContext(ctx, "teammate stopped",
		slog.String("reason", string(out.Reason)),
		slog.Int("iterations", out.Iterations),
		slog.Duration("elapsed", out.Elapsed),
	)
	return out
}

// composeReport prefers the report given to complete_task, then the assistant output of
// the run, then the text streamed last.
func (r *Runner) composeReport(appended []messages.ConversationMessage, lastStreamed string) string {
	r.mu.Lock()
	explicit := r.explicitReport
	r.mu.Unlock()
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}

	var parts []string
	for _, m := range appended {
		if m.Role != messages.RoleAssistant {
			continue
		}
		if text := strings.TrimSpace(m.Content.PlainText()); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}
	return strings.TrimSpace(lastStreamed)
}

func formatReport(out Outcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s stopped: %s after %d iterations", out.MemberID, out.Reason, out.Iterations)
	if out.TaskID != "" {
		fmt.Fprintf(&sb, " (task #%s)", out.TaskID)
	}
	if out.Report != "" {
		sb.WriteString("\n\n")
		sb.WriteString(out.Report)
	}
	return sb.String()
}

func (r *Runner) systemPrompt() string {
	base := fmt.Sprintf(`You are %s, a teammate working under the lead agent %q.
Work on your task with the tools you have. Use send_message to talk to other members or the lead and list_tasks to see the task board.
When your task is done call complete_task with a short report of what you did.`, r.cfg.ID, r.cfg.Lead)
	if r.cfg.SystemPrompt == "" {
		return base
	}
	return r.cfg.SystemPrompt + "\n\n" + base
}

func (r *Runner) initialPrompt(task *Task) string {
	var sb strings.Builder
	sb.WriteString(r.cfg.Prompt)
	if task != nil {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Your task is #%s: %s", task.ID, task.Subject)
		if task.Description != "" {
			sb.WriteString("\n")
			sb.WriteString(task.Description)
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("You have no task yet. Check the board with list_tasks and wait for instructions.")
	}
	return sb.String()
}
