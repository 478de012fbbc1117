package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/casualjim/flock/limiter"
	"github.com/casualjim/flock/loop"
	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/pkg/slogx"
	"github.com/casualjim/flock/pkg/stdx"
	"github.com/casualjim/flock/pkg/uuidx"
	"github.com/casualjim/flock/provider"
	"github.com/casualjim/flock/retry"
	"github.com/casualjim/flock/tool"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
)

// ToolIOLimit bounds the recorded input and output of every tool call in Meta.
const ToolIOLimit = 1000

// DefaultMaxIterations applies to definitions without their own budget.
const DefaultMaxIterations = 30

// Request asks for one sub-agent run.
type Request struct {
	Type          string `json:"subagent_type"`
	Description   string `json:"description,omitempty"`
	Prompt        string `json:"prompt"`
	WorkingFolder string `json:"working_folder,omitempty"`
	// Parent is the name of the requesting agent, for logging.
	Parent string `json:"parent,omitempty"`
}

// ToolCallRecord is a truncated trace of one tool call made by a sub-agent.
type ToolCallRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// Meta describes a finished run. It is written once, when the run ends.
type Meta struct {
	Iterations int              `json:"iterations"`
	Elapsed    time.Duration    `json:"elapsed"`
	Usage      messages.Usage   `json:"usage"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	Reason     loop.Reason      `json:"reason,omitempty"`
}

// Result is the outcome of a sub-agent run. Failures are reported in-band.
type Result struct {
	Type    string `json:"subagent_type"`
	Report  string `json:"report,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    Meta   `json:"meta"`
}

// ErrorPayload is the structured error handed back to the calling model.
func (r Result) ErrorPayload() string {
	b, err := json.Marshal(struct {
		Error        string `json:"error"`
		SubagentType string `json:"subagent_type"`
		Iterations   int    `json:"iterations,omitempty"`
	}{r.Error, r.Type, r.Meta.Iterations})
	if err != nil {
		return r.Error
	}
	return string(b)
}

func failure(typ string, format string, args ...any) Result {
	return Result{Type: typ, IsError: true, Error: fmt.Sprintf(format, args...)}
}

// Runner runs sub-agents. Dispatcher runs them in-process; other implementations may run
// them elsewhere.
type Runner interface {
	Run(ctx context.Context, req Request) Result
}

// Dispatcher runs sub-agents as nested loops, at most Capacity at a time.
type Dispatcher struct {
	provider       provider.Provider
	tools          tool.Registry
	registry       *Registry
	limiter        *limiter.Limiter
	providerConfig provider.Config
	approver       loop.Approver
	retry          *retry.Config
	maxIterations  int
	workingFolder  string
	log            *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption = opts.Option[Dispatcher]

var (
	WithLimiter        = opts.ForName[Dispatcher, *limiter.Limiter]("limiter")
	WithProviderConfig = opts.ForName[Dispatcher, provider.Config]("providerConfig")
	WithApprover       = opts.ForName[Dispatcher, loop.Approver]("approver")
	WithRetry          = opts.ForName[Dispatcher, *retry.Config]("retry")
	WithMaxIterations  = opts.ForName[Dispatcher, int]("maxIterations")
	WithWorkingFolder  = opts.ForName[Dispatcher, string]("workingFolder")
	WithLogger         = opts.ForName[Dispatcher, *slog.Logger]("log")
)

// NewDispatcher creates a dispatcher. Sub-agents get the parent tools restricted to their
// allow-list, never including the task tool itself.
func NewDispatcher(p provider.Provider, tools tool.Registry, registry *Registry, options ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{provider: p, tools: tools, registry: registry}
	if err := opts.Apply(d, options); err != nil {
		return nil, err
	}
	if d.provider == nil {
		return nil, fmt.Errorf("dispatcher needs a provider")
	}
	if d.registry == nil {
		d.registry = NewRegistry().WithGeneralPurpose()
	}
	if d.tools == nil {
		d.tools = tool.MustRegistry()
	}
	if d.limiter == nil {
		d.limiter = limiter.New(limiter.DefaultCapacity)
	}
	if d.maxIterations <= 0 {
		d.maxIterations = DefaultMaxIterations
	}
	if d.log == nil {
		d.log = slog.Default().With(slogx.LoggerName("flock.subagent"))
	}
	return d, nil
}

// Registry returns the definitions the dispatcher knows.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Limiter returns the limiter that bounds concurrent runs.
func (d *Dispatcher) Limiter() *limiter.Limiter {
	return d.limiter
}

// Run implements Runner. It never panics and never returns a Go error: every failure is
// reported in the Result.
func (d *Dispatcher) Run(ctx context.Context, req Request) (res Result) {
	def, ok := d.registry.Get(req.Type)
	if !ok {
		return failure(req.Type, "unknown sub-agent type %q, available: %s", req.Type, strings.Join(d.registry.Names(), ", "))
	}

	folder := req.WorkingFolder
	if folder == "" {
		folder = d.workingFolder
	}
	name := fmt.Sprintf("%s-%s", def.Name, uuidx.Short())
	system, err := def.Prompt(PromptData{Name: name, Task: req.Prompt, WorkingFolder: folder})
	if err != nil {
		return failure(req.Type, "%v", err)
	}

	if err := d.limiter.Acquire(ctx); err != nil {
		return failure(req.Type, "cancelled while waiting for a sub-agent slot: %v", err)
	}
	defer d.limiter.Release()
	defer func() {
		if p := recover(); p != nil {
			d.log.ErrorContext(ctx, "sub-agent panicked", slogx.Agent(name), slog.Any("panic", p))
			res = failure(req.Type, "sub-agent panicked: %v", p)
		}
	}()

	log := d.log.With(slogx.Agent(name), slog.String("parent", req.Parent))
	log.InfoContext(ctx, "starting sub-agent", slog.String("type", def.Name), slog.String("description", req.Description))

	maxIter := d.maxIterations
	if def.MaxIterations > 0 {
		maxIter = def.MaxIterations
	}
	cfg := loop.Config{
		AgentName:      name,
		MaxIterations:  maxIter,
		Provider:       d.provider,
		ProviderConfig: d.providerConfig,
		Tools:          tool.Restrict(d.tools, def.Tools, TaskToolName),
		SystemPrompt:   system,
		WorkingFolder:  folder,
		Approver:       d.approver,
		Retry:          d.retry,
		Logger:         log,
	}

	start := time.Now()
	var calls []ToolCallRecord
	end := loop.Drain(loop.Run(ctx, []messages.ConversationMessage{messages.User(req.Prompt)}, cfg), func(ev loop.Event) {
		if r, ok := ev.(loop.ToolCallResult); ok {
			calls = append(calls, Record(r.Call))
		}
	})

	res = Result{
		Type:   def.Name,
		Report: finalText(end.Messages),
		Meta: Meta{
			Iterations: end.Iterations,
			Elapsed:    time.Since(start),
			Usage:      end.Usage,
			ToolCalls:  calls,
			Reason:     end.Reason,
		},
	}
	switch end.Reason {
	case loop.ReasonError:
		res.IsError = true
		res.Error = fmt.Sprintf("sub-agent failed: %v", end.Err)
	case loop.ReasonAborted:
		res.IsError = true
		res.Error = "sub-agent was aborted"
	case loop.ReasonMaxIterations:
		if res.Report == "" {
			res.Report = fmt.Sprintf("Sub-agent stopped after %d iterations without a final answer.", end.Iterations)
		}
	}
	log.InfoContext(ctx, "sub-agent finished",
		slog.String("reason", string(end.Reason)),
		slog.Int("iterations", end.Iterations),
		slog.Duration("elapsed", res.Meta.Elapsed),
	)
	return res
}

// Record converts a finished tool call into its truncated trace.
func Record(call loop.ToolCallState) ToolCallRecord {
	input, err := json.Marshal(call.Input)
	if err != nil {
		input = []byte(fmt.Sprint(call.Input))
	}
	out := call.Output
	if call.Status == loop.StatusError {
		out = call.Error
	}
	return ToolCallRecord{
		ID:      call.ID,
		Name:    call.Name,
		Input:   stdx.Truncate(string(input), ToolIOLimit),
		Output:  stdx.Truncate(out, ToolIOLimit),
		IsError: call.Status == loop.StatusError,
	}
}

// finalText returns the text of the last assistant message.
func finalText(history []messages.ConversationMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == messages.RoleAssistant {
			return strings.TrimSpace(history[i].Content.PlainText())
		}
	}
	return ""
}
