package subagent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casualjim/flock/limiter"
	"github.com/casualjim/flock/loop"
	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/provider"
	"github.com/casualjim/flock/provider/replay"
	"github.com/casualjim/flock/retry"
	"github.com/casualjim/flock/tool"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noRetry = &retry.Config{MaxAttempts: 1}

type readArgs struct {
	Path string `json:"path"`
}

func parentTools(t *testing.T) tool.Registry {
	t.Helper()
	reg, err := tool.NewRegistry(
		tool.MustTyped("read_file", func(_ context.Context, a readArgs, _ tool.ExecContext) (string, error) {
			return strings.Repeat("x", 1500) + a.Path, nil
		}),
		tool.MustTyped("write_file", func(_ context.Context, a readArgs, _ tool.ExecContext) (string, error) {
			return "written", nil
		}),
	)
	require.NoError(t, err)
	return reg
}

func explorer(t *testing.T) *Definition {
	t.Helper()
	d, err := New("explore",
		Description("Read-only exploration"),
		SystemPrompt("You are {{.Name}} exploring {{.WorkingFolder}} for: {{.Task}}"),
		Tools([]string{"read_file"}),
		MaxIterations(4),
	)
	require.NoError(t, err)
	return d
}

func TestDefinition_Prompt(t *testing.T) {
	d := explorer(t)
	out, err := d.Prompt(PromptData{Task: "find main", WorkingFolder: "/src"})
	require.NoError(t, err)
	assert.Equal(t, "You are explore exploring /src for: find main", out)

	_, err = New("bad", SystemPrompt("{{.Nope"))
	assert.Error(t, err)
	_, err = New("")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(explorer(t)).WithGeneralPurpose()
	assert.Equal(t, []string{"explore", GeneralPurpose}, reg.Names())
	d, ok := reg.Get(GeneralPurpose)
	require.True(t, ok)
	assert.Empty(t, d.Tools)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestDispatcher_Run(t *testing.T) {
	p := replay.New(
		replay.ToolCalls("", replay.Call{ID: "c1", Name: "read_file", Args: `{"path":"main.go"}`}),
		replay.Text("  main.go defines the entrypoint  ").WithUsage(messages.Usage{InputTokens: 12, OutputTokens: 4}),
	)
	d, err := NewDispatcher(p, parentTools(t), NewRegistry(explorer(t)), WithRetry(noRetry), WithWorkingFolder("/repo"))
	require.NoError(t, err)

	res := d.Run(context.Background(), Request{Type: "explore", Prompt: "where is main?"})

	require.False(t, res.IsError, res.Error)
	assert.Equal(t, "explore", res.Type)
	assert.Equal(t, "main.go defines the entrypoint", res.Report)
	assert.Equal(t, 2, res.Meta.Iterations)
	assert.Equal(t, loop.ReasonCompleted, res.Meta.Reason)
	assert.Equal(t, int64(12), res.Meta.Usage.InputTokens)
	assert.Positive(t, res.Meta.Elapsed)
	require.Len(t, res.Meta.ToolCalls, 1)
	rec := res.Meta.ToolCalls[0]
	assert.Equal(t, "read_file", rec.Name)
	assert.JSONEq(t, `{"path":"main.go"}`, rec.Input)
	assert.Contains(t, rec.Output, "[truncated 507 characters]")
	assert.Zero(t, d.Limiter().InFlight())

	reqs := p.Requests()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].SystemPrompt, "/repo")
	assert.Contains(t, reqs[0].SystemPrompt, "where is main?")
	var names []string
	for _, def := range reqs[0].Tools {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"read_file"}, names)
}

func TestDispatcher_Failures(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		d, err := NewDispatcher(replay.New(), parentTools(t), NewRegistry(explorer(t)))
		require.NoError(t, err)
		res := d.Run(context.Background(), Request{Type: "wizard", Prompt: "x"})
		assert.True(t, res.IsError)
		assert.Contains(t, res.Error, `unknown sub-agent type "wizard"`)
		assert.Contains(t, res.Error, "explore")

		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(res.ErrorPayload()), &payload))
		assert.Equal(t, "wizard", payload["subagent_type"])
	})

	t.Run("provider error", func(t *testing.T) {
		d, err := NewDispatcher(replay.New(replay.Failure(400, "bad")), parentTools(t), NewRegistry(explorer(t)), WithRetry(noRetry))
		require.NoError(t, err)
		res := d.Run(context.Background(), Request{Type: "explore", Prompt: "x"})
		assert.True(t, res.IsError)
		assert.Equal(t, loop.ReasonError, res.Meta.Reason)
		assert.Zero(t, d.Limiter().InFlight())
	})

	t.Run("panic releases the slot", func(t *testing.T) {
		panicky := provider.Func(func(context.Context, provider.Request) (<-chan provider.StreamEvent, error) {
			panic("provider exploded")
		})
		d, err := NewDispatcher(panicky, parentTools(t), NewRegistry(explorer(t)))
		require.NoError(t, err)
		res := d.Run(context.Background(), Request{Type: "explore", Prompt: "x"})
		assert.True(t, res.IsError)
		assert.Contains(t, res.Error, "provider exploded")
		assert.Zero(t, d.Limiter().InFlight())
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		lim := limiter.New(1)
		require.NoError(t, lim.Acquire(context.Background()))
		defer lim.Release()
		d, err := NewDispatcher(replay.New(), parentTools(t), NewRegistry(explorer(t)), WithLimiter(lim))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		res := d.Run(ctx, Request{Type: "explore", Prompt: "x"})
		assert.True(t, res.IsError)
		assert.Contains(t, res.Error, "waiting for a sub-agent slot")
		assert.Equal(t, 1, lim.InFlight())
	})
}

func TestDispatcher_LimiterBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := provider.Func(func(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
		n := inFlight.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		ch := make(chan provider.StreamEvent, 2)
		go func() {
			defer close(ch)
			defer inFlight.Add(-1)
			time.Sleep(20 * time.Millisecond)
			ch <- provider.TextDelta{Text: "done"}
			ch <- provider.MessageEnd{}
		}()
		return ch, nil
	})
	d, err := NewDispatcher(slow, parentTools(t), NewRegistry(explorer(t)), WithLimiter(limiter.New(2)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Result, 6)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.Run(context.Background(), Request{Type: "explore", Prompt: "x"})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, r := range results {
		assert.False(t, r.IsError, r.Error)
		assert.Equal(t, "done", r.Report)
	}
	assert.Zero(t, d.Limiter().InFlight())
}

func TestAsTool(t *testing.T) {
	reg := NewRegistry(explorer(t)).WithGeneralPurpose()
	var got Request
	runner := runnerFunc(func(_ context.Context, req Request) Result {
		got = req
		if req.Type == "explore" {
			return Result{Type: req.Type, Report: "found it"}
		}
		return failure(req.Type, "no such type")
	})
	tl := AsTool(runner, reg)
	assert.Equal(t, TaskToolName, tl.Name)
	assert.Contains(t, tl.Description, "- explore: Read-only exploration")

	ec := tool.ExecContext{AgentName: "lead", WorkingFolder: "/w"}
	out, err := tl.Call(context.Background(), map[string]any{"subagent_type": "explore", "prompt": "look"}, ec)
	require.NoError(t, err)
	assert.Equal(t, "found it", out)
	assert.Equal(t, Request{Type: "explore", Prompt: "look", WorkingFolder: "/w", Parent: "lead"}, got)

	_, err = tl.Call(context.Background(), map[string]any{"subagent_type": "nope", "prompt": "look"}, ec)
	require.Error(t, err)
	assert.JSONEq(t, `{"error":"no such type","subagent_type":"nope"}`, err.Error())

	_, _ = tl.Call(context.Background(), map[string]any{"prompt": "look"}, ec)
	assert.Equal(t, GeneralPurpose, got.Type)
}

type runnerFunc func(context.Context, Request) Result

func (f runnerFunc) Run(ctx context.Context, req Request) Result { return f(ctx, req) }
