package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/flock/bus"
	"github.com/casualjim/flock/loop"
	"github.com/casualjim/flock/provider/replay"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeScript(t *testing.T, turns ...replay.Turn) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, replay.Dump(&buf, turns...))
	path := filepath.Join(t.TempDir(), "script.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{"NATS_URL", "TEMPORAL_ADDRESS", "FLOCK_LOG_LEVEL", "FLOCK_MAX_SUBAGENTS", "FLOCK_MAX_ITERATIONS", "FLOCK_TEAMMATE_MAX_ITERATIONS", "FLOCK_FLUSH_INTERVAL"} {
		t.Setenv(key, "")
	}
}

func TestRun_Usage(t *testing.T) {
	isolate(t)
	var out syncBuffer
	err := run(context.Background(), []string{"-no-color", "hello"}, &out)
	require.Error(t, err)

	err = run(context.Background(), []string{"-no-color", "-script", "missing.jsonl", "hello"}, &out)
	require.Error(t, err)
}

func TestRun_LeadOnly(t *testing.T) {
	isolate(t)
	script := writeScript(t, replay.Text("Hello from the lead."))

	var out syncBuffer
	require.NoError(t, run(context.Background(), []string{"-no-color", "-dump", "-script", script, "say", "hello"}, &out))

	s := out.String()
	assert.Contains(t, s, "lead: Hello from the lead.")
	assert.Contains(t, s, "lead stopped: completed after 1 iterations")
	assert.Contains(t, s, "Reason")
}

func TestRun_WithTeammate(t *testing.T) {
	isolate(t)
	lead := writeScript(t,
		replay.ToolCalls("", replay.Call{ID: "c1", Name: "create_task", Args: `{"subject":"count files"}`}),
		replay.ToolCalls("", replay.Call{ID: "c2", Name: "spawn_teammate", Args: `{"name":"w1","prompt":"go","task_id":"1"}`}),
		replay.Text("Delegated."),
		replay.Text("w1 counted 3 files."),
	)
	mate := writeScript(t, replay.Text("There are 3 files."))

	var out syncBuffer
	err := run(context.Background(), []string{"-no-color", "-script", lead, "-teammate-script", mate, "-followup", "report", "count the files"}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "create_task")
	assert.Contains(t, out.String(), "lead: w1 counted 3 files.")
	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "w1 stopped (completed)") && strings.Contains(s, "task #1 completed")
	}, time.Second, 5*time.Millisecond)
}

func TestConsole(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	c := newConsole(&out, "lead")
	ctx := context.Background()

	c.Loop(loop.TextDelta{Text: "Hel"})
	c.Loop(loop.TextDelta{Text: "lo"})
	c.Loop(loop.ToolUseGenerated{Call: loop.ToolCallState{Name: "list_tasks", Input: map[string]any{}}})
	c.Loop(loop.ToolCallResult{Call: loop.ToolCallState{Name: "list_tasks", Status: loop.StatusCompleted, Output: "#1 [pending] a\n#2 [pending] b"}})
	c.OnMemberUpdate(ctx, bus.MemberUpdate{MemberID: "w1", Patch: bus.MemberPatch{Text: "working"}})
	c.OnMemberUpdate(ctx, bus.MemberUpdate{MemberID: "w1", Patch: bus.MemberPatch{Status: bus.MemberStopped, StopReason: "completed"}})
	owner := "w1"
	c.OnTaskUpdate(ctx, bus.TaskUpdate{TaskID: "1", Patch: bus.TaskPatch{Status: bus.TaskInProgress, Owner: &owner}})
	c.OnMessage(ctx, bus.NewMessage("w1", "lead", bus.TypeCompletionReport, "done\nmore"))

	assert.Equal(t, strings.Join([]string{
		"lead: Hello",
		"list_tasks{}",
		"  ✓ #1 [pending] a …",
		"w1: working",
		"w1 stopped (completed)",
		"task #1 in_progress by w1",
		"completion_report w1 → lead: done …",
		"",
	}, "\n"), out.String())
}
