package loop

import (
	"testing"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator(t *testing.T) {
	acc := newAccumulator()
	acc.thinking("let me ")
	acc.thinking("think")
	acc.text("Hello")
	acc.text(", world")
	acc.startCall("c1", "echo")
	snap := acc.argsDelta("c1", `{"text":"he`)
	assert.Equal(t, map[string]any{"text": "he"}, snap)
	acc.argsDelta("c1", `llo"}`)
	acc.startCall("c2", "rm")
	acc.argsDelta("c2", `{"text":`)

	assert.Equal(t, []string{"c2"}, acc.unfinished())

	first := acc.endCall("c1", "echo", nil)
	assert.Equal(t, map[string]any{"text": "hello"}, first.Input)
	assert.Same(t, first, acc.endCall("c1", "echo", nil), "repeated end returns the same state")

	second := acc.endCall("c2", "", map[string]any{"text": "explicit"})
	assert.Equal(t, "rm", second.Name)
	assert.Equal(t, map[string]any{"text": "explicit"}, second.Input)
	assert.Empty(t, acc.unfinished())

	calls := acc.toolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Equal(t, StatusStreaming, calls[0].Status)

	acc.usage.Add(messages.Usage{InputTokens: 3})
	msg := acc.message()
	assert.Equal(t, messages.RoleAssistant, msg.Role)
	require.Len(t, msg.Content.Blocks, 4)
	thinking, ok := msg.Content.Blocks[0].(messages.ThinkingBlock)
	require.True(t, ok)
	assert.Equal(t, "let me think", thinking.Text)
	assert.False(t, thinking.CompletedAt.IsZero())
	assert.Equal(t, messages.TextBlock{Text: "Hello, world"}, msg.Content.Blocks[1])
	assert.Equal(t, "Hello, world", msg.Content.PlainText())
	require.NotNil(t, msg.Usage)
	assert.Equal(t, int64(3), msg.Usage.InputTokens)
}

func TestAccumulator_DeltaBeforeStart(t *testing.T) {
	acc := newAccumulator()
	acc.argsDelta("c1", `{"a":1}`)
	call := acc.endCall("c1", "late_name", nil)
	assert.Equal(t, "late_name", call.Name)
	assert.Equal(t, map[string]any{"a": float64(1)}, call.Input)
}

func TestAccumulator_EmptyMessage(t *testing.T) {
	acc := newAccumulator()
	assert.False(t, acc.streamed)
	msg := acc.message()
	assert.NotNil(t, msg.Content.Blocks)
	assert.Nil(t, msg.Usage)
	assert.Empty(t, acc.toolCalls())
}
