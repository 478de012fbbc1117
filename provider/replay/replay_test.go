package replay

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan provider.StreamEvent) []provider.StreamEvent {
	t.Helper()
	var out []provider.StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestProvider_PlaysTurnsInOrder(t *testing.T) {
	p := New(Text("first"), Failure(429, "slow down"), Text("third"))
	ctx := context.Background()

	ch, err := p.SendMessage(ctx, provider.Request{Messages: []messages.ConversationMessage{messages.User("hi")}})
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, provider.TextDelta{Text: "first"}, events[0])

	_, err = p.SendMessage(ctx, provider.Request{})
	require.Error(t, err)
	assert.True(t, provider.IsRateLimited(err))

	ch, err = p.SendMessage(ctx, provider.Request{})
	require.NoError(t, err)
	assert.Len(t, collect(t, ch), 2)

	_, err = p.SendMessage(ctx, provider.Request{})
	assert.ErrorIs(t, err, ErrExhausted)

	assert.Equal(t, 4, p.Calls())
	reqs := p.Requests()
	require.Len(t, reqs, 4)
	assert.Len(t, reqs[0].Messages, 1)
}

func TestProvider_Repeat(t *testing.T) {
	p := New().Repeat(Text("again"))
	for range 3 {
		ch, err := p.SendMessage(context.Background(), provider.Request{})
		require.NoError(t, err)
		assert.Len(t, collect(t, ch), 2)
	}
}

func TestProvider_HangStopsOnCancel(t *testing.T) {
	p := New(Turn{Events: []provider.StreamEvent{provider.TextDelta{Text: "partial"}}, Hang: true})
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := p.SendMessage(ctx, provider.Request{})
	require.NoError(t, err)
	assert.Equal(t, provider.TextDelta{Text: "partial"}, <-ch)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestToolCalls_SplitsArguments(t *testing.T) {
	turn := ToolCalls("checking", Call{ID: "c1", Name: "read_file", Args: `{"path":"go.mod"}`})
	require.Len(t, turn.Events, 6)
	d1 := turn.Events[2].(provider.ToolCallDelta)
	d2 := turn.Events[3].(provider.ToolCallDelta)
	assert.Equal(t, `{"path":"go.mod"}`, d1.ArgumentsDelta+d2.ArgumentsDelta)

	withUsage := turn.WithUsage(messages.Usage{InputTokens: 5})
	end := withUsage.Events[5].(provider.MessageEnd)
	assert.Equal(t, int64(5), end.Usage.InputTokens)
	assert.Equal(t, "tool_use", end.StopReason)
}

func TestLoadAndDump(t *testing.T) {
	turns := []Turn{
		ToolCalls("", Call{ID: "c1", Name: "ls", Args: `{"dir":"."}`}),
		Failure(503, "overloaded"),
		Text("done"),
	}

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, turns...))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	p, err := Load(strings.NewReader("# comment\n\n" + buf.String()))
	require.NoError(t, err)
	require.Len(t, p.turns, 3)
	assert.Equal(t, turns[0].Events, p.turns[0].Events)
	assert.Equal(t, turns[2].Events, p.turns[2].Events)

	var apiErr *provider.APIError
	require.True(t, errors.As(p.turns[1].Err, &apiErr))
	assert.Equal(t, 503, apiErr.Status)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(strings.NewReader(`{"events":[{"type":"nope"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	_, err = Load(strings.NewReader(`{"foo":1}`))
	assert.Error(t, err)

	_, err = Load(strings.NewReader(`not json`))
	assert.Error(t, err)
}
