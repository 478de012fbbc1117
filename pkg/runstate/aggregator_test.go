package runstate

import (
	"testing"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		t.Run("new aggregator has valid ID", func(t *testing.T) {
			agg := New()
			assert.NotEqual(t, uuid.Nil, agg.ID())
		})

		t.Run("empty aggregator has length 0", func(t *testing.T) {
			agg := New()
			assert.Equal(t, 0, agg.Len())
			_, ok := agg.Last()
			assert.False(t, ok)
		})

		t.Run("Messages returns copy of messages", func(t *testing.T) {
			agg := New()
			agg.Add(messages.User("message 1"), messages.User("message 2"))

			msgs := agg.Messages()
			assert.Len(t, msgs, 2)

			msgs = append(msgs, messages.User("message 3"))
			assert.Equal(t, 2, agg.Len(), "original aggregator should be unchanged")
			assert.Len(t, msgs, 3)
		})

		t.Run("MessagesIter provides iterator over messages", func(t *testing.T) {
			agg := New()
			agg.Add(messages.User("message 1"), messages.User("message 2"))

			count := 0
			for i, m := range agg.MessagesIter() {
				assert.Equal(t, count, i)
				require.NotEmpty(t, m.ID)
				count++
			}
			assert.Equal(t, 2, count)
		})
	})

	t.Run("From clones caller history", func(t *testing.T) {
		history := []messages.ConversationMessage{messages.User("a"), messages.User("b")}
		agg := From(history)

		agg.Add(messages.Assistant(messages.Text("c")))
		assert.Len(t, history, 2, "caller history must not grow")
		assert.Equal(t, 3, agg.Len())
		assert.Equal(t, 1, agg.TurnLen())

		appended := agg.Appended()
		require.Len(t, appended, 1)
		assert.Equal(t, messages.RoleAssistant, appended[0].Role)

		last, ok := agg.Last()
		require.True(t, ok)
		assert.Equal(t, "c", last.Content.PlainText())
	})

	t.Run("From does not alias the caller backing array", func(t *testing.T) {
		history := make([]messages.ConversationMessage, 1, 4)
		history[0] = messages.User("a")
		agg := From(history)
		agg.Add(messages.User("b"))

		extended := history[:2]
		assert.Empty(t, extended[1].ID)
	})

	t.Run("Replace keeps appended count", func(t *testing.T) {
		agg := From([]messages.ConversationMessage{messages.User("1"), messages.User("2"), messages.User("3")})
		agg.Add(messages.User("4"))

		agg.Replace([]messages.ConversationMessage{messages.User("summary"), messages.User("4")})
		assert.Equal(t, 2, agg.Len())
		assert.Equal(t, 1, agg.TurnLen())
	})

	t.Run("usage tracking", func(t *testing.T) {
		agg := New()
		agg.AddUsage(messages.Usage{InputTokens: 100, OutputTokens: 10, CacheReadInputTokens: 50})
		agg.AddUsage(messages.Usage{InputTokens: 200, OutputTokens: 20})

		assert.Equal(t, messages.Usage{InputTokens: 300, OutputTokens: 30, CacheReadInputTokens: 50}, agg.Usage())
		assert.Equal(t, int64(200), agg.LastInputTokens())

		agg.ResetInputTokens()
		assert.Zero(t, agg.LastInputTokens())
		assert.Equal(t, int64(300), agg.Usage().InputTokens)
	})
}
