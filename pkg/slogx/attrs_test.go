package slogx

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttrs(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		key  string
		want string
	}{
		{"error", Error(errors.New("boom")), "error", "boom"},
		{"logger", LoggerName("flock.loop"), KeyLoggerName, "flock.loop"},
		{"agent", Agent("lead"), "agent", "lead"},
		{"run id", RunID("r-1"), "run_id", "r-1"},
		{"teammate", Teammate("alice"), "teammate", "alice"},
		{"tool call", ToolCall("call_1"), "tool_call_id", "call_1"},
		{"task", Task("t1"), "task_id", "t1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.want, tt.attr.Value.String())
		})
	}
}
