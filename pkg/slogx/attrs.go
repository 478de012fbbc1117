// Package slogx has the slog attributes shared by the flock packages, so records from the
// loop, the team and the CLI use the same keys.
package slogx

import "log/slog"

// KeyLoggerName is the key for the logger name.
const KeyLoggerName = "logger"

// Error returns an "error" attribute with the message of err.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// LoggerName returns an attribute naming the component that logs, e.g. flock.loop.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Agent returns an attribute naming the agent a record belongs to.
func Agent(name string) slog.Attr {
	return slog.String("agent", name)
}

// RunID returns an attribute for a loop invocation id.
func RunID(id string) slog.Attr {
	return slog.String("run_id", id)
}

// Teammate returns an attribute naming a team member.
func Teammate(name string) slog.Attr {
	return slog.String("teammate", name)
}

// ToolCall returns an attribute for a tool call id.
func ToolCall(id string) slog.Attr {
	return slog.String("tool_call_id", id)
}

// Task returns an attribute for a task board id.
func Task(id string) slog.Attr {
	return slog.String("task_id", id)
}
