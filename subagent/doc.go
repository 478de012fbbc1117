// Package subagent runs short-lived, tool-restricted agents on behalf of a parent agent.
//
// A Dispatcher admits at most limiter capacity runs at a time, runs one nested loop per
// request and folds it into a single Result. Failures, including unknown sub-agent types
// and panics, come back as error results so the parent's tool call stays well formed.
// AsTool turns any Runner into the task tool of a lead agent.
package subagent
