// Package loop runs a single agent: it calls a provider, streams the response as events,
// executes the requested tools and feeds their results back until the model stops asking
// for tools, the iteration budget is spent, the context is cancelled or an error ends it.
//
// Every invocation of Run owns its working history. The caller history is copied in and the
// final history is handed back in LoopEnd, so several loops can run concurrently without
// sharing state. Messages pushed to a queue.Queue are injected at iteration boundaries.
//
// Each iteration follows the same order:
//
//  1. compress the history when the previous response came close to the context window
//  2. stop when the context is done
//  3. drain the message queue
//  4. stop when MaxIterations is reached
//  5. emit IterationStart and consult the Interrupt hook
//  6. call the provider, retrying transient failures with the same iteration
//  7. append the assistant message, then run its tool calls in order
//  8. append all tool results as a single user message
//
// A tool call moves through a small state machine:
//
//	streaming -> pending_approval -> running -> completed
//	                     \              \-----> error
//	                      \-------------------> error
//
// Tool uses and tool results are always paired in the history, also when the loop is
// aborted between tool calls: calls that never ran get an error result.
package loop
