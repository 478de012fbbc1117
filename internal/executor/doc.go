// Package executor runs sub-agents durably on Temporal.
//
// SubAgentWorkflow executes one RunSubAgent activity on a worker that owns a local
// subagent.Runner. The activity is never retried by Temporal: the agent loop already
// retries provider failures, and a sub-agent run is not idempotent.
//
// TemporalRunner is the client side. It implements subagent.Runner, so a Session can
// dispatch its task tool to the workers instead of running sub-agents in-process:
//
//	c, _ := tprl.NewClient()
//	s, _ := flock.New(p, tools, flock.WithSubAgentRunner(executor.NewTemporalRunner(c)))
//
// Workers register with Register or NewWorker.
package executor
