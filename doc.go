/*
Package flock runs a lead agent together with its sub-agents and teammates.

A Session owns everything a lead needs to delegate work:

  - a sub-agent runner for one-shot, bounded-concurrency tasks (the task tool)
  - a task board and a team bus shared with long-lived teammates
  - a coordinator that can stop teammates gracefully or abort them
  - an approval broker every member routes approval-gated tool calls through

# Basic Usage

	s, err := flock.New(provider, tools,
		flock.WithMaxIterations(40),
		flock.WithObserver(bus.LoggingHandler(nil)),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	end := s.Send(ctx, "Split the migration into tasks and hand them to teammates", func(ev loop.Event) {
		// render events
	})

	outcomes, err := s.Wait(ctx)

The lead talks to the team through its tools: create_task, spawn_teammate, send_message,
shutdown_teammate and list_tasks, next to task for sub-agents and the tools passed to New.
Messages teammates send to the lead, including their completion reports, are queued and
injected at the lead's next iteration boundary, or at the start of the next Send when the
lead is idle.
*/
package flock
