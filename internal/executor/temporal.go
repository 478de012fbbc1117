package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/casualjim/flock/pkg/slogx"
	"github.com/casualjim/flock/pkg/uuidx"
	"github.com/casualjim/flock/subagent"
	"github.com/fogfish/opts"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

const (
	// TaskQueue is the default task queue of the sub-agent workers.
	TaskQueue = "flock-subagents"
	// RunTimeout bounds a single sub-agent run on a worker.
	RunTimeout = 30 * time.Minute
	// HeartbeatInterval is how often a running activity reports liveness.
	HeartbeatInterval = 10 * time.Second
)

// Activities runs sub-agents on a worker.
type Activities struct {
	runner            subagent.Runner
	heartbeatInterval time.Duration
}

// NewActivities creates the activities backed by runner, usually a subagent.Dispatcher.
func NewActivities(runner subagent.Runner) *Activities {
	return &Activities{runner: runner, heartbeatInterval: HeartbeatInterval}
}

// RunSubAgent runs one sub-agent. Failures are part of the result, so the activity only
// fails when it is cancelled.
func (a *Activities) RunSubAgent(ctx context.Context, req subagent.Request) (subagent.Result, error) {
	log := activity.GetLogger(ctx)
	log.Info("running sub-agent", "type", req.Type, "parent", req.Parent)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(a.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, req.Type)
			}
		}
	}()

	res := a.runner.Run(ctx, req)
	if err := ctx.Err(); err != nil {
		return res, temporal.NewCanceledError(res.Error)
	}
	log.Info("sub-agent finished", "type", req.Type, "iterations", res.Meta.Iterations, "is_error", res.IsError)
	return res, nil
}

// SubAgentWorkflow runs a sub-agent request as a single activity.
func SubAgentWorkflow(ctx workflow.Context, req subagent.Request) (subagent.Result, error) {
	workflow.GetLogger(ctx).Info("dispatching sub-agent", "type", req.Type)
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: RunTimeout,
		HeartbeatTimeout:    3 * HeartbeatInterval,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var a *Activities
	var res subagent.Result
	if err := workflow.ExecuteActivity(actx, a.RunSubAgent, req).Get(ctx, &res); err != nil {
		return subagent.Result{}, err
	}
	return res, nil
}

// Register adds the workflow and the activities backed by runner to w.
func Register(w worker.Registry, runner subagent.Runner) {
	w.RegisterWorkflow(SubAgentWorkflow)
	w.RegisterActivity(NewActivities(runner))
}

// NewWorker creates a worker on TaskQueue with the sub-agent workflow registered.
func NewWorker(c client.Client, runner subagent.Runner) worker.Worker {
	w := worker.New(c, TaskQueue, worker.Options{})
	Register(w, runner)
	return w
}

// TemporalRunner implements subagent.Runner by executing SubAgentWorkflow.
type TemporalRunner struct {
	client    client.Client
	taskQueue string
	log       *slog.Logger
}

// RunnerOption configures a TemporalRunner.
type RunnerOption = opts.Option[TemporalRunner]

var (
	WithTaskQueue = opts.ForName[TemporalRunner, string]("taskQueue")
	WithLogger    = opts.ForName[TemporalRunner, *slog.Logger]("log")
)

// NewTemporalRunner creates a runner that dispatches to the workers of c.
func NewTemporalRunner(c client.Client, options ...RunnerOption) *TemporalRunner {
	r := &TemporalRunner{client: c, taskQueue: TaskQueue}
	if err := opts.Apply(r, options); err != nil {
		panic(err)
	}
	if r.log == nil {
		r.log = slog.Default().With(slogx.LoggerName("flock.temporal"))
	}
	return r
}

// WorkflowID returns a fresh workflow id for a sub-agent of type typ.
func WorkflowID(typ string) string {
	return fmt.Sprintf("subagent-%s-%s", nameAsID(typ), uuidx.NewString())
}

func nameAsID(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return subagent.GeneralPurpose
	}
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return '-'
	}, name)
}

// Run implements subagent.Runner. Like the in-process dispatcher it reports every failure
// in the result. When ctx is cancelled the workflow is cancelled too.
func (r *TemporalRunner) Run(ctx context.Context, req subagent.Request) subagent.Result {
	id := WorkflowID(req.Type)
	run, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             r.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, SubAgentWorkflow, req)
	if err != nil {
		r.log.ErrorContext(ctx, "failed to start sub-agent workflow", slog.String("workflow_id", id), slogx.Error(err))
		return failure(req.Type, fmt.Errorf("failed to start sub-agent workflow: %w", err))
	}

	var res subagent.Result
	if err := run.Get(ctx, &res); err != nil {
		if ctx.Err() != nil {
			if cerr := r.client.CancelWorkflow(context.WithoutCancel(ctx), id, run.GetRunID()); cerr != nil {
				r.log.WarnContext(ctx, "failed to cancel sub-agent workflow", slog.String("workflow_id", id), slogx.Error(cerr))
			}
		}
		return failure(req.Type, fmt.Errorf("sub-agent workflow %s failed: %w", id, err))
	}
	return res
}

func failure(typ string, err error) subagent.Result {
	return subagent.Result{Type: typ, IsError: true, Error: err.Error()}
}
