package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/casualjim/flock/provider/replay"
	"github.com/casualjim/flock/retry"
	"github.com/casualjim/flock/subagent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/testsuite"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, req subagent.Request) subagent.Result {
	args := m.Called(ctx, req)
	return args.Get(0).(subagent.Result)
}

func TestSubAgentWorkflow(t *testing.T) {
	tests := []struct {
		name    string
		req     subagent.Request
		report  string
		isError bool
	}{
		{"report", subagent.Request{Type: subagent.GeneralPurpose, Prompt: "find main"}, "main is in cmd/flock", false},
		{"unknown type", subagent.Request{Type: "nope", Prompt: "x"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := subagent.NewDispatcher(replay.New(replay.Text("main is in cmd/flock")), nil, nil,
				subagent.WithRetry(&retry.Config{MaxAttempts: 1}))
			require.NoError(t, err)

			var suite testsuite.WorkflowTestSuite
			env := suite.NewTestWorkflowEnvironment()
			env.RegisterWorkflow(SubAgentWorkflow)
			env.RegisterActivity(NewActivities(d))

			env.ExecuteWorkflow(SubAgentWorkflow, tt.req)
			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())

			var res subagent.Result
			require.NoError(t, env.GetWorkflowResult(&res))
			assert.Equal(t, tt.isError, res.IsError)
			assert.Equal(t, tt.report, res.Report)
		})
	}
}

func TestActivities_RunSubAgent(t *testing.T) {
	req := subagent.Request{Type: "explore", Prompt: "look around", Parent: "lead"}
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, req).Return(subagent.Result{Type: "explore", Report: "looked"}).Once()

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	acts := NewActivities(runner)
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.RunSubAgent, req)
	require.NoError(t, err)
	var res subagent.Result
	require.NoError(t, val.Get(&res))
	assert.Equal(t, "looked", res.Report)
	runner.AssertExpectations(t)
}

func TestTemporalRunner_Run(t *testing.T) {
	req := subagent.Request{Type: "Explore Code", Prompt: "look around"}
	startedWith := mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return strings.HasPrefix(o.ID, "subagent-explore-code-") && o.TaskQueue == TaskQueue
	})

	t.Run("result", func(t *testing.T) {
		c := &mocks.Client{}
		run := &mocks.WorkflowRun{}
		c.On("ExecuteWorkflow", mock.Anything, startedWith, mock.Anything, req).Return(run, nil)
		run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			*args.Get(1).(*subagent.Result) = subagent.Result{Type: req.Type, Report: "looked"}
		}).Return(nil)

		res := NewTemporalRunner(c).Run(context.Background(), req)
		assert.False(t, res.IsError)
		assert.Equal(t, "looked", res.Report)
		c.AssertExpectations(t)
	})

	t.Run("start failure", func(t *testing.T) {
		c := &mocks.Client{}
		c.On("ExecuteWorkflow", mock.Anything, startedWith, mock.Anything, req).Return(nil, errors.New("unavailable"))

		res := NewTemporalRunner(c).Run(context.Background(), req)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Error, "unavailable")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := &mocks.Client{}
		run := &mocks.WorkflowRun{}
		c.On("ExecuteWorkflow", mock.Anything, startedWith, mock.Anything, req).Return(run, nil)
		run.On("Get", mock.Anything, mock.Anything).Return(context.Canceled)
		run.On("GetRunID").Return("run-1")
		c.On("CancelWorkflow", mock.Anything, mock.Anything, "run-1").Return(nil).Once()

		res := NewTemporalRunner(c, WithTaskQueue(TaskQueue)).Run(ctx, req)
		assert.True(t, res.IsError)
		c.AssertExpectations(t)
	})
}

func TestNameAsID(t *testing.T) {
	tests := map[string]string{
		"general-purpose": "general-purpose",
		"Explore Code":    "explore-code",
		"":                subagent.GeneralPurpose,
		"a/b":             "a-b",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, nameAsID(in))
		})
	}
}
