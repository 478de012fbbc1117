package flock

import (
	"log/slog"
	"time"

	"github.com/casualjim/flock/approval"
	"github.com/casualjim/flock/bus"
	"github.com/casualjim/flock/limiter"
	"github.com/casualjim/flock/loop"
	"github.com/casualjim/flock/provider"
	"github.com/casualjim/flock/retry"
	"github.com/casualjim/flock/subagent"
	"github.com/fogfish/opts"
)

// Option configures a Session.
type Option = opts.Option[Session]

// WithName sets the member id of the lead. Teammates address the lead by this id.
var WithName = opts.ForName[Session, string]("name")

// WithSystemPrompt sets the instructions of the lead agent. The team instructions are
// appended to it.
var WithSystemPrompt = opts.ForName[Session, string]("systemPrompt")

// WithProviderConfig sets the model parameters used by every member of the session.
var WithProviderConfig = opts.ForName[Session, provider.Config]("providerConfig")

// WithTeammateProvider lets teammates talk to a different provider than the lead.
var WithTeammateProvider = opts.ForName[Session, provider.Provider]("teammateProvider")

// WithMaxIterations bounds each Send of the lead.
var WithMaxIterations = opts.ForName[Session, int]("maxIterations")

// WithTeammateMaxIterations bounds teammates spawned without their own budget.
var WithTeammateMaxIterations = opts.ForName[Session, int]("teammateMaxIterations")

// WithFlushInterval sets how often streamed teammate text is published on the bus.
var WithFlushInterval = opts.ForName[Session, time.Duration]("flushInterval")

var (
	WithWorkingFolder = opts.ForName[Session, string]("workingFolder")
	WithRetry         = opts.ForName[Session, *retry.Config]("retry")
	WithCompression   = opts.ForName[Session, *loop.Compression]("compression")
	WithLogger        = opts.ForName[Session, *slog.Logger]("log")
)

// WithBroker sets the broker the team topic is taken from. The default is an in-process
// broker; bus.NATS spreads the team over processes.
var WithBroker = opts.ForName[Session, bus.Broker]("broker")

// WithTeamID names the team topic.
var WithTeamID = opts.ForName[Session, string]("teamID")

// WithSubAgents sets the sub-agent definitions available to the task tool.
var WithSubAgents = opts.ForName[Session, *subagent.Registry]("registry")

// WithSubAgentRunner replaces the in-process sub-agent dispatcher, for example with a
// durable runner.
var WithSubAgentRunner = opts.ForName[Session, subagent.Runner]("subagents")

// WithLimiter sets the limiter shared by all sub-agent runs of the session.
var WithLimiter = opts.ForName[Session, *limiter.Limiter]("limiter")

// WithApprovals sets the broker approval-gated tool calls wait on.
var WithApprovals = opts.ForName[Session, *approval.Broker]("approvals")

// WithObserver subscribes h to every team event of the session.
func WithObserver(h bus.Handler) Option {
	return opts.Type[Session](func(s *Session) error {
		s.observers = append(s.observers, h)
		return nil
	})
}
