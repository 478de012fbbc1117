package flock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/flock/approval"
	"github.com/casualjim/flock/bus"
	"github.com/casualjim/flock/limiter"
	"github.com/casualjim/flock/loop"
	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/pkg/slogx"
	"github.com/casualjim/flock/pkg/uuidx"
	"github.com/casualjim/flock/provider"
	"github.com/casualjim/flock/queue"
	"github.com/casualjim/flock/retry"
	"github.com/casualjim/flock/subagent"
	"github.com/casualjim/flock/team"
	"github.com/casualjim/flock/tool"
	"github.com/fogfish/opts"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed         = errors.New("session is closed")
	ErrTeammateExists = errors.New("teammate already running")
)

// DefaultMaxIterations bounds a Send of the lead when no budget is configured.
const DefaultMaxIterations = 100

// TeammateSpec describes a teammate to spawn.
type TeammateSpec struct {
	Name          string
	Prompt        string
	TaskID        string
	SystemPrompt  string
	MaxIterations int
}

// Session is a lead agent with its team. Sends of the lead are serialized; teammates run
// concurrently on their own goroutines until they stop or the session is closed.
type Session struct {
	provider              provider.Provider
	teammateProvider      provider.Provider
	tools                 tool.Registry
	name                  string
	systemPrompt          string
	providerConfig        provider.Config
	maxIterations         int
	teammateMaxIterations int
	flushInterval         time.Duration
	workingFolder         string
	retry                 *retry.Config
	compression           *loop.Compression
	broker                bus.Broker
	teamID                string
	registry              *subagent.Registry
	subagents             subagent.Runner
	limiter               *limiter.Limiter
	approvals             *approval.Broker
	observers             []bus.Handler
	log                   *slog.Logger

	topic         bus.Topic
	board         *team.Board
	coord         *team.Coordinator
	queue         *queue.Queue
	subscriptions []bus.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	sendMu    sync.Mutex
	mu        sync.Mutex
	history   []messages.ConversationMessage
	running   map[string]struct{}
	outcomes  []team.Outcome
	abortLead context.CancelFunc
	closed    bool
	closeOnce sync.Once
}

// New creates a session for provider p. tools are given to the lead, its teammates and,
// restricted per definition, its sub-agents.
func New(p provider.Provider, tools tool.Registry, options ...Option) (*Session, error) {
	if p == nil {
		return nil, errors.New("session needs a provider")
	}
	s := &Session{
		provider:      p,
		tools:         tools,
		name:          team.DefaultLead,
		maxIterations: DefaultMaxIterations,
		running:       make(map[string]struct{}),
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	if s.tools == nil {
		s.tools = tool.MustRegistry()
	}
	if s.teammateProvider == nil {
		s.teammateProvider = s.provider
	}
	if s.log == nil {
		s.log = slog.Default().With(slogx.LoggerName("flock"))
	}
	if s.broker == nil {
		s.broker = bus.Local()
	}
	if s.teamID == "" {
		s.teamID = uuidx.NewString()
	}
	if s.registry == nil {
		s.registry = subagent.NewRegistry().WithGeneralPurpose()
	}
	if s.limiter == nil {
		s.limiter = limiter.New(limiter.DefaultCapacity)
	}
	if s.approvals == nil {
		s.approvals = approval.NewBroker()
	}
	if s.subagents == nil {
		d, err := subagent.NewDispatcher(s.provider, s.tools, s.registry,
			subagent.WithLimiter(s.limiter),
			subagent.WithProviderConfig(s.providerConfig),
			subagent.WithApprover(s.approvals),
			subagent.WithRetry(s.retry),
			subagent.WithWorkingFolder(s.workingFolder),
		)
		if err != nil {
			return nil, err
		}
		s.subagents = d
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.topic = s.broker.Topic(s.ctx, s.teamID)
	s.board = team.NewBoard(s.topic)
	s.coord = team.NewCoordinator(s.approvals)
	s.queue = queue.New()

	handlers := append([]bus.Handler{bus.Handlers{Message: s.onMessage}}, s.observers...)
	for _, h := range handlers {
		sub, err := s.topic.Subscribe(s.ctx, h)
		if err != nil {
			s.unsubscribe()
			s.cancel()
			return nil, fmt.Errorf("failed to subscribe to team %s: %w", s.teamID, err)
		}
		s.subscriptions = append(s.subscriptions, sub)
	}
	return s, nil
}

func (s *Session) unsubscribe() {
	for _, sub := range s.subscriptions {
		sub.Unsubscribe()
	}
	s.subscriptions = nil
}

// onMessage queues what teammates send to the lead.
func (s *Session) onMessage(ctx context.Context, msg bus.Message) {
	if !msg.For(s.name) {
		return
	}
	switch msg.Type {
	case bus.TypeShutdownRequest:
		return
	case bus.TypeCompletionReport:
		s.queue.Push(messages.User(fmt.Sprintf("Completion report from %s:\n%s", msg.From, msg.Content)))
	default:
		s.queue.Push(messages.User(fmt.Sprintf("Message from %s:\n%s", msg.From, msg.Content)))
	}
	s.log.DebugContext(ctx, "queued message for lead", slog.String("from", msg.From), slog.String("type", string(msg.Type)))
}

// Name returns the member id of the lead.
func (s *Session) Name() string { return s.name }

// TeamID returns the id of the team topic.
func (s *Session) TeamID() string { return s.teamID }

// Board returns the task board of the team.
func (s *Session) Board() *team.Board { return s.board }

// Approvals returns the broker that pending approvals can be resolved on.
func (s *Session) Approvals() *approval.Broker { return s.approvals }

// Teammates returns the ids of the running teammates.
func (s *Session) Teammates() []string { return s.coord.Active() }

// History returns a copy of the lead conversation.
func (s *Session) History() []messages.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send runs the lead loop on prompt, appended to the session history, and returns its
// terminal event. observe, when not nil, sees every loop event. The session history is
// replaced with the history of the run, whatever its outcome.
func (s *Session) Send(ctx context.Context, prompt string, observe func(loop.Event)) loop.LoopEnd {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.isClosed() {
		return loop.LoopEnd{Reason: loop.ReasonError, Err: ErrClosed}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.mu.Lock()
	s.abortLead = cancel
	history := append(slices.Clone(s.history), messages.User(prompt))
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.abortLead = nil
		s.mu.Unlock()
	}()

	cfg := loop.Config{
		AgentName:      s.name,
		MaxIterations:  s.maxIterations,
		Provider:       s.provider,
		ProviderConfig: s.providerConfig,
		Tools:          tool.Merge(s.leadTools(), s.tools),
		SystemPrompt:   s.leadPrompt(),
		WorkingFolder:  s.workingFolder,
		Queue:          s.queue,
		Compression:    s.compression,
		Approver:       s.approvals,
		Retry:          s.retry,
		Logger:         s.log,
	}
	end := loop.Drain(loop.Run(ctx, history, cfg), observe)

	if len(end.Messages) > 0 {
		s.mu.Lock()
		s.history = end.Messages
		s.mu.Unlock()
	}
	return end
}

// SpawnTeammate starts a teammate. A task id in spec is claimed for the teammate before
// it starts, so claim errors are returned here.
func (s *Session) SpawnTeammate(ctx context.Context, spec TeammateSpec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New("teammate name is required")
	}
	if name == s.name || name == bus.Broadcast {
		return fmt.Errorf("%q is reserved", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.running[name]; ok {
		return fmt.Errorf("%w: %s", ErrTeammateExists, name)
	}

	if spec.TaskID != "" {
		if _, err := s.board.Claim(ctx, spec.TaskID, name); err != nil {
			return err
		}
	}
	maxIter := spec.MaxIterations
	if maxIter <= 0 {
		maxIter = s.teammateMaxIterations
	}
	runner, err := team.NewRunner(team.Config{
		ID:             name,
		Lead:           s.name,
		Prompt:         spec.Prompt,
		TaskID:         spec.TaskID,
		SystemPrompt:   spec.SystemPrompt,
		MaxIterations:  maxIter,
		Provider:       s.teammateProvider,
		ProviderConfig: s.providerConfig,
		Tools:          tool.Merge(tool.MustRegistry(subagent.AsTool(s.subagents, s.registry)), s.tools),
		WorkingFolder:  s.workingFolder,
		Retry:          s.retry,
		FlushInterval:  s.flushInterval,
	}, s.coord, s.board, s.topic)
	if err != nil {
		if spec.TaskID != "" {
			_ = s.board.Release(ctx, spec.TaskID, name)
		}
		return err
	}

	// registered before the goroutine starts so an Abort right after the spawn reaches it
	runCtx := runner.Start(s.ctx)
	s.running[name] = struct{}{}
	s.log.InfoContext(ctx, "spawning teammate", slogx.Teammate(name), slogx.Task(spec.TaskID))
	s.group.Go(func() error {
		out := runner.Run(runCtx)
		s.mu.Lock()
		delete(s.running, name)
		s.outcomes = append(s.outcomes, out)
		s.mu.Unlock()
		return nil
	})
	return nil
}

func (s *Session) isRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[name]
	return ok
}

// ShutdownTeammate asks a teammate to stop at its next iteration boundary. The flag is set
// directly as well, so a teammate that has not subscribed yet still sees it.
func (s *Session) ShutdownTeammate(ctx context.Context, name string) error {
	if s.isRunning(name) {
		s.coord.RequestShutdown(name)
	}
	return s.topic.Publish(ctx, bus.NewMessage(s.name, name, bus.TypeShutdownRequest, ""))
}

// Wait blocks until every spawned teammate stopped and returns the outcomes collected so
// far, in the order the teammates stopped. It must not race with SpawnTeammate.
func (s *Session) Wait(ctx context.Context) ([]team.Outcome, error) {
	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.outcomes), nil
}

// Abort stops the running Send of the lead, hard-aborts every teammate and denies every
// pending approval. The session stays usable.
func (s *Session) Abort() {
	s.mu.Lock()
	abortLead := s.abortLead
	s.mu.Unlock()
	if abortLead != nil {
		abortLead()
	}
	n := s.coord.AbortAllTeammates()
	denied := s.coord.ClearPendingApprovals()
	s.log.Info("session aborted", slog.Int("teammates", n), slog.Int("approvals", denied))
}

// Close aborts everything, waits for the teammates to stop and releases the bus
// subscriptions.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.Abort()
		s.cancel()
		_ = s.group.Wait()
		s.unsubscribe()
	})
	return nil
}
