package loop

import (
	"context"
	"log/slog"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/pkg/slogx"
	"github.com/casualjim/flock/provider"
	"github.com/casualjim/flock/queue"
	"github.com/casualjim/flock/retry"
	"github.com/casualjim/flock/tool"
	"github.com/google/uuid"
)

// Approver decides on tool calls that need approval. Implementations must return once
// ctx is done.
type Approver interface {
	Approve(ctx context.Context, call ToolCallState) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(context.Context, ToolCallState) (bool, error)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, call ToolCallState) (bool, error) {
	return f(ctx, call)
}

// Config is the immutable configuration of one loop invocation.
type Config struct {
	AgentName string
	// RunID identifies the invocation; a new id is generated when zero.
	RunID uuid.UUID
	// MaxIterations bounds the number of provider calls; 0 means unlimited.
	MaxIterations  int
	Provider       provider.Provider
	ProviderConfig provider.Config
	Tools          tool.Registry
	// ToolDefinitions overrides Tools.Definitions() when not nil.
	ToolDefinitions []tool.Definition
	SystemPrompt    string
	WorkingFolder   string
	// Queue is drained at every iteration boundary.
	Queue       *queue.Queue
	Compression *Compression
	// Approver resolves calls that need approval; without one they are denied.
	Approver Approver
	// Interrupt is consulted right after IterationStart; returning true ends the loop
	// as completed before the provider is called.
	Interrupt func(iteration int) bool
	// Retry overrides retry.DefaultConfig.
	Retry  *retry.Config
	Logger *slog.Logger
}

func (c *Config) definitions() []tool.Definition {
	if c.ToolDefinitions != nil {
		return c.ToolDefinitions
	}
	if c.Tools == nil {
		return nil
	}
	return c.Tools.Definitions()
}

func (c *Config) retryConfig() retry.Config {
	if c.Retry != nil {
		return *c.Retry
	}
	return retry.DefaultConfig
}

func (c *Config) logger() *slog.Logger {
	lg := c.Logger
	if lg == nil {
		lg = slog.Default().With(slogx.LoggerName("flock.loop"))
	}
	return lg.With(slogx.Agent(c.AgentName), slogx.RunID(c.RunID.String()))
}

// CompressionMode tells full compression from pruning.
type CompressionMode string

const (
	CompressionPrune CompressionMode = "prune"
	CompressionFull  CompressionMode = "full"
)

// Compressor replaces a history with a shorter equivalent, typically by summarizing the
// older part. The result must keep tool uses and results paired.
type Compressor interface {
	Compress(ctx context.Context, history []messages.ConversationMessage) ([]messages.ConversationMessage, error)
}

// Compression configures history reduction. It is driven by the input token count of the
// previous provider response relative to ContextWindow.
type Compression struct {
	ContextWindow int64
	// Compressor runs at CompressAt; without one only pruning happens.
	Compressor Compressor
	// PruneAt defaults to 0.6, CompressAt to 0.8.
	PruneAt    float64
	CompressAt float64
	// KeepTurns is the number of recent assistant turns left untouched by pruning, default 2.
	KeepTurns int
}

func (c *Compression) pruneAt() float64 {
	if c.PruneAt > 0 {
		return c.PruneAt
	}
	return 0.6
}

func (c *Compression) compressAt() float64 {
	if c.CompressAt > 0 {
		return c.CompressAt
	}
	return 0.8
}

func (c *Compression) keepTurns() int {
	if c.KeepTurns > 0 {
		return c.KeepTurns
	}
	return 2
}
