package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/pkg/slogx"
	"github.com/casualjim/flock/provider"
)

// PrunedResult replaces the content of tool results that were pruned from the history.
const PrunedResult = "[tool result pruned to save context]"

// ErrNothingToCompress is returned by a compressor when the history is too short to shrink.
var ErrNothingToCompress = errors.New("nothing to compress")

// PruneHistory returns a copy of history where tool results and thinking blocks older than
// the last keepTurns assistant turns are dropped. Tool uses and results stay paired.
// The second value is the number of blocks that changed.
func PruneHistory(history []messages.ConversationMessage, keepTurns int) ([]messages.ConversationMessage, int) {
	out := make([]messages.ConversationMessage, len(history))
	copy(out, history)

	cutoff := len(out)
	seen := 0
	for i := len(out) - 1; i >= 0 && seen < keepTurns; i-- {
		if out[i].Role == messages.RoleAssistant {
			seen++
			cutoff = i
		}
	}
	if seen < keepTurns {
		return out, 0
	}

	changed := 0
	for i := range out[:cutoff] {
		blocks := out[i].Content.Blocks
		if blocks == nil {
			continue
		}
		pruned := make([]messages.ContentBlock, 0, len(blocks))
		for _, b := range blocks {
			switch blk := b.(type) {
			case messages.ThinkingBlock:
				changed++
				continue
			case messages.ToolResultBlock:
				if blk.Content != PrunedResult {
					blk.Content = PrunedResult
					changed++
				}
				pruned = append(pruned, blk)
			default:
				pruned = append(pruned, b)
			}
		}
		out[i].Content = messages.Content{Blocks: pruned}
	}
	return out, changed
}

func (r *runner) maybeCompress(ctx context.Context) {
	c := r.cfg.Compression
	if c == nil || c.ContextWindow <= 0 || ctx.Err() != nil {
		return
	}
	tokens := r.thread.LastInputTokens()
	ratio := float64(tokens) / float64(c.ContextWindow)

	if ratio >= c.compressAt() && c.Compressor != nil {
		if r.compress(ctx, tokens, c.Compressor) {
			return
		}
	}
	if ratio >= c.pruneAt() {
		r.prune(ctx, tokens, c.keepTurns())
	}
}

func (r *runner) compress(ctx context.Context, tokens int64, compressor Compressor) bool {
	r.emit(ctx, ContextCompressionStart{Mode: CompressionFull, InputTokens: tokens})
	before := r.thread.Len()

	compressed, err := compressor.Compress(ctx, r.thread.Messages())
	if err == nil {
		err = messages.ValidatePairing(compressed)
	}
	if err != nil {
		r.log.WarnContext(ctx, "context compression failed", slogx.Error(err))
		return false
	}

	r.thread.Replace(compressed)
	r.thread.ResetInputTokens()
	r.log.InfoContext(ctx, "context compressed", slog.Int("before", before), slog.Int("after", len(compressed)))
	r.emit(ctx, ContextCompressed{Mode: CompressionFull, Before: before, After: len(compressed)})
	return true
}

func (r *runner) prune(ctx context.Context, tokens int64, keepTurns int) {
	before := r.thread.Len()
	pruned, changed := PruneHistory(r.thread.Messages(), keepTurns)
	if changed == 0 {
		return
	}
	r.emit(ctx, ContextCompressionStart{Mode: CompressionPrune, InputTokens: tokens})
	r.thread.Replace(pruned)
	r.thread.ResetInputTokens()
	r.log.DebugContext(ctx, "context pruned", slog.Int("blocks", changed))
	r.emit(ctx, ContextCompressed{Mode: CompressionPrune, Before: before, After: len(pruned), Blocks: changed})
}

const defaultSummaryPrompt = `You compress agent conversations. Summarize the conversation you are given so the agent can continue the work without it.
Keep decisions, facts learned, file paths, open questions and the current plan. Leave out pleasantries and tool output that is no longer relevant.`

// ProviderCompressor summarizes the older part of a history with a provider call and
// keeps the most recent messages verbatim.
type ProviderCompressor struct {
	Provider provider.Provider
	Config   provider.Config
	// KeepMessages is the number of trailing messages kept as they are, default 6.
	KeepMessages int
	// Prompt overrides the summarization system prompt.
	Prompt string
}

func (p *ProviderCompressor) keep() int {
	if p.KeepMessages > 0 {
		return p.KeepMessages
	}
	return 6
}

// Compress implements Compressor.
func (p *ProviderCompressor) Compress(ctx context.Context, history []messages.ConversationMessage) ([]messages.ConversationMessage, error) {
	boundary := len(history) - p.keep()
	// the kept suffix must not open with results whose tool uses were summarized away
	for boundary > 0 && len(history[boundary].Content.ToolResults()) > 0 {
		boundary--
	}
	if boundary <= 0 {
		return nil, ErrNothingToCompress
	}

	var preamble, older []messages.ConversationMessage
	for _, m := range history[:boundary] {
		if m.Role == messages.RoleSystem {
			preamble = append(preamble, m)
			continue
		}
		older = append(older, m)
	}
	if len(older) == 0 {
		return nil, ErrNothingToCompress
	}

	summary, err := p.summarize(ctx, older)
	if err != nil {
		return nil, err
	}

	out := make([]messages.ConversationMessage, 0, len(preamble)+1+len(history)-boundary)
	out = append(out, preamble...)
	out = append(out, messages.User("Summary of the earlier conversation:\n\n"+summary))
	out = append(out, history[boundary:]...)
	return out, nil
}

func (p *ProviderCompressor) summarize(ctx context.Context, older []messages.ConversationMessage) (string, error) {
	prompt := p.Prompt
	if prompt == "" {
		prompt = defaultSummaryPrompt
	}
	req := provider.Request{
		SystemPrompt: prompt,
		Messages:     append(older, messages.User("Summarize the conversation so far.")),
		Config:       p.Config,
	}
	events, err := p.Provider.SendMessage(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", context.Cause(ctx)
		case ev, ok := <-events:
			if !ok {
				if sb.Len() == 0 {
					return "", fmt.Errorf("summarize: %w", ErrNothingToCompress)
				}
				return sb.String(), nil
			}
			switch e := ev.(type) {
			case provider.TextDelta:
				sb.WriteString(e.Text)
			case provider.Error:
				return "", fmt.Errorf("summarize: %w", e)
			}
		}
	}
}
