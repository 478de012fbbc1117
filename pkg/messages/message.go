package messages

import (
	"errors"
	"fmt"
	"time"

	"github.com/casualjim/flock/pkg/uuidx"
	"github.com/go-openapi/strfmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one entry of a conversation history.
type ConversationMessage struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   Content         `json:"content"`
	CreatedAt strfmt.DateTime `json:"created_at"`
	Usage     *Usage          `json:"usage,omitempty"`
	_         struct{}        // require keyed usage
}

// HasToolUses reports whether the message carries at least one tool use block.
func (m ConversationMessage) HasToolUses() bool {
	return len(m.Content.ToolUses()) > 0
}

func newMessage(role Role, content Content) ConversationMessage {
	return ConversationMessage{
		ID:        uuidx.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: strfmt.DateTime(time.Now()),
	}
}

// System creates a system message with plain text content.
func System(text string) ConversationMessage {
	return newMessage(RoleSystem, Content{Text: text})
}

// User creates a user message with plain text content.
func User(text string) ConversationMessage {
	return newMessage(RoleUser, Content{Text: text})
}

// Assistant creates an assistant message from content blocks.
func Assistant(blocks ...ContentBlock) ConversationMessage {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return newMessage(RoleAssistant, Content{Blocks: blocks})
}

// ToolResults creates the user message that answers the tool uses of the previous turn.
func ToolResults(results ...ToolResultBlock) ConversationMessage {
	blocks := make([]ContentBlock, len(results))
	for i, r := range results {
		blocks[i] = r
	}
	return newMessage(RoleUser, Content{Blocks: blocks})
}

var (
	// ErrUnmatchedToolUse is reported for a tool use without a result in the next message.
	ErrUnmatchedToolUse = errors.New("tool use has no matching tool result")
	// ErrOrphanToolResult is reported for a tool result that answers no tool use of the previous message.
	ErrOrphanToolResult = errors.New("tool result has no matching tool use")
	// ErrDuplicateToolResult is reported when a tool use is answered more than once.
	ErrDuplicateToolResult = errors.New("tool use answered more than once")
)

// ValidatePairing checks that every tool use in an assistant message is answered by exactly
// one tool result in the very next message, and that no tool result exists without its tool use.
// All violations are joined into the returned error.
func ValidatePairing(history []ConversationMessage) error {
	var errs []error
	for i, msg := range history {
		var expected map[string]bool
		if i > 0 && history[i-1].Role == RoleAssistant {
			uses := history[i-1].Content.ToolUses()
			expected = make(map[string]bool, len(uses))
			for _, u := range uses {
				expected[u.ID] = false
			}
		}

		for _, r := range msg.Content.ToolResults() {
			seen, ok := expected[r.ToolUseID]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("message %d: %w: %s", i, ErrOrphanToolResult, r.ToolUseID))
			case seen:
				errs = append(errs, fmt.Errorf("message %d: %w: %s", i, ErrDuplicateToolResult, r.ToolUseID))
			default:
				expected[r.ToolUseID] = true
			}
		}

		for id, seen := range expected {
			if !seen {
				errs = append(errs, fmt.Errorf("message %d: %w: %s", i-1, ErrUnmatchedToolUse, id))
			}
		}
	}

	if n := len(history); n > 0 && history[n-1].Role == RoleAssistant {
		for _, u := range history[n-1].Content.ToolUses() {
			errs = append(errs, fmt.Errorf("message %d: %w: %s", n-1, ErrUnmatchedToolUse, u.ID))
		}
	}
	return errors.Join(errs...)
}
