// Package messages provides the conversation model shared by agent loops: messages with
// either plain text or typed content blocks (text, thinking, tool use and tool result),
// token usage accounting and validation of the tool use / tool result pairing.
package messages

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var jsonNull = []byte(`null`)

// Content represents either a simple string content or a sequence of content blocks.
// When Blocks is non-nil it takes precedence over Text.
type Content struct {
	Text   string         // Raw string content, used when the message is just text
	Blocks []ContentBlock // Typed content blocks
	_      struct{}       // require keyed usage
}

// MarshalJSON implements json.Marshaler interface for Content.
// Returns the Blocks as a JSON array when present, otherwise the Text as a JSON string.
// Returns null if both are empty.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	if c.Text == "" {
		return jsonNull, nil
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON implements json.Unmarshaler interface for Content.
// Handles both string content and arrays of typed blocks.
// Returns an error if the JSON is invalid or contains unknown block types.
func (c *Content) UnmarshalJSON(input []byte) error {
	if !gjson.ValidBytes(input) {
		return fmt.Errorf("invalid json: %s", input)
	}
	jv := gjson.ParseBytes(input)
	if jv.Type == gjson.Null {
		return nil
	}
	if !jv.IsArray() {
		c.Text = jv.String()
		return nil
	}

	aj := jv.Array()
	blocks := make([]ContentBlock, len(aj))
	for idx, ajv := range aj {
		block, err := decodeBlock(ajv)
		if err != nil {
			return fmt.Errorf("invalid block at %d: %w", idx, err)
		}
		blocks[idx] = block
	}
	c.Blocks = blocks
	return nil
}

func decodeBlock(jv gjson.Result) (ContentBlock, error) {
	raw := []byte(jv.Raw)
	switch tpe := jv.Get("type").String(); tpe {
	case "text":
		var b TextBlock
		err := b.decode(raw)
		return b, err
	case "thinking":
		var b ThinkingBlock
		err := b.UnmarshalJSON(raw)
		return b, err
	case "tool_use":
		var b ToolUseBlock
		err := b.UnmarshalJSON(raw)
		return b, err
	case "tool_result":
		var b ToolResultBlock
		err := b.UnmarshalJSON(raw)
		return b, err
	default:
		return nil, fmt.Errorf("unknown block type %q", tpe)
	}
}

// PlainText concatenates the text of the content: Text itself, or every TextBlock.
func (c Content) PlainText() string {
	if c.Blocks == nil {
		return c.Text
	}
	var sb strings.Builder
	for _, b := range c.Blocks {
		if tb, ok := b.(TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool use blocks in emission order.
func (c Content) ToolUses() []ToolUseBlock {
	var out []ToolUseBlock
	for _, b := range c.Blocks {
		if tu, ok := b.(ToolUseBlock); ok {
			out = append(out, tu)
		}
	}
	return out
}

// ToolResults returns the tool result blocks in order.
func (c Content) ToolResults() []ToolResultBlock {
	var out []ToolResultBlock
	for _, b := range c.Blocks {
		if tr, ok := b.(ToolResultBlock); ok {
			out = append(out, tr)
		}
	}
	return out
}

// ContentBlock is an interface that marks structs as valid content blocks.
// Implementations are TextBlock, ThinkingBlock, ToolUseBlock and ToolResultBlock.
type ContentBlock interface {
	contentBlock()
}

// Text creates a new TextBlock with the given text.
func Text(text string) TextBlock {
	return TextBlock{Text: text}
}

// TextBlock represents a span of assistant or user text.
type TextBlock struct {
	Text string   `json:"text"`
	_    struct{} // require keyed usage
}

func (TextBlock) contentBlock() {}

var textJSON = []byte(`{"type":"text"}`)

// MarshalJSON implements json.Marshaler interface for TextBlock.
func (t TextBlock) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(textJSON, "text", t.Text)
}

// UnmarshalJSON implements json.Unmarshaler interface for TextBlock.
func (t *TextBlock) UnmarshalJSON(input []byte) error {
	return t.decode(input)
}

func (t *TextBlock) decode(input []byte) error {
	text := gjson.GetBytes(input, "text")
	if !text.Exists() {
		return errors.New("missing required field 'text'")
	}
	t.Text = text.String()
	return nil
}

// ThinkingBlock carries model reasoning. StartedAt and CompletedAt are zero when unknown.
type ThinkingBlock struct {
	Text        string          `json:"text"`
	StartedAt   strfmt.DateTime `json:"started_at,omitempty"`
	CompletedAt strfmt.DateTime `json:"completed_at,omitempty"`
	_           struct{}        // require keyed usage
}

func (ThinkingBlock) contentBlock() {}

var thinkingJSON = []byte(`{"type":"thinking"}`)

// MarshalJSON implements json.Marshaler interface for ThinkingBlock.
func (t ThinkingBlock) MarshalJSON() ([]byte, error) {
	b, err := sjson.SetBytes(thinkingJSON, "text", t.Text)
	if err != nil {
		return nil, err
	}
	if !t.StartedAt.IsZero() {
		if b, err = sjson.SetBytes(b, "started_at", t.StartedAt.String()); err != nil {
			return nil, err
		}
	}
	if !t.CompletedAt.IsZero() {
		if b, err = sjson.SetBytes(b, "completed_at", t.CompletedAt.String()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// UnmarshalJSON implements json.Unmarshaler interface for ThinkingBlock.
func (t *ThinkingBlock) UnmarshalJSON(input []byte) error {
	text := gjson.GetBytes(input, "text")
	if !text.Exists() {
		return errors.New("missing required field 'text'")
	}
	t.Text = text.String()

	var err error
	if v := gjson.GetBytes(input, "started_at"); v.Exists() {
		if t.StartedAt, err = strfmt.ParseDateTime(v.String()); err != nil {
			return fmt.Errorf("invalid started_at: %w", err)
		}
	}
	if v := gjson.GetBytes(input, "completed_at"); v.Exists() {
		if t.CompletedAt, err = strfmt.ParseDateTime(v.String()); err != nil {
			return fmt.Errorf("invalid completed_at: %w", err)
		}
	}
	return nil
}

// ToolUseBlock is a model request to invoke the named tool with the given input.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
	_     struct{}       // require keyed usage
}

func (ToolUseBlock) contentBlock() {}

var toolUseJSON = []byte(`{"type":"tool_use"}`)

// MarshalJSON implements json.Marshaler interface for ToolUseBlock.
// A nil input is serialized as an empty object.
func (t ToolUseBlock) MarshalJSON() ([]byte, error) {
	b, err := sjson.SetBytes(toolUseJSON, "id", t.ID)
	if err != nil {
		return nil, err
	}
	if b, err = sjson.SetBytes(b, "name", t.Name); err != nil {
		return nil, err
	}
	input := []byte(`{}`)
	if t.Input != nil {
		if input, err = json.Marshal(t.Input); err != nil {
			return nil, fmt.Errorf("failed to marshal tool input: %w", err)
		}
	}
	return sjson.SetRawBytes(b, "input", input)
}

// UnmarshalJSON implements json.Unmarshaler interface for ToolUseBlock.
func (t *ToolUseBlock) UnmarshalJSON(input []byte) error {
	id := gjson.GetBytes(input, "id")
	if !id.Exists() {
		return errors.New("missing required field 'id'")
	}
	name := gjson.GetBytes(input, "name")
	if !name.Exists() {
		return errors.New("missing required field 'name'")
	}
	t.ID = id.String()
	t.Name = name.String()

	t.Input = map[string]any{}
	if raw := gjson.GetBytes(input, "input"); raw.Exists() && raw.IsObject() {
		if err := json.Unmarshal([]byte(raw.Raw), &t.Input); err != nil {
			return fmt.Errorf("invalid tool input: %w", err)
		}
	}
	return nil
}

// ToolResultBlock is the outcome of a tool invocation, paired with a ToolUseBlock by id.
type ToolResultBlock struct {
	ToolUseID string   `json:"tool_use_id"`
	Content   string   `json:"content"`
	IsError   bool     `json:"is_error,omitempty"`
	_         struct{} // require keyed usage
}

func (ToolResultBlock) contentBlock() {}

var toolResultJSON = []byte(`{"type":"tool_result"}`)

// MarshalJSON implements json.Marshaler interface for ToolResultBlock.
func (t ToolResultBlock) MarshalJSON() ([]byte, error) {
	b, err := sjson.SetBytes(toolResultJSON, "tool_use_id", t.ToolUseID)
	if err != nil {
		return nil, err
	}
	if b, err = sjson.SetBytes(b, "content", t.Content); err != nil {
		return nil, err
	}
	if t.IsError {
		return sjson.SetBytes(b, "is_error", true)
	}
	return b, nil
}

// UnmarshalJSON implements json.Unmarshaler interface for ToolResultBlock.
func (t *ToolResultBlock) UnmarshalJSON(input []byte) error {
	id := gjson.GetBytes(input, "tool_use_id")
	if !id.Exists() {
		return errors.New("missing required field 'tool_use_id'")
	}
	t.ToolUseID = id.String()
	t.Content = gjson.GetBytes(input, "content").String()
	t.IsError = gjson.GetBytes(input, "is_error").Bool()
	return nil
}
