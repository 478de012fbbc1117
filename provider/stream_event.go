package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/casualjim/flock/pkg/messages"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	thinkingDeltaJSON = []byte(`{"type":"thinking_delta"}`)
	textDeltaJSON     = []byte(`{"type":"text_delta"}`)
	toolCallStartJSON = []byte(`{"type":"tool_call_start"}`)
	toolCallDeltaJSON = []byte(`{"type":"tool_call_delta"}`)
	toolCallEndJSON   = []byte(`{"type":"tool_call_end"}`)
	messageEndJSON    = []byte(`{"type":"message_end"}`)
	errorJSON         = []byte(`{"type":"error"}`)
)

// StreamEvent is the sealed set of events a provider emits.
type StreamEvent interface {
	streamEvent()
}

// ThinkingDelta is an increment of model reasoning.
type ThinkingDelta struct {
	Text string `json:"text"`
}

func (ThinkingDelta) streamEvent() {}

// TextDelta is an increment of answer text.
type TextDelta struct {
	Text string `json:"text"`
}

func (TextDelta) streamEvent() {}

// ToolCallStart opens a tool call.
type ToolCallStart struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (ToolCallStart) streamEvent() {}

// ToolCallDelta carries a fragment of the raw JSON arguments of a call.
type ToolCallDelta struct {
	ID             string `json:"id"`
	ArgumentsDelta string `json:"arguments_delta"`
}

func (ToolCallDelta) streamEvent() {}

// ToolCallEnd closes a tool call. Input is the final decoded arguments; a nil Input
// means the consumer should use the arguments it accumulated from deltas.
type ToolCallEnd struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

func (ToolCallEnd) streamEvent() {}

// Timing describes the latency of one response.
type Timing struct {
	TimeToFirstToken time.Duration
	Duration         time.Duration
}

// MessageEnd marks the end of a response.
type MessageEnd struct {
	Usage      messages.Usage
	Timing     Timing
	StopReason string
}

func (MessageEnd) streamEvent() {}

// Error is a failure reported inside the stream.
type Error struct {
	Type    string
	Message string
	Status  int
}

func (Error) streamEvent() {}

func (e Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// StatusCode returns the HTTP status associated with the error, or 0.
func (e Error) StatusCode() int {
	return e.Status
}

// MarshalJSON implements custom JSON marshaling for ThinkingDelta
func (d ThinkingDelta) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(thinkingDeltaJSON, "text", d.Text)
}

// MarshalJSON implements custom JSON marshaling for TextDelta
func (d TextDelta) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(textDeltaJSON, "text", d.Text)
}

// MarshalJSON implements custom JSON marshaling for ToolCallStart
func (s ToolCallStart) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(toolCallStartJSON, "id", s.ID)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "name", s.Name)
}

// MarshalJSON implements custom JSON marshaling for ToolCallDelta
func (d ToolCallDelta) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(toolCallDeltaJSON, "id", d.ID)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "arguments_delta", d.ArgumentsDelta)
}

// MarshalJSON implements custom JSON marshaling for ToolCallEnd
func (e ToolCallEnd) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(toolCallEndJSON, "id", e.ID)
	if err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "name", e.Name); err != nil {
		return nil, err
	}
	if e.Input == nil {
		return result, nil
	}
	input, err := json.Marshal(e.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	return sjson.SetRawBytes(result, "input", input)
}

// MarshalJSON implements custom JSON marshaling for MessageEnd
func (m MessageEnd) MarshalJSON() ([]byte, error) {
	usage, err := json.Marshal(m.Usage)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal usage: %w", err)
	}
	result, err := sjson.SetRawBytes(messageEndJSON, "usage", usage)
	if err != nil {
		return nil, err
	}
	if m.Timing.TimeToFirstToken > 0 {
		if result, err = sjson.SetBytes(result, "timing.ttft_ms", m.Timing.TimeToFirstToken.Milliseconds()); err != nil {
			return nil, err
		}
	}
	if m.Timing.Duration > 0 {
		if result, err = sjson.SetBytes(result, "timing.duration_ms", m.Timing.Duration.Milliseconds()); err != nil {
			return nil, err
		}
	}
	if m.StopReason != "" {
		return sjson.SetBytes(result, "stop_reason", m.StopReason)
	}
	return result, nil
}

// MarshalJSON implements custom JSON marshaling for Error
func (e Error) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(errorJSON, "error_type", e.Type)
	if err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "message", e.Message); err != nil {
		return nil, err
	}
	if e.Status > 0 {
		return sjson.SetBytes(result, "status", e.Status)
	}
	return result, nil
}

// ToJSON serializes a stream event with its type tag.
func ToJSON(event StreamEvent) ([]byte, error) {
	if event == nil {
		return nil, errors.New("nil stream event")
	}
	return json.Marshal(event)
}

// FromJSON decodes a type-tagged stream event.
func FromJSON(data []byte) (StreamEvent, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}
	doc := gjson.ParseBytes(data)
	required := func(field string) (gjson.Result, error) {
		v := doc.Get(field)
		if !v.Exists() {
			return v, fmt.Errorf("missing required field '%s'", field)
		}
		return v, nil
	}

	switch tpe := doc.Get("type").String(); tpe {
	case "thinking_delta":
		text, err := required("text")
		if err != nil {
			return nil, err
		}
		return ThinkingDelta{Text: text.String()}, nil
	case "text_delta":
		text, err := required("text")
		if err != nil {
			return nil, err
		}
		return TextDelta{Text: text.String()}, nil
	case "tool_call_start":
		id, err := required("id")
		if err != nil {
			return nil, err
		}
		return ToolCallStart{ID: id.String(), Name: doc.Get("name").String()}, nil
	case "tool_call_delta":
		id, err := required("id")
		if err != nil {
			return nil, err
		}
		return ToolCallDelta{ID: id.String(), ArgumentsDelta: doc.Get("arguments_delta").String()}, nil
	case "tool_call_end":
		id, err := required("id")
		if err != nil {
			return nil, err
		}
		end := ToolCallEnd{ID: id.String(), Name: doc.Get("name").String()}
		if raw := doc.Get("input"); raw.Exists() {
			if err := json.Unmarshal([]byte(raw.Raw), &end.Input); err != nil {
				return nil, fmt.Errorf("invalid input: %w", err)
			}
		}
		return end, nil
	case "message_end":
		var end MessageEnd
		if raw := doc.Get("usage"); raw.Exists() {
			if err := json.Unmarshal([]byte(raw.Raw), &end.Usage); err != nil {
				return nil, fmt.Errorf("invalid usage: %w", err)
			}
		}
		end.Timing.TimeToFirstToken = time.Duration(doc.Get("timing.ttft_ms").Int()) * time.Millisecond
		end.Timing.Duration = time.Duration(doc.Get("timing.duration_ms").Int()) * time.Millisecond
		end.StopReason = doc.Get("stop_reason").String()
		return end, nil
	case "error":
		return Error{
			Type:    doc.Get("error_type").String(),
			Message: doc.Get("message").String(),
			Status:  int(doc.Get("status").Int()),
		}, nil
	default:
		return nil, fmt.Errorf("unknown stream event type %q", tpe)
	}
}
