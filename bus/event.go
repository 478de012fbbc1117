package bus

import (
	"fmt"
	"time"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/pkg/uuidx"
	json "github.com/goccy/go-json"
	"github.com/go-openapi/strfmt"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Broadcast addresses a message to every member.
const Broadcast = "*"

// Event is the sealed set of team notifications.
type Event interface {
	busEvent()
}

// MemberStatus is the lifecycle state of a teammate.
type MemberStatus string

const (
	MemberSpawned MemberStatus = "spawned"
	MemberWorking MemberStatus = "working"
	MemberStopped MemberStatus = "stopped"
)

// ToolActivity describes a tool call of a member.
type ToolActivity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// MemberPatch holds the fields of a member that changed. Empty fields did not change.
type MemberPatch struct {
	Status     MemberStatus    `json:"status,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	TaskID     string          `json:"task_id,omitempty"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolActivity   `json:"tool_call,omitempty"`
	Usage      *messages.Usage `json:"usage,omitempty"`
	Iterations int             `json:"iterations,omitempty"`
}

// MemberUpdate reports a change of a team member.
type MemberUpdate struct {
	MemberID  string          `json:"member_id"`
	Patch     MemberPatch     `json:"patch"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// TaskStatus is the state of a task on the board.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TaskPatch holds the fields of a task that changed.
type TaskPatch struct {
	Status TaskStatus `json:"status,omitempty"`
	Owner  *string    `json:"owner,omitempty"`
	Report string     `json:"report,omitempty"`
}

// TaskUpdate reports a change of a task.
type TaskUpdate struct {
	TaskID    string          `json:"task_id"`
	Patch     TaskPatch       `json:"patch"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// MessageType classifies team messages.
type MessageType string

const (
	TypeMessage          MessageType = "message"
	TypeShutdownRequest  MessageType = "shutdown_request"
	TypeCompletionReport MessageType = "completion_report"
)

// Message is sent between members. To is a member id or Broadcast.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      MessageType     `json:"message_type"`
	Content   string          `json:"content"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(from, to string, typ MessageType, content string) Message {
	return Message{
		ID:        uuidx.NewString(),
		From:      from,
		To:        to,
		Type:      typ,
		Content:   content,
		Timestamp: strfmt.DateTime(time.Now()),
	}
}

// For reports whether the message is addressed to member.
func (m Message) For(member string) bool {
	return m.To == member || (m.To == Broadcast && m.From != member)
}

func (MemberUpdate) busEvent() {}
func (TaskUpdate) busEvent()   {}
func (Message) busEvent()      {}

func eventType(ev Event) (string, error) {
	switch ev.(type) {
	case MemberUpdate:
		return "member_update", nil
	case TaskUpdate:
		return "task_update", nil
	case Message:
		return "message", nil
	default:
		return "", fmt.Errorf("unknown event type: %T", ev)
	}
}

// ToJSON encodes an event with a "type" discriminator.
func ToJSON(ev Event) ([]byte, error) {
	typ, err := eventType(ev)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(b, "type", typ)
}

// FromJSON decodes an event written by ToJSON.
func FromJSON(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid event json")
	}
	switch typ := gjson.GetBytes(data, "type").String(); typ {
	case "member_update":
		return decode[MemberUpdate](data)
	case "task_update":
		return decode[TaskUpdate](data)
	case "message":
		return decode[Message](data)
	default:
		return nil, fmt.Errorf("unknown event type: %q", typ)
	}
}

func decode[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
