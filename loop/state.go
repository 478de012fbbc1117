package loop

import (
	"errors"
	"fmt"
	"time"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/go-openapi/strfmt"
)

// ToolCallStatus is the lifecycle state of one tool call.
type ToolCallStatus string

const (
	StatusStreaming       ToolCallStatus = "streaming"
	StatusPendingApproval ToolCallStatus = "pending_approval"
	StatusRunning         ToolCallStatus = "running"
	StatusCompleted       ToolCallStatus = "completed"
	StatusError           ToolCallStatus = "error"
)

// ErrIllegalTransition is returned for a status change the state machine does not allow.
var ErrIllegalTransition = errors.New("illegal tool call transition")

// streaming may fail directly when the call is abandoned before it ran.
var transitions = map[ToolCallStatus][]ToolCallStatus{
	StatusStreaming:       {StatusPendingApproval, StatusRunning, StatusError},
	StatusPendingApproval: {StatusRunning, StatusError},
	StatusRunning:         {StatusCompleted, StatusError},
}

const (
	// DeniedMessage is the result content of a call the approver rejected.
	DeniedMessage = "Permission denied"
	// AbortedMessage is the result content of a call that never ran because the loop was cancelled.
	AbortedMessage = "Tool call aborted"
)

// ToolCallState tracks one tool call from the end of its streaming to its result.
type ToolCallState struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Input            map[string]any  `json:"input"`
	Status           ToolCallStatus  `json:"status"`
	Output           string          `json:"output,omitempty"`
	Error            string          `json:"error,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	StartedAt        strfmt.DateTime `json:"started_at,omitempty"`
	CompletedAt      strfmt.DateTime `json:"completed_at,omitempty"`
}

// Transition moves the call to status to, or returns ErrIllegalTransition.
func (s *ToolCallState) Transition(to ToolCallStatus) error {
	for _, allowed := range transitions[s.Status] {
		if allowed == to {
			s.Status = to
			if to == StatusRunning {
				s.StartedAt = strfmt.DateTime(time.Now())
			}
			if to == StatusCompleted || to == StatusError {
				s.CompletedAt = strfmt.DateTime(time.Now())
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, to)
}

// Complete records a successful output.
func (s *ToolCallState) Complete(output string) error {
	if err := s.Transition(StatusCompleted); err != nil {
		return err
	}
	s.Output = output
	return nil
}

// Fail records an error outcome.
func (s *ToolCallState) Fail(msg string) error {
	if err := s.Transition(StatusError); err != nil {
		return err
	}
	s.Error = msg
	return nil
}

// Done reports whether the call reached a final status.
func (s ToolCallState) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusError
}

// ToolUse returns the tool use block the call was generated from.
func (s ToolCallState) ToolUse() messages.ToolUseBlock {
	return messages.ToolUseBlock{ID: s.ID, Name: s.Name, Input: s.Input}
}

// ResultBlock folds the final state into the tool result sent back to the model.
func (s ToolCallState) ResultBlock() messages.ToolResultBlock {
	if s.Status == StatusError {
		return messages.ToolResultBlock{ToolUseID: s.ID, Content: s.Error, IsError: true}
	}
	return messages.ToolResultBlock{ToolUseID: s.ID, Content: s.Output}
}
