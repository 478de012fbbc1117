package team

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/casualjim/flock/bus"
	"github.com/casualjim/flock/tool"
)

const (
	CompleteTaskToolName = "complete_task"
	SendMessageToolName  = "send_message"
	ListTasksToolName    = "list_tasks"
)

type completeTaskInput struct {
	Report string `json:"report" jsonschema:"description=What was done and what the lead needs to know"`
}

type sendMessageInput struct {
	To      string `json:"to" jsonschema:"description=Member id of the recipient or * for everyone"`
	Content string `json:"content" jsonschema:"description=The message"`
}

type listTasksInput struct{}

// SendMessageTool lets member from talk to other members of the team.
func SendMessageTool(from string, topic bus.Topic) *tool.Tool {
	return tool.MustTyped(SendMessageToolName, func(ctx context.Context, in sendMessageInput, _ tool.ExecContext) (string, error) {
		to := strings.TrimSpace(in.To)
		if to == "" {
			return "", errors.New("recipient is required")
		}
		if to == from {
			return "", errors.New("cannot send a message to yourself")
		}
		if err := topic.Publish(ctx, bus.NewMessage(from, to, bus.TypeMessage, in.Content)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Message sent to %s.", to), nil
	}, tool.Description("Send a message to a team member by id, or to every member with *."))
}

// ListTasksTool shows the task board.
func ListTasksTool(board *Board) *tool.Tool {
	return tool.MustTyped(ListTasksToolName, func(context.Context, listTasksInput, tool.ExecContext) (string, error) {
		return board.Summary(), nil
	}, tool.Description("List the tasks on the team board with their status and owner."))
}

func (r *Runner) completeTask(ctx context.Context, in completeTaskInput, _ tool.ExecContext) (string, error) {
	r.mu.Lock()
	id := r.taskID
	done := r.completedByTool
	r.mu.Unlock()
	if id == "" {
		return "", errors.New("you have no task assigned")
	}
	if done {
		return "", fmt.Errorf("task #%s is already completed", id)
	}
	if _, err := r.board.Complete(ctx, id, r.cfg.ID, in.Report); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.explicitReport = in.Report
	r.completedByTool = true
	r.mu.Unlock()
	return fmt.Sprintf("Task #%s marked as completed.", id), nil
}

func (r *Runner) teamTools() tool.Registry {
	return tool.MustRegistry(
		tool.MustTyped(CompleteTaskToolName, r.completeTask,
			tool.Description("Mark your task as completed with a report for the lead. You stop working afterwards.")),
		SendMessageTool(r.cfg.ID, r.topic),
		ListTasksTool(r.board),
	)
}
