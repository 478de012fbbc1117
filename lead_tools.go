package flock

import (
	"context"
	"fmt"
	"strings"

	"github.com/casualjim/flock/subagent"
	"github.com/casualjim/flock/team"
	"github.com/casualjim/flock/tool"
)

const (
	CreateTaskToolName       = "create_task"
	SpawnTeammateToolName    = "spawn_teammate"
	ShutdownTeammateToolName = "shutdown_teammate"
)

type createTaskInput struct {
	Subject     string   `json:"subject" jsonschema:"description=A short title for the task"`
	Description string   `json:"description,omitempty" jsonschema:"description=What needs to be done"`
	DependsOn   []string `json:"depends_on,omitempty" jsonschema:"description=Ids of tasks that must be completed first"`
}

type spawnTeammateInput struct {
	Name   string `json:"name" jsonschema:"description=Unique member id of the teammate"`
	Prompt string `json:"prompt" jsonschema:"description=Instructions for the teammate"`
	TaskID string `json:"task_id,omitempty" jsonschema:"description=Id of a pending task to assign"`
}

type shutdownTeammateInput struct {
	Name string `json:"name" jsonschema:"description=Member id of the teammate"`
}

func (s *Session) createTask(ctx context.Context, in createTaskInput, _ tool.ExecContext) (string, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return "", fmt.Errorf("subject is required")
	}
	t, err := s.board.Add(ctx, in.Subject, in.Description, in.DependsOn...)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Created task #%s: %s", t.ID, t.Subject), nil
}

func (s *Session) spawnTeammate(ctx context.Context, in spawnTeammateInput, _ tool.ExecContext) (string, error) {
	if err := s.SpawnTeammate(ctx, TeammateSpec{Name: in.Name, Prompt: in.Prompt, TaskID: in.TaskID}); err != nil {
		return "", err
	}
	if in.TaskID != "" {
		return fmt.Sprintf("Spawned teammate %s working on task #%s.", in.Name, in.TaskID), nil
	}
	return fmt.Sprintf("Spawned teammate %s.", in.Name), nil
}

func (s *Session) shutdownTeammate(ctx context.Context, in shutdownTeammateInput, _ tool.ExecContext) (string, error) {
	if !s.isRunning(in.Name) {
		return "", fmt.Errorf("no running teammate named %q", in.Name)
	}
	if err := s.ShutdownTeammate(ctx, in.Name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Asked %s to shut down. It stops at its next iteration boundary.", in.Name), nil
}

func (s *Session) leadTools() tool.Registry {
	return tool.MustRegistry(
		subagent.AsTool(s.subagents, s.registry),
		tool.MustTyped(CreateTaskToolName, s.createTask,
			tool.Description("Add a task to the team board. Teammates without a task claim pending tasks whose dependencies are completed.")),
		tool.MustTyped(SpawnTeammateToolName, s.spawnTeammate,
			tool.Description("Start a long-lived teammate. It works in parallel and sends you a completion report when it stops.")),
		tool.MustTyped(ShutdownTeammateToolName, s.shutdownTeammate,
			tool.Description("Ask a running teammate to stop at its next iteration boundary.")),
		team.SendMessageTool(s.name, s.topic),
		team.ListTasksTool(s.board),
	)
}

func (s *Session) leadPrompt() string {
	base := fmt.Sprintf(`You are %s, the lead of a team of agents.
Use the task tool for self-contained work that returns one report. For longer work create tasks on the board and spawn teammates to work on them.
Teammates report back with messages that appear in the conversation when they arrive.`, s.name)
	if s.systemPrompt == "" {
		return base
	}
	return s.systemPrompt + "\n\n" + base
}
