package subagent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/casualjim/flock/tool"
)

// TaskToolName is the name of the tool that dispatches sub-agents.
const TaskToolName = "task"

// TaskInput is the input of the task tool.
type TaskInput struct {
	SubagentType string `json:"subagent_type" jsonschema:"description=The kind of sub-agent to run"`
	Description  string `json:"description,omitempty" jsonschema:"description=A short (3-5 word) description of the task"`
	Prompt       string `json:"prompt" jsonschema:"description=The task for the sub-agent to perform"`
}

// AsTool exposes runner as the task tool. The description lists the definitions in registry.
func AsTool(runner Runner, registry *Registry) *tool.Tool {
	return tool.MustTyped(TaskToolName, func(ctx context.Context, in TaskInput, ec tool.ExecContext) (string, error) {
		if in.SubagentType == "" {
			in.SubagentType = GeneralPurpose
		}
		res := runner.Run(ctx, Request{
			Type:          in.SubagentType,
			Description:   in.Description,
			Prompt:        in.Prompt,
			WorkingFolder: ec.WorkingFolder,
			Parent:        ec.AgentName,
		})
		if res.IsError {
			return "", errors.New(res.ErrorPayload())
		}
		return res.Report, nil
	}, tool.Description(describe(registry)))
}

func describe(registry *Registry) string {
	var sb strings.Builder
	sb.WriteString("Launch a sub-agent to handle a self-contained task. It runs with a restricted set of tools and returns a single report.\n\nAvailable sub-agent types:")
	if registry != nil {
		for _, d := range registry.List() {
			fmt.Fprintf(&sb, "\n- %s: %s", d.Name, d.Description)
		}
	}
	return sb.String()
}
