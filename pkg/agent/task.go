package agent

import (
	"context"
	"errors"
	"fmt"

	"agentcore/pkg/provider"
	"agentcore/pkg/tools"
)

// ToolTask delegates a self-contained subtask to a sub-agent.
const ToolTask = "task"

const subAgentPrompt = `You are a sub-agent working on one delegated task. You share the parent's filesystem.
Complete the task using the available tools, then reply with a concise report of what you found or did.
Your final reply is returned to the parent agent verbatim, so include every detail it needs.`

// taskTool spawns a nested runtime one level deeper than its parent.
type taskTool struct {
	parent *Runtime
}

func (t *taskTool) Definition() tools.Definition {
	return tools.Definition{
		Name: ToolTask,
		Description: "Delegate an independent, self-contained subtask to a sub-agent with its own context window. " +
			"Use it for parallelizable research or multi-step work whose details the main conversation does not need. " +
			"The sub-agent shares the filesystem and returns a single report.",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"description": {Type: "string", Description: "Complete instructions for the sub-agent, including the expected report"},
			},
			Required: []string{"description"},
		},
	}
}

func (t *taskTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	description, _ := args["description"].(string)
	if description == "" {
		return nil, errors.New("description is required")
	}

	p := t.parent
	opts := p.opts
	opts.Memory = nil
	opts.SessionID = ""
	opts.Logger = p.logger.With(fmt.Sprintf("sub%d", p.depth+1))
	child := newRuntime(p.endpoint, opts, p.depth+1)

	ctx, cancel := context.WithTimeout(ctx, opts.SubAgentTimeout)
	defer cancel()

	req := p.inherited()
	req.System = subAgentPrompt
	req.Messages = []provider.Message{{Role: provider.RoleUser, Content: description}}

	p.logger.Info("Spawning sub-agent at depth %d", child.depth)
	ch, err := child.Stream(ctx, req)
	if err != nil {
		return nil, subAgentError(ctx, opts.SubAgentTimeout.String(), err)
	}
	res, err := provider.Collect(ctx, ch)
	if err != nil {
		return nil, subAgentError(ctx, opts.SubAgentTimeout.String(), err)
	}
	report := res.Text
	if res.Message != nil && res.Message.Content != "" {
		report = res.Message.Content
	}
	if report == "" {
		return "(sub-agent finished without a report)", nil
	}
	return report, nil
}

func subAgentError(ctx context.Context, timeout string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("sub-agent timed out after %s", timeout)
	}
	return fmt.Errorf("sub-agent failed: %w", err)
}
