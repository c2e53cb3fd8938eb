package subagent

import (
	"context"
	"fmt"

	"github.com/halim/sera/internal/tracing"
	"github.com/halim/sera/pkg/tool"
)

// DelegateToolName is the registry name of the delegation tool.
const DelegateToolName = "delegate_task"

// DelegateTool exposes the manager as a regular tool so a parent agent can
// hand a task to a profile. The sub-agent's depth comes from the ambient
// call context, which the agent establishes around sequential tool calls.
func DelegateTool(m *Manager) tool.Definition {
	params := tool.ObjectSchema(map[string]interface{}{
		"profile_id": map[string]interface{}{
			"type":        "string",
			"description": "ID of the sub-agent profile to run",
		},
		"prompt": map[string]interface{}{
			"type":        "string",
			"description": "Task for the sub-agent",
		},
	}, []string{"profile_id", "prompt"})

	return tool.Definition{
		Name:        DelegateToolName,
		Description: "Delegate a task to a specialized sub-agent and return its answer",
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			profileID, _ := args["profile_id"].(string)
			prompt, _ := args["prompt"].(string)
			if profileID == "" || prompt == "" {
				return "", fmt.Errorf("profile_id and prompt are required")
			}

			call := tracing.FromContext(ctx)
			result, err := m.RunSubAgent(ctx, Options{
				ProfileID:  profileID,
				Prompt:     prompt,
				Depth:      call.Depth + 1,
				SessionKey: call.SessionKey,
			})
			if err != nil {
				return "", err
			}
			return result.Output, nil
		},
	}
}
