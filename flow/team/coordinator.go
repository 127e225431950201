package team

import (
	"context"
	"fmt"

	"github.com/floweave/floweave/flow/model"
)

const defaultCoordinatorRounds = 10

// runCoordinator drives the coordinator strategy: a dedicated coordinator
// agent receives one synthesised delegation tool per worker plus shared
// context tools, and runs a multi-round tool-calling loop until it
// produces a final answer. Each delegation travels over the team bus:
// task to the worker's mailbox, result back to the coordinator's.
func (t *Team) runCoordinator(ctx context.Context, task string) (Result, error) {
	coordinator := t.coordinatorMember()
	t.Bus.Register(coordinator.Name)
	maxRounds := t.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultCoordinatorRounds
	}

	outputs := make(map[string]string)
	tools := make([]localTool, 0, len(t.cfg.Members)+3)
	for _, worker := range t.cfg.Members {
		tools = append(tools, t.delegationTool(coordinator.Name, worker, outputs))
	}
	tools = append(tools, t.sharedContextTools(coordinator.Name)...)

	prompt := fmt.Sprintf(
		"You coordinate a team of agents. Delegate sub-tasks with the delegate_to_* tools, then give the final answer yourself.\n\nTeam members:\n%s\nTask: %s",
		memberList(t.cfg.Members), task)

	output, rounds, err := t.callAgent(ctx, coordinator, prompt, tools, maxRounds)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Output:       output,
		Rounds:       rounds,
		AgentOutputs: outputs,
	}, nil
}

func (t *Team) coordinatorMember() Member {
	if t.cfg.Coordinator != nil {
		return *t.cfg.Coordinator
	}
	first := t.cfg.Members[0]
	return Member{
		Name:         "coordinator",
		Role:         "coordinator",
		Model:        first.Model,
		SystemPrompt: "You are the coordinator of a team of specialist agents.",
	}
}

// delegationTool synthesises delegate_to_<name>: calling it posts the task
// to the worker's mailbox, runs the worker's LLM on what it receives, and
// returns the result the worker posts back to the coordinator.
func (t *Team) delegationTool(coordinatorName string, worker Member, outputs map[string]string) localTool {
	return localTool{
		spec: model.ToolSpec{
			Name:        "delegate_to_" + worker.Name,
			Description: fmt.Sprintf("Delegate a task to %s (%s)", worker.Name, worker.Role),
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task": map[string]any{"type": "string", "description": "The task to delegate"},
				},
				"required": []any{"task"},
			},
		},
		call: func(ctx context.Context, input map[string]any) (string, error) {
			subtask, _ := input["task"].(string)
			t.emit(EventAgentDelegated, map[string]any{"agent": worker.Name, "task": subtask})
			if err := t.Bus.Send(ctx, Message{From: coordinatorName, To: worker.Name, Content: subtask}); err != nil {
				return "", err
			}
			assignment, err := t.Bus.Receive(ctx, worker.Name, 0)
			if err != nil {
				return "", err
			}
			out, _, err := t.callAgent(ctx, worker, assignment.Content, nil, 1)
			if err != nil {
				return "", err
			}
			if err := t.Bus.Send(ctx, Message{From: worker.Name, To: coordinatorName, Content: out}); err != nil {
				return "", err
			}
			reply, err := t.Bus.Receive(ctx, coordinatorName, 0)
			if err != nil {
				return "", err
			}
			outputs[worker.Name] = reply.Content
			t.Shared.Set("output_"+worker.Name, reply.Content, worker.Name)
			t.emit(EventAgentCompleted, map[string]any{"agent": worker.Name})
			return reply.Content, nil
		},
	}
}

// sharedContextTools exposes the team's shared context to an agent.
func (t *Team) sharedContextTools(agent string) []localTool {
	keySchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{"type": "string"},
		},
		"required": []any{"key"},
	}
	return []localTool{
		{
			spec: model.ToolSpec{
				Name:        "read_shared_context",
				Description: "Read a value from the team's shared context",
				Schema:      keySchema,
			},
			call: func(_ context.Context, input map[string]any) (string, error) {
				key, _ := input["key"].(string)
				v, ok := t.Shared.Get(key)
				if !ok {
					return "", fmt.Errorf("key %q not set", key)
				}
				return fmt.Sprintf("%v", v), nil
			},
		},
		{
			spec: model.ToolSpec{
				Name:        "write_shared_context",
				Description: "Write a value to the team's shared context",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"key":   map[string]any{"type": "string"},
						"value": map[string]any{"type": "string"},
					},
					"required": []any{"key", "value"},
				},
			},
			call: func(_ context.Context, input map[string]any) (string, error) {
				key, _ := input["key"].(string)
				t.Shared.Set(key, input["value"], agent)
				return "ok", nil
			},
		},
		{
			spec: model.ToolSpec{
				Name:        "list_shared_context",
				Description: "List the keys in the team's shared context",
				Schema:      map[string]any{"type": "object", "properties": map[string]any{}},
			},
			call: func(_ context.Context, _ map[string]any) (string, error) {
				return fmt.Sprintf("%v", t.Shared.Keys()), nil
			},
		},
	}
}
