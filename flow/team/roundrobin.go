package team

import (
	"context"
	"fmt"

	"github.com/floweave/floweave/flow/model"
)

const (
	defaultRoundRobinRounds = 1
	defaultConsultDepth     = 2
)

// runRoundRobin drives the round-robin strategy: agents take turns, each
// refining the previous agent's output, for MaxRounds full passes. Every
// hand-off travels over the bus: a turn's output is posted to the next
// agent's mailbox, and each agent after the first reads its working copy
// from there. With EnableConsult on, the current agent may query its peers
// through consult_<peer> tools, bounded by MaxConsultDepth.
func (t *Team) runRoundRobin(ctx context.Context, task string) (Result, error) {
	maxRounds := t.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultRoundRobinRounds
	}
	maxDepth := t.cfg.MaxConsultDepth
	if maxDepth <= 0 {
		maxDepth = defaultConsultDepth
	}

	members := t.cfg.Members
	totalTurns := maxRounds * len(members)
	outputs := make(map[string]string)
	current := task
	turn := 0
	rounds := 0
	for round := 0; round < maxRounds; round++ {
		rounds++
		for i, m := range members {
			prompt := fmt.Sprintf("Task: %s\n\nProduce a first result.", task)
			if turn > 0 {
				handoff, err := t.Bus.Receive(ctx, m.Name, 0)
				if err != nil {
					return Result{}, err
				}
				current = handoff.Content
				prompt = fmt.Sprintf("Task: %s\n\nCurrent result:\n%s\n\nRefine or extend the current result.", task, current)
			}

			var tools []localTool
			if t.cfg.EnableConsult {
				tools = t.consultTools(m.Name, maxDepth)
			}

			t.emit(EventAgentDelegated, map[string]any{"agent": m.Name, "round": round + 1})
			out, _, err := t.callAgent(ctx, m, prompt, tools, maxDepth+1)
			if err != nil {
				return Result{}, err
			}
			current = out
			outputs[m.Name] = out
			t.emit(EventAgentCompleted, map[string]any{"agent": m.Name, "round": round + 1})

			turn++
			if turn < totalTurns {
				next := members[(i+1)%len(members)]
				if err := t.Bus.Send(ctx, Message{From: m.Name, To: next.Name, Content: out}); err != nil {
					return Result{}, err
				}
			}
		}
	}

	return Result{
		Output:       current,
		Rounds:       rounds,
		AgentOutputs: outputs,
	}, nil
}

// consultTools synthesises consult_<peer> for every peer of the current
// agent. depth bounds transitive consultation so two agents cannot invoke
// each other without limit.
func (t *Team) consultTools(current string, depth int) []localTool {
	if depth <= 0 {
		return nil
	}
	var tools []localTool
	for _, peer := range t.cfg.Members {
		if peer.Name == current {
			continue
		}
		p := peer
		tools = append(tools, localTool{
			spec: model.ToolSpec{
				Name:        "consult_" + p.Name,
				Description: fmt.Sprintf("Ask %s (%s) a question", p.Name, p.Role),
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
					},
					"required": []any{"question"},
				},
			},
			call: func(ctx context.Context, input map[string]any) (string, error) {
				question, _ := input["question"].(string)
				return t.callAgentWithTools(ctx, p, question, t.consultTools(p.Name, depth-1))
			},
		})
	}
	return tools
}

func (t *Team) callAgentWithTools(ctx context.Context, m Member, prompt string, tools []localTool) (string, error) {
	rounds := 1
	if len(tools) > 0 {
		rounds = 2
	}
	out, _, err := t.callAgent(ctx, m, prompt, tools, rounds)
	return out, err
}
