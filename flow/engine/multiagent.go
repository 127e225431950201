package engine

import (
	"context"

	"github.com/floweave/floweave/flow"
	"github.com/floweave/floweave/flow/model"
	"github.com/floweave/floweave/flow/resolve"
	"github.com/floweave/floweave/flow/team"
)

// executeMultiAgent assembles the node's team and runs its strategy.
// Team usage is recorded once under the node; strategy events are
// forwarded onto the engine's emitter as node_started/node_completed-style
// observability data.
func (e *Engine) executeMultiAgent(ctx context.Context, node *flow.Node, input any, ectx *flow.Context, req Request) (any, error) {
	cfg, err := teamConfig(node)
	if err != nil {
		return nil, err
	}

	chat := func(ctx context.Context, modelName string) (model.ChatModel, error) {
		return e.clients.ChatModel(ctx, modelName, req.Settings, ectx.UserID())
	}
	// Strategy events are an observability side-channel; they go to the
	// structured log rather than the execution event stream, whose types
	// are fixed.
	callback := func(name string, data map[string]any) {
		e.logger.Debug("team event",
			"execution_id", req.ExecutionID,
			"node_id", node.ID,
			"event", name,
			"data", data)
	}

	tm, err := team.New(cfg, chat, callback, e.logger)
	if err != nil {
		return nil, &flow.Error{Code: flow.ErrCodeValidation, NodeID: node.ID, Message: "invalid multi_agent team", Cause: err}
	}

	result, err := tm.Run(ctx, resolve.Stringify(input))
	if err != nil {
		return nil, &flow.Error{Code: flow.ErrCodeProvider, NodeID: node.ID, Message: "team orchestration failed", Cause: err}
	}

	usageModel := cfg.Members[0].Model
	if cfg.Coordinator != nil {
		usageModel = cfg.Coordinator.Model
	}
	ectx.RecordUsage(node.ID, flow.Usage{
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		Cost:             model.EstimateCost(usageModel, result.Usage),
		Model:            usageModel,
	})

	agentOutputs := make(map[string]any, len(result.AgentOutputs))
	for name, out := range result.AgentOutputs {
		agentOutputs[name] = out
	}
	return map[string]any{
		"team":          cfg.Name,
		"strategy":      cfg.Strategy,
		"output":        result.Output,
		"rounds":        result.Rounds,
		"converged":     result.Converged,
		"agent_outputs": agentOutputs,
	}, nil
}

// teamConfig parses the node's team definition from its data map.
func teamConfig(node *flow.Node) (team.Config, error) {
	cfg := team.Config{
		Name:            node.StringData("teamName", node.Label()),
		Strategy:        node.StringData("strategy", team.StrategyCoordinator),
		MaxRounds:       node.IntData("maxRounds", 0),
		EnableConsult:   node.BoolData("enableConsult", false),
		MaxConsultDepth: node.IntData("maxConsultDepth", 0),
		MaxHistory:      node.IntData("maxHistory", 0),
	}

	raw, _ := node.Data["agents"].([]any)
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		cfg.Members = append(cfg.Members, parseMember(m))
	}
	if len(cfg.Members) == 0 {
		return cfg, &flow.Error{
			Code:    flow.ErrCodeValidation,
			NodeID:  node.ID,
			Message: "multi_agent node declares no agents",
		}
	}

	if m, ok := node.Data["coordinator"].(map[string]any); ok {
		coordinator := parseMember(m)
		cfg.Coordinator = &coordinator
	}
	return cfg, nil
}

func parseMember(m map[string]any) team.Member {
	member := team.Member{}
	member.Name, _ = m["name"].(string)
	member.Role, _ = m["role"].(string)
	member.Model, _ = m["model"].(string)
	member.SystemPrompt, _ = m["systemPrompt"].(string)
	if member.Model == "" {
		member.Model = "gpt-4o-mini"
	}
	if caps, ok := m["capabilities"].([]any); ok {
		for _, c := range caps {
			if s, ok := c.(string); ok {
				member.Capabilities = append(member.Capabilities, s)
			}
		}
	}
	return member
}
