package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/floweave/floweave/flow"
	"github.com/floweave/floweave/flow/mcp"
	"github.com/floweave/floweave/flow/model"
	"github.com/floweave/floweave/flow/resolve"
)

// maxToolRounds bounds the agent tool-calling loop.
const maxToolRounds = 10

// RunNode executes a single node outside graph traversal, honoring the
// request's mock mode. Used by alternative drivers such as the debug
// stepper.
func (e *Engine) RunNode(ctx context.Context, node *flow.Node, input any, ectx *flow.Context, req Request) (any, error) {
	if req.Mode == flow.ModeMock {
		return e.mockOutput(node, input, ectx)
	}
	return e.executeNode(ctx, node, input, ectx, req)
}

// executeNode dispatches one node to its kind's executor. Side effects are
// confined to provider calls and _usage_<id> context writes.
func (e *Engine) executeNode(ctx context.Context, node *flow.Node, input any, ectx *flow.Context, req Request) (any, error) {
	switch node.Type {
	case flow.NodeTrigger:
		out, _ := ectx.Get(flow.KeyInput)
		return out, nil
	case flow.NodeAgent:
		return e.executeAgent(ctx, node, input, ectx, req)
	case flow.NodeMCPTool:
		return e.executeMCPTool(ctx, node, ectx)
	case flow.NodeCondition:
		return evalCondition(node.StringData("condition", node.StringData("expression", "")), ectx)
	case flow.NodeParallel:
		// Marker node; the runtime fans out its outgoing edges.
		return input, nil
	case flow.NodeFeedbackLoop:
		return e.executeFeedbackLoop(ctx, node, input, ectx, req)
	case flow.NodeRAG:
		return e.executeRAG(ctx, node, input, ectx, req)
	case flow.NodeMultiAgent:
		return e.executeMultiAgent(ctx, node, input, ectx, req)
	default:
		return nil, &flow.Error{
			Code:    flow.ErrCodeValidation,
			NodeID:  node.ID,
			Message: fmt.Sprintf("unknown node type %q", node.Type),
		}
	}
}

// executeAgent resolves the node's model and tools, runs the chat loop,
// and records usage under _usage_<node_id>.
func (e *Engine) executeAgent(ctx context.Context, node *flow.Node, input any, ectx *flow.Context, req Request) (any, error) {
	modelName := node.StringData("model", "gpt-4o-mini")
	client, err := e.clients.ChatModel(ctx, modelName, req.Settings, ectx.UserID())
	if err != nil {
		return nil, err
	}

	var messages []model.Message
	if system := node.StringData("systemPrompt", ""); system != "" {
		messages = append(messages, model.Message{
			Role:    model.RoleSystem,
			Content: resolve.Template(system, ectx),
		})
	}
	messages = append(messages, model.Message{
		Role:    model.RoleUser,
		Content: resolve.Stringify(input),
	})

	fields := outputFields(node)
	if len(fields) > 0 {
		messages = append(messages, model.Message{
			Role:    model.RoleSystem,
			Content: structuredOutputInstruction(fields),
		})
	}

	tools, toolServers, err := e.bindTools(ctx, node)
	if err != nil {
		return nil, err
	}

	text, usage, err := e.chatLoop(ctx, client, messages, tools, toolServers)
	if err != nil {
		return nil, &flow.Error{Code: flow.ErrCodeProvider, NodeID: node.ID, Message: "agent call failed", Cause: err}
	}

	ectx.RecordUsage(node.ID, flow.Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             model.EstimateCost(modelName, usage),
		Model:            modelName,
	})

	if len(fields) > 0 {
		return parseOutputFields(text, fields)
	}
	return text, nil
}

// chatLoop runs the multi-round tool-calling conversation: while the model
// requests tools, execute them through the MCP manager and feed results
// back, up to maxToolRounds. Usage accumulates across rounds.
func (e *Engine) chatLoop(ctx context.Context, client model.ChatModel, messages []model.Message, tools []model.ToolSpec, toolServers map[string]string) (string, model.TokenUsage, error) {
	var usage model.TokenUsage
	for round := 0; round < maxToolRounds; round++ {
		out, err := client.Chat(ctx, messages, tools)
		if err != nil {
			return "", usage, err
		}
		usage.PromptTokens += out.Usage.PromptTokens
		usage.CompletionTokens += out.Usage.CompletionTokens

		if len(out.ToolCalls) == 0 {
			return out.Text, usage, nil
		}

		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   out.Text,
			ToolCalls: out.ToolCalls,
		})
		for _, call := range out.ToolCalls {
			serverID, toolName := splitToolName(call.Name, toolServers)
			result, err := e.mcpManager().ExecuteTool(ctx, serverID, toolName, call.Input)
			content := resolve.Stringify(result)
			if err != nil {
				content = "tool error: " + err.Error()
			}
			messages = append(messages, model.Message{
				Role:       model.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}
	return "", usage, fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
}

func (e *Engine) mcpManager() mcp.Manager {
	if e.mcp != nil {
		return e.mcp
	}
	return &mcp.MockManager{}
}

// bindTools expands the node's mcpTools bindings into tool specs. Each
// binding is "server:tool" for one tool or "server" for all of a server's
// tools. Returns the specs plus a map from exposed tool name to server ID.
func (e *Engine) bindTools(ctx context.Context, node *flow.Node) ([]model.ToolSpec, map[string]string, error) {
	raw, ok := node.Data["mcpTools"].([]any)
	if !ok || len(raw) == 0 {
		return nil, nil, nil
	}
	if e.mcp == nil {
		return nil, nil, &flow.Error{
			Code:    flow.ErrCodeValidation,
			NodeID:  node.ID,
			Message: "node binds MCP tools but no MCP manager is configured",
		}
	}

	var specs []model.ToolSpec
	servers := make(map[string]string)
	for _, entry := range raw {
		binding, _ := entry.(string)
		if binding == "" {
			continue
		}
		serverID, toolName, specific := strings.Cut(binding, ":")
		infos, err := e.mcp.ListTools(ctx, serverID)
		if err != nil {
			return nil, nil, &flow.Error{
				Code: flow.ErrCodeProvider, NodeID: node.ID,
				Message: fmt.Sprintf("list tools on MCP server %s", serverID), Cause: err,
			}
		}
		for _, info := range infos {
			if specific && info.Name != toolName {
				continue
			}
			specs = append(specs, model.ToolSpec{
				Name:        info.Name,
				Description: info.Description,
				Schema:      info.InputSchema,
			})
			servers[info.Name] = serverID
		}
	}
	return specs, servers, nil
}

// splitToolName maps a called tool back to its server. Tool names carry no
// server prefix on the wire; the binding map supplies it.
func splitToolName(name string, toolServers map[string]string) (serverID, toolName string) {
	if server, ok := toolServers[name]; ok {
		return server, name
	}
	if server, tool, ok := strings.Cut(name, ":"); ok {
		return server, tool
	}
	return "", name
}

// executeMCPTool resolves the node's parameters through the template
// resolver and invokes one tool.
func (e *Engine) executeMCPTool(ctx context.Context, node *flow.Node, ectx *flow.Context) (any, error) {
	serverID := node.StringData("serverId", node.StringData("server", ""))
	toolName := node.StringData("toolName", node.StringData("tool", ""))
	if serverID == "" || toolName == "" {
		return nil, &flow.Error{
			Code:    flow.ErrCodeValidation,
			NodeID:  node.ID,
			Message: "mcp_tool node needs serverId and toolName",
		}
	}
	if e.mcp == nil {
		return nil, &flow.Error{
			Code:    flow.ErrCodeValidation,
			NodeID:  node.ID,
			Message: "no MCP manager configured",
		}
	}

	params := map[string]any{}
	if raw, ok := node.Data["parameters"].(map[string]any); ok {
		params, _ = resolve.TemplateAny(raw, ectx).(map[string]any)
	}

	result, err := e.mcp.ExecuteTool(ctx, serverID, toolName, params)
	if err != nil {
		return nil, &flow.Error{
			Code: flow.ErrCodeProvider, NodeID: node.ID,
			Message: fmt.Sprintf("execute tool %s on %s", toolName, serverID), Cause: err,
		}
	}
	return result, nil
}

// OutputField declares one field of an agent's structured output.
type OutputField struct {
	Name string
	Type string // string, number, boolean, array, object
}

func outputFields(node *flow.Node) []OutputField {
	raw, ok := node.Data["outputFields"].([]any)
	if !ok {
		return nil
	}
	var fields []OutputField
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		typ, _ := m["type"].(string)
		if typ == "" {
			typ = "string"
		}
		fields = append(fields, OutputField{Name: name, Type: typ})
	}
	return fields
}

func structuredOutputInstruction(fields []OutputField) string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object containing exactly these fields:\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- %q (%s)\n", f.Name, f.Type)
	}
	b.WriteString("Output only the JSON object, no surrounding text.")
	return b.String()
}

// parseOutputFields extracts the JSON object from the model's response and
// coerces each declared field to its type. Missing fields default to the
// type's zero value so downstream templates never see absent keys.
func parseOutputFields(text string, fields []OutputField) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, &flow.Error{
			Code:    flow.ErrCodeProvider,
			Message: "structured output expected but response contains no JSON object",
		}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, &flow.Error{
			Code: flow.ErrCodeProvider, Message: "decode structured output", Cause: err,
		}
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Name] = coerceField(parsed[f.Name], f.Type)
	}
	return out, nil
}

func coerceField(v any, typ string) any {
	switch typ {
	case "number":
		switch t := v.(type) {
		case float64:
			return t
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		}
		return float64(0)
	case "boolean":
		switch t := v.(type) {
		case bool:
			return t
		case string:
			return strings.EqualFold(t, "true")
		}
		return false
	case "array":
		if t, ok := v.([]any); ok {
			return t
		}
		return []any{}
	case "object":
		if t, ok := v.(map[string]any); ok {
			return t
		}
		return map[string]any{}
	default:
		if t, ok := v.(string); ok {
			return t
		}
		if v == nil {
			return ""
		}
		return resolve.Stringify(v)
	}
}
