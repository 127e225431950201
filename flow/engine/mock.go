package engine

import (
	"github.com/floweave/floweave/flow"
)

// mockOutput produces the deterministic synthetic output for a node in
// mock mode. No external I/O occurs; whole graphs complete in
// milliseconds.
func (e *Engine) mockOutput(node *flow.Node, input any, ectx *flow.Context) (any, error) {
	switch node.Type {
	case flow.NodeTrigger:
		out, _ := ectx.Get(flow.KeyInput)
		return out, nil
	case flow.NodeAgent:
		if fields := outputFields(node); len(fields) > 0 {
			return mockFields(fields), nil
		}
		return "[Mock] " + node.Label(), nil
	case flow.NodeMCPTool:
		if mockResponse, ok := node.Data["mockResponse"]; ok {
			return mockResponse, nil
		}
		tool := node.StringData("toolName", node.StringData("tool", node.Label()))
		return map[string]any{"result": "[Mock] " + tool}, nil
	case flow.NodeCondition:
		return map[string]any{"result": true, "active_handle": flow.HandleTrue}, nil
	case flow.NodeParallel:
		return input, nil
	case flow.NodeFeedbackLoop:
		return map[string]any{
			"iterations":    1,
			"stopped_early": false,
			"output":        "[Mock] " + node.Label(),
		}, nil
	case flow.NodeRAG:
		return map[string]any{
			"answer": "[Mock] " + node.Label(),
			"chunks": []any{},
		}, nil
	case flow.NodeMultiAgent:
		return map[string]any{
			"team":   node.StringData("teamName", node.Label()),
			"output": "[Mock] " + node.Label(),
		}, nil
	default:
		return "[Mock] " + node.Label(), nil
	}
}

// mockFields populates a fixture object matching the declared field types.
func mockFields(fields []OutputField) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f.Type {
		case "number":
			out[f.Name] = float64(42)
		case "boolean":
			out[f.Name] = true
		case "array":
			out[f.Name] = []any{"mock"}
		case "object":
			out[f.Name] = map[string]any{"mock": true}
		default:
			out[f.Name] = "[Mock] " + f.Name
		}
	}
	return out
}
