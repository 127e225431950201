package engine

import (
	"context"
	"fmt"

	"github.com/floweave/floweave/flow"
)

// executeFeedbackLoop runs the node's inner sub-plan up to maxIterations
// times, checking stopCondition against context between iterations.
//
// The sub-plan is the node's "body": an ordered list of inline node
// definitions ({id, type, data}), executed sequentially each iteration
// with output chaining. Body node outputs land in context under their
// IDs, so the stop condition can reference them.
func (e *Engine) executeFeedbackLoop(ctx context.Context, node *flow.Node, input any, ectx *flow.Context, req Request) (any, error) {
	maxIterations := node.IntData("maxIterations", 3)
	if maxIterations < 1 {
		maxIterations = 1
	}
	stopCondition := node.StringData("stopCondition", "")

	body, err := loopBody(node)
	if err != nil {
		return nil, err
	}

	output := input
	iterations := 0
	stopped := false
	for i := 0; i < maxIterations; i++ {
		iterations++
		for _, inner := range body {
			out, err := e.executeNode(ctx, inner, output, ectx, req)
			if err != nil {
				return nil, fmt.Errorf("feedback_loop iteration %d node %s: %w", i+1, inner.ID, err)
			}
			ectx.Set(inner.ID, out)
			output = out
		}
		if stopCondition != "" {
			result, err := evalCondition(stopCondition, ectx)
			if err != nil {
				return nil, err
			}
			if ok, _ := result["result"].(bool); ok {
				stopped = true
				break
			}
		}
	}

	return map[string]any{
		"iterations":    iterations,
		"stopped_early": stopped,
		"output":        output,
	}, nil
}

func loopBody(node *flow.Node) ([]*flow.Node, error) {
	raw, ok := node.Data["body"].([]any)
	if !ok {
		return nil, nil
	}
	var body []*flow.Node
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		inner := &flow.Node{}
		inner.ID, _ = m["id"].(string)
		inner.Type, _ = m["type"].(string)
		inner.Data, _ = m["data"].(map[string]any)
		if inner.ID == "" || inner.Type == "" {
			return nil, &flow.Error{
				Code:    flow.ErrCodeValidation,
				NodeID:  node.ID,
				Message: "feedback_loop body entries need id and type",
			}
		}
		if inner.Type == flow.NodeFeedbackLoop {
			return nil, &flow.Error{
				Code:    flow.ErrCodeValidation,
				NodeID:  node.ID,
				Message: "feedback_loop body cannot nest another feedback_loop",
			}
		}
		body = append(body, inner)
	}
	return body, nil
}
