package resolve

import (
	"strings"

	"github.com/floweave/floweave/flow"
)

// Input decides a node's input, in priority order:
//
//  1. node data "inputTemplate": resolve the template against the context.
//  2. node data "inputSource": read that context key, resolving any nested
//     templates in it.
//  3. Inspect inbound edges: with no upstream outputs present the input is
//     the original workflow input; a single present output passes through
//     (map outputs unwrap their "output" field); two or more are
//     concatenated, stringified, separated by blank lines, skipping nils.
//
// An inbound error edge contributes only when its source holds a failure
// envelope, so an error handler receives the envelope intact; a succeeded
// source behind an untaken error edge stays out of the input.
//
// A nil inbound slice means the runtime did not supply the current edge
// list; that is not a failure, the workflow input is used.
func Input(node *flow.Node, ctx *flow.Context, inbound []flow.Edge) any {
	if tmpl := node.StringData("inputTemplate", ""); tmpl != "" {
		return Template(tmpl, ctx)
	}

	if source := node.StringData("inputSource", ""); source != "" {
		v, ok := ctx.Get(source)
		if !ok {
			return nil
		}
		return TemplateAny(v, ctx)
	}

	if inbound == nil {
		v, _ := ctx.Get(flow.KeyInput)
		return v
	}

	var present []any
	var envelopes []bool
	seen := make(map[string]bool)
	for _, e := range inbound {
		if seen[e.Source] {
			continue
		}
		out, ok := ctx.Get(e.Source)
		if !ok {
			continue
		}
		env := isFailureEnvelope(out, e.Source)
		if e.IsError() && !env {
			continue
		}
		seen[e.Source] = true
		present = append(present, out)
		envelopes = append(envelopes, env)
	}

	switch len(present) {
	case 0:
		v, _ := ctx.Get(flow.KeyInput)
		return v
	case 1:
		if envelopes[0] {
			return present[0]
		}
		return unwrap(present[0])
	default:
		var parts []string
		for _, out := range present {
			if out == nil {
				continue
			}
			parts = append(parts, Stringify(unwrap(out)))
		}
		return strings.Join(parts, "\n\n")
	}
}

// isFailureEnvelope reports whether v is the structured record the runtime
// stores under a node whose error edge fired.
func isFailureEnvelope(v any, nodeID string) bool {
	m, ok := v.(map[string]any)
	return ok && m["node_id"] == nodeID && m["error"] != nil
}

// unwrap reduces a map output of the common {"output": ...} shape to its
// inner value; other values pass through.
func unwrap(v any) any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["output"]; ok {
			return inner
		}
		return Stringify(m)
	}
	return v
}
