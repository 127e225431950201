package engine

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/floweave/floweave/flow"
)

// evalCondition evaluates a condition node's expression against the
// execution context and returns the branch selection output:
// {result: bool, active_handle: "true"|"false"}.
//
// Expressions use the expr grammar: arithmetic, comparisons, boolean
// operators, string functions, and membership tests over context keys.
// Unknown identifiers evaluate to nil rather than failing, so expressions
// can reference node outputs that may not exist on every path.
func evalCondition(expression string, ectx *flow.Context) (map[string]any, error) {
	if expression == "" {
		return nil, &flow.Error{
			Code:    flow.ErrCodeValidation,
			Message: "condition node has no expression",
		}
	}

	env, err := ectx.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot context for condition: %w", err)
	}

	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, &flow.Error{
			Code:    flow.ErrCodeValidation,
			Message: fmt.Sprintf("compile condition %q: %v", expression, err),
		}
	}

	value, err := expr.Run(program, env)
	if err != nil {
		return nil, &flow.Error{
			Code:    flow.ErrCodeValidation,
			Message: fmt.Sprintf("evaluate condition %q: %v", expression, err),
		}
	}

	result := truthy(value)
	handle := flow.HandleFalse
	if result {
		handle = flow.HandleTrue
	}
	return map[string]any{"result": result, "active_handle": handle}, nil
}

// truthy coerces an expression result to a boolean: false for nil, false,
// zero numbers, and empty strings/slices/maps; true otherwise.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
