// Package resolve implements template substitution and node-input
// resolution against an execution context.
package resolve

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/floweave/floweave/flow"
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Template substitutes every {{path.to.field}} placeholder in s against the
// context. Paths are dotted: the first segment is a context key, each
// further segment indexes into a map field.
//
// An unresolvable placeholder (missing key, or indexing into a non-map
// scalar) is left verbatim. That is a deliberate contract, not an error:
// upstream outputs may legitimately be absent during partial execution.
func Template(s string, ctx *flow.Context) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRE.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		v, ok := lookupPath(path, ctx)
		if !ok {
			return match
		}
		return Stringify(v)
	})
}

// TemplateAny applies Template recursively to every string leaf of a
// parameter structure (maps and slices are walked; other values pass
// through unchanged). Used for MCP tool parameters.
func TemplateAny(v any, ctx *flow.Context) any {
	switch t := v.(type) {
	case string:
		return Template(t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = TemplateAny(e, ctx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = TemplateAny(e, ctx)
		}
		return out
	default:
		return v
	}
}

func lookupPath(path string, ctx *flow.Context) (any, bool) {
	segments := strings.Split(path, ".")
	current, ok := ctx.Get(segments[0])
	if !ok {
		return nil, false
	}
	for _, seg := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a resolved value into its template form. Booleans
// render capitalised, numbers in their natural decimal form, and compound
// values as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
