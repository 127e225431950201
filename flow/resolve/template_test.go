package resolve

import (
	"testing"

	"github.com/floweave/floweave/flow"
)

func TestTemplate(t *testing.T) {
	ctx := flow.NewContext("the input", "")
	ctx.Set("draft", "a first draft")
	ctx.Set("review", map[string]any{
		"score":    float64(8.5),
		"approved": true,
		"details":  map[string]any{"reviewer": "alice"},
	})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no placeholders is identity", "plain text, untouched", "plain text, untouched"},
		{"simple key", "Draft: {{draft}}", "Draft: a first draft"},
		{"input key", "got {{input}}", "got the input"},
		{"dotted path", "by {{review.details.reviewer}}", "by alice"},
		{"number renders decimal", "score {{review.score}}", "score 8.5"},
		{"boolean renders capitalised", "ok: {{review.approved}}", "ok: True"},
		{"whitespace inside braces", "{{ draft }}", "a first draft"},
		{"missing key left verbatim", "keep {{missing}}", "keep {{missing}}"},
		{"path through scalar left verbatim", "{{draft.field}}", "{{draft.field}}"},
		{"two placeholders", "{{draft}} / {{review.details.reviewer}}", "a first draft / alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Template(tt.in, ctx); got != tt.want {
				t.Errorf("Template(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTemplateMapRendersJSON(t *testing.T) {
	ctx := flow.NewContext(nil, "")
	ctx.Set("obj", map[string]any{"k": "v"})
	if got := Template("{{obj}}", ctx); got != `{"k":"v"}` {
		t.Errorf("Template({{obj}}) = %q, want JSON", got)
	}
}

func TestTemplateAny(t *testing.T) {
	ctx := flow.NewContext(nil, "")
	ctx.Set("city", "Berlin")

	in := map[string]any{
		"query": "weather in {{city}}",
		"count": float64(3),
		"tags":  []any{"{{city}}", "raw"},
		"nested": map[string]any{
			"q": "{{city}}",
		},
	}
	out := TemplateAny(in, ctx).(map[string]any)

	if out["query"] != "weather in Berlin" {
		t.Errorf("query = %v", out["query"])
	}
	if out["count"] != float64(3) {
		t.Errorf("count = %v, want untouched 3", out["count"])
	}
	if tags := out["tags"].([]any); tags[0] != "Berlin" || tags[1] != "raw" {
		t.Errorf("tags = %v", tags)
	}
	if nested := out["nested"].(map[string]any); nested["q"] != "Berlin" {
		t.Errorf("nested.q = %v", nested["q"])
	}

	// The original structure is not mutated.
	if in["query"] != "weather in {{city}}" {
		t.Error("TemplateAny mutated its input")
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "s", "s"},
		{"true", true, "True"},
		{"false", false, "False"},
		{"int", 7, "7"},
		{"float no trailing zeros", float64(2.5), "2.5"},
		{"whole float", float64(3), "3"},
		{"slice as JSON", []any{"a", float64(1)}, `["a",1]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stringify(tt.in); got != tt.want {
				t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
