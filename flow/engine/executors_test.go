package engine

import (
	"context"
	"testing"

	"github.com/floweave/floweave/flow"
	"github.com/floweave/floweave/flow/mcp"
	"github.com/floweave/floweave/flow/model"
)

func TestAgentToolCallingLoop(t *testing.T) {
	// First response asks for a tool, second produces the final text.
	mock := &model.MockChatModel{Responses: []model.ChatOut{
		{
			ToolCalls: []model.ToolCall{{ID: "call-1", Name: "web_search", Input: map[string]any{"q": "go"}}},
			Usage:     model.TokenUsage{PromptTokens: 20, CompletionTokens: 5},
		},
		{Text: "final answer", Usage: model.TokenUsage{PromptTokens: 30, CompletionTokens: 10}},
	}}
	mgr := &mcp.MockManager{
		Tools:   map[string][]mcp.ToolInfo{"search": {{Name: "web_search", Description: "Search"}}},
		Results: map[string]any{"search:web_search": "three results"},
	}

	eng := New(WithClients(&stubClients{chat: mock}), WithMCPManager(mgr))
	ectx := flow.NewContext("find go docs", "")
	node := &flow.Node{ID: "agent1", Type: flow.NodeAgent, Data: map[string]any{
		"model":    "gpt-4o-mini",
		"mcpTools": []any{"search:web_search"},
	}}

	out, err := eng.executeAgent(context.Background(), node, "find go docs", ectx, Request{Mode: flow.ModeFull})
	if err != nil {
		t.Fatalf("executeAgent() error: %v", err)
	}
	if out != "final answer" {
		t.Errorf("output = %v", out)
	}

	t.Run("tool executed through the manager", func(t *testing.T) {
		calls := mgr.Calls()
		if len(calls) != 1 || calls[0].ServerID != "search" || calls[0].ToolName != "web_search" {
			t.Errorf("manager calls = %+v", calls)
		}
		if calls[0].Params["q"] != "go" {
			t.Errorf("tool params = %v", calls[0].Params)
		}
	})

	t.Run("tool result fed back to the model", func(t *testing.T) {
		if mock.CallCount() != 2 {
			t.Fatalf("chat calls = %d, want 2", mock.CallCount())
		}
		second := mock.Calls[1].Messages
		last := second[len(second)-1]
		if last.Role != model.RoleTool || last.Content != "three results" || last.ToolCallID != "call-1" {
			t.Errorf("tool message = %+v", last)
		}
	})

	t.Run("usage accumulates across rounds", func(t *testing.T) {
		v, ok := ectx.Get(flow.UsagePrefix + "agent1")
		if !ok {
			t.Fatal("no usage entry recorded")
		}
		entry := v.(map[string]any)
		if entry["prompt_tokens"] != 50 || entry["completion_tokens"] != 15 {
			t.Errorf("usage = %v", entry)
		}
	})
}

func TestAgentStructuredOutput(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{
		{Text: "Here you go: {\"score\": 8.5, \"approved\": true, \"notes\": \"solid\"} hope that helps"},
	}}
	eng := New(WithClients(&stubClients{chat: mock}))
	ectx := flow.NewContext("rate this", "")
	node := &flow.Node{ID: "rater", Type: flow.NodeAgent, Data: map[string]any{
		"outputFields": []any{
			map[string]any{"name": "score", "type": "number"},
			map[string]any{"name": "approved", "type": "boolean"},
			map[string]any{"name": "notes", "type": "string"},
			map[string]any{"name": "tags", "type": "array"},
		},
	}}

	out, err := eng.executeAgent(context.Background(), node, "rate this", ectx, Request{})
	if err != nil {
		t.Fatalf("executeAgent() error: %v", err)
	}
	m := out.(map[string]any)
	if m["score"] != 8.5 || m["approved"] != true || m["notes"] != "solid" {
		t.Errorf("parsed fields = %v", m)
	}
	// Missing declared fields get the type's zero value.
	if tags, ok := m["tags"].([]any); !ok || len(tags) != 0 {
		t.Errorf("tags = %v, want empty array", m["tags"])
	}
}

func TestParseOutputFields(t *testing.T) {
	fields := []OutputField{{Name: "n", Type: "number"}, {Name: "b", Type: "boolean"}}

	t.Run("no JSON object in response", func(t *testing.T) {
		if _, err := parseOutputFields("sorry, cannot answer", fields); err == nil {
			t.Error("parseOutputFields() = nil error")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if _, err := parseOutputFields("{not json}", fields); err == nil {
			t.Error("parseOutputFields() = nil error")
		}
	})

	t.Run("string coercions", func(t *testing.T) {
		out, err := parseOutputFields(`{"n": "3.5", "b": "true"}`, fields)
		if err != nil {
			t.Fatalf("parseOutputFields() error: %v", err)
		}
		if out["n"] != 3.5 || out["b"] != true {
			t.Errorf("coerced = %v", out)
		}
	})
}

func TestBindTools(t *testing.T) {
	mgr := &mcp.MockManager{Tools: map[string][]mcp.ToolInfo{
		"search": {{Name: "web_search"}, {Name: "news_search"}},
	}}

	t.Run("server binding exposes all tools", func(t *testing.T) {
		eng := New(WithMCPManager(mgr))
		node := &flow.Node{ID: "n", Data: map[string]any{"mcpTools": []any{"search"}}}
		specs, servers, err := eng.bindTools(context.Background(), node)
		if err != nil {
			t.Fatalf("bindTools() error: %v", err)
		}
		if len(specs) != 2 {
			t.Errorf("specs = %d, want 2", len(specs))
		}
		if servers["web_search"] != "search" || servers["news_search"] != "search" {
			t.Errorf("servers = %v", servers)
		}
	})

	t.Run("server:tool binding filters", func(t *testing.T) {
		eng := New(WithMCPManager(mgr))
		node := &flow.Node{ID: "n", Data: map[string]any{"mcpTools": []any{"search:web_search"}}}
		specs, _, err := eng.bindTools(context.Background(), node)
		if err != nil {
			t.Fatalf("bindTools() error: %v", err)
		}
		if len(specs) != 1 || specs[0].Name != "web_search" {
			t.Errorf("specs = %v", specs)
		}
	})

	t.Run("no bindings is fine", func(t *testing.T) {
		eng := New()
		specs, _, err := eng.bindTools(context.Background(), &flow.Node{ID: "n"})
		if err != nil || specs != nil {
			t.Errorf("bindTools() = %v, %v", specs, err)
		}
	})

	t.Run("bindings without a manager fail", func(t *testing.T) {
		eng := New()
		node := &flow.Node{ID: "n", Data: map[string]any{"mcpTools": []any{"search"}}}
		if _, _, err := eng.bindTools(context.Background(), node); err == nil {
			t.Error("bindTools() = nil error without manager")
		}
	})
}

func TestExecuteMCPToolTemplatesParameters(t *testing.T) {
	mgr := &mcp.MockManager{Results: map[string]any{"weather:lookup": map[string]any{"temp": 21}}}
	eng := New(WithMCPManager(mgr))

	ectx := flow.NewContext("x", "")
	ectx.Set("city_picker", map[string]any{"output": "Berlin", "city": "Berlin"})
	node := &flow.Node{ID: "w", Type: flow.NodeMCPTool, Data: map[string]any{
		"serverId": "weather",
		"toolName": "lookup",
		"parameters": map[string]any{
			"city": "{{city_picker.city}}",
		},
	}}

	out, err := eng.executeMCPTool(context.Background(), node, ectx)
	if err != nil {
		t.Fatalf("executeMCPTool() error: %v", err)
	}
	if m := out.(map[string]any); m["temp"] != 21 {
		t.Errorf("output = %v", out)
	}
	calls := mgr.Calls()
	if calls[0].Params["city"] != "Berlin" {
		t.Errorf("params = %v, want templated city", calls[0].Params)
	}
}

func TestExecuteMCPToolValidation(t *testing.T) {
	eng := New(WithMCPManager(&mcp.MockManager{}))
	node := &flow.Node{ID: "w", Type: flow.NodeMCPTool, Data: map[string]any{"serverId": "s"}}
	if _, err := eng.executeMCPTool(context.Background(), node, flow.NewContext(nil, "")); err == nil {
		t.Error("executeMCPTool() = nil error with missing toolName")
	}
}

func TestFeedbackLoop(t *testing.T) {
	t.Run("stops early when condition met", func(t *testing.T) {
		mgr := &mcp.MockManager{Results: map[string]any{"s:refine": map[string]any{"quality": float64(9)}}}
		eng := New(WithMCPManager(mgr))
		ectx := flow.NewContext("draft", "")
		node := &flow.Node{ID: "loop", Type: flow.NodeFeedbackLoop, Data: map[string]any{
			"maxIterations": float64(5),
			"stopCondition": "refiner.quality >= 8",
			"body": []any{
				map[string]any{"id": "refiner", "type": "mcp_tool", "data": map[string]any{
					"serverId": "s", "toolName": "refine",
				}},
			},
		}}

		out, err := eng.executeFeedbackLoop(context.Background(), node, "draft", ectx, Request{})
		if err != nil {
			t.Fatalf("executeFeedbackLoop() error: %v", err)
		}
		m := out.(map[string]any)
		if m["iterations"] != 1 || m["stopped_early"] != true {
			t.Errorf("output = %v, want early stop after one iteration", m)
		}
	})

	t.Run("runs to maxIterations without stop", func(t *testing.T) {
		mgr := &mcp.MockManager{}
		eng := New(WithMCPManager(mgr))
		ectx := flow.NewContext("draft", "")
		node := &flow.Node{ID: "loop", Type: flow.NodeFeedbackLoop, Data: map[string]any{
			"maxIterations": float64(3),
			"body": []any{
				map[string]any{"id": "step", "type": "mcp_tool", "data": map[string]any{
					"serverId": "s", "toolName": "work",
				}},
			},
		}}
		out, err := eng.executeFeedbackLoop(context.Background(), node, "draft", ectx, Request{})
		if err != nil {
			t.Fatalf("executeFeedbackLoop() error: %v", err)
		}
		m := out.(map[string]any)
		if m["iterations"] != 3 || m["stopped_early"] != false {
			t.Errorf("output = %v", m)
		}
		if len(mgr.Calls()) != 3 {
			t.Errorf("body ran %d times, want 3", len(mgr.Calls()))
		}
	})

	t.Run("rejects nested feedback loops", func(t *testing.T) {
		eng := New()
		node := &flow.Node{ID: "loop", Type: flow.NodeFeedbackLoop, Data: map[string]any{
			"body": []any{
				map[string]any{"id": "inner", "type": "feedback_loop", "data": map[string]any{}},
			},
		}}
		_, err := eng.executeFeedbackLoop(context.Background(), node, nil, flow.NewContext(nil, ""), Request{})
		if err == nil {
			t.Error("nested feedback_loop accepted")
		}
	})
}

func TestMockOutputs(t *testing.T) {
	eng := New()
	ectx := flow.NewContext("the input", "")

	tests := []struct {
		name  string
		node  *flow.Node
		check func(t *testing.T, out any)
	}{
		{
			"trigger echoes input",
			&flow.Node{ID: "t", Type: flow.NodeTrigger},
			func(t *testing.T, out any) {
				if out != "the input" {
					t.Errorf("out = %v", out)
				}
			},
		},
		{
			"agent placeholder uses label",
			&flow.Node{ID: "a", Type: flow.NodeAgent, Data: map[string]any{"label": "Writer"}},
			func(t *testing.T, out any) {
				if out != "[Mock] Writer" {
					t.Errorf("out = %v", out)
				}
			},
		},
		{
			"agent with output fields gets typed fixtures",
			&flow.Node{ID: "a2", Type: flow.NodeAgent, Data: map[string]any{
				"outputFields": []any{
					map[string]any{"name": "score", "type": "number"},
					map[string]any{"name": "ok", "type": "boolean"},
				},
			}},
			func(t *testing.T, out any) {
				m := out.(map[string]any)
				if m["score"] != float64(42) || m["ok"] != true {
					t.Errorf("fixture = %v", m)
				}
			},
		},
		{
			"mcp_tool honors mockResponse",
			&flow.Node{ID: "m", Type: flow.NodeMCPTool, Data: map[string]any{"mockResponse": "canned"}},
			func(t *testing.T, out any) {
				if out != "canned" {
					t.Errorf("out = %v", out)
				}
			},
		},
		{
			"condition always takes the true branch",
			&flow.Node{ID: "c", Type: flow.NodeCondition},
			func(t *testing.T, out any) {
				m := out.(map[string]any)
				if m["active_handle"] != flow.HandleTrue {
					t.Errorf("out = %v", m)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := eng.mockOutput(tt.node, "the input", ectx)
			if err != nil {
				t.Fatalf("mockOutput() error: %v", err)
			}
			tt.check(t, out)
		})
	}
}
