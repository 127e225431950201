package team

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/floweave/floweave/flow/model"
)

// mockFactory serves one shared MockChatModel per model name, so an
// agent's responses replay in order across orchestration rounds.
func mockFactory(mocks map[string]*model.MockChatModel) ChatFactory {
	return func(_ context.Context, modelName string) (model.ChatModel, error) {
		m, ok := mocks[modelName]
		if !ok {
			return nil, fmt.Errorf("no mock for model %q", modelName)
		}
		return m, nil
	}
}

// eventLog is a concurrency-safe callback recorder.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) callback(event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func TestNewRequiresMembers(t *testing.T) {
	_, err := New(Config{Name: "empty"}, nil, nil, nil)
	if err == nil {
		t.Error("New() = nil error for team without members")
	}
}

func TestCoordinatorStrategy(t *testing.T) {
	mocks := map[string]*model.MockChatModel{
		"coord-model": {Responses: []model.ChatOut{
			{
				ToolCalls: []model.ToolCall{{
					ID:    "call-1",
					Name:  "delegate_to_researcher",
					Input: map[string]any{"task": "dig into the topic"},
				}},
				Usage: model.TokenUsage{PromptTokens: 40, CompletionTokens: 10},
			},
			{Text: "final consolidated answer", Usage: model.TokenUsage{PromptTokens: 60, CompletionTokens: 20}},
		}},
		"worker-model": {Responses: []model.ChatOut{
			{Text: "research findings", Usage: model.TokenUsage{PromptTokens: 30, CompletionTokens: 15}},
		}},
	}
	log := &eventLog{}
	tm, err := New(Config{
		Name:        "research-team",
		Strategy:    StrategyCoordinator,
		Members:     []Member{{Name: "researcher", Role: "researcher", Model: "worker-model"}},
		Coordinator: &Member{Name: "lead", Model: "coord-model"},
	}, mockFactory(mocks), log.callback, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	result, err := tm.Run(context.Background(), "investigate X")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Output != "final consolidated answer" {
		t.Errorf("output = %q", result.Output)
	}
	if result.AgentOutputs["researcher"] != "research findings" {
		t.Errorf("agent outputs = %v", result.AgentOutputs)
	}

	t.Run("worker output lands in shared context", func(t *testing.T) {
		v, ok := tm.Shared.Get("output_researcher")
		if !ok || v != "research findings" {
			t.Errorf("shared output = %v, %v", v, ok)
		}
	})

	t.Run("usage accumulates across all calls", func(t *testing.T) {
		if result.Usage.PromptTokens != 130 || result.Usage.CompletionTokens != 45 {
			t.Errorf("usage = %+v", result.Usage)
		}
	})

	t.Run("rounds reflect the calls actually made", func(t *testing.T) {
		if result.Rounds != 2 {
			t.Errorf("rounds = %d, want 2 (delegation + final answer)", result.Rounds)
		}
	})

	t.Run("delegation travels over the bus", func(t *testing.T) {
		hist := tm.Bus.History()
		if len(hist) != 2 {
			t.Fatalf("bus history = %d messages, want task + result", len(hist))
		}
		if hist[0].From != "lead" || hist[0].To != "researcher" || hist[0].Content != "dig into the topic" {
			t.Errorf("task message = %+v", hist[0])
		}
		if hist[1].From != "researcher" || hist[1].To != "lead" || hist[1].Content != "research findings" {
			t.Errorf("result message = %+v", hist[1])
		}
	})

	t.Run("lifecycle events emitted", func(t *testing.T) {
		for _, e := range []string{EventOrchestrationStart, EventAgentDelegated, EventAgentCompleted,
			EventOrchestrationMessage, EventOrchestrationEnd} {
			if !log.has(e) {
				t.Errorf("missing event %q", e)
			}
		}
	})
}

func TestRoundRobinStrategy(t *testing.T) {
	mocks := map[string]*model.MockChatModel{
		"alpha-model": {Responses: []model.ChatOut{{Text: "alpha draft"}}},
		"beta-model":  {Responses: []model.ChatOut{{Text: "beta refinement"}}},
	}
	log := &eventLog{}
	tm, err := New(Config{
		Name:     "relay",
		Strategy: StrategyRoundRobin,
		Members: []Member{
			{Name: "alpha", Model: "alpha-model"},
			{Name: "beta", Model: "beta-model"},
		},
	}, mockFactory(mocks), log.callback, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	result, err := tm.Run(context.Background(), "write a summary")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Output != "beta refinement" {
		t.Errorf("output = %q, want the last agent's refinement", result.Output)
	}
	if result.Rounds != 1 {
		t.Errorf("rounds = %d, want default 1", result.Rounds)
	}
	if result.AgentOutputs["alpha"] != "alpha draft" || result.AgentOutputs["beta"] != "beta refinement" {
		t.Errorf("agent outputs = %v", result.AgentOutputs)
	}

	// Beta's prompt carries alpha's output forward.
	betaPrompt := mocks["beta-model"].Calls[0].Messages[len(mocks["beta-model"].Calls[0].Messages)-1].Content
	if !contains(betaPrompt, "alpha draft") {
		t.Errorf("beta prompt = %q, want alpha's output chained in", betaPrompt)
	}

	t.Run("hand-off travels over the bus", func(t *testing.T) {
		hist := tm.Bus.History()
		if len(hist) != 1 {
			t.Fatalf("bus history = %d messages, want the single hand-off", len(hist))
		}
		if hist[0].From != "alpha" || hist[0].To != "beta" || hist[0].Content != "alpha draft" {
			t.Errorf("hand-off = %+v", hist[0])
		}
		if !log.has(EventOrchestrationMessage) {
			t.Error("no orchestration_message event for the hand-off")
		}
	})
}

func TestDebateStrategy(t *testing.T) {
	t.Run("converges when positions stabilise before the last round", func(t *testing.T) {
		mocks := map[string]*model.MockChatModel{
			"pro-model": {Responses: []model.ChatOut{{Text: "tabs are better"}}},
			"con-model": {Responses: []model.ChatOut{{Text: "spaces are better"}}},
		}
		log := &eventLog{}
		tm, err := New(Config{
			Name:      "style-debate",
			Strategy:  StrategyDebate,
			MaxRounds: 4,
			Members: []Member{
				{Name: "pro", Model: "pro-model"},
				{Name: "con", Model: "con-model"},
			},
		}, mockFactory(mocks), log.callback, nil)
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}

		result, err := tm.Run(context.Background(), "tabs vs spaces")
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}

		if !result.Converged {
			t.Error("Converged = false, want true for stable positions")
		}
		if result.Rounds != 2 {
			t.Errorf("rounds = %d, want convergence detected at round 2", result.Rounds)
		}
		if result.Rounds >= 4 {
			t.Error("converged debate ran to the round limit")
		}
		if !log.has(EventConvergenceDetected) || !log.has(EventSynthesisStart) {
			t.Error("missing convergence or synthesis events")
		}

		t.Run("positions are broadcast on the bus", func(t *testing.T) {
			hist := tm.Bus.History()
			if len(hist) != 4 {
				t.Fatalf("bus history = %d messages, want 2 agents x 2 rounds", len(hist))
			}
			for _, msg := range hist {
				if msg.To != "" {
					t.Errorf("position %+v targeted, want broadcast", msg)
				}
			}
			if hist[0].From != "pro" || hist[0].Content != "tabs are better" {
				t.Errorf("first position = %+v", hist[0])
			}
			if !log.has(EventOrchestrationMessage) {
				t.Error("no orchestration_message events for posted positions")
			}
		})

		t.Run("later prompts carry the posted positions", func(t *testing.T) {
			// Round 2 of the con agent: pro's round-2 position waits in
			// its mailbox.
			calls := mocks["con-model"].Calls
			if len(calls) != 2 {
				t.Fatalf("con calls = %d, want 2", len(calls))
			}
			prompt := calls[1].Messages[len(calls[1].Messages)-1].Content
			if !contains(prompt, "pro: tabs are better") {
				t.Errorf("round-2 prompt = %q, want pro's position from the mailbox", prompt)
			}
		})
	})

	t.Run("exhausting rounds never counts as convergence", func(t *testing.T) {
		// Positions are stable, but stability is only observable at the
		// final round, which does not qualify as early convergence.
		mocks := map[string]*model.MockChatModel{
			"solo-model": {Responses: []model.ChatOut{{Text: "my position"}}},
		}
		tm, err := New(Config{
			Name:      "short-debate",
			Strategy:  StrategyDebate,
			MaxRounds: 2,
			Members:   []Member{{Name: "solo", Model: "solo-model"}},
		}, mockFactory(mocks), nil, nil)
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}

		result, err := tm.Run(context.Background(), "topic")
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if result.Converged {
			t.Error("Converged = true at the round limit")
		}
		if result.Rounds != 2 {
			t.Errorf("rounds = %d, want 2", result.Rounds)
		}
	})

	t.Run("shifting positions run all rounds", func(t *testing.T) {
		mocks := map[string]*model.MockChatModel{
			"flip-model": {Responses: []model.ChatOut{
				{Text: "position one"},
				{Text: "position two"},
				{Text: "position three"},
			}},
		}
		tm, err := New(Config{
			Name:      "restless",
			Strategy:  StrategyDebate,
			MaxRounds: 3,
			Members:   []Member{{Name: "flip", Model: "flip-model"}},
		}, mockFactory(mocks), nil, nil)
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		result, err := tm.Run(context.Background(), "topic")
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if result.Converged || result.Rounds != 3 {
			t.Errorf("result = rounds %d converged %v, want 3/false", result.Rounds, result.Converged)
		}
	})
}

func TestMapReduceStrategy(t *testing.T) {
	mocks := map[string]*model.MockChatModel{
		"a-model": {Responses: []model.ChatOut{{Text: "slice A analysed"}}},
		"b-model": {Responses: []model.ChatOut{{Text: "slice B analysed"}}},
		"r-model": {Responses: []model.ChatOut{{Text: "combined analysis"}}},
	}
	log := &eventLog{}
	tm, err := New(Config{
		Name:     "analysts",
		Strategy: StrategyMapReduce,
		Members: []Member{
			{Name: "a", Model: "a-model"},
			{Name: "b", Model: "b-model"},
		},
		Coordinator: &Member{Name: "reducer", Model: "r-model"},
	}, mockFactory(mocks), log.callback, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	result, err := tm.Run(context.Background(), "analyse the dataset")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Output != "combined analysis" {
		t.Errorf("output = %q", result.Output)
	}
	if result.Rounds != 2 {
		t.Errorf("rounds = %d, want map + reduce = 2", result.Rounds)
	}
	if result.AgentOutputs["a"] != "slice A analysed" || result.AgentOutputs["b"] != "slice B analysed" {
		t.Errorf("agent outputs = %v", result.AgentOutputs)
	}

	// The reducer saw both map outputs.
	reducePrompt := mocks["r-model"].Calls[0].Messages[0].Content
	if !contains(reducePrompt, "slice A analysed") || !contains(reducePrompt, "slice B analysed") {
		t.Errorf("reduce prompt = %q", reducePrompt)
	}

	t.Run("map outputs are posted to the reducer's mailbox", func(t *testing.T) {
		hist := tm.Bus.History()
		if len(hist) != 2 {
			t.Fatalf("bus history = %d messages, want one per mapper", len(hist))
		}
		byFrom := make(map[string]string, len(hist))
		for _, msg := range hist {
			if msg.To != "reducer" {
				t.Errorf("message %+v not addressed to the reducer", msg)
			}
			byFrom[msg.From] = msg.Content
		}
		if byFrom["a"] != "slice A analysed" || byFrom["b"] != "slice B analysed" {
			t.Errorf("posted outputs = %v", byFrom)
		}
		if !log.has(EventOrchestrationMessage) {
			t.Error("no orchestration_message events for map posts")
		}
	})
}

func TestUnknownStrategy(t *testing.T) {
	tm, err := New(Config{
		Name:     "odd",
		Strategy: "consensus-by-combat",
		Members:  []Member{{Name: "a", Model: "m"}},
	}, mockFactory(nil), nil, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := tm.Run(context.Background(), "task"); err == nil {
		t.Error("Run() = nil error for unknown strategy")
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
