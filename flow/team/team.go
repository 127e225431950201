package team

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/floweave/floweave/flow/model"
)

// Strategy identifiers.
const (
	StrategyCoordinator = "coordinator"
	StrategyRoundRobin  = "round_robin"
	StrategyDebate      = "debate"
	StrategyMapReduce   = "map_reduce"
)

// Event names emitted on the team's callback.
const (
	EventOrchestrationStart   = "orchestration_start"
	EventOrchestrationEnd     = "orchestration_end"
	EventOrchestrationError   = "orchestration_error"
	EventOrchestrationMessage = "orchestration_message"
	EventAgentDelegated       = "agent_delegated"
	EventAgentCompleted       = "agent_completed"
	EventConvergenceDetected  = "convergence_detected"
	EventSynthesisStart       = "synthesis_start"
)

// Member describes one agent in a team.
type Member struct {
	Name         string   `json:"name"`
	Role         string   `json:"role,omitempty"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Config describes a team and how it is orchestrated.
type Config struct {
	Name            string
	Strategy        string
	MaxRounds       int // strategy-specific default when zero
	Members         []Member
	Coordinator     *Member // optional dedicated coordinator/synthesizer
	EnableConsult   bool
	MaxConsultDepth int
	MaxHistory      int // bus and shared-context retention; 10 000 when zero
}

// ChatFactory builds a chat client for a member's model.
type ChatFactory func(ctx context.Context, modelName string) (model.ChatModel, error)

// Callback observes orchestration events. Strategy correctness does not
// depend on it.
type Callback func(event string, data map[string]any)

// Result is a strategy's outcome.
type Result struct {
	Output       string
	Rounds       int
	Converged    bool
	AgentOutputs map[string]string
	Usage        model.TokenUsage
}

// Team is the ephemeral ensemble created for a single multi_agent node.
// It owns the bus, the shared context, and the member handles.
type Team struct {
	cfg      Config
	chat     ChatFactory
	callback Callback
	logger   *slog.Logger

	Bus    *MessageBus
	Shared *SharedContext

	usageMu sync.Mutex
	usage   model.TokenUsage
}

// New assembles a team: registers every member (and the coordinator) on a
// fresh bus and shared context.
func New(cfg Config, chat ChatFactory, callback Callback, logger *slog.Logger) (*Team, error) {
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("team %q has no members", cfg.Name)
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Team{
		cfg:      cfg,
		chat:     chat,
		callback: callback,
		logger:   logger,
		Shared:   NewSharedContext(cfg.MaxHistory),
	}
	t.Bus = NewMessageBus(cfg.MaxHistory, func(msg Message) {
		t.emit(EventOrchestrationMessage, map[string]any{
			"from": msg.From, "to": msg.To, "content": msg.Content,
		})
	})
	for _, m := range cfg.Members {
		t.Bus.Register(m.Name)
	}
	if cfg.Coordinator != nil {
		t.Bus.Register(cfg.Coordinator.Name)
	}
	return t, nil
}

// Run dispatches the configured strategy on a task.
func (t *Team) Run(ctx context.Context, task string) (Result, error) {
	t.emit(EventOrchestrationStart, map[string]any{
		"team": t.cfg.Name, "strategy": t.cfg.Strategy, "members": len(t.cfg.Members),
	})

	var result Result
	var err error
	switch t.cfg.Strategy {
	case StrategyCoordinator:
		result, err = t.runCoordinator(ctx, task)
	case StrategyRoundRobin:
		result, err = t.runRoundRobin(ctx, task)
	case StrategyDebate:
		result, err = t.runDebate(ctx, task)
	case StrategyMapReduce:
		result, err = t.runMapReduce(ctx, task)
	default:
		err = fmt.Errorf("unknown strategy %q", t.cfg.Strategy)
	}

	if err != nil {
		t.emit(EventOrchestrationError, map[string]any{"team": t.cfg.Name, "error": err.Error()})
		return Result{}, err
	}
	result.Usage = t.totalUsage()
	t.emit(EventOrchestrationEnd, map[string]any{
		"team": t.cfg.Name, "rounds": result.Rounds, "converged": result.Converged,
	})
	return result, nil
}

func (t *Team) emit(event string, data map[string]any) {
	if t.callback != nil {
		t.callback(event, data)
	}
}

func (t *Team) addUsage(u model.TokenUsage) {
	t.usageMu.Lock()
	t.usage.PromptTokens += u.PromptTokens
	t.usage.CompletionTokens += u.CompletionTokens
	t.usageMu.Unlock()
}

func (t *Team) totalUsage() model.TokenUsage {
	t.usageMu.Lock()
	defer t.usageMu.Unlock()
	return t.usage
}

// localTool is a dynamically synthesised tool backed by a closure, e.g.
// delegate_to_<name> or read_shared_context.
type localTool struct {
	spec model.ToolSpec
	call func(ctx context.Context, input map[string]any) (string, error)
}

// callAgent runs one member's LLM in a multi-round tool-calling loop over
// the given local tools, returning the final text and the number of chat
// rounds consumed. Rounds are bounded by maxRounds; usage from every round
// accumulates on the team.
func (t *Team) callAgent(ctx context.Context, m Member, prompt string, tools []localTool, maxRounds int) (string, int, error) {
	client, err := t.chat(ctx, m.Model)
	if err != nil {
		return "", 0, fmt.Errorf("agent %s: %w", m.Name, err)
	}
	if maxRounds < 1 {
		maxRounds = 1
	}

	var messages []model.Message
	if m.SystemPrompt != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: m.SystemPrompt})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

	specs := make([]model.ToolSpec, len(tools))
	byName := make(map[string]localTool, len(tools))
	for i, tool := range tools {
		specs[i] = tool.spec
		byName[tool.spec.Name] = tool
	}

	var lastText string
	for round := 0; round < maxRounds; round++ {
		out, err := client.Chat(ctx, messages, specs)
		if err != nil {
			return "", round, fmt.Errorf("agent %s: %w", m.Name, err)
		}
		t.addUsage(out.Usage)
		if out.Text != "" {
			lastText = out.Text
		}
		if len(out.ToolCalls) == 0 {
			return out.Text, round + 1, nil
		}

		messages = append(messages, model.Message{
			Role: model.RoleAssistant, Content: out.Text, ToolCalls: out.ToolCalls,
		})
		for _, call := range out.ToolCalls {
			tool, ok := byName[call.Name]
			var content string
			if !ok {
				content = "unknown tool: " + call.Name
			} else if result, err := tool.call(ctx, call.Input); err != nil {
				content = "tool error: " + err.Error()
			} else {
				content = result
			}
			messages = append(messages, model.Message{
				Role: model.RoleTool, Content: content,
				ToolCallID: call.ID, Name: call.Name,
			})
		}
	}
	return lastText, maxRounds, nil
}

// memberList renders members and capabilities for a coordinator's system
// prompt.
func memberList(members []Member) string {
	var b strings.Builder
	for _, m := range members {
		fmt.Fprintf(&b, "- %s", m.Name)
		if m.Role != "" {
			fmt.Fprintf(&b, " (%s)", m.Role)
		}
		if len(m.Capabilities) > 0 {
			fmt.Fprintf(&b, ": %s", strings.Join(m.Capabilities, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
