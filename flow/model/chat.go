// Package model defines the LLM provider contracts used by node executors
// and multi-agent strategies: chat completion with optional tool calling,
// and text embedding. Provider adapters live in the subpackages (openai,
// anthropic, google, ollama); MockChatModel and HashEmbedder serve tests
// and mock-mode execution.
package model

import "context"

// Standard role constants for LLM conversations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single turn in an LLM conversation. Assistant messages may
// carry tool calls; tool messages carry the result of one call, linked by
// ToolCallID.
type Message struct {
	Role    string
	Content string

	// ToolCalls is set on assistant messages that requested tool
	// invocations.
	ToolCalls []ToolCall

	// ToolCallID links a tool-result message to the call it answers.
	ToolCallID string

	// Name is the tool name on tool-result messages.
	Name string
}

// ToolSpec describes a tool the model may call. Schema is JSON Schema for
// the input parameters; nil means the tool takes no parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// TokenUsage is the token accounting reported by a provider for one call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int { return u.PromptTokens + u.CompletionTokens }

// ChatOut is the result of one chat completion: generated text, requested
// tool calls (either may be empty), and token usage.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// ChatModel is the unified chat-completion contract over LLM providers.
//
// Implementations convert the standard message format to the provider's
// wire format, respect context cancellation, and report token usage when
// the provider supplies it.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Embedder converts text into a dense vector for similarity retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
