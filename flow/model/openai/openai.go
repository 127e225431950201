// Package openai adapts the OpenAI chat completion and embedding APIs to
// the model contracts.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	oa "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/floweave/floweave/flow/model"
)

// Client wraps the OpenAI SDK behind the ChatModel and Embedder contracts.
type Client struct {
	client oa.Client
	model  string
}

// New creates an OpenAI-backed client for the given model. baseURL is
// optional; a non-empty value overrides the default endpoint, which also
// covers OpenAI-compatible servers.
func New(apiKey, modelName, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: oa.NewClient(opts...), model: modelName}
}

// Chat implements model.ChatModel.
func (c *Client) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	params := oa.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: convertMessages(messages),
	}
	for _, t := range tools {
		def := shared.FunctionDefinitionParam{Name: t.Name}
		if t.Description != "" {
			def.Description = oa.String(t.Description)
		}
		if t.Schema != nil {
			def.Parameters = shared.FunctionParameters(t.Schema)
		}
		params.Tools = append(params.Tools, oa.ChatCompletionFunctionTool(def))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, fmt.Errorf("openai chat completion: empty response")
	}

	msg := completion.Choices[0].Message
	out := model.ChatOut{
		Text: msg.Content,
		Usage: model.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, call := range msg.ToolCalls {
		input := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return model.ChatOut{}, fmt.Errorf("decode tool call arguments for %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	return out, nil
}

func convertMessages(messages []model.Message) []oa.ChatCompletionMessageParamUnion {
	out := make([]oa.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, oa.SystemMessage(m.Content))
		case model.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, oa.AssistantMessage(m.Content))
				continue
			}
			asst := oa.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = oa.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				asst.ToolCalls = append(asst.ToolCalls, oa.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &oa.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: oa.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(args),
						},
					},
				})
			}
			out = append(out, oa.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case model.RoleTool:
			out = append(out, oa.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, oa.UserMessage(m.Content))
		}
	}
	return out
}

// Embedder wraps the OpenAI embeddings API.
type Embedder struct {
	client oa.Client
	model  string
}

// NewEmbedder creates an OpenAI-backed embedder. Empty modelName selects
// text-embedding-3-small.
func NewEmbedder(apiKey, modelName, baseURL string) *Embedder {
	if modelName == "" {
		modelName = string(oa.EmbeddingModelTextEmbedding3Small)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Embedder{client: oa.NewClient(opts...), model: modelName}
}

// Embed implements model.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, oa.EmbeddingNewParams{
		Model: oa.EmbeddingModel(e.model),
		Input: oa.EmbeddingNewParamsInputUnion{OfString: oa.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}
