// Package anthropic adapts the Anthropic Messages API to the model
// contracts. Anthropic has no embedding endpoint, so only ChatModel is
// implemented here.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/floweave/floweave/flow/model"
)

const defaultMaxTokens = 4096

// Client wraps the Anthropic SDK behind the ChatModel contract.
type Client struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// New creates an Anthropic-backed client for the given model.
func New(apiKey, modelName string) *Client {
	return &Client{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     modelName,
		maxTokens: defaultMaxTokens,
	}
}

// Chat implements model.ChatModel.
func (c *Client) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
	}

	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			// Anthropic takes system prompts out of band.
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Content})
		case model.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
			}
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
		case model.RoleTool:
			params.Messages = append(params.Messages,
				sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	for _, t := range tools {
		schema := sdk.ToolInputSchemaParam{}
		if t.Schema != nil {
			if props, ok := t.Schema["properties"]; ok {
				schema.Properties = props
			}
		}
		tool := sdk.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" && tool.OfTool != nil {
			tool.OfTool.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic message: %w", err)
	}

	out := model.ChatOut{
		Usage: model.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			out.Text += b.Text
		case sdk.ToolUseBlock:
			input := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("decode tool input for %s: %w", b.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: input,
			})
		}
	}
	return out, nil
}
