// Package google adapts the Gemini API (generative-ai-go) to the model
// contracts.
package google

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/floweave/floweave/flow/model"
)

// Client wraps the Gemini SDK behind the ChatModel contract.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed client for the given model. The SDK opens a
// connection at construction, hence the context.
func New(ctx context.Context, apiKey, modelName string) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, model: modelName}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.client.Close() }

// Chat implements model.ChatModel.
func (c *Client) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	gm := c.client.GenerativeModel(c.model)

	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if t.Schema != nil {
			decl.Parameters = schemaFromMap(t.Schema)
		}
		if len(gm.Tools) == 0 {
			gm.Tools = []*genai.Tool{{}}
		}
		gm.Tools[0].FunctionDeclarations = append(gm.Tools[0].FunctionDeclarations, decl)
	}

	var history []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
		case model.RoleAssistant:
			content := &genai.Content{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, genai.FunctionCall{Name: tc.Name, Args: tc.Input})
			}
			history = append(history, content)
		case model.RoleTool:
			history = append(history, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     m.Name,
					Response: map[string]any{"result": m.Content},
				}},
			})
		default:
			history = append(history, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		}
	}
	if len(history) == 0 {
		return model.ChatOut{}, fmt.Errorf("gemini chat: no messages")
	}

	session := gm.StartChat()
	last := history[len(history)-1]
	session.History = history[:len(history)-1]

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("gemini chat: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.ChatOut{}, fmt.Errorf("gemini chat: empty response")
	}

	var out model.ChatOut
	if resp.UsageMetadata != nil {
		out.Usage = model.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	return out, nil
}

// schemaFromMap converts a JSON Schema object into the Gemini schema type.
// Only the subset tool definitions actually use is mapped: object type,
// property types, descriptions, and required fields.
func schemaFromMap(schema map[string]any) *genai.Schema {
	out := &genai.Schema{Type: genai.TypeObject}
	props, _ := schema["properties"].(map[string]any)
	if len(props) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			prop, _ := raw.(map[string]any)
			ps := &genai.Schema{Type: genai.TypeString}
			switch prop["type"] {
			case "integer":
				ps.Type = genai.TypeInteger
			case "number":
				ps.Type = genai.TypeNumber
			case "boolean":
				ps.Type = genai.TypeBoolean
			case "array":
				ps.Type = genai.TypeArray
				ps.Items = &genai.Schema{Type: genai.TypeString}
			case "object":
				ps.Type = genai.TypeObject
			}
			if desc, ok := prop["description"].(string); ok {
				ps.Description = desc
			}
			out.Properties[name] = ps
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

// Embedder wraps the Gemini embedding API.
type Embedder struct {
	client *genai.Client
	model  string
}

// NewEmbedder creates a Gemini-backed embedder. Empty modelName selects
// text-embedding-004.
func NewEmbedder(ctx context.Context, apiKey, modelName string) (*Embedder, error) {
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Embedder{client: client, model: modelName}, nil
}

// Close releases the underlying connection.
func (e *Embedder) Close() error { return e.client.Close() }

// Embed implements model.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding: %w", err)
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("gemini embedding: empty response")
	}
	out := make([]float64, len(res.Embedding.Values))
	for i, v := range res.Embedding.Values {
		out[i] = float64(v)
	}
	return out, nil
}
