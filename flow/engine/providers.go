package engine

import (
	"context"
	"fmt"

	"github.com/floweave/floweave/flow"
	"github.com/floweave/floweave/flow/model"
	"github.com/floweave/floweave/flow/model/anthropic"
	"github.com/floweave/floweave/flow/model/google"
	"github.com/floweave/floweave/flow/model/ollama"
	"github.com/floweave/floweave/flow/model/openai"
	"github.com/floweave/floweave/flow/secrets"
)

// Clients builds provider-backed chat models and embedders for a running
// execution. Implementations resolve API keys from execution settings
// first, then the secrets store scoped to the execution's user.
type Clients interface {
	ChatModel(ctx context.Context, modelName string, settings model.Settings, userID string) (model.ChatModel, error)
	Embedder(ctx context.Context, settings model.Settings, userID string) (model.Embedder, error)
}

// ProviderClients is the live Clients implementation over the real
// provider SDKs.
type ProviderClients struct {
	Secrets secrets.Store
}

func (p *ProviderClients) secretGetter() model.SecretGetter {
	if p.Secrets == nil {
		return nil
	}
	return func(ctx context.Context, name, userID string) (string, bool) {
		return p.Secrets.Get(ctx, name, userID)
	}
}

// ChatModel implements Clients.
func (p *ProviderClients) ChatModel(ctx context.Context, modelName string, settings model.Settings, userID string) (model.ChatModel, error) {
	family := model.DetectFamily(modelName)
	key, ok := model.ResolveKey(ctx, family, settings, p.secretGetter(), userID)
	if !ok {
		return nil, &flow.Error{
			Code:    flow.ErrCodeProvider,
			Message: fmt.Sprintf("no API key available for %s model %q", family, modelName),
		}
	}

	switch family {
	case model.FamilyAnthropic:
		return anthropic.New(key, modelName), nil
	case model.FamilyGoogle:
		return google.New(ctx, key, modelName)
	case model.FamilyOllama:
		return ollama.New(modelName, settings.BaseURLs[model.FamilyOllama]), nil
	default:
		return openai.New(key, modelName, settings.BaseURLs[model.FamilyOpenAI]), nil
	}
}

// Embedder implements Clients. Falls back across families: OpenAI, then
// Google, then a deterministic hash embedder so retrieval still works
// offline.
func (p *ProviderClients) Embedder(ctx context.Context, settings model.Settings, userID string) (model.Embedder, error) {
	getter := p.secretGetter()
	if key, ok := model.ResolveKey(ctx, model.FamilyOpenAI, settings, getter, userID); ok {
		return openai.NewEmbedder(key, "", settings.BaseURLs[model.FamilyOpenAI]), nil
	}
	if key, ok := model.ResolveKey(ctx, model.FamilyGoogle, settings, getter, userID); ok {
		return google.NewEmbedder(ctx, key, "")
	}
	if url := settings.BaseURLs[model.FamilyOllama]; url != "" {
		return ollama.NewEmbedder("", url), nil
	}
	return &model.HashEmbedder{}, nil
}
