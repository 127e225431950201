package model

import (
	"context"
	"strings"
)

// Provider family identifiers.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
	FamilyGoogle    = "google"
	FamilyOllama    = "ollama"
)

// Settings carries the caller-supplied provider configuration for one
// execution: API keys and base URL overrides keyed by family.
type Settings struct {
	APIKeys  map[string]string
	BaseURLs map[string]string
}

// SecretGetter resolves a named secret scoped to a user. Implementations
// return false when the secret does not exist for that user.
type SecretGetter func(ctx context.Context, name, userID string) (string, bool)

// DetectFamily infers the provider family from a model name. Unknown
// names default to ollama, which covers locally hosted models addressed
// by bare names like "llama3" or "mistral".
func DetectFamily(modelName string) string {
	m := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "chatgpt"),
		strings.HasPrefix(m, "text-embedding"):
		return FamilyOpenAI
	case strings.HasPrefix(m, "claude"):
		return FamilyAnthropic
	case strings.HasPrefix(m, "gemini"), strings.HasPrefix(m, "models/gemini"):
		return FamilyGoogle
	default:
		return FamilyOllama
	}
}

// SecretName returns the conventional secret name for a provider family,
// e.g. "LLM_OPENAI_API_KEY".
func SecretName(family string) string {
	return "LLM_" + strings.ToUpper(family) + "_API_KEY"
}

// ResolveKey finds the API key for a provider family. Execution settings
// win over stored secrets; the ollama family never needs a key. Returns
// false when no key is available.
func ResolveKey(ctx context.Context, family string, settings Settings, secrets SecretGetter, userID string) (string, bool) {
	if family == FamilyOllama {
		return "", true
	}
	if key, ok := settings.APIKeys[family]; ok && key != "" {
		return key, true
	}
	if secrets != nil {
		if key, ok := secrets(ctx, SecretName(family), userID); ok && key != "" {
			return key, true
		}
	}
	return "", false
}
