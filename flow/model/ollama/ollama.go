// Package ollama adapts locally hosted models to the model contracts
// through Ollama's OpenAI-compatible endpoint. No API key is required.
package ollama

import (
	"strings"

	"github.com/floweave/floweave/flow/model/openai"
)

// DefaultBaseURL is the OpenAI-compatible endpoint of a local Ollama
// server.
const DefaultBaseURL = "http://localhost:11434/v1"

// The endpoint rejects empty bearer tokens, so a placeholder key is sent.
const placeholderKey = "ollama"

// New creates a chat client for a locally hosted model. baseURL is
// optional and defaults to the local Ollama server.
func New(modelName, baseURL string) *openai.Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return openai.New(placeholderKey, strings.TrimPrefix(modelName, "ollama:"), baseURL)
}

// NewEmbedder creates an embedder backed by a local embedding model such
// as nomic-embed-text.
func NewEmbedder(modelName, baseURL string) *openai.Embedder {
	if modelName == "" {
		modelName = "nomic-embed-text"
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return openai.NewEmbedder(placeholderKey, strings.TrimPrefix(modelName, "ollama:"), baseURL)
}
