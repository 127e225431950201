package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/floweave/floweave/flow"
	"github.com/floweave/floweave/flow/model"
	"github.com/floweave/floweave/flow/resolve"
)

const (
	defaultTopK         = 3
	defaultChunkSize    = 500
	defaultChunkOverlap = 50
)

// executeRAG chunks and embeds the node's documents, retrieves the top-K
// chunks against the resolved query, composes a grounded prompt, and calls
// an LLM. Output includes the retrieved chunks, the final answer, and
// per-phase timings.
func (e *Engine) executeRAG(ctx context.Context, node *flow.Node, input any, ectx *flow.Context, req Request) (any, error) {
	docs := documentList(node)
	if len(docs) == 0 {
		return nil, &flow.Error{
			Code:    flow.ErrCodeValidation,
			NodeID:  node.ID,
			Message: "rag node has no documents",
		}
	}

	query := resolve.Stringify(input)
	topK := node.IntData("topK", defaultTopK)
	chunkSize := node.IntData("chunkSize", defaultChunkSize)
	overlap := node.IntData("chunkOverlap", defaultChunkOverlap)

	embedder, err := e.clients.Embedder(ctx, req.Settings, ectx.UserID())
	if err != nil {
		return nil, err
	}

	embedStart := time.Now()
	var chunks []string
	for _, doc := range docs {
		chunks = append(chunks, chunkText(doc, chunkSize, overlap)...)
	}
	vectors := make([][]float64, len(chunks))
	for i, chunk := range chunks {
		vec, err := embedder.Embed(ctx, chunk)
		if err != nil {
			return nil, &flow.Error{Code: flow.ErrCodeProvider, NodeID: node.ID, Message: "embed document chunk", Cause: err}
		}
		vectors[i] = vec
	}
	queryVec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, &flow.Error{Code: flow.ErrCodeProvider, NodeID: node.ID, Message: "embed query", Cause: err}
	}
	embedMS := time.Since(embedStart).Milliseconds()

	retrieveStart := time.Now()
	top := topChunks(chunks, vectors, queryVec, topK)
	retrieveMS := time.Since(retrieveStart).Milliseconds()

	modelName := node.StringData("model", "gpt-4o-mini")
	client, err := e.clients.ChatModel(ctx, modelName, req.Settings, ectx.UserID())
	if err != nil {
		return nil, err
	}

	generateStart := time.Now()
	prompt := composeRAGPrompt(query, top)
	out, err := client.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: "Answer using only the provided context. Say so when the context is insufficient."},
		{Role: model.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return nil, &flow.Error{Code: flow.ErrCodeProvider, NodeID: node.ID, Message: "rag generation failed", Cause: err}
	}
	generateMS := time.Since(generateStart).Milliseconds()

	ectx.RecordUsage(node.ID, flow.Usage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		Cost:             model.EstimateCost(modelName, out.Usage),
		Model:            modelName,
	})

	chunkList := make([]any, len(top))
	for i, c := range top {
		chunkList[i] = map[string]any{"text": c.text, "score": c.score}
	}
	return map[string]any{
		"answer": out.Text,
		"chunks": chunkList,
		"timings": map[string]any{
			"embed_ms":    embedMS,
			"retrieve_ms": retrieveMS,
			"generate_ms": generateMS,
		},
	}, nil
}

func documentList(node *flow.Node) []string {
	switch raw := node.Data["documents"].(type) {
	case []any:
		var docs []string
		for _, entry := range raw {
			if s, ok := entry.(string); ok && s != "" {
				docs = append(docs, s)
			}
		}
		return docs
	case string:
		if raw == "" {
			return nil
		}
		return []string{raw}
	default:
		return nil
	}
}

// chunkText splits a document into overlapping windows of size characters.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

type scoredChunk struct {
	text  string
	score float64
}

func topChunks(chunks []string, vectors [][]float64, query []float64, k int) []scoredChunk {
	if k <= 0 {
		k = defaultTopK
	}
	scored := make([]scoredChunk, len(chunks))
	for i := range chunks {
		scored[i] = scoredChunk{text: chunks[i], score: cosine(vectors[i], query)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func composeRAGPrompt(query string, chunks []scoredChunk) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, c.text)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}
