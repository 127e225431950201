package flow

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Reserved execution-context keys.
const (
	KeyInput  = "input"    // the original workflow input
	KeyUserID = "_user_id" // owner on whose behalf the execution runs
	KeyToday  = "today"    // ISO date at execution start

	// UsagePrefix prefixes per-node token/cost accounting keys:
	// "_usage_<node_id>".
	UsagePrefix = "_usage_"
)

// Context is the per-execution mutable map carrying the workflow input,
// outputs keyed by node ID, and reserved underscore-prefixed keys.
//
// Parallel branches mutate the context from separate goroutines, so every
// access goes through the mutex. Conflicting writes to the same key are
// last-writer-wins.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates an execution context seeded with the workflow input,
// the owning user, and today's ISO date.
func NewContext(input any, userID string) *Context {
	c := &Context{values: make(map[string]any)}
	c.values[KeyInput] = input
	if userID != "" {
		c.values[KeyUserID] = userID
	}
	c.values[KeyToday] = time.Now().UTC().Format("2006-01-02")
	return c
}

// RestoreContext rebuilds a context from a checkpointed snapshot.
func RestoreContext(values map[string]any) *Context {
	c := &Context{values: make(map[string]any, len(values))}
	for k, v := range values {
		c.values[k] = v
	}
	return c
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value under key, replacing any previous value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// UserID returns the owner recorded under the reserved _user_id key.
func (c *Context) UserID() string {
	v, _ := c.Get(KeyUserID)
	s, _ := v.(string)
	return s
}

// Snapshot returns a deep copy of the context values via a JSON round-trip,
// suitable for checkpointing. Values that do not survive JSON encoding are
// an executor bug; the error is surfaced rather than silently dropped.
func (c *Context) Snapshot() (map[string]any, error) {
	c.mu.RLock()
	data, err := json.Marshal(c.values)
	c.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("context snapshot: %w", err)
	}
	var copied map[string]any
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("context snapshot: %w", err)
	}
	return copied, nil
}

// RecordUsage writes the per-node accounting entry under "_usage_<nodeID>".
func (c *Context) RecordUsage(nodeID string, u Usage) {
	c.Set(UsagePrefix+nodeID, map[string]any{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"cost":              u.Cost,
		"model":             u.Model,
	})
}

// Usage is the token and cost accounting for one provider call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Model            string
}

// UsageAggregate is the execution-level sum of all per-node usage entries.
// A zero-token aggregate is considered empty.
type UsageAggregate struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
	ModelUsed        string  `json:"model_used"`
}

// Empty reports whether no tokens were accounted.
func (u UsageAggregate) Empty() bool { return u.TotalTokens == 0 }

// AggregateUsage sums every "_usage_*" entry in the context. ModelUsed is
// the first model seen (keys sorted for determinism); cost is rounded to
// six decimal places.
func (c *Context) AggregateUsage() UsageAggregate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		if strings.HasPrefix(key, UsagePrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var agg UsageAggregate
	for _, key := range keys {
		entry, ok := c.values[key].(map[string]any)
		if !ok {
			continue
		}
		agg.PromptTokens += asInt(entry["prompt_tokens"])
		agg.CompletionTokens += asInt(entry["completion_tokens"])
		agg.EstimatedCost += asFloat(entry["cost"])
		if agg.ModelUsed == "" {
			if m, ok := entry["model"].(string); ok {
				agg.ModelUsed = m
			}
		}
	}
	agg.TotalTokens = agg.PromptTokens + agg.CompletionTokens
	agg.EstimatedCost = math.Round(agg.EstimatedCost*1e6) / 1e6
	return agg
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
