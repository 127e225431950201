package team

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Update is one entry in the shared context's change log.
type Update struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Agent     string    `json:"agent"`
	Operation string    `json:"operation"` // set or delete
	Timestamp time.Time `json:"timestamp"`
}

// SharedContext is the team's mutex-guarded key-value store. All reads
// and writes deep-copy values so agents never alias each other's state.
// An ordered history of updates is retained up to maxHistory entries.
type SharedContext struct {
	mu         sync.RWMutex
	values     map[string]any
	log        []Update
	maxHistory int
}

// NewSharedContext creates an empty shared context retaining up to
// maxHistory updates. Zero or negative means unlimited.
func NewSharedContext(maxHistory int) *SharedContext {
	return &SharedContext{
		values:     make(map[string]any),
		maxHistory: maxHistory,
	}
}

// Get returns a deep copy of the value at key.
func (s *SharedContext) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Set stores a deep copy of value at key, attributed to agent.
func (s *SharedContext) Set(key string, value any, agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = deepCopy(value)
	s.record(Update{Key: key, Value: deepCopy(value), Agent: agent, Operation: "set"})
}

// Delete removes a key, attributed to agent.
func (s *SharedContext) Delete(key, agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	s.record(Update{Key: key, Agent: agent, Operation: "delete"})
}

// Keys returns the stored keys in sorted order.
func (s *SharedContext) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// History returns a copy of the update log in order.
func (s *SharedContext) History() []Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Update, len(s.log))
	copy(out, s.log)
	return out
}

func (s *SharedContext) record(u Update) {
	u.Timestamp = time.Now().UTC()
	s.log = append(s.log, u)
	if s.maxHistory > 0 && len(s.log) > s.maxHistory {
		s.log = s.log[len(s.log)-s.maxHistory:]
	}
}

// deepCopy round-trips a value through JSON. Values that fail to marshal
// are returned as-is; shared context is meant for JSON-shaped data.
func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case string, bool, float64, int, int64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
