package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/floweave/floweave/flow"
)

// MemStore is an in-memory implementation of CheckpointStore,
// ScheduleStore, and ExecutionStore.
//
// Designed for tests and single-process development; data is lost when the
// process terminates. Thread-safe. Stored values are deep-copied through
// JSON so callers cannot alias the store's internal state.
type MemStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*CheckpointRecord
	schedules   map[string]*flow.Schedule
	executions  map[string]*flow.Execution
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		checkpoints: make(map[string]*CheckpointRecord),
		schedules:   make(map[string]*flow.Schedule),
		executions:  make(map[string]*flow.Execution),
	}
}

// Save upserts the checkpoint for an execution.
func (m *MemStore) Save(_ context.Context, executionID, nodeID string, ectx map[string]any, status string) error {
	copied, err := deepCopyMap(ectx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[executionID] = &CheckpointRecord{
		ExecutionID: executionID,
		CurrentNode: nodeID,
		Context:     copied,
		Status:      status,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

// Load returns the checkpoint for an execution, or ErrNotFound.
func (m *MemStore) Load(_ context.Context, executionID string) (*CheckpointRecord, error) {
	m.mu.RLock()
	rec, ok := m.checkpoints[executionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	copied, err := deepCopyMap(rec.Context)
	if err != nil {
		return nil, err
	}
	out := *rec
	out.Context = copied
	return &out, nil
}

// MarkFailed records a terminal failure on the existing checkpoint.
func (m *MemStore) MarkFailed(_ context.Context, executionID, nodeID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.checkpoints[executionID]
	if !ok {
		return ErrNotFound
	}
	rec.CurrentNode = nodeID
	rec.Status = flow.StatusFailed
	rec.Error = errMsg
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes the checkpoint row.
func (m *MemStore) Delete(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, executionID)
	return nil
}

// SaveSchedule upserts a schedule by ID.
func (m *MemStore) SaveSchedule(_ context.Context, s *flow.Schedule) error {
	copied := *s
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = &copied
	return nil
}

// GetSchedule returns a schedule by ID, or ErrNotFound.
func (m *MemStore) GetSchedule(_ context.Context, id string) (*flow.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

// ListEnabled returns all enabled schedules.
func (m *MemStore) ListEnabled(_ context.Context) ([]*flow.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*flow.Schedule
	for _, s := range m.schedules {
		if s.Enabled {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

// DeleteSchedule removes a schedule.
func (m *MemStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

// SaveExecution upserts an execution record by ID.
func (m *MemStore) SaveExecution(_ context.Context, x *flow.Execution) error {
	var copied flow.Execution
	data, err := json.Marshal(x)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &copied); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[x.ID] = &copied
	return nil
}

// GetExecution returns an execution by ID, or ErrNotFound.
func (m *MemStore) GetExecution(_ context.Context, id string) (*flow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	x, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *x
	return &copied, nil
}

// deepCopyMap copies a context snapshot through a JSON round-trip so the
// store never shares mutable state with a running execution.
func deepCopyMap(in map[string]any) (map[string]any, error) {
	if in == nil {
		return nil, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
