// Package store provides persistence contracts and implementations for
// execution checkpoints, cron schedules, and execution records.
//
// Three backends are available:
//   - MemStore: in-memory, for tests and single-process development
//   - SQLiteStore: single-file durable storage with zero setup
//   - MySQLStore: shared durable storage for server deployments
package store

import (
	"context"
	"errors"
	"time"

	"github.com/floweave/floweave/flow"
)

// ErrNotFound is returned when a requested execution, checkpoint, or
// schedule does not exist.
var ErrNotFound = errors.New("not found")

// CheckpointRecord is the durable snapshot of an in-flight execution:
// the node about to run and the full context at that point. One record
// exists per execution; it is deleted on successful completion.
type CheckpointRecord struct {
	ExecutionID string         `json:"execution_id"`
	CurrentNode string         `json:"current_node"`
	Context     map[string]any `json:"context"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CheckpointStore persists execution checkpoints. Save upserts by execution
// ID; a single save is atomic with respect to concurrent loads. All stored
// context values must round-trip through JSON — that is the node executors'
// responsibility, not the store's.
type CheckpointStore interface {
	// Save upserts the checkpoint for an execution before a node begins.
	Save(ctx context.Context, executionID, nodeID string, ectx map[string]any, status string) error

	// Load returns the checkpoint for an execution, or ErrNotFound.
	Load(ctx context.Context, executionID string) (*CheckpointRecord, error)

	// MarkFailed records a terminal failure on the existing checkpoint so a
	// later resume can distinguish it from a clean pause.
	MarkFailed(ctx context.Context, executionID, nodeID, errMsg string) error

	// Delete removes the checkpoint row. Deleting a missing row is not an
	// error.
	Delete(ctx context.Context, executionID string) error
}

// ScheduleStore persists cron schedules.
type ScheduleStore interface {
	// SaveSchedule upserts a schedule by ID.
	SaveSchedule(ctx context.Context, s *flow.Schedule) error

	// GetSchedule returns a schedule by ID, or ErrNotFound.
	GetSchedule(ctx context.Context, id string) (*flow.Schedule, error)

	// ListEnabled returns all enabled schedules.
	ListEnabled(ctx context.Context) ([]*flow.Schedule, error)

	// DeleteSchedule removes a schedule. Deleting a missing schedule is not
	// an error.
	DeleteSchedule(ctx context.Context, id string) error
}

// ExecutionStore persists execution records. The full workflow/execution
// tables live outside the core; this is the minimal repository contract the
// runtime needs to record results.
type ExecutionStore interface {
	// SaveExecution upserts an execution record by ID.
	SaveExecution(ctx context.Context, x *flow.Execution) error

	// GetExecution returns an execution by ID, or ErrNotFound.
	GetExecution(ctx context.Context, id string) (*flow.Execution, error)
}
