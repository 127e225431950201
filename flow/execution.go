package flow

import "time"

// Execution statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimedOut  = "timed_out"
)

// Per-node statuses.
const (
	NodeCompleted = "completed"
	NodeFailed    = "failed"
	NodeTimedOut  = "timed_out"
	NodeSkipped   = "skipped"
)

// Execution modes.
const (
	ModeFull  = "full"
	ModeMock  = "mock"
	ModeDebug = "debug"
)

// Trigger kinds.
const (
	TriggerManual     = "manual"
	TriggerCron       = "cron"
	TriggerWebhook    = "webhook"
	TriggerPlayground = "playground"
)

// NodeExecution records one node's run within an execution.
type NodeExecution struct {
	NodeID      string     `json:"node_id"`
	Status      string     `json:"status"`
	Input       any        `json:"input,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at,omitzero"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	RetryCount  int        `json:"retry_count"`
}

// Execution is one invocation of a workflow.
type Execution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	Status        string          `json:"status"`
	Mode          string          `json:"mode"`
	TriggerType   string          `json:"trigger_type"`
	TriggerID     string          `json:"trigger_id,omitempty"`
	Input         any             `json:"input,omitempty"`
	Output        any             `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	NodeLogs      []NodeExecution `json:"node_logs"`
	StartedAt     time.Time       `json:"started_at,omitzero"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	DurationMS    int64           `json:"duration_ms,omitempty"`
	TotalTokens   int             `json:"total_tokens,omitempty"`
	EstimatedCost float64         `json:"estimated_cost,omitempty"`
	ModelUsed     string          `json:"model_used,omitempty"`
}

// NodeLog returns the log entry for the given node, or nil.
func (x *Execution) NodeLog(nodeID string) *NodeExecution {
	for i := range x.NodeLogs {
		if x.NodeLogs[i].NodeID == nodeID {
			return &x.NodeLogs[i]
		}
	}
	return nil
}

// IsTerminal reports whether the status names a terminal execution state.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}
