package flow

import "time"

// Schedule is a cron trigger bound to a workflow. Expression uses standard
// 5-field cron syntax, or 6-field with leading seconds. Timezone is an IANA
// identifier; unknown zones fall back to UTC.
//
// Invariant: an enabled schedule always has a future NextRunAt, recomputed
// after each fire. Both timestamps are stored in UTC.
type Schedule struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       string         `json:"type"` // always "cron"
	Expression string         `json:"expression"`
	Input      map[string]any `json:"input"`
	Timezone   string         `json:"timezone"`
	Enabled    bool           `json:"enabled"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time     `json:"next_run_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitzero"`
	OwnerID    *string        `json:"owner_id,omitempty"`
}
