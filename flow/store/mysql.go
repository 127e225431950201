package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/floweave/floweave/flow"
)

// MySQLStore is a MySQL-backed implementation of CheckpointStore,
// ScheduleStore, and ExecutionStore for shared server deployments.
//
// The DSN must include parseTime=true so TIMESTAMP columns scan into
// time.Time.
type MySQLStore struct {
	db *sql.DB
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS checkpoints (
		execution_id VARCHAR(64) PRIMARY KEY,
		current_node VARCHAR(255) NOT NULL,
		context      JSON NOT NULL,
		status       VARCHAR(32) NOT NULL,
		error        TEXT,
		updated_at   TIMESTAMP(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id          VARCHAR(64) PRIMARY KEY,
		workflow_id VARCHAR(64) NOT NULL,
		expression  VARCHAR(255) NOT NULL,
		input       JSON NOT NULL,
		timezone    VARCHAR(64) NOT NULL DEFAULT 'UTC',
		enabled     TINYINT(1) NOT NULL DEFAULT 1,
		last_run_at TIMESTAMP(6) NULL,
		next_run_at TIMESTAMP(6) NULL,
		created_at  TIMESTAMP(6) NOT NULL,
		owner_id    VARCHAR(64) NULL,
		INDEX idx_schedules_enabled (enabled)
	)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id      VARCHAR(64) PRIMARY KEY,
		payload JSON NOT NULL
	)`,
}

// NewMySQLStore connects to MySQL with the given DSN and migrates the
// schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	for _, stmt := range mysqlSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate mysql schema: %w", err)
		}
	}
	return &MySQLStore{db: db}, nil
}

// Close closes the underlying database.
func (s *MySQLStore) Close() error { return s.db.Close() }

// Save upserts the checkpoint for an execution.
func (s *MySQLStore) Save(ctx context.Context, executionID, nodeID string, ectx map[string]any, status string) error {
	data, err := json.Marshal(ectx)
	if err != nil {
		return fmt.Errorf("marshal checkpoint context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (execution_id, current_node, context, status, error, updated_at)
		VALUES (?, ?, ?, ?, '', ?)
		ON DUPLICATE KEY UPDATE
			current_node = VALUES(current_node),
			context      = VALUES(context),
			status       = VALUES(status),
			updated_at   = VALUES(updated_at)`,
		executionID, nodeID, string(data), status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for an execution, or ErrNotFound.
func (s *MySQLStore) Load(ctx context.Context, executionID string) (*CheckpointRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT current_node, context, status, COALESCE(error, ''), updated_at
		FROM checkpoints WHERE execution_id = ?`, executionID)

	var rec CheckpointRecord
	var contextJSON string
	rec.ExecutionID = executionID
	err := row.Scan(&rec.CurrentNode, &contextJSON, &rec.Status, &rec.Error, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
		return nil, fmt.Errorf("decode checkpoint context: %w", err)
	}
	return &rec, nil
}

// MarkFailed records a terminal failure on the existing checkpoint.
func (s *MySQLStore) MarkFailed(ctx context.Context, executionID, nodeID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkpoints SET current_node = ?, status = ?, error = ?, updated_at = ?
		WHERE execution_id = ?`,
		nodeID, flow.StatusFailed, errMsg, time.Now().UTC(), executionID)
	if err != nil {
		return fmt.Errorf("mark checkpoint failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the checkpoint row.
func (s *MySQLStore) Delete(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// SaveSchedule upserts a schedule by ID.
func (s *MySQLStore) SaveSchedule(ctx context.Context, sch *flow.Schedule) error {
	input, err := json.Marshal(sch.Input)
	if err != nil {
		return fmt.Errorf("marshal schedule input: %w", err)
	}
	created := sch.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, workflow_id, expression, input, timezone, enabled, last_run_at, next_run_at, created_at, owner_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			workflow_id = VALUES(workflow_id),
			expression  = VALUES(expression),
			input       = VALUES(input),
			timezone    = VALUES(timezone),
			enabled     = VALUES(enabled),
			last_run_at = VALUES(last_run_at),
			next_run_at = VALUES(next_run_at),
			owner_id    = VALUES(owner_id)`,
		sch.ID, sch.WorkflowID, sch.Expression, string(input), sch.Timezone,
		sch.Enabled, sch.LastRunAt, sch.NextRunAt, created, sch.OwnerID)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

// GetSchedule returns a schedule by ID, or ErrNotFound.
func (s *MySQLStore) GetSchedule(ctx context.Context, id string) (*flow.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, expression, input, timezone, enabled, last_run_at, next_run_at, created_at, owner_id
		FROM schedules WHERE id = ?`, id)
	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sch, err
}

// ListEnabled returns all enabled schedules.
func (s *MySQLStore) ListEnabled(ctx context.Context) ([]*flow.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, expression, input, timezone, enabled, last_run_at, next_run_at, created_at, owner_id
		FROM schedules WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*flow.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

// DeleteSchedule removes a schedule.
func (s *MySQLStore) DeleteSchedule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// SaveExecution upserts an execution record by ID.
func (s *MySQLStore) SaveExecution(ctx context.Context, x *flow.Execution) error {
	payload, err := json.Marshal(x)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, payload) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload)`,
		x.ID, string(payload))
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// GetExecution returns an execution by ID, or ErrNotFound.
func (s *MySQLStore) GetExecution(ctx context.Context, id string) (*flow.Execution, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM executions WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	var x flow.Execution
	if err := json.Unmarshal([]byte(payload), &x); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	return &x, nil
}
