package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/floweave/floweave/flow"
)

// SQLiteStore is a SQLite-backed implementation of CheckpointStore,
// ScheduleStore, and ExecutionStore.
//
// A single-file database with zero setup, suitable for development and
// single-host deployments. WAL mode is enabled so readers do not block the
// writer. Schema is migrated automatically on open.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	execution_id TEXT PRIMARY KEY,
	current_node TEXT NOT NULL,
	context      TEXT NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	expression  TEXT NOT NULL,
	input       TEXT NOT NULL DEFAULT '{}',
	timezone    TEXT NOT NULL DEFAULT 'UTC',
	enabled     INTEGER NOT NULL DEFAULT 1,
	last_run_at TIMESTAMP,
	next_run_at TIMESTAMP,
	created_at  TIMESTAMP NOT NULL,
	owner_id    TEXT
);

CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);

CREATE TABLE IF NOT EXISTS executions (
	id      TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);
`

// NewSQLiteStore opens (creating if necessary) the database file at path
// and migrates the schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save upserts the checkpoint for an execution.
func (s *SQLiteStore) Save(ctx context.Context, executionID, nodeID string, ectx map[string]any, status string) error {
	data, err := json.Marshal(ectx)
	if err != nil {
		return fmt.Errorf("marshal checkpoint context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (execution_id, current_node, context, status, error, updated_at)
		VALUES (?, ?, ?, ?, '', ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			current_node = excluded.current_node,
			context      = excluded.context,
			status       = excluded.status,
			updated_at   = excluded.updated_at`,
		executionID, nodeID, string(data), status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for an execution, or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, executionID string) (*CheckpointRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT current_node, context, status, error, updated_at
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
func (s *SQLiteStore) MarkFailed(ctx context.Context, executionID, nodeID, errMsg string) error {
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
func (s *SQLiteStore) Delete(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// SaveSchedule upserts a schedule by ID.
func (s *SQLiteStore) SaveSchedule(ctx context.Context, sch *flow.Schedule) error {
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
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			expression  = excluded.expression,
			input       = excluded.input,
			timezone    = excluded.timezone,
			enabled     = excluded.enabled,
			last_run_at = excluded.last_run_at,
			next_run_at = excluded.next_run_at,
			owner_id    = excluded.owner_id`,
		sch.ID, sch.WorkflowID, sch.Expression, string(input), sch.Timezone,
		sch.Enabled, sch.LastRunAt, sch.NextRunAt, created, sch.OwnerID)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

// GetSchedule returns a schedule by ID, or ErrNotFound.
func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*flow.Schedule, error) {
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
func (s *SQLiteStore) ListEnabled(ctx context.Context) ([]*flow.Schedule, error) {
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
func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// SaveExecution upserts an execution record by ID.
func (s *SQLiteStore) SaveExecution(ctx context.Context, x *flow.Execution) error {
	payload, err := json.Marshal(x)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, payload) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		x.ID, string(payload))
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// GetExecution returns an execution by ID, or ErrNotFound.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*flow.Execution, error) {
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

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*flow.Schedule, error) {
	var sch flow.Schedule
	var input string
	var lastRun, nextRun sql.NullTime
	var owner sql.NullString
	err := row.Scan(&sch.ID, &sch.WorkflowID, &sch.Expression, &input, &sch.Timezone,
		&sch.Enabled, &lastRun, &nextRun, &sch.CreatedAt, &owner)
	if err != nil {
		return nil, err
	}
	sch.Type = "cron"
	if err := json.Unmarshal([]byte(input), &sch.Input); err != nil {
		return nil, fmt.Errorf("decode schedule input: %w", err)
	}
	if lastRun.Valid {
		t := lastRun.Time.UTC()
		sch.LastRunAt = &t
	}
	if nextRun.Valid {
		t := nextRun.Time.UTC()
		sch.NextRunAt = &t
	}
	if owner.Valid {
		sch.OwnerID = &owner.String
	}
	return &sch, nil
}
