package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/floweave/floweave/flow"
)

// Set FLOWEAVE_MYSQL_DSN to run against a live server, for example:
//
//	FLOWEAVE_MYSQL_DSN="root:secret@tcp(127.0.0.1:3306)/floweave_test?parseTime=true"
func openMySQL(t *testing.T) *MySQLStore {
	t.Helper()
	dsn := os.Getenv("FLOWEAVE_MYSQL_DSN")
	if dsn == "" {
		t.Skip("FLOWEAVE_MYSQL_DSN not set")
	}
	s, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMySQLCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMySQL(t)
	t.Cleanup(func() { s.Delete(ctx, "mysql-exec-1") })

	ectx := map[string]any{"input": "hello", "a": map[string]any{"done": true}}
	if err := s.Save(ctx, "mysql-exec-1", "a", ectx, flow.StatusRunning); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	rec, err := s.Load(ctx, "mysql-exec-1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if rec.CurrentNode != "a" || rec.Status != flow.StatusRunning {
		t.Errorf("record = %+v", rec)
	}
	if rec.Context["a"].(map[string]any)["done"] != true {
		t.Errorf("context round trip = %v", rec.Context)
	}

	if err := s.Delete(ctx, "mysql-exec-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := s.Load(ctx, "mysql-exec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after delete = %v, want ErrNotFound", err)
	}
}

func TestMySQLScheduleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMySQL(t)
	t.Cleanup(func() { s.DeleteSchedule(ctx, "mysql-sch-1") })

	sch := &flow.Schedule{
		ID:         "mysql-sch-1",
		WorkflowID: "wf-1",
		Type:       "cron",
		Expression: "0 9 * * 1",
		Input:      map[string]any{"report": "weekly"},
		Timezone:   "America/New_York",
		Enabled:    true,
	}
	if err := s.SaveSchedule(ctx, sch); err != nil {
		t.Fatalf("SaveSchedule() error: %v", err)
	}

	got, err := s.GetSchedule(ctx, "mysql-sch-1")
	if err != nil {
		t.Fatalf("GetSchedule() error: %v", err)
	}
	if got.Expression != "0 9 * * 1" || got.Timezone != "America/New_York" || !got.Enabled {
		t.Errorf("schedule = %+v", got)
	}

	enabled, err := s.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled() error: %v", err)
	}
	var found bool
	for _, e := range enabled {
		if e.ID == "mysql-sch-1" {
			found = true
		}
	}
	if !found {
		t.Error("ListEnabled() missing the saved schedule")
	}
}
