package guard

import (
	"errors"
	"testing"

	"github.com/floweave/floweave/flow"
)

func strptr(s string) *string { return &s }

func TestCheck(t *testing.T) {
	owner := strptr("alice")

	tests := []struct {
		name    string
		op      Operation
		ownerID *string
		caller  Caller
		wantErr error
	}{
		{"shared resource open to anyone", OpWrite, nil, Caller{ID: "mallory"}, nil},
		{"owner reads own resource", OpRead, owner, Caller{ID: "alice"}, nil},
		{"owner writes own resource", OpWrite, owner, Caller{ID: "alice"}, nil},
		{"admin bypasses ownership", OpWrite, owner, Caller{ID: "root", Role: RoleAdmin}, nil},
		{"foreign read looks like a missing resource", OpRead, owner, Caller{ID: "bob"}, flow.ErrNotFound},
		{"foreign debug looks like a missing resource", OpDebug, owner, Caller{ID: "bob"}, flow.ErrNotFound},
		{"foreign write is denied outright", OpWrite, owner, Caller{ID: "bob"}, flow.ErrAccessDenied},
		{"foreign execute is denied outright", OpExecute, owner, Caller{ID: "bob"}, flow.ErrAccessDenied},
		{"anonymous caller cannot claim ownership", OpRead, owner, Caller{}, flow.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.op, tt.ownerID, tt.caller)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Check() error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckAnonymousOwnerIsNotAnonymousCaller(t *testing.T) {
	// An empty owner ID is still an owner; an empty caller ID never
	// matches it.
	err := Check(OpExecute, strptr(""), Caller{})
	if !errors.Is(err, flow.ErrAccessDenied) {
		t.Errorf("Check() = %v, want access denied", err)
	}
}

func TestCheckWorkflow(t *testing.T) {
	wf := &flow.Workflow{ID: "wf-1", OwnerID: strptr("alice")}
	if err := CheckWorkflow(OpRead, wf, Caller{ID: "alice"}); err != nil {
		t.Errorf("owner read denied: %v", err)
	}
	if err := CheckWorkflow(OpRead, wf, Caller{ID: "bob"}); !errors.Is(err, flow.ErrNotFound) {
		t.Errorf("foreign read = %v, want not-found shape", err)
	}
}

func TestCheckSchedule(t *testing.T) {
	sch := &flow.Schedule{ID: "sch-1", OwnerID: strptr("alice")}
	if err := CheckSchedule(OpWrite, sch, Caller{ID: "bob"}); !errors.Is(err, flow.ErrAccessDenied) {
		t.Errorf("foreign write = %v, want access denied", err)
	}
	if err := CheckSchedule(OpWrite, sch, Caller{ID: "ops", Role: RoleAdmin}); err != nil {
		t.Errorf("admin write denied: %v", err)
	}
}
