// Package guard gates operations on owned resources. Denied reads and
// debug attachments return the same error shape as missing resources so
// callers cannot enumerate other users' workflows; denied writes return a
// distinct access-denied error because the caller already named the
// target.
package guard

import (
	"fmt"

	"github.com/floweave/floweave/flow"
)

// Operations on owned resources.
type Operation string

const (
	OpRead    Operation = "read"
	OpWrite   Operation = "write"
	OpExecute Operation = "execute"
	OpDebug   Operation = "debug"
)

// RoleAdmin permits every operation universally.
const RoleAdmin = "admin"

// Caller identifies the requesting principal.
type Caller struct {
	ID   string
	Role string
}

// Check decides whether caller may perform op on a resource owned by
// ownerID. A nil owner marks a legacy shared resource, open to everyone.
//
// Denials on read and debug are wrapped flow.ErrNotFound; denials on
// write and execute are wrapped flow.ErrAccessDenied.
func Check(op Operation, ownerID *string, caller Caller) error {
	if ownerID == nil {
		return nil
	}
	if caller.Role == RoleAdmin {
		return nil
	}
	if caller.ID != "" && caller.ID == *ownerID {
		return nil
	}

	switch op {
	case OpRead, OpDebug:
		return fmt.Errorf("resource: %w", flow.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, flow.ErrAccessDenied)
	}
}

// CheckWorkflow applies Check against a workflow's owner.
func CheckWorkflow(op Operation, wf *flow.Workflow, caller Caller) error {
	return Check(op, wf.OwnerID, caller)
}

// CheckSchedule applies Check against a schedule's owner.
func CheckSchedule(op Operation, s *flow.Schedule, caller Caller) error {
	return Check(op, s.OwnerID, caller)
}
