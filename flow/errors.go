package flow

import "errors"

// Error codes for the engine error taxonomy. Codes classify failures for
// retry decisions and API surfacing; they are not part of the persisted
// wire format.
const (
	ErrCodeValidation = "VALIDATION"
	ErrCodePermission = "PERMISSION"
	ErrCodeTimeout    = "TIMEOUT"
	ErrCodeProvider   = "PROVIDER"
	ErrCodeInternal   = "INTERNAL"
	ErrCodeCancelled  = "CANCELLED"
)

// ErrNotFound is returned when a requested resource does not exist. Denied
// reads also surface this error so callers cannot enumerate resources they
// do not own.
var ErrNotFound = errors.New("not found")

// ErrAccessDenied is returned on create/modify paths where the caller named
// the target resource explicitly.
var ErrAccessDenied = errors.New("access denied")

// Error is a structured engine error carrying a taxonomy code and the node
// it originated from, when applicable.
type Error struct {
	Code    string
	Message string
	NodeID  string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.NodeID != "" {
		msg = "node " + e.NodeID + ": " + msg
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Cause }
