// Package event defines the execution event stream: the envelope every
// runtime component emits and the Emitter sinks that consume it.
package event

import "time"

// Event types emitted over an execution's lifetime.
const (
	TypeStarted       = "started"
	TypeNodeStarted   = "node_started"
	TypeNodeCompleted = "node_completed"
	TypeCompleted     = "completed"
	TypeFailed        = "failed"
)

// Event is one entry in an execution's event stream.
type Event struct {
	ExecutionID string         `json:"execution_id"`
	Type        string         `json:"event_type"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// New builds an event stamped with the current UTC time.
func New(executionID, eventType string, data map[string]any) Event {
	return Event{
		ExecutionID: executionID,
		Type:        eventType,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
}

// Emitter consumes execution events. Implementations must not block the
// caller; the runtime emits on its hot path.
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(e Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(e Event) { f(e) }

// NullEmitter discards all events.
type NullEmitter struct{}

// Emit implements Emitter.
func (NullEmitter) Emit(Event) {}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(e Event) {
	for _, em := range m {
		em.Emit(e)
	}
}
