// Package debug provides a step-through driver for workflows: nodes run
// one at a time in declared order, pausing at breakpoints for commands.
// It is an observability surface, not a production dispatch path.
package debug

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/floweave/floweave/flow"
	"github.com/floweave/floweave/flow/resolve"
)

// InactivityTimeout terminates a session waiting at a breakpoint with no
// command.
const InactivityTimeout = 600 * time.Second

// Session commands.
const (
	CmdContinue = "continue"
	CmdStep     = "step"
	CmdStop     = "stop"
)

// Session event types.
const (
	EventBreakpoint   = "BREAKPOINT"
	EventNodeStart    = "NODE_START"
	EventNodeComplete = "NODE_COMPLETE"
	EventError        = "ERROR"
	EventTimeout      = "TIMEOUT"
	EventComplete     = "COMPLETE"
)

// Event is one entry in a session's event stream.
type Event struct {
	Type      string         `json:"type"`
	NodeID    string         `json:"node_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session holds a debug run's command queue and breakpoint set. Commands
// arrive from the controlling client; events stream back to it.
type Session struct {
	commands    chan string
	events      chan Event
	breakpoints map[string]bool
	timeout     time.Duration
}

// NewSession creates a session breaking at the given node IDs.
func NewSession(breakpoints ...string) *Session {
	s := &Session{
		commands:    make(chan string, 16),
		events:      make(chan Event, 256),
		breakpoints: make(map[string]bool, len(breakpoints)),
		timeout:     InactivityTimeout,
	}
	for _, id := range breakpoints {
		s.breakpoints[id] = true
	}
	return s
}

// Send queues a command for the stepper.
func (s *Session) Send(cmd string) {
	select {
	case s.commands <- cmd:
	default:
	}
}

// Stop queues an in-band stop, checked between every node.
func (s *Session) Stop() { s.Send(CmdStop) }

// Events returns the session's event stream.
func (s *Session) Events() <-chan Event { return s.events }

// SetTimeout overrides the breakpoint inactivity timeout, for tests.
func (s *Session) SetTimeout(d time.Duration) { s.timeout = d }

func (s *Session) emit(eventType, nodeID string, data map[string]any) {
	e := Event{Type: eventType, NodeID: nodeID, Data: data, Timestamp: time.Now().UTC()}
	select {
	case s.events <- e:
	default:
		// Stream full; debugging clients that stop reading lose events.
	}
}

// NodeFunc executes one node. Wire engine.RunNode here.
type NodeFunc func(ctx context.Context, node *flow.Node, input any, ectx *flow.Context) (any, error)

// Stepper iterates a workflow's nodes in declared order (not topological;
// breakpoints bind to node identity, not graph position).
type Stepper struct {
	exec   NodeFunc
	logger *slog.Logger
}

// NewStepper creates a stepper over a node executor.
func NewStepper(exec NodeFunc, logger *slog.Logger) *Stepper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stepper{exec: exec, logger: logger}
}

// Run drives the session over the workflow and returns the per-node
// results collected before termination.
func (st *Stepper) Run(ctx context.Context, wf *flow.Workflow, session *Session, input any, userID string) (map[string]any, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	ectx := flow.NewContext(input, userID)
	results := make(map[string]any, len(wf.Nodes))

	for i := range wf.Nodes {
		node := &wf.Nodes[i]

		if stopped := st.drainStop(session); stopped {
			st.logger.Info("debug session stopped", "node_id", node.ID)
			return results, nil
		}

		if session.breakpoints[node.ID] {
			session.emit(EventBreakpoint, node.ID, nil)
			cmd, err := st.awaitCommand(ctx, session)
			if err != nil {
				session.emit(EventTimeout, node.ID, map[string]any{"timeout_seconds": session.timeout.Seconds()})
				return results, err
			}
			if cmd == CmdStop {
				st.logger.Info("debug session stopped at breakpoint", "node_id", node.ID)
				return results, nil
			}
		}

		session.emit(EventNodeStart, node.ID, map[string]any{"node_type": node.Type})

		nodeInput := resolve.Input(node, ectx, wf.IncomingEdges(node.ID))
		out, err := st.exec(ctx, node, nodeInput, ectx)
		if err != nil {
			session.emit(EventError, node.ID, map[string]any{
				"error": err.Error(),
				"type":  fmt.Sprintf("%T", err),
			})
			return results, err
		}

		ectx.Set(node.ID, out)
		results[node.ID] = out
		session.emit(EventNodeComplete, node.ID, nil)
	}

	session.emit(EventComplete, "", map[string]any{
		"node_count": len(results),
		"results":    results,
	})
	return results, nil
}

// drainStop consumes any queued commands, reporting whether a stop was
// among them. Non-stop commands outside a breakpoint are ignored.
func (st *Stepper) drainStop(session *Session) bool {
	for {
		select {
		case cmd := <-session.commands:
			if cmd == CmdStop {
				return true
			}
		default:
			return false
		}
	}
}

// awaitCommand blocks at a breakpoint until a command arrives or the
// inactivity timeout elapses.
func (st *Stepper) awaitCommand(ctx context.Context, session *Session) (string, error) {
	timer := time.NewTimer(session.timeout)
	defer timer.Stop()
	select {
	case cmd := <-session.commands:
		return cmd, nil
	case <-timer.C:
		return "", &flow.Error{
			Code:    flow.ErrCodeTimeout,
			Message: fmt.Sprintf("debug session inactive for %s", session.timeout),
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
