// Package flow defines the core data model for the workflow execution
// engine: workflows as directed graphs of typed nodes, executions with
// per-node records, and the mutable execution context shared by node
// executors.
package flow

import (
	"fmt"
	"time"
)

// Node kind identifiers. These are stable wire tokens; persisted workflows
// reference them verbatim.
const (
	NodeTrigger      = "trigger"
	NodeAgent        = "agent"
	NodeMCPTool      = "mcp_tool"
	NodeCondition    = "condition"
	NodeParallel     = "parallel"
	NodeFeedbackLoop = "feedback_loop"
	NodeRAG          = "rag"
	NodeMultiAgent   = "multi_agent"
)

// Edge source-handle tokens. An empty handle means default data flow.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
	HandleError = "error"
)

// Position is the canvas placement of a node. The runtime ignores it but it
// round-trips through persistence for the visual editor.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single typed step in a workflow graph. Data is an opaque
// configuration map interpreted by the node's executor; nodes are immutable
// for the duration of an execution.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	Position *Position      `json:"position,omitempty"`
}

// StringData returns the string value stored under key in the node's data
// map, or def when the key is absent or not a string.
func (n *Node) StringData(key, def string) string {
	if n.Data == nil {
		return def
	}
	if s, ok := n.Data[key].(string); ok {
		return s
	}
	return def
}

// IntData returns the integer value stored under key, handling the float64
// representation JSON decoding produces. Returns def when absent.
func (n *Node) IntData(key string, def int) int {
	if n.Data == nil {
		return def
	}
	switch v := n.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// BoolData returns the boolean value stored under key, or def when absent.
func (n *Node) BoolData(key string, def bool) bool {
	if n.Data == nil {
		return def
	}
	if v, ok := n.Data[key].(bool); ok {
		return v
	}
	return def
}

// Label returns the node's display label, falling back to its ID.
func (n *Node) Label() string {
	if l := n.StringData("label", ""); l != "" {
		return l
	}
	if l := n.StringData("name", ""); l != "" {
		return l
	}
	return n.ID
}

// Edge connects a source node to a target node. SourceHandle selects
// branch semantics: "true"/"false" from a condition node, "error" for an
// error-recovery edge, empty for default data flow.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// IsError reports whether this edge is an error-recovery edge.
func (e *Edge) IsError() bool { return e.SourceHandle == HandleError }

// Workflow is a named DAG with an owner. OwnerID is nil for legacy shared
// workflows.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Status      string    `json:"status,omitempty"`
	OwnerID     *string   `json:"owner_id,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Roots returns the IDs of nodes with no inbound edges. These are the
// entry points for execution; a node whose only inbound edge is an error
// edge is a handler, not a root.
func (w *Workflow) Roots() []string {
	inbound := make(map[string]bool, len(w.Nodes))
	for _, e := range w.Edges {
		inbound[e.Target] = true
	}
	var roots []string
	for _, n := range w.Nodes {
		if !inbound[n.ID] {
			roots = append(roots, n.ID)
		}
	}
	return roots
}

// OutgoingEdges returns edges whose source is the given node, in insertion
// order.
func (w *Workflow) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns edges whose target is the given node, in insertion
// order.
func (w *Workflow) IncomingEdges(nodeID string) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.Target == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// ErrorEdge returns the first error-recovery edge out of the given node
// whose target exists, or nil. When a node carries duplicate error edges the
// first by insertion order wins.
func (w *Workflow) ErrorEdge(nodeID string) *Edge {
	for i := range w.Edges {
		e := &w.Edges[i]
		if e.Source == nodeID && e.IsError() && w.NodeByID(e.Target) != nil {
			return e
		}
	}
	return nil
}

// Validate checks structural invariants before execution:
//
//   - node IDs are unique within the workflow
//   - every edge references existing source and target nodes
//   - at least one root exists (a node with no inbound edges)
//   - every node is reachable from some root
//
// A workflow that fails validation never starts executing.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return &Error{Code: ErrCodeValidation, Message: "workflow has no nodes"}
	}

	ids := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return &Error{Code: ErrCodeValidation, Message: "node with empty ID"}
		}
		if ids[n.ID] {
			return &Error{Code: ErrCodeValidation, Message: "duplicate node ID: " + n.ID, NodeID: n.ID}
		}
		ids[n.ID] = true
	}

	for _, e := range w.Edges {
		if !ids[e.Source] {
			return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("edge %s references missing source node %q", e.ID, e.Source)}
		}
		if !ids[e.Target] {
			return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("edge %s references missing target node %q", e.ID, e.Target)}
		}
	}

	roots := w.Roots()
	if len(roots) == 0 {
		return &Error{Code: ErrCodeValidation, Message: "workflow has no root node"}
	}

	// Reachability over all edges, error edges included: an error handler is
	// legitimately reachable only through its error edge.
	reached := make(map[string]bool, len(w.Nodes))
	stack := append([]string(nil), roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[id] {
			continue
		}
		reached[id] = true
		for _, e := range w.Edges {
			if e.Source == id && !reached[e.Target] {
				stack = append(stack, e.Target)
			}
		}
	}
	for _, n := range w.Nodes {
		if !reached[n.ID] {
			return &Error{Code: ErrCodeValidation, Message: "orphan node unreachable from any root: " + n.ID, NodeID: n.ID}
		}
	}

	return nil
}
