package flow

import (
	"errors"
	"testing"
)

func linearWorkflow() *Workflow {
	return &Workflow{
		ID: "wf-linear",
		Nodes: []Node{
			{ID: "a", Type: NodeTrigger},
			{ID: "b", Type: NodeAgent},
			{ID: "c", Type: NodeAgent},
		},
		Edges: []Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "c"},
		},
	}
}

func TestWorkflowValidate(t *testing.T) {
	t.Run("valid linear workflow", func(t *testing.T) {
		if err := linearWorkflow().Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})

	t.Run("empty workflow", func(t *testing.T) {
		wf := &Workflow{}
		if err := wf.Validate(); err == nil {
			t.Fatal("Validate() = nil, want error for empty workflow")
		}
	})

	t.Run("duplicate node IDs", func(t *testing.T) {
		wf := &Workflow{
			Nodes: []Node{
				{ID: "a", Type: NodeTrigger},
				{ID: "a", Type: NodeAgent},
			},
		}
		err := wf.Validate()
		if err == nil {
			t.Fatal("Validate() = nil, want duplicate ID error")
		}
		var fe *Error
		if !errors.As(err, &fe) || fe.Code != ErrCodeValidation {
			t.Errorf("error = %v, want VALIDATION code", err)
		}
	})

	t.Run("edge references missing node", func(t *testing.T) {
		wf := &Workflow{
			Nodes: []Node{{ID: "a", Type: NodeTrigger}},
			Edges: []Edge{{ID: "e1", Source: "a", Target: "ghost"}},
		}
		if err := wf.Validate(); err == nil {
			t.Fatal("Validate() = nil, want missing target error")
		}
	})

	t.Run("cycle has no root", func(t *testing.T) {
		wf := &Workflow{
			Nodes: []Node{
				{ID: "a", Type: NodeAgent},
				{ID: "b", Type: NodeAgent},
			},
			Edges: []Edge{
				{ID: "e1", Source: "a", Target: "b"},
				{ID: "e2", Source: "b", Target: "a"},
			},
		}
		if err := wf.Validate(); err == nil {
			t.Fatal("Validate() = nil, want no-root error")
		}
	})

	t.Run("orphan node unreachable from roots", func(t *testing.T) {
		wf := linearWorkflow()
		wf.Nodes = append(wf.Nodes, Node{ID: "island-src", Type: NodeAgent}, Node{ID: "island-dst", Type: NodeAgent})
		wf.Edges = append(wf.Edges,
			Edge{ID: "e3", Source: "island-src", Target: "island-dst"},
			Edge{ID: "e4", Source: "island-dst", Target: "island-src"})
		if err := wf.Validate(); err == nil {
			t.Fatal("Validate() = nil, want orphan error")
		}
	})

	t.Run("error handler reachable only via error edge is valid", func(t *testing.T) {
		wf := linearWorkflow()
		wf.Nodes = append(wf.Nodes, Node{ID: "handler", Type: NodeAgent})
		wf.Edges = append(wf.Edges, Edge{ID: "err1", Source: "b", Target: "handler", SourceHandle: HandleError})
		if err := wf.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})
}

func TestWorkflowRoots(t *testing.T) {
	t.Run("single root", func(t *testing.T) {
		roots := linearWorkflow().Roots()
		if len(roots) != 1 || roots[0] != "a" {
			t.Errorf("Roots() = %v, want [a]", roots)
		}
	})

	t.Run("error edge target is not a root", func(t *testing.T) {
		wf := linearWorkflow()
		wf.Nodes = append(wf.Nodes, Node{ID: "handler", Type: NodeAgent})
		wf.Edges = append(wf.Edges, Edge{ID: "err1", Source: "b", Target: "handler", SourceHandle: HandleError})
		for _, r := range wf.Roots() {
			if r == "handler" {
				t.Error("error-edge target reported as root")
			}
		}
	})

	t.Run("multiple roots", func(t *testing.T) {
		wf := &Workflow{
			Nodes: []Node{
				{ID: "a", Type: NodeTrigger},
				{ID: "b", Type: NodeTrigger},
				{ID: "m", Type: NodeAgent},
			},
			Edges: []Edge{
				{ID: "e1", Source: "a", Target: "m"},
				{ID: "e2", Source: "b", Target: "m"},
			},
		}
		if got := wf.Roots(); len(got) != 2 {
			t.Errorf("Roots() = %v, want two roots", got)
		}
	})
}

func TestWorkflowErrorEdge(t *testing.T) {
	wf := linearWorkflow()
	wf.Nodes = append(wf.Nodes, Node{ID: "handler", Type: NodeAgent})
	wf.Edges = append(wf.Edges,
		Edge{ID: "err-dangling", Source: "b", Target: "nowhere", SourceHandle: HandleError},
		Edge{ID: "err-ok", Source: "b", Target: "handler", SourceHandle: HandleError})

	t.Run("skips edges with missing targets", func(t *testing.T) {
		e := wf.ErrorEdge("b")
		if e == nil || e.ID != "err-ok" {
			t.Errorf("ErrorEdge(b) = %v, want err-ok", e)
		}
	})

	t.Run("nil when no error edge", func(t *testing.T) {
		if e := wf.ErrorEdge("a"); e != nil {
			t.Errorf("ErrorEdge(a) = %v, want nil", e)
		}
	})
}

func TestNodeDataAccessors(t *testing.T) {
	n := &Node{ID: "n1", Data: map[string]any{
		"model":   "gpt-4o",
		"timeout": float64(30), // JSON decoding yields float64
		"flag":    true,
		"label":   "Summarize",
	}}

	if got := n.StringData("model", "default"); got != "gpt-4o" {
		t.Errorf("StringData(model) = %q", got)
	}
	if got := n.StringData("missing", "default"); got != "default" {
		t.Errorf("StringData(missing) = %q, want default", got)
	}
	if got := n.IntData("timeout", 0); got != 30 {
		t.Errorf("IntData(timeout) = %d, want 30", got)
	}
	if got := n.BoolData("flag", false); !got {
		t.Error("BoolData(flag) = false, want true")
	}
	if got := n.Label(); got != "Summarize" {
		t.Errorf("Label() = %q, want Summarize", got)
	}

	bare := &Node{ID: "n2"}
	if got := bare.Label(); got != "n2" {
		t.Errorf("Label() without data = %q, want node ID", got)
	}
}
