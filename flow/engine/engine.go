// Package engine implements the graph runtime: topological traversal with
// branching and parallel fan-out, per-node retry and timeout, error-edge
// routing, checkpoint/resume, mock mode, and usage aggregation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/floweave/floweave/flow"
	"github.com/floweave/floweave/flow/event"
	"github.com/floweave/floweave/flow/mcp"
	"github.com/floweave/floweave/flow/model"
	"github.com/floweave/floweave/flow/resolve"
	"github.com/floweave/floweave/flow/store"
)

const defaultNodeTimeout = 120 * time.Second

// Engine executes workflow graphs. Construct with New and the functional
// options; the zero dependencies default to in-memory implementations so
// an Engine works out of the box in tests.
type Engine struct {
	checkpoints store.CheckpointStore
	mcp         mcp.Manager
	clients     Clients
	emitter     event.Emitter
	logger      *slog.Logger
	metrics     *Metrics
	nodeTimeout time.Duration
	execTimeout time.Duration
	retry       RetryPolicy
}

// Option configures an Engine.
type Option func(*Engine)

// WithCheckpointStore sets the checkpoint backend.
func WithCheckpointStore(s store.CheckpointStore) Option {
	return func(e *Engine) { e.checkpoints = s }
}

// WithMCPManager sets the MCP tool manager used by mcp_tool nodes and
// agent tool bindings.
func WithMCPManager(m mcp.Manager) Option {
	return func(e *Engine) { e.mcp = m }
}

// WithClients sets the LLM provider client factory.
func WithClients(c Clients) Option {
	return func(e *Engine) { e.clients = c }
}

// WithEmitter sets the event sink for execution lifecycle events.
func WithEmitter(em event.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNodeTimeout sets the default per-node timeout, overridable per node
// via the "timeout" data key (seconds).
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}

// WithExecutionTimeout bounds a whole execution. Zero means unbounded.
func WithExecutionTimeout(d time.Duration) Option {
	return func(e *Engine) { e.execTimeout = d }
}

// WithRetryPolicy tunes the backoff delays applied between node retries.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// New creates an Engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		checkpoints: store.NewMemStore(),
		clients:     &ProviderClients{},
		emitter:     event.NullEmitter{},
		logger:      slog.Default(),
		nodeTimeout: defaultNodeTimeout,
		retry:       DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request carries the per-execution parameters.
type Request struct {
	// ExecutionID is assigned when empty.
	ExecutionID string

	// Input is the workflow's initial input, seeded at context["input"].
	Input any

	// UserID is the owner on whose behalf the execution runs; propagated
	// to provider-key lookups.
	UserID string

	// Mode selects full, mock, or debug execution. Empty means full.
	Mode string

	// TriggerType records how the execution started (manual, cron,
	// webhook, playground).
	TriggerType string

	// TriggerID names the trigger source, e.g. a schedule ID.
	TriggerID string

	// Settings carries provider API keys and base URL overrides.
	Settings model.Settings
}

// Execute validates the workflow and runs it from its roots. The returned
// Execution always carries a terminal status; err is non-nil only for
// validation failures that prevented the run from starting.
func (e *Engine) Execute(ctx context.Context, wf *flow.Workflow, req Request) (*flow.Execution, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	if req.Mode == "" {
		req.Mode = flow.ModeFull
	}
	if req.TriggerType == "" {
		req.TriggerType = flow.TriggerManual
	}

	ectx := flow.NewContext(req.Input, req.UserID)
	return e.run(ctx, wf, req, ectx, wf.Roots()), nil
}

// Resume restarts an execution from its last checkpoint: the context is
// reconstructed and traversal continues from the checkpointed node, never
// re-running earlier nodes.
func (e *Engine) Resume(ctx context.Context, executionID string, wf *flow.Workflow, settings model.Settings) (*flow.Execution, error) {
	rec, err := e.checkpoints.Load(ctx, executionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("execution %s: %w", executionID, flow.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if wf.NodeByID(rec.CurrentNode) == nil {
		return nil, &flow.Error{
			Code:    flow.ErrCodeValidation,
			Message: fmt.Sprintf("checkpoint node %q not in workflow %s", rec.CurrentNode, wf.ID),
		}
	}

	ectx := flow.RestoreContext(rec.Context)
	req := Request{
		ExecutionID: executionID,
		UserID:      ectx.UserID(),
		Mode:        flow.ModeFull,
		TriggerType: flow.TriggerManual,
		Settings:    settings,
	}
	return e.run(ctx, wf, req, ectx, []string{rec.CurrentNode}), nil
}

type edgeResult int

const (
	edgePending edgeResult = iota
	edgeTaken
	edgeDropped
)

// traversal is the mutable state of one running execution.
type traversal struct {
	e    *Engine
	wf   *flow.Workflow
	req  Request
	ectx *flow.Context
	exec *flow.Execution

	mu       sync.Mutex
	edges    map[string]edgeResult
	finished map[string]bool
	enqueued map[string]bool // error-edge targets forced into the ready set
	failure  error
}

func (e *Engine) run(ctx context.Context, wf *flow.Workflow, req Request, ectx *flow.Context, initial []string) *flow.Execution {
	started := time.Now().UTC()
	exec := &flow.Execution{
		ID:          req.ExecutionID,
		WorkflowID:  wf.ID,
		Status:      flow.StatusRunning,
		Mode:        req.Mode,
		TriggerType: req.TriggerType,
		TriggerID:   req.TriggerID,
		Input:       req.Input,
		StartedAt:   started,
	}

	if e.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.execTimeout)
		defer cancel()
	}

	e.emitter.Emit(event.New(exec.ID, event.TypeStarted, map[string]any{
		"workflow_id": wf.ID,
		"mode":        req.Mode,
	}))

	t := &traversal{
		e:        e,
		wf:       wf,
		req:      req,
		ectx:     ectx,
		exec:     exec,
		edges:    make(map[string]edgeResult, len(wf.Edges)),
		finished: make(map[string]bool, len(wf.Nodes)),
		enqueued: make(map[string]bool),
	}

	t.seedCompleted(initial)

	ready := initial
	for len(ready) > 0 && t.failure == nil && ctx.Err() == nil {
		if len(ready) == 1 {
			t.runNode(ctx, ready[0])
		} else {
			var wg sync.WaitGroup
			for _, id := range ready {
				wg.Add(1)
				go func(nodeID string) {
					defer wg.Done()
					t.runNode(ctx, nodeID)
				}(id)
			}
			wg.Wait()
		}
		ready = t.nextReady()
	}

	e.finalize(ctx, t)
	return exec
}

// runNode executes one node end to end: checkpoint, input resolution,
// retries, and edge resolution.
func (t *traversal) runNode(ctx context.Context, nodeID string) {
	node := t.wf.NodeByID(nodeID)
	e := t.e

	snapshot, err := t.ectx.Snapshot()
	if err == nil {
		err = e.checkpoints.Save(ctx, t.exec.ID, nodeID, snapshot, flow.StatusRunning)
	}
	if err != nil {
		e.logger.Error("checkpoint write failed",
			"execution_id", t.exec.ID, "node_id", nodeID, "error", err)
		t.recordFailure(node, &flow.Error{
			Code: flow.ErrCodeInternal, NodeID: nodeID,
			Message: "checkpoint write failed", Cause: err,
		}, flow.NodeFailed, flow.NodeExecution{NodeID: nodeID, StartedAt: time.Now().UTC()})
		return
	}

	e.emitter.Emit(event.New(t.exec.ID, event.TypeNodeStarted, map[string]any{
		"node_id":   nodeID,
		"node_type": node.Type,
	}))
	e.metrics.nodeStarted()
	defer e.metrics.nodeFinished()

	input := resolve.Input(node, t.ectx, t.wf.IncomingEdges(nodeID))
	rec := flow.NodeExecution{
		NodeID:    nodeID,
		Input:     input,
		StartedAt: time.Now().UTC(),
	}

	maxRetries := node.IntData("maxRetries", 0)
	timeout := e.nodeTimeout
	if secs := node.IntData("timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	var out any
	var runErr error
	for attempt := 0; ; attempt++ {
		out, runErr = t.runAttempt(ctx, node, input, timeout)
		if runErr == nil || attempt >= maxRetries || ctx.Err() != nil {
			break
		}
		e.metrics.observeRetry()
		rec.RetryCount++
		e.logger.Warn("node attempt failed, retrying",
			"execution_id", t.exec.ID, "node_id", nodeID,
			"attempt", attempt+1, "error", runErr)
		if err := sleepBackoff(ctx, attempt, e.retry); err != nil {
			runErr = err
			break
		}
	}

	if runErr != nil && ctx.Err() != nil {
		// Execution-level cancellation or timeout; finalize settles the
		// status and the checkpoint saved above stays for resume.
		return
	}
	if runErr != nil {
		status := flow.NodeFailed
		if isTimeout(runErr) {
			status = flow.NodeTimedOut
		}
		t.recordFailure(node, runErr, status, rec)
		return
	}

	t.recordSuccess(node, out, rec)
}

// runAttempt runs one execution attempt under the per-node timeout. Mock
// mode skips the timeout entirely; synthetic outputs never block.
func (t *traversal) runAttempt(ctx context.Context, node *flow.Node, input any, timeout time.Duration) (any, error) {
	if t.req.Mode == flow.ModeMock {
		return t.e.mockOutput(node, input, t.ectx)
	}
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.e.executeNode(nctx, node, input, t.ectx, t.req)
}

// recordSuccess writes the node output to context, logs the node record,
// and resolves outgoing edges.
func (t *traversal) recordSuccess(node *flow.Node, out any, rec flow.NodeExecution) {
	t.ectx.Set(node.ID, out)

	now := time.Now().UTC()
	rec.Status = flow.NodeCompleted
	rec.Output = out
	rec.CompletedAt = &now
	rec.DurationMS = now.Sub(rec.StartedAt).Milliseconds()

	activeHandle := ""
	if node.Type == flow.NodeCondition {
		if m, ok := out.(map[string]any); ok {
			activeHandle, _ = m["active_handle"].(string)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished[node.ID] = true
	t.exec.NodeLogs = append(t.exec.NodeLogs, rec)
	for _, edge := range t.wf.OutgoingEdges(node.ID) {
		switch {
		case edge.IsError():
			t.edges[edge.ID] = edgeDropped
		case node.Type == flow.NodeCondition && edge.SourceHandle != "":
			if edge.SourceHandle == activeHandle {
				t.edges[edge.ID] = edgeTaken
			} else {
				t.edges[edge.ID] = edgeDropped
			}
		case edge.SourceHandle == "":
			t.edges[edge.ID] = edgeTaken
		default:
			t.edges[edge.ID] = edgeDropped
		}
	}

	t.e.metrics.observeNode(node.Type, rec.Status, now.Sub(rec.StartedAt))
	t.e.emitter.Emit(event.New(t.exec.ID, event.TypeNodeCompleted, map[string]any{
		"node_id":     node.ID,
		"status":      rec.Status,
		"duration_ms": rec.DurationMS,
	}))
}

// recordFailure logs the failed node record and routes the error edge if
// one exists; otherwise the whole execution fails.
func (t *traversal) recordFailure(node *flow.Node, runErr error, status string, rec flow.NodeExecution) {
	now := time.Now().UTC()
	rec.Status = status
	rec.Error = runErr.Error()
	rec.CompletedAt = &now
	rec.DurationMS = now.Sub(rec.StartedAt).Milliseconds()

	errEdge := t.wf.ErrorEdge(node.ID)
	if errEdge != nil {
		// The handler sees a structured envelope instead of an output.
		t.ectx.Set(node.ID, map[string]any{
			"error":   runErr.Error(),
			"status":  status,
			"node_id": node.ID,
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished[node.ID] = true
	t.exec.NodeLogs = append(t.exec.NodeLogs, rec)
	for _, edge := range t.wf.OutgoingEdges(node.ID) {
		if errEdge != nil && edge.ID == errEdge.ID {
			t.edges[edge.ID] = edgeTaken
			t.enqueued[edge.Target] = true
		} else {
			t.edges[edge.ID] = edgeDropped
		}
	}
	if errEdge == nil && t.failure == nil {
		t.failure = runErr
	}

	t.e.metrics.observeNode(node.Type, status, now.Sub(rec.StartedAt))
	t.e.emitter.Emit(event.New(t.exec.ID, event.TypeNodeCompleted, map[string]any{
		"node_id":     node.ID,
		"status":      status,
		"error":       rec.Error,
		"duration_ms": rec.DurationMS,
	}))
}

// seedCompleted reconstructs edge state from a restored context: nodes
// whose outputs are already present ran before the checkpoint, so their
// outgoing edges are resolved as if they had just finished. A fresh
// execution has no node outputs and this is a no-op.
func (t *traversal) seedCompleted(initial []string) {
	skip := make(map[string]bool, len(initial))
	for _, id := range initial {
		skip[id] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.wf.Nodes {
		node := &t.wf.Nodes[i]
		if skip[node.ID] {
			continue
		}
		out, ok := t.ectx.Get(node.ID)
		if !ok {
			continue
		}
		t.finished[node.ID] = true

		if env, ok := out.(map[string]any); ok && env["node_id"] == node.ID && env["error"] != nil {
			// Failure envelope: the node failed and its error edge fired.
			errEdge := t.wf.ErrorEdge(node.ID)
			for _, edge := range t.wf.OutgoingEdges(node.ID) {
				if errEdge != nil && edge.ID == errEdge.ID {
					t.edges[edge.ID] = edgeTaken
				} else {
					t.edges[edge.ID] = edgeDropped
				}
			}
			continue
		}

		activeHandle := ""
		if node.Type == flow.NodeCondition {
			if m, ok := out.(map[string]any); ok {
				activeHandle, _ = m["active_handle"].(string)
			}
		}
		for _, edge := range t.wf.OutgoingEdges(node.ID) {
			switch {
			case edge.IsError():
				t.edges[edge.ID] = edgeDropped
			case node.Type == flow.NodeCondition && edge.SourceHandle != "":
				if edge.SourceHandle == activeHandle {
					t.edges[edge.ID] = edgeTaken
				} else {
					t.edges[edge.ID] = edgeDropped
				}
			case edge.SourceHandle == "":
				t.edges[edge.ID] = edgeTaken
			default:
				t.edges[edge.ID] = edgeDropped
			}
		}
	}
}

// nextReady propagates skipped branches to a fixpoint, then returns the
// nodes whose inbound edges are all resolved with at least one taken.
// Error-handler targets enqueued by a failure are always included.
func (t *traversal) nextReady() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A node on a not-taken branch is dead once every inbound edge is
	// resolved and none was taken; its outgoing edges drop in turn.
	for changed := true; changed; {
		changed = false
		for i := range t.wf.Nodes {
			node := &t.wf.Nodes[i]
			if t.finished[node.ID] || t.enqueued[node.ID] {
				continue
			}
			inbound := t.wf.IncomingEdges(node.ID)
			if len(inbound) == 0 {
				continue
			}
			resolved, taken := t.edgeStates(inbound)
			if resolved && !taken {
				t.finished[node.ID] = true
				for _, edge := range t.wf.OutgoingEdges(node.ID) {
					t.edges[edge.ID] = edgeDropped
				}
				changed = true
			}
		}
	}

	var ready []string
	for i := range t.wf.Nodes {
		node := &t.wf.Nodes[i]
		if t.finished[node.ID] {
			continue
		}
		if t.enqueued[node.ID] {
			delete(t.enqueued, node.ID)
			ready = append(ready, node.ID)
			continue
		}
		inbound := t.wf.IncomingEdges(node.ID)
		if len(inbound) == 0 {
			continue // roots ran in the initial batch
		}
		resolved, taken := t.edgeStates(inbound)
		if resolved && taken {
			ready = append(ready, node.ID)
		}
	}
	return ready
}

// edgeStates reports whether every edge is resolved and whether any was
// taken.
func (t *traversal) edgeStates(edges []flow.Edge) (resolved, taken bool) {
	resolved = true
	for _, edge := range edges {
		switch t.edges[edge.ID] {
		case edgePending:
			resolved = false
		case edgeTaken:
			taken = true
		}
	}
	return resolved, taken
}

// finalize computes the terminal status, the merged output, and the usage
// aggregate, and settles the checkpoint row.
func (e *Engine) finalize(ctx context.Context, t *traversal) {
	exec := t.exec
	now := time.Now().UTC()
	exec.CompletedAt = &now
	exec.DurationMS = now.Sub(exec.StartedAt).Milliseconds()

	// The checkpoint must outlive a cancelled run so it can be resumed;
	// use a fresh context for store writes.
	storeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		exec.Status = flow.StatusTimedOut
		exec.Error = "execution timeout exceeded"
	case ctx.Err() != nil:
		exec.Status = flow.StatusCancelled
		exec.Error = "execution cancelled"
	case t.failure != nil:
		exec.Status = flow.StatusFailed
		exec.Error = t.failure.Error()
		if err := e.checkpoints.MarkFailed(storeCtx, exec.ID, lastNodeID(exec), exec.Error); err != nil {
			e.logger.Error("mark checkpoint failed", "execution_id", exec.ID, "error", err)
		}
	default:
		exec.Status = flow.StatusCompleted
		exec.Output = t.leafOutput()
		if err := e.checkpoints.Delete(storeCtx, exec.ID); err != nil {
			e.logger.Error("delete checkpoint", "execution_id", exec.ID, "error", err)
		}
	}

	if agg := t.ectx.AggregateUsage(); !agg.Empty() {
		exec.TotalTokens = agg.TotalTokens
		exec.EstimatedCost = agg.EstimatedCost
		exec.ModelUsed = agg.ModelUsed
		e.metrics.observeTokens(agg.PromptTokens, agg.CompletionTokens)
	}

	e.metrics.observeExecution(exec.Status, now.Sub(exec.StartedAt))

	eventType := event.TypeCompleted
	data := map[string]any{"status": exec.Status, "duration_ms": exec.DurationMS}
	if exec.Status != flow.StatusCompleted {
		eventType = event.TypeFailed
		data["error"] = exec.Error
	}
	e.emitter.Emit(event.New(exec.ID, eventType, data))

	e.logger.Info("execution finished",
		"execution_id", exec.ID,
		"workflow_id", exec.WorkflowID,
		"status", exec.Status,
		"nodes", len(exec.NodeLogs),
		"duration_ms", exec.DurationMS)
}

// leafOutput merges the outputs of completed leaf nodes (nodes whose taken
// outgoing edges are none) into the execution output. One leaf yields its
// output directly; several yield a map keyed by node label.
func (t *traversal) leafOutput() any {
	t.mu.Lock()
	defer t.mu.Unlock()

	var leaves []*flow.Node
	for i := range t.wf.Nodes {
		node := &t.wf.Nodes[i]
		if !t.finished[node.ID] {
			continue
		}
		if _, ok := t.ectx.Get(node.ID); !ok {
			continue // skipped or failed without envelope
		}
		isLeaf := true
		for _, edge := range t.wf.OutgoingEdges(node.ID) {
			if t.edges[edge.ID] == edgeTaken {
				isLeaf = false
				break
			}
		}
		if isLeaf {
			leaves = append(leaves, node)
		}
	}

	switch len(leaves) {
	case 0:
		return nil
	case 1:
		out, _ := t.ectx.Get(leaves[0].ID)
		return out
	default:
		merged := make(map[string]any, len(leaves))
		for _, node := range leaves {
			out, _ := t.ectx.Get(node.ID)
			merged[node.Label()] = out
		}
		return merged
	}
}

func lastNodeID(exec *flow.Execution) string {
	if len(exec.NodeLogs) == 0 {
		return ""
	}
	return exec.NodeLogs[len(exec.NodeLogs)-1].NodeID
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var fe *flow.Error
	return errors.As(err, &fe) && fe.Code == flow.ErrCodeTimeout
}
