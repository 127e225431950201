package mcp

import (
	"context"
	"fmt"
	"sync"
)

// MockManager is a test implementation of Manager with configurable tools,
// canned results, error injection, and call history.
type MockManager struct {
	// Tools maps server ID to the tools it exposes.
	Tools map[string][]ToolInfo

	// Results maps "server:tool" to the value ExecuteTool returns.
	Results map[string]any

	// Err, if set, is returned by both methods.
	Err error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one ExecuteTool invocation.
type MockCall struct {
	ServerID string
	ToolName string
	Params   map[string]any
}

// ListTools implements Manager.
func (m *MockManager) ListTools(_ context.Context, serverID string) ([]ToolInfo, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	tools, ok := m.Tools[serverID]
	if !ok {
		return nil, fmt.Errorf("mcp server %s: not configured", serverID)
	}
	return tools, nil
}

// ExecuteTool implements Manager. Returns the configured result for
// "server:tool", or a descriptive placeholder when none is configured.
func (m *MockManager) ExecuteTool(_ context.Context, serverID, toolName string, params map[string]any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{ServerID: serverID, ToolName: toolName, Params: params})
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if r, ok := m.Results[serverID+":"+toolName]; ok {
		return r, nil
	}
	return map[string]any{"result": fmt.Sprintf("executed %s on %s", toolName, serverID)}, nil
}

// Calls returns the history of ExecuteTool invocations.
func (m *MockManager) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}
