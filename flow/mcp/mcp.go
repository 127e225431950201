// Package mcp defines the contract to an MCP (Model Context Protocol)
// tool manager: listing the tools a configured server exposes and
// executing one. The live manager that spawns and speaks to MCP servers
// sits at the host layer; the engine depends only on this interface.
package mcp

import (
	"context"
	"fmt"
	"strings"
)

// ToolInfo describes one tool exposed by an MCP server.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Manager provides access to configured MCP servers.
type Manager interface {
	// ListTools returns the tools exposed by a server.
	ListTools(ctx context.Context, serverID string) ([]ToolInfo, error)

	// ExecuteTool invokes one tool with already-resolved parameters and
	// returns its result.
	ExecuteTool(ctx context.Context, serverID, toolName string, params map[string]any) (any, error)
}

// ServerConfig describes how a stdio MCP server is launched.
type ServerConfig struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Only well-known launchers may be used to start MCP servers. Arbitrary
// binaries configured through workflow data would be command injection.
var allowedCommands = map[string]bool{
	"npx":     true,
	"node":    true,
	"python":  true,
	"python3": true,
	"uv":      true,
	"uvx":     true,
	"docker":  true,
}

// ValidateServerConfig rejects configs whose command is not allowlisted or
// whose arguments contain shell metacharacters.
func ValidateServerConfig(cfg ServerConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("mcp server config: missing id")
	}
	if !allowedCommands[cfg.Command] {
		return fmt.Errorf("mcp server %s: command %q is not allowed", cfg.ID, cfg.Command)
	}
	for _, arg := range cfg.Args {
		if strings.ContainsAny(arg, ";|&`$<>") {
			return fmt.Errorf("mcp server %s: argument %q contains disallowed characters", cfg.ID, arg)
		}
	}
	return nil
}
