package models

import (
	"encoding/json"
	"fmt"
)

// MCPServerSelection represents a selected MCP server with optional tool filtering
type MCPServerSelection struct {
	Name  string   `json:"name"`            // MCP server ID
	Tools []string `json:"tools,omitempty"` // Specific tools, empty = all tools
}

// NativeToolsConfig configures native LLM provider tools
type NativeToolsConfig struct {
	GoogleSearch  *bool `json:"google_search,omitempty"`   // nil = provider default
	CodeExecution *bool `json:"code_execution,omitempty"`  // nil = provider default
	URLContext    *bool `json:"url_context,omitempty"`     // nil = provider default
}

// MCPSelectionConfig is the per-alert MCP override configuration
type MCPSelectionConfig struct {
	Servers     []MCPServerSelection `json:"servers"`
	NativeTools *NativeToolsConfig   `json:"native_tools,omitempty"`
}

// ParseMCPSelectionConfig decodes a raw, loosely-typed map (as stored in an
// AlertSession's mcp_selection JSON column, or submitted on an alert) into an
// MCPSelectionConfig. A nil or empty map is a valid "no override" case and
// returns (nil, nil); a present "servers" key with zero entries is an error,
// since an explicit override with no servers would leave the chain's agents
// with no tools at all.
func ParseMCPSelectionConfig(raw map[string]any) (*MCPSelectionConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	// Round-trip through JSON rather than hand-walking the map: the input
	// comes from decoded JSON (request bodies, jsonb columns) so its shape
	// already matches MCPSelectionConfig's tags.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal MCP selection: %w", err)
	}

	var cfg MCPSelectionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse MCP selection: %w", err)
	}

	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("MCP selection must have at least one server")
	}

	return &cfg, nil
}
