package api

import "github.com/tarsy-io/tarsy/pkg/models"

// SubmitAlertRequest is the body of POST /api/v1/alerts. Data is opaque
// text passed through to the agents; MCP optionally narrows which servers
// and tools this session may use.
type SubmitAlertRequest struct {
	AlertType string                     `json:"alert_type"`
	Runbook   string                     `json:"runbook,omitempty"`
	Data      string                     `json:"data"`
	MCP       *models.MCPSelectionConfig `json:"mcp,omitempty"`
}
