package api

import (
	"github.com/tarsy-io/tarsy/pkg/database"
	"github.com/tarsy-io/tarsy/pkg/mcp"
)

// AlertResponse is returned by POST /api/v1/alerts.
type AlertResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// CancelResponse is returned by POST /api/v1/sessions/:id/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ConfigurationStats summarizes the loaded configuration for the health endpoint.
type ConfigurationStats struct {
	Agents       int `json:"agents"`
	Chains       int `json:"chains"`
	MCPServers   int `json:"mcp_servers"`
	LLMProviders int `json:"llm_providers"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                       `json:"status"`
	Version       string                       `json:"version"`
	Database      *database.HealthStatus       `json:"database,omitempty"`
	Phase         string                       `json:"phase,omitempty"`
	Configuration ConfigurationStats           `json:"configuration"`
	WorkerPool    any                          `json:"worker_pool,omitempty"`
	MCPHealth     map[string]*mcp.HealthStatus `json:"mcp_health,omitempty"`
	Warnings      []SystemWarningItem          `json:"warnings,omitempty"`
}

// SessionIDLookupResponse answers GET /session-id/:alert_id.
type SessionIDLookupResponse struct {
	AlertID   string  `json:"alert_id"`
	SessionID *string `json:"session_id,omitempty"`
}

// PauseResponse answers POST /sessions/:id/pause.
type PauseResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ResumeResponse answers POST /sessions/:id/resume.
type ResumeResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}
