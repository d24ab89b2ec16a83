package models

import "time"

// WarningCategory groups related warnings so a new warning of the same
// category/server replaces the previous one instead of accumulating.
type WarningCategory string

const (
	WarningCategoryMCPHealth       WarningCategory = "mcp_health"
	WarningCategoryMCPInit         WarningCategory = "mcp_initialization"
	WarningCategoryRunbookService  WarningCategory = "runbook_service"
	WarningCategoryLLMProvider     WarningCategory = "llm_provider"
	WarningCategoryQueueCapacity   WarningCategory = "queue_capacity"
)

// Warning is a non-fatal operational condition surfaced to operators
// : degraded MCP servers, runbook fetch failures, and similar.
type Warning struct {
	ID        string          `json:"id"`
	Category  WarningCategory `json:"category"`
	Message   string          `json:"message"`
	Details   string          `json:"details,omitempty"`
	ServerID  string          `json:"server_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
