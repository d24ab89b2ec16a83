package models

import "time"

// SessionStatus is the lifecycle state of an AlertSession.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// IsTerminal reports whether the status ends the session's lifecycle.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// PauseMetadata records why a session (or a stage within it) suspended, so a
// resume can pick the right iteration back up.
type PauseMetadata struct {
	Reason           string `json:"reason"`
	CurrentIteration int    `json:"current_iteration"`
	Message          string `json:"message,omitempty"`
}

// AlertSession is one end-to-end processing attempt of one alert.
type AlertSession struct {
	ID                 string              `json:"session_id"`
	AlertData          string              `json:"alert_data"`
	AgentType          string              `json:"agent_type"`
	AlertType          string              `json:"alert_type,omitempty"`
	ChainID            string              `json:"chain_id"`
	ChainDefinition    string              `json:"chain_definition,omitempty"`
	Author             string              `json:"author,omitempty"`
	RunbookURL         string              `json:"runbook_url,omitempty"`
	MCPSelection       *MCPSelectionConfig `json:"mcp_selection,omitempty"`
	Status             SessionStatus       `json:"status"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	ErrorMessage       *string             `json:"error_message,omitempty"`
	FinalAnalysis      *string             `json:"final_analysis,omitempty"`
	ExecutiveSummary   *string             `json:"executive_summary,omitempty"`
	ExecutiveSummaryError *string          `json:"executive_summary_error,omitempty"`
	PauseMetadata      *PauseMetadata      `json:"pause_metadata,omitempty"`
	PodID              *string             `json:"pod_id,omitempty"`
	DuplicateKey        string             `json:"-"`
	LastInteractionAt  *time.Time          `json:"last_interaction_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	DeletedAt          *time.Time          `json:"-"`
}

// CreateSessionRequest contains fields for creating a new alert session.
type CreateSessionRequest struct {
	SessionID       string              `json:"session_id"`
	AlertData       string              `json:"alert_data"`
	AgentType       string              `json:"agent_type"`
	AlertType       string              `json:"alert_type,omitempty"`
	ChainID         string              `json:"chain_id"`
	ChainDefinition string              `json:"chain_definition,omitempty"`
	Author          string              `json:"author,omitempty"`
	RunbookURL      string              `json:"runbook_url,omitempty"`
	MCPSelection    *MCPSelectionConfig `json:"mcp_selection,omitempty"`
	DuplicateKey    string              `json:"-"`
}

// SessionFilters contains filtering options for listing sessions.
type SessionFilters struct {
	Status         string     `json:"status,omitempty"`
	AgentType      string     `json:"agent_type,omitempty"`
	AlertType      string     `json:"alert_type,omitempty"`
	ChainID        string     `json:"chain_id,omitempty"`
	Author         string     `json:"author,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	StartedBefore  *time.Time `json:"started_before,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
	IncludeDeleted bool       `json:"include_deleted,omitempty"`
}

// SessionResponse wraps an AlertSession for API responses.
type SessionResponse struct {
	*AlertSession
}

// SessionListResponse contains a paginated session list.
type SessionListResponse struct {
	Sessions   []*AlertSession `json:"sessions"`
	TotalCount int             `json:"total_count"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
}

// StageDetail nests a stage's agent executions for the session detail view.
type StageDetail struct {
	*Stage
	AgentExecutions []*AgentExecution `json:"agent_executions"`
}

// SessionDetail is the full assembled view of a session returned by the
// session detail endpoint: the session row plus its stages, each carrying
// its agent executions.
type SessionDetail struct {
	*AlertSession
	Stages []*StageDetail `json:"stages"`
}

// SessionSummary is the condensed view returned by the session summary
// endpoint: enough to render a result card without the full stage tree.
type SessionSummary struct {
	SessionID        string     `json:"session_id"`
	Status           SessionStatus `json:"status"`
	AlertType        string     `json:"alert_type,omitempty"`
	ChainID          string     `json:"chain_id"`
	FinalAnalysis    *string    `json:"final_analysis,omitempty"`
	ExecutiveSummary *string    `json:"executive_summary,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
