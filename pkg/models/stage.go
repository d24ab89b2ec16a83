package models

import "time"

// StageStatus is the lifecycle state of a Stage or AgentExecution.
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusPaused     StageStatus = "paused"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
	StageStatusCancelled  StageStatus = "cancelled"
	StageStatusTimedOut   StageStatus = "timed_out"
)

// CreateStageRequest contains fields for creating a new stage.
type CreateStageRequest struct {
	SessionID          string  `json:"session_id"`
	StageName          string  `json:"stage_name"`
	StageIndex         int     `json:"stage_index"`
	ExpectedAgentCount int     `json:"expected_agent_count"`
	ParallelType       *string `json:"parallel_type,omitempty"`  // "multi_agent" or "replica"
	SuccessPolicy      *string `json:"success_policy,omitempty"` // "all" or "any"
}

// CreateAgentExecutionRequest contains fields for creating a new agent execution.
type CreateAgentExecutionRequest struct {
	StageID           string `json:"stage_id"`
	SessionID         string `json:"session_id"`
	AgentName         string `json:"agent_name"`
	AgentIndex        int    `json:"agent_index"`
	IterationStrategy string `json:"iteration_strategy"`
}

// UpdateAgentStatusRequest contains fields for updating agent execution status.
type UpdateAgentStatusRequest struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Stage is one pipeline stage attempt within a session. A stage fans out
// into one or more AgentExecutions (one for a sequential stage, N for a
// parallel multi-agent or replicated stage).
type Stage struct {
	ID                 string      `json:"id"`
	SessionID          string      `json:"session_id"`
	StageName          string      `json:"stage_name"`
	StageIndex         int         `json:"stage_index"`
	ExpectedAgentCount int         `json:"expected_agent_count"`
	ParallelType       *string     `json:"parallel_type,omitempty"`
	SuccessPolicy      *string     `json:"success_policy,omitempty"`
	Status             StageStatus `json:"status"`
	StartedAt          *time.Time  `json:"started_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage       *string     `json:"error_message,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

// AgentExecution is one agent's run within a stage: a single ReAct loop
// (or REACT_STAGE / REACT_FINAL_ANALYSIS variant) from first prompt to
// final answer or pause.
type AgentExecution struct {
	ID                string      `json:"id"`
	StageID           string      `json:"stage_id"`
	SessionID         string      `json:"session_id"`
	AgentName         string      `json:"agent_name"`
	AgentIndex        int         `json:"agent_index"`
	IterationStrategy string      `json:"iteration_strategy"`
	Status            StageStatus `json:"status"`
	IterationCount    int         `json:"iteration_count"`
	StageAnalysis     *string     `json:"stage_analysis,omitempty"`
	ErrorMessage      *string     `json:"error_message,omitempty"`
	PauseMetadata     *PauseMetadata `json:"pause_metadata,omitempty"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// StageResponse wraps a Stage for API responses.
type StageResponse struct {
	*Stage
}

// AgentExecutionResponse wraps an AgentExecution for API responses.
type AgentExecutionResponse struct {
	*AgentExecution
}
