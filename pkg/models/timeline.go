package models

import "time"

// Timeline event types. One row is recorded per ReAct step; the event_type
// tells the trace UI how to render it and, for the streaming types, which
// of the two lifecycle patterns documented in pkg/events applies.
const (
	TimelineEventTypeLLMThinking        = "llm_thinking"
	TimelineEventTypeLLMResponse        = "llm_response"
	TimelineEventTypeLLMToolCall        = "llm_tool_call"
	TimelineEventTypeMCPToolSummary     = "mcp_tool_summary"
	TimelineEventTypeCodeExecution      = "code_execution"
	TimelineEventTypeGoogleSearchResult = "google_search_result"
	TimelineEventTypeURLContextResult   = "url_context_result"
	TimelineEventTypeFinalAnalysis      = "final_analysis"
	TimelineEventTypeExecutiveSummary   = "executive_summary"
	TimelineEventTypeError              = "error"
)

// Timeline event statuses, used by streaming-pattern event types to
// distinguish an in-progress row from its terminal state.
const (
	TimelineStatusStreaming  = "streaming"
	TimelineStatusCompleted  = "completed"
	TimelineStatusFailed     = "failed"
	TimelineStatusCancelled  = "cancelled"
	TimelineStatusTimedOut   = "timed_out"
)

// TimelineEvent is one step of an agent's ReAct loop (thought, tool call,
// observation, final answer), recorded in sequence so the trace UI and API
// can replay an execution step by step.
type TimelineEvent struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"session_id"`
	StageID          string         `json:"stage_id"`
	ExecutionID      string         `json:"execution_id"`
	SequenceNumber   int            `json:"sequence_number"`
	EventType        string         `json:"event_type"` // "llm_thinking", "tool_call", "tool_result", "final_answer"
	Status           string         `json:"status"`
	Content          string         `json:"content"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	LLMInteractionID *string        `json:"llm_interaction_id,omitempty"`
	MCPInteractionID *string        `json:"mcp_interaction_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// CreateTimelineEventRequest contains fields for creating a timeline event.
// Status defaults to TimelineStatusCompleted when left empty; callers that
// start a streaming event (empty content, finalized later) set it to
// TimelineStatusStreaming explicitly.
type CreateTimelineEventRequest struct {
	SessionID      string         `json:"session_id"`
	StageID        string         `json:"stage_id"`
	ExecutionID    string         `json:"execution_id"`
	SequenceNumber int            `json:"sequence_number"`
	EventType      string         `json:"event_type"`
	Status         string         `json:"status,omitempty"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// UpdateTimelineEventRequest contains fields for updating an event during streaming.
type UpdateTimelineEventRequest struct {
	Content string `json:"content"`
}

// CompleteTimelineEventRequest contains fields for completing a timeline event.
type CompleteTimelineEventRequest struct {
	Content          string         `json:"content"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	LLMInteractionID *string        `json:"llm_interaction_id,omitempty"`
	MCPInteractionID *string        `json:"mcp_interaction_id,omitempty"`
}

// TimelineEventResponse wraps a TimelineEvent for API responses.
type TimelineEventResponse struct {
	*TimelineEvent
}
