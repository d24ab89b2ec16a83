package events

// TimelineCreatedPayload is the payload for timeline_event.created events.
// Published when a new timeline event is created (streaming or completed).
type TimelineCreatedPayload struct {
	BasePayload
	EventID        string         `json:"event_id"`               // timeline event UUID
	StageID        string         `json:"stage_id,omitempty"`     // owning stage (empty for session-level events)
	ExecutionID    string         `json:"execution_id,omitempty"` // owning agent execution (empty for session-level events)
	EventType      string         `json:"event_type"`             // e.g. "llm_thinking", "llm_tool_call"
	Status         string         `json:"status"`                 // "streaming" or "completed"
	Content        string         `json:"content"`                // event content (may be empty for streaming)
	Metadata       map[string]any `json:"metadata,omitempty"`
	SequenceNumber int            `json:"sequence_number"` // order in timeline
}

// TimelineCompletedPayload is the payload for timeline_event.completed events.
// Published when a streaming timeline event transitions to a terminal status.
type TimelineCompletedPayload struct {
	BasePayload
	EventID  string         `json:"event_id"` // timeline event UUID
	Content  string         `json:"content"`  // final content
	Status   string         `json:"status"`   // "completed" or "failed"
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StreamChunkPayload is the payload for stream.chunk transient events.
// Published for each LLM streaming token — high frequency, ephemeral.
type StreamChunkPayload struct {
	BasePayload
	EventID string `json:"event_id"` // parent timeline event UUID
	Delta   string `json:"delta"`    // incremental text chunk
}

// SessionStatusPayload is the payload for session.status events.
// Published when a session transitions between lifecycle states.
type SessionStatusPayload struct {
	BasePayload
	Status string `json:"status"` // new status (e.g. "in_progress", "completed")
}

// StageStatusPayload is the payload for stage.status events.
// Single event type for all stage lifecycle transitions (started, completed, failed, etc.).
type StageStatusPayload struct {
	BasePayload
	StageID    string `json:"stage_id,omitempty"` // may be empty on "started" if stage creation hasn't happened yet
	StageName  string `json:"stage_name"`         // human-readable stage name from config
	StageIndex int    `json:"stage_index"`        // 1-based
	Status     string `json:"status"`             // started, completed, failed, timed_out, cancelled
}

// InteractionCreatedPayload is the payload for interaction.created events.
// Fired when an LLM or MCP interaction record is saved, so an open trace
// view can append it without a full reload.
type InteractionCreatedPayload struct {
	BasePayload
	StageID         string `json:"stage_id,omitempty"`
	ExecutionID     string `json:"execution_id,omitempty"`
	InteractionID   string `json:"interaction_id"`
	InteractionType string `json:"interaction_type"` // InteractionTypeLLM or InteractionTypeMCP
}

// SessionProgressPayload is the payload for session.progress transient
// events, broadcast to GlobalSessionsChannel for the active-alerts panel.
type SessionProgressPayload struct {
	BasePayload
	CurrentStageName  string `json:"current_stage_name"`
	CurrentStageIndex int    `json:"current_stage_index"` // 1-based
	TotalStages       int    `json:"total_stages"`
	ActiveExecutions  int    `json:"active_executions"`
	StatusText        string `json:"status_text"`
}

// ExecutionProgressPayload is the payload for execution.progress transient
// events, published to a session's own channel for per-agent progress display.
type ExecutionProgressPayload struct {
	BasePayload
	StageID     string `json:"stage_id"`
	ExecutionID string `json:"execution_id"`
	Phase       string `json:"phase"` // one of the ProgressPhase* constants
	Message     string `json:"message"`
}
