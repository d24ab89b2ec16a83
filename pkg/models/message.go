package models

import "time"

// ToolCallData is the persisted shape of one LLM tool-call request, attached
// to an assistant message that invoked one or more tools.
type ToolCallData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON
}

// Message is one message in an agent execution's conversation (the
// transcript fed to and returned from the LLM), persisted so the trace API
// can reconstruct the full exchange through the trace endpoints.
type Message struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	StageID        string         `json:"stage_id"`
	ExecutionID    string         `json:"execution_id"`
	SequenceNumber int            `json:"sequence_number"`
	Role           string         `json:"role"` // "system", "user", "assistant", "tool"
	Content        string         `json:"content"`
	ToolCalls      []ToolCallData `json:"tool_calls,omitempty"`
	ToolCallID     string         `json:"tool_call_id,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CreateMessageRequest contains fields for creating a message.
type CreateMessageRequest struct {
	SessionID      string         `json:"session_id"`
	StageID        string         `json:"stage_id"`
	ExecutionID    string         `json:"execution_id"`
	SequenceNumber int            `json:"sequence_number"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	ToolCalls      []ToolCallData `json:"tool_calls,omitempty"`
	ToolCallID     string         `json:"tool_call_id,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
}

// MessageResponse wraps a Message for API responses.
type MessageResponse struct {
	*Message
}
