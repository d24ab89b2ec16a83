package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// CreateMessage appends one message to an agent execution's conversation.
func (s *Store) CreateMessage(ctx context.Context, req models.CreateMessageRequest) (*models.Message, error) {
	id := uuid.NewString()
	toolCallsJSON, err := json.Marshal(req.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, stage_id, execution_id, sequence_number, role, content,
		                      tool_calls, tool_call_id, tool_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		id, req.SessionID, req.StageID, req.ExecutionID, req.SequenceNumber, req.Role, req.Content,
		nullJSONArrayOrNil(req.ToolCalls, toolCallsJSON), nullableString(strPtrOrNil(req.ToolCallID)),
		nullableString(strPtrOrNil(req.ToolName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &models.Message{ID: id, SessionID: req.SessionID, StageID: req.StageID, ExecutionID: req.ExecutionID,
		SequenceNumber: req.SequenceNumber, Role: req.Role, Content: req.Content, ToolCalls: req.ToolCalls,
		ToolCallID: req.ToolCallID, ToolName: req.ToolName}, nil
}

// nullJSONArrayOrNil returns nil (NULL) for an empty slice so the column
// stays NULL rather than storing the literal "null" or "[]".
func nullJSONArrayOrNil(calls []models.ToolCallData, marshaled []byte) any {
	if len(calls) == 0 {
		return nil
	}
	return marshaled
}

// strPtrOrNil returns nil for an empty string, used for optional TEXT columns.
func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListMessagesForExecution returns a conversation in sequence order, used
// both to rebuild the next LLM call's message list and to serve the trace API.
func (s *Store) ListMessagesForExecution(ctx context.Context, executionID string) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, stage_id, execution_id, sequence_number, role, content,
		       tool_calls, tool_call_id, tool_name, created_at
		FROM messages WHERE execution_id = $1 ORDER BY sequence_number ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var toolCallsJSON []byte
		var toolCallID, toolName *string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.StageID, &m.ExecutionID, &m.SequenceNumber,
			&m.Role, &m.Content, &toolCallsJSON, &toolCallID, &toolName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(toolCallsJSON) > 0 {
			if err := json.Unmarshal(toolCallsJSON, &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if toolCallID != nil {
			m.ToolCallID = *toolCallID
		}
		if toolName != nil {
			m.ToolName = *toolName
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CreateTimelineEvent records one ReAct step (thought, tool call, observation).
func (s *Store) CreateTimelineEvent(ctx context.Context, req models.CreateTimelineEventRequest) (*models.TimelineEvent, error) {
	id := uuid.NewString()
	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timeline metadata: %w", err)
	}
	status := req.Status
	if status == "" {
		status = models.TimelineStatusCompleted
	}
	// Session-level events (executive summary) carry no stage or execution.
	var stageID, executionID any
	if req.StageID != "" {
		stageID = req.StageID
	}
	if req.ExecutionID != "" {
		executionID = req.ExecutionID
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO timeline_events (id, session_id, stage_id, execution_id, sequence_number,
		                             event_type, status, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		id, req.SessionID, stageID, executionID, req.SequenceNumber, req.EventType,
		status, req.Content, nullJSONOrNil(metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to create timeline event: %w", err)
	}
	return &models.TimelineEvent{ID: id, SessionID: req.SessionID, StageID: req.StageID,
		ExecutionID: req.ExecutionID, SequenceNumber: req.SequenceNumber, EventType: req.EventType,
		Status: status, Content: req.Content, Metadata: req.Metadata}, nil
}

// CompleteTimelineEvent finalizes a streamed timeline event's content and
// links it to the LLM/MCP interaction that produced it.
func (s *Store) CompleteTimelineEvent(ctx context.Context, id string, req models.CompleteTimelineEventRequest) error {
	var metaJSON []byte
	if req.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(req.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal completion metadata: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE timeline_events
		SET content = $2, status = $3,
		    metadata = COALESCE($4, metadata),
		    llm_interaction_id = COALESCE($5, llm_interaction_id),
		    mcp_interaction_id = COALESCE($6, mcp_interaction_id)
		WHERE id = $1`,
		id, req.Content, models.TimelineStatusCompleted, nullJSONOrNil(metaJSON),
		nullableString(req.LLMInteractionID), nullableString(req.MCPInteractionID))
	if err != nil {
		return fmt.Errorf("failed to complete timeline event: %w", err)
	}
	return nil
}

// FailTimelineEvent marks a streaming timeline event as failed, recording
// the error as its final content. Used when a stream ends in an error or
// produces no content at all, so the row never stays stuck at "streaming".
func (s *Store) FailTimelineEvent(ctx context.Context, id, content string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE timeline_events SET content = $2, status = $3 WHERE id = $1`,
		id, content, models.TimelineStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to fail timeline event: %w", err)
	}
	return nil
}

// GetAgentTimeline returns the full, ordered timeline for one agent
// execution — used to rebuild a parallel agent's investigation history
// when building synthesis context for a downstream stage.
func (s *Store) GetAgentTimeline(ctx context.Context, executionID string) ([]*models.TimelineEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, stage_id, execution_id, sequence_number, event_type, status,
		       content, metadata, llm_interaction_id, mcp_interaction_id, created_at
		FROM timeline_events WHERE execution_id = $1 ORDER BY sequence_number ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent timeline: %w", err)
	}
	defer rows.Close()

	var out []*models.TimelineEvent
	for rows.Next() {
		var e models.TimelineEvent
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StageID, &e.ExecutionID, &e.SequenceNumber,
			&e.EventType, &e.Status, &e.Content, &metaJSON, &e.LLMInteractionID, &e.MCPInteractionID,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal timeline metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetSessionLevelTimeline returns events recorded against the session with
// no owning stage or execution — today just the executive summary.
func (s *Store) GetSessionLevelTimeline(ctx context.Context, sessionID string) ([]*models.TimelineEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, COALESCE(stage_id, ''), COALESCE(execution_id, ''), sequence_number,
		       event_type, status, content, metadata, llm_interaction_id, mcp_interaction_id, created_at
		FROM timeline_events WHERE session_id = $1 AND execution_id IS NULL
		ORDER BY sequence_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session-level timeline: %w", err)
	}
	defer rows.Close()

	var out []*models.TimelineEvent
	for rows.Next() {
		var e models.TimelineEvent
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StageID, &e.ExecutionID, &e.SequenceNumber,
			&e.EventType, &e.Status, &e.Content, &metaJSON, &e.LLMInteractionID, &e.MCPInteractionID,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal timeline metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetMaxSequenceForExecution returns the highest sequence_number already
// used by an execution's timeline, or -1 if it has no events yet. Callers
// use this to resume sequencing without colliding with events created
// before they started (e.g. a task_assigned event from orchestrator dispatch).
func (s *Store) GetMaxSequenceForExecution(ctx context.Context, executionID string) (int, error) {
	var max int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), -1) FROM timeline_events WHERE execution_id = $1`,
		executionID).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("failed to get max sequence for execution: %w", err)
	}
	return max, nil
}

// CreateLLMInteraction records one LLM call: request, response, token usage
// and timing for the trace API.
func (s *Store) CreateLLMInteraction(ctx context.Context, req models.CreateLLMInteractionRequest) (string, error) {
	id := uuid.NewString()
	reqJSON, err := json.Marshal(req.LLMRequest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal LLM request: %w", err)
	}
	respJSON, err := json.Marshal(req.LLMResponse)
	if err != nil {
		return "", fmt.Errorf("failed to marshal LLM response: %w", err)
	}
	metaJSON, err := json.Marshal(req.ResponseMetadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal LLM response metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO llm_interactions
			(id, session_id, stage_id, execution_id, interaction_type, model_name, last_message_id,
			 llm_request, llm_response, thinking_content, response_metadata, input_tokens,
			 output_tokens, total_tokens, duration_ms, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())`,
		id, req.SessionID, req.StageID, req.ExecutionID, req.InteractionType, req.ModelName,
		req.LastMessageID, reqJSON, respJSON, req.ThinkingContent, nullJSONOrNil(metaJSON),
		req.InputTokens, req.OutputTokens, req.TotalTokens, req.DurationMs, req.ErrorMessage)
	if err != nil {
		return "", fmt.Errorf("failed to create LLM interaction: %w", err)
	}
	return id, nil
}

// CreateMCPInteraction records one MCP tool call or tool-list request.
func (s *Store) CreateMCPInteraction(ctx context.Context, req models.CreateMCPInteractionRequest) (string, error) {
	id := uuid.NewString()
	argsJSON, err := json.Marshal(req.ToolArguments)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool arguments: %w", err)
	}
	resultJSON, err := json.Marshal(req.ToolResult)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool result: %w", err)
	}
	toolsJSON, err := json.Marshal(req.AvailableTools)
	if err != nil {
		return "", fmt.Errorf("failed to marshal available tools: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO mcp_interactions
			(id, session_id, stage_id, execution_id, interaction_type, server_name, tool_name,
			 tool_arguments, tool_result, available_tools, duration_ms, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
		id, req.SessionID, req.StageID, req.ExecutionID, req.InteractionType, req.ServerName,
		req.ToolName, nullJSONOrNil(argsJSON), nullJSONOrNil(resultJSON), nullJSONOrNil(toolsJSON),
		req.DurationMs, req.ErrorMessage)
	if err != nil {
		return "", fmt.Errorf("failed to create MCP interaction: %w", err)
	}
	return id, nil
}

// GetTrace assembles the Level-1 trace view for a session: every stage's
// executions, each grouped with its LLM and MCP interaction summaries.
func (s *Store) GetTrace(ctx context.Context, sessionID string) (*models.TraceListResponse, error) {
	stages, err := s.ListStagesForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	resp := &models.TraceListResponse{}
	for _, stage := range stages {
		execs, err := s.ListAgentExecutionsForStage(ctx, stage.ID)
		if err != nil {
			return nil, err
		}
		group := models.TraceStageGroup{StageID: stage.ID, StageName: stage.StageName}
		for _, exec := range execs {
			llmItems, err := s.listLLMInteractionItems(ctx, exec.ID)
			if err != nil {
				return nil, err
			}
			mcpItems, err := s.listMCPInteractionItems(ctx, exec.ID)
			if err != nil {
				return nil, err
			}
			group.Executions = append(group.Executions, models.TraceExecutionGroup{
				ExecutionID:     exec.ID,
				AgentName:       exec.AgentName,
				LLMInteractions: llmItems,
				MCPInteractions: mcpItems,
			})
		}
		resp.Stages = append(resp.Stages, group)
	}

	sessionItems, err := s.listSessionLevelLLMInteractionItems(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	resp.SessionInteractions = sessionItems
	return resp, nil
}

func (s *Store) listLLMInteractionItems(ctx context.Context, executionID string) ([]models.LLMInteractionListItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, interaction_type, model_name, input_tokens, output_tokens, total_tokens,
		       duration_ms, error_message, created_at
		FROM llm_interactions WHERE execution_id = $1 ORDER BY created_at ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list LLM interactions: %w", err)
	}
	defer rows.Close()
	return scanLLMListItems(rows)
}

func (s *Store) listSessionLevelLLMInteractionItems(ctx context.Context, sessionID string) ([]models.LLMInteractionListItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, interaction_type, model_name, input_tokens, output_tokens, total_tokens,
		       duration_ms, error_message, created_at
		FROM llm_interactions WHERE session_id = $1 AND execution_id IS NULL ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session-level LLM interactions: %w", err)
	}
	defer rows.Close()
	return scanLLMListItems(rows)
}

func scanLLMListItems(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.LLMInteractionListItem, error) {
	var out []models.LLMInteractionListItem
	for rows.Next() {
		var item models.LLMInteractionListItem
		var createdAt time.Time
		if err := rows.Scan(&item.ID, &item.InteractionType, &item.ModelName, &item.InputTokens,
			&item.OutputTokens, &item.TotalTokens, &item.DurationMs, &item.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan LLM interaction: %w", err)
		}
		item.CreatedAt = createdAt.Format(time.RFC3339)
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetLLMInteractionDetail returns the Level-2 trace view for one LLM
// interaction: full request/response plus the reconstructed conversation
// from the execution's persisted messages.
func (s *Store) GetLLMInteractionDetail(ctx context.Context, id string) (*models.LLMInteractionDetailResponse, error) {
	var resp models.LLMInteractionDetailResponse
	var executionID *string
	var reqJSON, respJSON, metaJSON []byte
	var createdAt time.Time

	row := s.pool.QueryRow(ctx, `
		SELECT id, execution_id, interaction_type, model_name, thinking_content,
		       input_tokens, output_tokens, total_tokens, duration_ms, error_message,
		       llm_request, llm_response, response_metadata, created_at
		FROM llm_interactions WHERE id = $1`, id)
	if err := row.Scan(&resp.ID, &executionID, &resp.InteractionType, &resp.ModelName, &resp.ThinkingContent,
		&resp.InputTokens, &resp.OutputTokens, &resp.TotalTokens, &resp.DurationMs, &resp.ErrorMessage,
		&reqJSON, &respJSON, &metaJSON, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to get LLM interaction %s: %w", id, err)
	}
	resp.CreatedAt = createdAt.Format(time.RFC3339Nano)
	if err := json.Unmarshal(reqJSON, &resp.LLMRequest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal llm_request: %w", err)
	}
	if err := json.Unmarshal(respJSON, &resp.LLMResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal llm_response: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &resp.ResponseMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response_metadata: %w", err)
		}
	}

	resp.Conversation = []models.ConversationMessage{}
	if executionID != nil {
		msgs, err := s.ListMessagesForExecution(ctx, *executionID)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			cm := models.ConversationMessage{Role: m.Role, Content: m.Content}
			if m.ToolCallID != "" {
				cm.ToolCallID = &m.ToolCallID
			}
			if m.ToolName != "" {
				cm.ToolName = &m.ToolName
			}
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, models.MessageToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			}
			resp.Conversation = append(resp.Conversation, cm)
		}
	}
	return &resp, nil
}

// GetMCPInteractionDetail returns the Level-2 trace view for one MCP
// tool call or tool-list interaction.
func (s *Store) GetMCPInteractionDetail(ctx context.Context, id string) (*models.MCPInteractionDetailResponse, error) {
	var resp models.MCPInteractionDetailResponse
	var argsJSON, resultJSON, toolsJSON []byte
	var createdAt time.Time

	row := s.pool.QueryRow(ctx, `
		SELECT id, interaction_type, server_name, tool_name, tool_arguments, tool_result,
		       available_tools, duration_ms, error_message, created_at
		FROM mcp_interactions WHERE id = $1`, id)
	if err := row.Scan(&resp.ID, &resp.InteractionType, &resp.ServerName, &resp.ToolName,
		&argsJSON, &resultJSON, &toolsJSON, &resp.DurationMs, &resp.ErrorMessage, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to get MCP interaction %s: %w", id, err)
	}
	resp.CreatedAt = createdAt.Format(time.RFC3339Nano)
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &resp.ToolArguments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool_arguments: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &resp.ToolResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool_result: %w", err)
		}
	}
	if len(toolsJSON) > 0 {
		if err := json.Unmarshal(toolsJSON, &resp.AvailableTools); err != nil {
			return nil, fmt.Errorf("failed to unmarshal available_tools: %w", err)
		}
	}
	return &resp, nil
}

func (s *Store) listMCPInteractionItems(ctx context.Context, executionID string) ([]models.MCPInteractionListItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, interaction_type, server_name, tool_name, duration_ms, error_message, created_at
		FROM mcp_interactions WHERE execution_id = $1 ORDER BY created_at ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list MCP interactions: %w", err)
	}
	defer rows.Close()

	var out []models.MCPInteractionListItem
	for rows.Next() {
		var item models.MCPInteractionListItem
		var createdAt time.Time
		if err := rows.Scan(&item.ID, &item.InteractionType, &item.ServerName, &item.ToolName,
			&item.DurationMs, &item.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan MCP interaction: %w", err)
		}
		item.CreatedAt = createdAt.Format(time.RFC3339)
		out = append(out, item)
	}
	return out, rows.Err()
}
