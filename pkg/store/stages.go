package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/google/uuid"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// CreateStage inserts a new stage row for a session, in pending status.
func (s *Store) CreateStage(ctx context.Context, req models.CreateStageRequest) (*models.Stage, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stages (id, session_id, stage_name, stage_index, expected_agent_count,
		                     parallel_type, success_policy, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', now())`,
		id, req.SessionID, req.StageName, req.StageIndex, req.ExpectedAgentCount,
		req.ParallelType, req.SuccessPolicy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage: %w", err)
	}
	return s.GetStage(ctx, id)
}

// GetStage loads a stage by id.
func (s *Store) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, stage_name, stage_index, expected_agent_count, parallel_type,
		       success_policy, status, started_at, completed_at, error_message, created_at
		FROM stages WHERE id = $1`, id)

	var st models.Stage
	err := row.Scan(&st.ID, &st.SessionID, &st.StageName, &st.StageIndex, &st.ExpectedAgentCount,
		&st.ParallelType, &st.SuccessPolicy, &st.Status, &st.StartedAt, &st.CompletedAt,
		&st.ErrorMessage, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStageNotFound
		}
		return nil, fmt.Errorf("failed to scan stage: %w", err)
	}
	return &st, nil
}

// UpdateStageStatus transitions a stage's status, setting started_at /
// completed_at as appropriate.
func (s *Store) UpdateStageStatus(ctx context.Context, id string, status models.StageStatus, errMsg *string) error {
	var startedAt, completedAt any
	switch status {
	case models.StageStatusInProgress:
		startedAt = time.Now()
	case models.StageStatusCompleted, models.StageStatusFailed, models.StageStatusCancelled:
		completedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE stages
		SET status = $2,
		    started_at = COALESCE(started_at, $3),
		    completed_at = COALESCE($4, completed_at),
		    error_message = COALESCE($5, error_message)
		WHERE id = $1`,
		id, status, startedAt, completedAt, nullableString(errMsg))
	if err != nil {
		return fmt.Errorf("failed to update stage status: %w", err)
	}
	return nil
}

// ListStagesForSession returns every stage of a session, in index order.
func (s *Store) ListStagesForSession(ctx context.Context, sessionID string) ([]*models.Stage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, stage_name, stage_index, expected_agent_count, parallel_type,
		       success_policy, status, started_at, completed_at, error_message, created_at
		FROM stages WHERE session_id = $1 ORDER BY stage_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var out []*models.Stage
	for rows.Next() {
		var st models.Stage
		if err := rows.Scan(&st.ID, &st.SessionID, &st.StageName, &st.StageIndex, &st.ExpectedAgentCount,
			&st.ParallelType, &st.SuccessPolicy, &st.Status, &st.StartedAt, &st.CompletedAt,
			&st.ErrorMessage, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// CreateAgentExecution inserts a new agent execution row for a stage.
func (s *Store) CreateAgentExecution(ctx context.Context, req models.CreateAgentExecutionRequest) (*models.AgentExecution, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_executions (id, stage_id, session_id, agent_name, agent_index,
		                               iteration_strategy, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', now())`,
		id, req.StageID, req.SessionID, req.AgentName, req.AgentIndex, req.IterationStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent execution: %w", err)
	}
	return s.GetAgentExecution(ctx, id)
}

// GetAgentExecution loads an agent execution by id.
func (s *Store) GetAgentExecution(ctx context.Context, id string) (*models.AgentExecution, error) {
	row := s.pool.QueryRow(ctx, agentExecutionColumns+` FROM agent_executions WHERE id = $1`, id)
	return scanAgentExecution(row)
}

// UpdateAgentExecution updates status, iteration count, analysis, error and
// pause metadata for an agent execution in a single statement.
func (s *Store) UpdateAgentExecution(ctx context.Context, id string, req models.UpdateAgentStatusRequest, iterationCount int, stageAnalysis *string, pause *models.PauseMetadata) error {
	var pauseJSON []byte
	if pause != nil {
		var err error
		pauseJSON, err = json.Marshal(pause)
		if err != nil {
			return fmt.Errorf("failed to marshal pause metadata: %w", err)
		}
	}

	var startedAt, completedAt any
	switch models.StageStatus(req.Status) {
	case models.StageStatusInProgress:
		startedAt = time.Now()
	case models.StageStatusCompleted, models.StageStatusFailed, models.StageStatusCancelled, models.StageStatusTimedOut:
		completedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE agent_executions
		SET status = $2,
		    iteration_count = GREATEST(iteration_count, $3),
		    stage_analysis = COALESCE($4, stage_analysis),
		    error_message = COALESCE($5, error_message),
		    pause_metadata = $6,
		    started_at = COALESCE(started_at, $7),
		    completed_at = COALESCE($8, completed_at)
		WHERE id = $1`,
		id, req.Status, iterationCount, nullableString(stageAnalysis), nullString(req.ErrorMessage),
		nullJSONOrNil(pauseJSON), startedAt, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update agent execution: %w", err)
	}
	return nil
}

// ListAgentExecutionsForStage returns every agent execution belonging to a
// stage, in agent_index order — used to assemble a ParallelStageResult.
func (s *Store) ListAgentExecutionsForStage(ctx context.Context, stageID string) ([]*models.AgentExecution, error) {
	rows, err := s.pool.Query(ctx, agentExecutionColumns+` FROM agent_executions WHERE stage_id = $1 ORDER BY agent_index ASC`, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent executions: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentExecution
	for rows.Next() {
		exec, err := scanAgentExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

const agentExecutionColumns = `
	SELECT id, stage_id, session_id, agent_name, agent_index, iteration_strategy, status,
	       iteration_count, stage_analysis, error_message, pause_metadata, started_at, completed_at, created_at
`

func scanAgentExecution(row rowScanner) (*models.AgentExecution, error) {
	var exec models.AgentExecution
	var pauseJSON []byte
	err := row.Scan(&exec.ID, &exec.StageID, &exec.SessionID, &exec.AgentName, &exec.AgentIndex,
		&exec.IterationStrategy, &exec.Status, &exec.IterationCount, &exec.StageAnalysis,
		&exec.ErrorMessage, &pauseJSON, &exec.StartedAt, &exec.CompletedAt, &exec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to scan agent execution: %w", err)
	}
	if len(pauseJSON) > 0 {
		var pause models.PauseMetadata
		if err := json.Unmarshal(pauseJSON, &pause); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pause metadata: %w", err)
		}
		exec.PauseMetadata = &pause
	}
	return &exec, nil
}
