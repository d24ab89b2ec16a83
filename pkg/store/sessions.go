package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// GetActiveSessionByDuplicateKey returns the pending/in_progress/paused
// session carrying the given duplicate-detection fingerprint, if any. Used
// by the submission path to hand a duplicate alert its original session id.
func (s *Store) GetActiveSessionByDuplicateKey(ctx context.Context, key string) (*models.AlertSession, error) {
	row := s.pool.QueryRow(ctx, sessionSelectColumns+`
		FROM alert_sessions
		WHERE duplicate_key = $1 AND status IN ('pending', 'in_progress', 'paused') AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1`, key)
	return scanSession(row)
}

// CreateSession inserts a new pending session. It fails with
// ErrDuplicateSession if an active (pending/in_progress/paused) session
// already carries the same duplicate key, implementing the at-most-one-
// one-active-attempt-per-alert invariant.
func (s *Store) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.AlertSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT 1 FROM alert_sessions
		WHERE duplicate_key = $1 AND status IN ('pending', 'in_progress', 'paused') AND deleted_at IS NULL
		LIMIT 1`, req.DuplicateKey)
	var exists int
	if scanErr := row.Scan(&exists); scanErr == nil {
		return nil, ErrDuplicateSession
	} else if !errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check duplicate session: %w", scanErr)
	}

	var mcpSelection []byte
	if req.MCPSelection != nil {
		var err error
		mcpSelection, err = json.Marshal(req.MCPSelection)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal MCP selection: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_sessions
			(id, alert_data, agent_type, alert_type, chain_id, chain_definition, author,
			 runbook_url, mcp_selection, status, duplicate_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10, now())`,
		req.SessionID, req.AlertData, req.AgentType, nullString(req.AlertType), req.ChainID,
		nullString(req.ChainDefinition), nullString(req.Author), nullString(req.RunbookURL),
		nullJSONOrNil(mcpSelection), req.DuplicateKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return s.GetSession(ctx, req.SessionID)
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.AlertSession, error) {
	row := s.pool.QueryRow(ctx, sessionSelectColumns+` FROM alert_sessions WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanSession(row)
}

// ClaimNextPendingSession atomically claims one pending session for the
// given pod, using SELECT ... FOR UPDATE SKIP LOCKED so that concurrent
// workers never contend on the same row and never double-claim (spec
// §4.11, §5). Returns ErrNoSessionsAvailable when nothing is claimable.
func (s *Store) ClaimNextPendingSession(ctx context.Context, podID string) (*models.AlertSession, error) {
	var session *models.AlertSession
	err := withRetry(ctx, 5, func() error {
		return s.claimNextPendingSession(ctx, podID, &session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Store) claimNextPendingSession(ctx context.Context, podID string, session **models.AlertSession) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id FROM alert_sessions
			WHERE status = 'pending' AND deleted_at IS NULL
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1`)

		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoSessionsAvailable
			}
			return fmt.Errorf("failed to select claimable session: %w", err)
		}

		now := time.Now()
		_, err := tx.Exec(ctx, `
			UPDATE alert_sessions
			SET status = 'in_progress', pod_id = $2, started_at = $3, last_interaction_at = $3
			WHERE id = $1`, id, podID, now)
		if err != nil {
			return fmt.Errorf("failed to claim session: %w", err)
		}

		fullRow := tx.QueryRow(ctx, sessionSelectColumns+` FROM alert_sessions WHERE id = $1`, id)
		claimed, err := scanSession(fullRow)
		if err != nil {
			return err
		}
		*session = claimed
		return nil
	})
}

// CountSessionsByStatus returns the number of non-deleted sessions in the
// given status, used by the worker pool to enforce its capacity limit
// before attempting a claim.
func (s *Store) CountSessionsByStatus(ctx context.Context, status models.SessionStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM alert_sessions WHERE status = $1 AND deleted_at IS NULL`, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions by status: %w", err)
	}
	return count, nil
}

// Heartbeat updates last_interaction_at for a session owned by the caller's
// worker, so the orphan sweep in pkg/queue can tell a live worker from a
// crashed one.
func (s *Store) Heartbeat(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alert_sessions SET last_interaction_at = now() WHERE id = $1 AND status = 'in_progress'`,
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// ReclaimOrphanedSessions re-queues every in_progress session whose
// heartbeat is older than maxAge, clearing pod_id so another worker can
// claim it. This is the "reclaim, not fail" policy recorded in DESIGN.md.
func (s *Store) ReclaimOrphanedSessions(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_sessions
		SET status = 'pending', pod_id = NULL
		WHERE status = 'in_progress'
		  AND (last_interaction_at IS NULL OR last_interaction_at < $1)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim orphaned sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdateSessionStatus transitions a session's status and, for terminal
// statuses, sets completed_at. errMsg/finalAnalysis/execSummary are
// applied when non-empty.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, errMsg, finalAnalysis, execSummary *string, pause *models.PauseMetadata) error {
	var completedAt any
	if status.IsTerminal() {
		completedAt = time.Now()
	}

	var pauseJSON []byte
	var err error
	if pause != nil {
		pauseJSON, err = json.Marshal(pause)
		if err != nil {
			return fmt.Errorf("failed to marshal pause metadata: %w", err)
		}
	}

	err = withRetry(ctx, 5, func() error {
		_, execErr := s.pool.Exec(ctx, `
			UPDATE alert_sessions
			SET status = $2,
			    completed_at = COALESCE($3, completed_at),
			    error_message = COALESCE($4, error_message),
			    final_analysis = COALESCE($5, final_analysis),
			    executive_summary = COALESCE($6, executive_summary),
			    pause_metadata = COALESCE($7, pause_metadata),
			    pause_requested = false,
			    last_interaction_at = now()
			WHERE id = $1`,
			id, status, completedAt, nullableString(errMsg), nullableString(finalAnalysis),
			nullableString(execSummary), nullJSONOrNil(pauseJSON),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// SetPauseRequested marks an in-flight session for suspension. The flag is
// polled by the iteration controllers at their next iteration boundary and
// cleared by the status transition that consumes it.
func (s *Store) SetPauseRequested(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_sessions SET pause_requested = true
		WHERE id = $1 AND status = 'in_progress' AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to request pause: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// IsPauseRequested reports whether an operator asked the session to pause.
func (s *Store) IsPauseRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx, `
		SELECT pause_requested FROM alert_sessions WHERE id = $1`, id).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrSessionNotFound
		}
		return false, fmt.Errorf("failed to read pause flag: %w", err)
	}
	return requested, nil
}

// ResumeSession re-queues a paused session: status back to pending with the
// owning pod cleared, so any worker can claim it and pick the paused stage
// back up from its persisted conversation.
func (s *Store) ResumeSession(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_sessions
		SET status = 'pending', pod_id = NULL, pause_requested = false
		WHERE id = $1 AND status = 'paused' AND deleted_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("failed to resume session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetExecutiveSummaryError records why executive summary generation failed.
// The session itself still completes — the summary is fail-open.
func (s *Store) SetExecutiveSummaryError(ctx context.Context, id, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_sessions SET executive_summary_error = $2 WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("failed to set executive summary error: %w", err)
	}
	return nil
}

// ListSessions returns a filtered, paginated page of sessions plus the
// total matching count for the list endpoint.
func (s *Store) ListSessions(ctx context.Context, f models.SessionFilters) (*models.SessionListResponse, error) {
	where := `WHERE ($1 = '' OR status = $1)
		AND ($2 = '' OR alert_type = $2)
		AND ($3 = '' OR chain_id = $3)
		AND ($4 = '' OR author = $4)
		AND (deleted_at IS NULL OR $5)`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM alert_sessions `+where,
		f.Status, f.AlertType, f.ChainID, f.Author, f.IncludeDeleted).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		sessionSelectColumns+` FROM alert_sessions `+where+`
		ORDER BY created_at DESC LIMIT $6 OFFSET $7`,
		f.Status, f.AlertType, f.ChainID, f.Author, f.IncludeDeleted, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.AlertSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return &models.SessionListResponse{Sessions: sessions, TotalCount: total, Limit: limit, Offset: f.Offset}, nil
}

// GetDistinctAlertTypes returns every non-empty alert_type value seen across
// non-deleted sessions, used to populate the dashboard's filter dropdown.
func (s *Store) GetDistinctAlertTypes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT alert_type FROM alert_sessions
		WHERE alert_type IS NOT NULL AND alert_type != '' AND deleted_at IS NULL
		ORDER BY alert_type ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct alert types: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan alert type: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetDistinctChainIDs returns every distinct chain_id seen across
// non-deleted sessions, used to populate the dashboard's filter dropdown.
func (s *Store) GetDistinctChainIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT chain_id FROM alert_sessions
		WHERE chain_id != '' AND deleted_at IS NULL
		ORDER BY chain_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct chain ids: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan chain id: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const sessionSelectColumns = `
	SELECT id, alert_data, agent_type, COALESCE(alert_type, ''), chain_id, COALESCE(chain_definition, ''),
	       COALESCE(author, ''), COALESCE(runbook_url, ''), mcp_selection, status, started_at, completed_at,
	       error_message, final_analysis, executive_summary, executive_summary_error, pause_metadata, pod_id,
	       duplicate_key, last_interaction_at, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.AlertSession, error) {
	var session models.AlertSession
	var pauseJSON, mcpJSON []byte
	err := row.Scan(
		&session.ID, &session.AlertData, &session.AgentType, &session.AlertType, &session.ChainID,
		&session.ChainDefinition, &session.Author, &session.RunbookURL, &mcpJSON, &session.Status,
		&session.StartedAt, &session.CompletedAt, &session.ErrorMessage, &session.FinalAnalysis,
		&session.ExecutiveSummary, &session.ExecutiveSummaryError, &pauseJSON, &session.PodID, &session.DuplicateKey,
		&session.LastInteractionAt, &session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if len(pauseJSON) > 0 {
		var pause models.PauseMetadata
		if err := json.Unmarshal(pauseJSON, &pause); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pause metadata: %w", err)
		}
		session.PauseMetadata = &pause
	}
	if len(mcpJSON) > 0 {
		var mcp models.MCPSelectionConfig
		if err := json.Unmarshal(mcpJSON, &mcp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal MCP selection: %w", err)
		}
		session.MCPSelection = &mcp
	}
	return &session, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSONOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
