package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// PublishEvent appends a row to the event log and issues a NOTIFY on the
// event's channel so any LISTEN-ing ConnectionManager wakes up immediately
// . The row itself is the durable record a reconnecting
// WebSocket client catches up on; NOTIFY is just the low-latency nudge.
func (s *Store) PublishEvent(ctx context.Context, req models.CreateEventRequest) (*models.Event, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	var id int64
	var createdAt any
	row := s.pool.QueryRow(ctx, `
		INSERT INTO events (session_id, channel, payload, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, created_at`,
		req.SessionID, req.Channel, payload)
	if err := row.Scan(&id, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, req.Channel, fmt.Sprintf("%d", id)); err != nil {
		return nil, fmt.Errorf("failed to notify channel: %w", err)
	}

	return &models.Event{ID: id, SessionID: req.SessionID, Channel: req.Channel, Payload: req.Payload}, nil
}

// GetCatchupEvents returns every event on the given channels with id > afterID,
// implementing the events.CatchupQuerier contract used by the Connection
// Manager to replay anything a client missed while disconnected.
func (s *Store) GetCatchupEvents(ctx context.Context, channels []string, afterID int64) ([]*models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, channel, payload, created_at
		FROM events
		WHERE channel = ANY($1) AND id > $2
		ORDER BY id ASC`, channels, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query catchup events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var e models.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Channel, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteEventsForSession removes every transient event row for a single
// session, used by the queue worker once a grace period has passed after
// the session reached a terminal status and WebSocket clients have had a
// chance to catch up.
func (s *Store) DeleteEventsForSession(ctx context.Context, sessionID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up session events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CleanupEventsOlderThan deletes event rows older than horizon, implementing
// §4.2's cleanup(horizon) operation. Events are short-lived (WebSocket
// catchup only), so the horizon is a duration rather than whole days.
func (s *Store) CleanupEventsOlderThan(ctx context.Context, horizon time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE created_at < now() - make_interval(secs => $1)`, horizon.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CleanupSessionsOlderThan soft-deletes (and relies on a follow-up hard
// delete pass for) sessions whose created_at predates the retention
// horizon.
func (s *Store) CleanupSessionsOlderThan(ctx context.Context, horizonDays int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_sessions
		SET deleted_at = now()
		WHERE deleted_at IS NULL
		  AND created_at < now() - make_interval(days => $1)
		  AND status IN ('completed', 'failed', 'cancelled')`, horizonDays)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// HardDeleteSoftDeletedSessions permanently removes sessions that were
// soft-deleted before the given additional grace period, cascading to
// every stage/execution/message/interaction row via ON DELETE CASCADE.
func (s *Store) HardDeleteSoftDeletedSessions(ctx context.Context, graceDays int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM alert_sessions
		WHERE deleted_at IS NOT NULL
		  AND deleted_at < now() - make_interval(days => $1)`, graceDays)
	if err != nil {
		return 0, fmt.Errorf("failed to hard-delete soft-deleted sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
