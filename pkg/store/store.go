// Package store is the Interaction Store: the durable record of sessions,
// stages, agent executions, conversation messages, timeline events, and
// LLM/MCP interactions. Every write goes through pgx against PostgreSQL;
// the claim-based work queue (pkg/queue) and the chain executor
// (pkg/chain) are both built on top of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrSessionNotFound is returned when a session id has no matching row.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStageNotFound is returned when a stage id has no matching row.
	ErrStageNotFound = errors.New("stage not found")
	// ErrExecutionNotFound is returned when an agent execution id has no matching row.
	ErrExecutionNotFound = errors.New("agent execution not found")
	// ErrNoSessionsAvailable is returned by ClaimNextPendingSession when the
	// queue is empty or every pending row is already locked by another worker.
	ErrNoSessionsAvailable = errors.New("no sessions available to claim")
	// ErrDuplicateSession is returned when a session with the same
	// duplicate key is already active (pending, in_progress, or paused).
	ErrDuplicateSession = errors.New("an active session already exists for this alert")
)

// Store is the Interaction Store (C1). All of its methods take a context
// and are safe for concurrent use; the underlying pool handles connection
// multiplexing across goroutines.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store over an already-migrated pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for packages (pkg/events) that need to
// run their own LISTEN/NOTIFY session outside of Store's method set.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error (including a panic, which is re-raised after
// rollback). Used by operations that must write to more than one table
// atomically — e.g. completing a stage and emitting its event row.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}

const retryBackoffCap = 2 * time.Second

func withRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		// Full jitter keeps N workers that collided on the same row from
		// colliding again on the next attempt.
		sleep := backoff/2 + time.Duration(rand.Int64N(int64(backoff/2)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		if backoff *= 2; backoff > retryBackoffCap {
			backoff = retryBackoffCap
		}
	}
	return lastErr
}

// isRetryable reports whether a storage error is transient and worth
// retrying: serialization/deadlock failures from concurrent claims, lock
// and connection-capacity errors, cancelled statements, and dropped
// connections. Constraint violations and syntax errors surface immediately.
func isRetryable(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		code := pgErr.SQLState()
		switch code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"53300", // too_many_connections
			"57014": // query_canceled
			return true
		}
		if strings.HasPrefix(code, "08") { // connection exceptions
			return true
		}
	}
	msg := err.Error()
	for _, pattern := range []string{"connection timeout", "connection pool", "connection closed"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
