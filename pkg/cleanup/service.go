// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/store"
)

// graceDays is how long a soft-deleted session stays queryable (for
// recovery/audit) before HardDeleteSoftDeletedSessions cascades its rows.
const graceDays = 7

// Service periodically enforces retention policies:
//   - Soft-deletes old sessions (completed/failed/cancelled past the
//     retention horizon), then hard-deletes ones soft-deleted long enough ago
//   - Removes event rows past their TTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.RetentionConfig
	store  *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, st *store.Store) *Service {
	return &Service{config: cfg, store: st}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"session_retention_days", s.config.SessionRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteOldSessions(ctx)
	s.hardDeleteExpiredSessions(ctx)
	s.cleanupOldEvents(ctx)
}

func (s *Service) softDeleteOldSessions(ctx context.Context) {
	count, err := s.store.CleanupSessionsOlderThan(ctx, s.config.SessionRetentionDays)
	if err != nil {
		slog.Error("Retention: soft-delete sessions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: soft-deleted old sessions", "count", count)
	}
}

func (s *Service) hardDeleteExpiredSessions(ctx context.Context) {
	count, err := s.store.HardDeleteSoftDeletedSessions(ctx, graceDays)
	if err != nil {
		slog.Error("Retention: hard-delete sessions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: hard-deleted expired sessions", "count", count)
	}
}

func (s *Service) cleanupOldEvents(ctx context.Context) {
	count, err := s.store.CleanupEventsOlderThan(ctx, s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: cleaned up old events", "count", count)
	}
}
