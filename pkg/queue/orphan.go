package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned sessions.
// All pods run this independently — operations are idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.detectAndRecoverOrphans(ctx)
		}
	}
}

// detectAndRecoverOrphans requeues every in_progress session whose
// heartbeat has gone stale past OrphanThreshold, clearing its pod_id so any
// worker (on this pod or another) can pick it back up. Sessions are
// reclaimed, not failed — a crashed pod shouldn't cost the operator a
// completed investigation if the work can simply be retried.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) {
	recovered, err := p.store.ReclaimOrphanedSessions(ctx, p.config.OrphanThreshold)
	if err != nil {
		slog.Error("Orphan detection failed", "error", err)
		return
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	if recovered > 0 {
		slog.Warn("Reclaimed orphaned sessions", "count", recovered)
	}
}
