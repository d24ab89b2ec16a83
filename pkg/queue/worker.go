package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/events"
	"github.com/tarsy-io/tarsy/pkg/models"
	"github.com/tarsy-io/tarsy/pkg/store"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes sessions.
type Worker struct {
	id              string
	podID           string
	store           *store.Store
	config          *config.QueueConfig
	sessionExecutor SessionExecutor
	eventPublisher  agent.EventPublisher
	pool            SessionRegistry
	stopCh          chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentSessionID  string
	sessionsProcessed int
	lastActivity      time.Time
}

// SessionRegistry is the subset of WorkerPool used by Worker for session registration.
type SessionRegistry interface {
	RegisterSession(sessionID string, cancel context.CancelFunc)
	UnregisterSession(sessionID string)
}

// NewWorker creates a new queue worker.
// eventPublisher may be nil (streaming disabled).
func NewWorker(id, podID string, st *store.Store, cfg *config.QueueConfig, executor SessionExecutor, pool SessionRegistry, eventPublisher agent.EventPublisher) *Worker {
	return &Worker{
		id:              id,
		podID:           podID,
		store:           st,
		config:          cfg,
		sessionExecutor: executor,
		eventPublisher:  eventPublisher,
		pool:            pool,
		stopCh:          make(chan struct{}),
		status:          WorkerStatusIdle,
		lastActivity:    time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            string(w.status),
		CurrentSessionID:  w.currentSessionID,
		SessionsProcessed: w.sessionsProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, store.ErrNoSessionsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing session", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a session, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// 1. Check global capacity (best-effort; racy with concurrent workers but
	//    bounded by WorkerCount and mitigated by poll jitter).
	activeCount, err := w.store.CountSessionsByStatus(ctx, models.SessionStatusInProgress)
	if err != nil {
		return fmt.Errorf("checking active sessions: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentSessions {
		return ErrAtCapacity
	}

	// 2. Claim next session
	session, err := w.store.ClaimNextPendingSession(ctx, w.podID)
	if err != nil {
		return err
	}

	log := slog.With("session_id", session.ID, "worker_id", w.id)
	log.Info("Session claimed")

	// Publish session status "in_progress" to both session and global channels
	w.publishSessionStatus(ctx, session.ID, models.SessionStatusInProgress)

	w.setStatus(WorkerStatusWorking, session.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	// 3. Create session context with timeout
	sessionCtx, cancelSession := context.WithTimeout(ctx, w.config.SessionTimeout)
	defer cancelSession()

	// 4. Register cancel function for API-triggered cancellation
	w.pool.RegisterSession(session.ID, cancelSession)
	defer w.pool.UnregisterSession(session.ID)

	// 5. Start heartbeat
	heartbeatCtx, cancelHeartbeat := context.WithCancel(sessionCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, session.ID)

	// 6. Execute session. The executor (pkg/chain) persists terminal status
	// itself as part of Execute; a non-nil error here means it couldn't even
	// do that, so we synthesize and persist a fallback status ourselves.
	result, execErr := w.sessionExecutor.Execute(sessionCtx, session)
	if result == nil {
		result = w.synthesizeResult(sessionCtx, execErr)
		if err := w.updateSessionTerminalStatus(context.Background(), session.ID, result); err != nil {
			log.Error("Failed to update session terminal status", "error", err)
			return err
		}
		w.publishSessionStatus(context.Background(), session.ID, result.Status)
	}

	// 7. Stop heartbeat
	cancelHeartbeat()

	// 8. Cleanup transient events after grace period (60s) to allow clients
	// to receive final events before they are deleted. Paused sessions keep
	// theirs — a resume continues the same event stream.
	if result.Status != models.SessionStatusPaused {
		w.scheduleEventCleanup(session.ID)
	}

	w.mu.Lock()
	w.sessionsProcessed++
	w.mu.Unlock()

	log.Info("Session processing complete", "status", result.Status)
	return nil
}

// synthesizeResult builds a fallback terminal result when the executor
// returns no result at all (context expiry or an infrastructure fault
// severe enough that it couldn't write one itself).
func (w *Worker) synthesizeResult(sessionCtx context.Context, execErr error) *ExecutionResult {
	switch {
	case errors.Is(sessionCtx.Err(), context.DeadlineExceeded):
		return &ExecutionResult{
			Status: models.SessionStatusFailed,
			Error:  fmt.Errorf("session timed out after %v", w.config.SessionTimeout),
		}
	case errors.Is(sessionCtx.Err(), context.Canceled):
		return &ExecutionResult{
			Status: models.SessionStatusCancelled,
			Error:  context.Canceled,
		}
	default:
		return &ExecutionResult{
			Status: models.SessionStatusFailed,
			Error:  fmt.Errorf("executor returned no result: %w", execErr),
		}
	}
}

// runHeartbeat periodically updates last_interaction_at for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, sessionID); err != nil {
				slog.Warn("Heartbeat update failed", "session_id", sessionID, "error", err)
			}
		}
	}
}

// updateSessionTerminalStatus writes a synthesized final session status for
// the rare case the executor returned early without persisting one itself.
func (w *Worker) updateSessionTerminalStatus(ctx context.Context, sessionID string, result *ExecutionResult) error {
	var errMsg, finalAnalysis, execSummary *string
	if result.Error != nil {
		msg := result.Error.Error()
		errMsg = &msg
	}
	if result.FinalAnalysis != "" {
		finalAnalysis = &result.FinalAnalysis
	}
	if result.ExecutiveSummary != "" {
		execSummary = &result.ExecutiveSummary
	}
	return w.store.UpdateSessionStatus(ctx, sessionID, result.Status, errMsg, finalAnalysis, execSummary, nil)
}

// publishSessionStatus publishes a session status event to both the session-specific
// and global channels for real-time WebSocket delivery. Non-blocking: errors are logged.
func (w *Worker) publishSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) {
	if w.eventPublisher == nil {
		return
	}
	if err := w.eventPublisher.PublishSessionStatus(ctx, sessionID, events.SessionStatusPayload{
		BasePayload: events.BasePayload{
			Type:      events.EventTypeSessionStatus,
			SessionID: sessionID,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		},
		Status: string(status),
	}); err != nil {
		slog.Warn("Failed to publish session status",
			"session_id", sessionID, "status", status, "error", err)
	}
}

// scheduleEventCleanup schedules deletion of transient events after a 60-second
// grace period, allowing WebSocket clients to receive final events.
func (w *Worker) scheduleEventCleanup(sessionID string) {
	time.AfterFunc(60*time.Second, func() {
		if _, err := w.store.DeleteEventsForSession(context.Background(), sessionID); err != nil {
			slog.Warn("Failed to cleanup session events after grace period",
				"session_id", sessionID, "error", err)
		}
	})
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSessionID = sessionID
	w.lastActivity = time.Now()
}
