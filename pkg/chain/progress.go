package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/tarsy-io/tarsy/pkg/events"
)

func basePayload(eventType, sessionID string) events.BasePayload {
	return events.BasePayload{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}

// Event publishing is best-effort: a delivery failure here must never abort
// chain execution, since the stage/session status is already durable in the
// store by the time these are called.

func (e *Executor) publishSessionStatus(ctx context.Context, sessionID, status string) {
	if e.eventPub == nil {
		return
	}
	if err := e.eventPub.PublishSessionStatus(ctx, sessionID, events.SessionStatusPayload{BasePayload: basePayload(events.EventTypeSessionStatus, sessionID), Status: status}); err != nil {
		slog.Warn("failed to publish session status", "session_id", sessionID, "error", err)
	}
}

func (e *Executor) publishStageStatus(ctx context.Context, sessionID, stageID, stageName string, stageIndex int, status string) {
	if e.eventPub == nil {
		return
	}
	if err := e.eventPub.PublishStageStatus(ctx, sessionID, events.StageStatusPayload{
		BasePayload: basePayload(events.EventTypeStageStatus, sessionID),
		StageID:    stageID,
		StageName:  stageName,
		StageIndex: stageIndex,
		Status:     status,
	}); err != nil {
		slog.Warn("failed to publish stage status", "session_id", sessionID, "stage_id", stageID, "error", err)
	}
}

func (e *Executor) publishExecutionProgress(ctx context.Context, sessionID, stageID, executionID, phase, message string) {
	if e.eventPub == nil {
		return
	}
	if err := e.eventPub.PublishExecutionProgress(ctx, sessionID, events.ExecutionProgressPayload{
		BasePayload: basePayload(events.EventTypeExecutionProgress, sessionID),
		StageID:     stageID,
		ExecutionID: executionID,
		Phase:       phase,
		Message:     message,
	}); err != nil {
		slog.Warn("failed to publish execution progress", "session_id", sessionID, "execution_id", executionID, "error", err)
	}
}

func (e *Executor) publishSessionProgress(ctx context.Context, sessionID, stageName string, stageIndex, totalStages, activeExecutions int) {
	if e.eventPub == nil {
		return
	}
	if err := e.eventPub.PublishSessionProgress(ctx, events.SessionProgressPayload{
		BasePayload:       basePayload(events.EventTypeSessionProgress, sessionID),
		CurrentStageName:  stageName,
		CurrentStageIndex: stageIndex,
		TotalStages:       totalStages,
		ActiveExecutions:  activeExecutions,
		StatusText:        "in_progress",
	}); err != nil {
		slog.Warn("failed to publish session progress", "session_id", sessionID, "error", err)
	}
}
