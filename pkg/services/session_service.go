package services

import (
	"context"
	"fmt"

	"github.com/tarsy-io/tarsy/pkg/models"
	"github.com/tarsy-io/tarsy/pkg/store"
)

// SessionService exposes session lifecycle and query operations against the
// Interaction Store for the HTTP API (C12 Session Lifecycle Service).
type SessionService struct {
	store *store.Store
}

// NewSessionService creates a new SessionService.
func NewSessionService(st *store.Store) *SessionService {
	if st == nil {
		panic("NewSessionService: store must not be nil")
	}
	return &SessionService{store: st}
}

// GetSessionDetail assembles the full session view: the session row plus
// every stage and, for each stage, its agent executions.
func (s *SessionService) GetSessionDetail(ctx context.Context, sessionID string) (*models.SessionDetail, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreErr(err)
	}

	stages, err := s.store.ListStagesForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}

	detail := &models.SessionDetail{AlertSession: session, Stages: make([]*models.StageDetail, 0, len(stages))}
	for _, stage := range stages {
		executions, err := s.store.ListAgentExecutionsForStage(ctx, stage.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list agent executions for stage %s: %w", stage.ID, err)
		}
		detail.Stages = append(detail.Stages, &models.StageDetail{Stage: stage, AgentExecutions: executions})
	}

	return detail, nil
}

// GetSessionSummary returns the condensed view used by result cards.
func (s *SessionService) GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateStoreErr(err)
	}

	return &models.SessionSummary{
		SessionID:        session.ID,
		Status:           session.Status,
		AlertType:        session.AlertType,
		ChainID:          session.ChainID,
		FinalAnalysis:    session.FinalAnalysis,
		ExecutiveSummary: session.ExecutiveSummary,
		ErrorMessage:     session.ErrorMessage,
		StartedAt:        session.StartedAt,
		CompletedAt:      session.CompletedAt,
	}, nil
}

// ListSessionsForDashboard returns a filtered, paginated page of sessions.
func (s *SessionService) ListSessionsForDashboard(ctx context.Context, f models.SessionFilters) (*models.SessionListResponse, error) {
	return s.store.ListSessions(ctx, f)
}

// GetActiveSessions returns every session currently in_progress or paused,
// newest first, for the dashboard's "active investigations" panel.
func (s *SessionService) GetActiveSessions(ctx context.Context) ([]*models.AlertSession, error) {
	const activeLimit = 500

	inProgress, err := s.store.ListSessions(ctx, models.SessionFilters{Status: string(models.SessionStatusInProgress), Limit: activeLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list in-progress sessions: %w", err)
	}
	paused, err := s.store.ListSessions(ctx, models.SessionFilters{Status: string(models.SessionStatusPaused), Limit: activeLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list paused sessions: %w", err)
	}

	active := make([]*models.AlertSession, 0, len(inProgress.Sessions)+len(paused.Sessions))
	active = append(active, inProgress.Sessions...)
	active = append(active, paused.Sessions...)

	// Both slices already arrive created_at DESC from the store; merge
	// keeping that order rather than re-sorting a mixed key.
	sortByCreatedAtDesc(active)
	return active, nil
}

func sortByCreatedAtDesc(sessions []*models.AlertSession) {
	for i := 1; i < len(sessions); i++ {
		for j := i; j > 0 && sessions[j].CreatedAt.After(sessions[j-1].CreatedAt); j-- {
			sessions[j], sessions[j-1] = sessions[j-1], sessions[j]
		}
	}
}

// CancelSession transitions an in-flight session to cancelled. Sessions that
// already reached a terminal status cannot be cancelled.
func (s *SessionService) CancelSession(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return translateStoreErr(err)
	}
	if session.Status.IsTerminal() {
		return ErrNotCancellable
	}

	return s.store.UpdateSessionStatus(ctx, sessionID, models.SessionStatusCancelled, nil, nil, nil, nil)
}

// RequestPause marks an executing session for suspension. The iteration
// controllers notice the flag at their next iteration boundary and pause
// with a resume pointer; nothing in flight is interrupted.
func (s *SessionService) RequestPause(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return translateStoreErr(err)
	}
	if session.Status != models.SessionStatusInProgress {
		return ErrNotPausable
	}
	if err := s.store.SetPauseRequested(ctx, sessionID); err != nil {
		return translateStoreErr(err)
	}
	return nil
}

// ResumeSession re-queues a paused session as pending so a worker claims it
// and the chain executor continues from the persisted pause pointer.
func (s *SessionService) ResumeSession(ctx context.Context, sessionID string) error {
	resumed, err := s.store.ResumeSession(ctx, sessionID)
	if err != nil {
		return translateStoreErr(err)
	}
	if !resumed {
		// Distinguish "not paused" from "no such session" for the API.
		if _, getErr := s.store.GetSession(ctx, sessionID); getErr != nil {
			return translateStoreErr(getErr)
		}
		return ErrNotResumable
	}
	return nil
}

// GetDistinctAlertTypes returns every alert type seen across sessions, for
// the filter-options endpoint.
func (s *SessionService) GetDistinctAlertTypes(ctx context.Context) ([]string, error) {
	return s.store.GetDistinctAlertTypes(ctx)
}

// GetDistinctChainIDs returns every chain id seen across sessions, for the
// filter-options endpoint.
func (s *SessionService) GetDistinctChainIDs(ctx context.Context) ([]string, error) {
	return s.store.GetDistinctChainIDs(ctx)
}

// translateStoreErr maps store-layer sentinel errors to the services
// package's own, so handlers only need to know about one error vocabulary.
func translateStoreErr(err error) error {
	switch err {
	case store.ErrSessionNotFound, store.ErrStageNotFound, store.ErrExecutionNotFound:
		return ErrNotFound
	case store.ErrDuplicateSession:
		return ErrAlreadyExists
	default:
		return err
	}
}
