package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	detail, err := s.sessionService.GetSessionDetail(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, detail)
}

// listSessionsHandler handles GET /api/v1/sessions.
//
// Supports status/alert_type/chain_id/author filtering and limit/offset
// pagination. Results are always ordered created_at DESC.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	filters := models.SessionFilters{
		Status:    c.QueryParam("status"),
		AlertType: c.QueryParam("alert_type"),
		ChainID:   c.QueryParam("chain_id"),
		Author:    c.QueryParam("author"),
		Limit:     50,
	}

	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a positive integer up to 200")
		}
		filters.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset: must be a non-negative integer")
		}
		filters.Offset = n
	}

	result, err := s.sessionService.ListSessionsForDashboard(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// activeSessionsHandler handles GET /api/v1/sessions/active.
func (s *Server) activeSessionsHandler(c *echo.Context) error {
	result, err := s.sessionService.GetActiveSessions(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// sessionSummaryHandler handles GET /api/v1/sessions/:id/summary.
func (s *Server) sessionSummaryHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	summary, err := s.sessionService.GetSessionSummary(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, summary)
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	// Try to cancel the investigation (DB status → cancelled).
	sessionErr := s.sessionService.CancelSession(c.Request().Context(), sessionID)

	// Always try to cancel on this pod via worker pool, regardless of DB result.
	if s.workerPool != nil {
		s.workerPool.CancelSession(sessionID)
	}

	if sessionErr != nil {
		return mapServiceError(sessionErr)
	}

	return c.JSON(http.StatusOK, &CancelResponse{
		SessionID: sessionID,
		Message:   "Session cancellation requested",
	})
}

// pauseSessionHandler handles POST /api/v1/sessions/:id/pause. The pause
// lands at the next iteration boundary, not immediately.
func (s *Server) pauseSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.sessionService.RequestPause(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &PauseResponse{
		SessionID: sessionID,
		Message:   "Session pause requested; it suspends at the next iteration boundary",
	})
}

// resumeSessionHandler handles POST /api/v1/sessions/:id/resume.
func (s *Server) resumeSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.sessionService.ResumeSession(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &ResumeResponse{
		SessionID: sessionID,
		Message:   "Session re-queued; a worker will resume the paused stage",
	})
}
