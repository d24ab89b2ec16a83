package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"
)

// handleListRunbooks handles GET /api/v1/runbooks: the markdown files of
// the configured runbook repository. Fail-open — an unconfigured service
// or a listing error both answer with an empty array, since the listing is
// a dashboard convenience, not a processing dependency.
func (s *Server) handleListRunbooks(c *echo.Context) error {
	if s.runbookService == nil {
		return c.JSON(http.StatusOK, []string{})
	}

	runbooks, err := s.runbookService.ListRunbooks(c.Request().Context())
	if err != nil {
		slog.Warn("Failed to list runbooks", "error", err)
		return c.JSON(http.StatusOK, []string{})
	}

	return c.JSON(http.StatusOK, runbooks)
}
