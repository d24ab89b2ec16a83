package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// FilterOptionsResponse is returned by GET /api/v1/sessions/filter-options.
type FilterOptionsResponse struct {
	AlertTypes []string `json:"alert_types"`
	ChainIDs   []string `json:"chain_ids"`
	Statuses   []string `json:"statuses"`
}

// filterOptionsHandler handles GET /api/v1/sessions/filter-options.
func (s *Server) filterOptionsHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	alertTypes, err := s.sessionService.GetDistinctAlertTypes(ctx)
	if err != nil {
		return mapServiceError(err)
	}

	chainIDs, err := s.sessionService.GetDistinctChainIDs(ctx)
	if err != nil {
		return mapServiceError(err)
	}

	// Statuses are the static enum values — always return all possible values.
	statuses := []string{
		string(models.SessionStatusPending),
		string(models.SessionStatusInProgress),
		string(models.SessionStatusPaused),
		string(models.SessionStatusCompleted),
		string(models.SessionStatusFailed),
		string(models.SessionStatusCancelled),
	}

	return c.JSON(http.StatusOK, FilterOptionsResponse{
		AlertTypes: alertTypes,
		ChainIDs:   chainIDs,
		Statuses:   statuses,
	})
}
