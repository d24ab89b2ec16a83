package api

import (
	"net/http"
	"sort"

	echo "github.com/labstack/echo/v5"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// getTimelineHandler handles GET /api/v1/sessions/:id/timeline. It assembles
// the session's full timeline by concatenating each stage's agent
// executions' events, then sorting by sequence number within an execution
// and by the execution's own start order across stages.
func (s *Server) getTimelineHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	ctx := c.Request().Context()

	stages, err := s.store.ListStagesForSession(ctx, sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	var events []*models.TimelineEvent
	for _, stage := range stages {
		executions, err := s.store.ListAgentExecutionsForStage(ctx, stage.ID)
		if err != nil {
			return mapServiceError(err)
		}
		for _, exec := range executions {
			execEvents, err := s.store.GetAgentTimeline(ctx, exec.ID)
			if err != nil {
				return mapServiceError(err)
			}
			events = append(events, execEvents...)
		}
	}

	sessionEvents, err := s.store.GetSessionLevelTimeline(ctx, sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	events = append(events, sessionEvents...)

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].SequenceNumber < events[j].SequenceNumber
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})

	if events == nil {
		events = []*models.TimelineEvent{}
	}

	return c.JSON(http.StatusOK, events)
}
