package api

import (
	"net/http"
	"sort"

	echo "github.com/labstack/echo/v5"
)

// AlertTypesResponse answers GET /api/v1/alert-types: every registered
// alert type with its owning chain, plus the configured defaults the
// submission form pre-selects.
type AlertTypesResponse struct {
	AlertTypes       []AlertTypeInfo `json:"alert_types"`
	DefaultChainID   string          `json:"default_chain_id"`
	DefaultAlertType string          `json:"default_alert_type"`
}

// AlertTypeInfo is one alert type → chain routing entry.
type AlertTypeInfo struct {
	Type        string `json:"type"`
	ChainID     string `json:"chain_id"`
	Description string `json:"description"`
}

// alertTypesHandler handles GET /api/v1/alert-types.
func (s *Server) alertTypesHandler(c *echo.Context) error {
	chains := s.cfg.ChainRegistry.GetAll()

	defaultAlertType := ""
	if s.cfg.Defaults != nil {
		defaultAlertType = s.cfg.Defaults.AlertType
	}

	// Registry iteration order is random; sort chain ids so the listing is
	// stable across calls.
	chainIDs := make([]string, 0, len(chains))
	for id := range chains {
		chainIDs = append(chainIDs, id)
	}
	sort.Strings(chainIDs)

	alertTypes := []AlertTypeInfo{}
	defaultChainID := ""
	for _, chainID := range chainIDs {
		chain := chains[chainID]
		for _, alertType := range chain.AlertTypes {
			alertTypes = append(alertTypes, AlertTypeInfo{
				Type:        alertType,
				ChainID:     chainID,
				Description: chain.Description,
			})
			if alertType == defaultAlertType {
				defaultChainID = chainID
			}
		}
	}

	// When the configured default matches no alert type, point the form at
	// the first chain rather than nothing.
	if defaultChainID == "" && len(chainIDs) > 0 {
		defaultChainID = chainIDs[0]
	}

	return c.JSON(http.StatusOK, AlertTypesResponse{
		AlertTypes:       alertTypes,
		DefaultChainID:   defaultChainID,
		DefaultAlertType: defaultAlertType,
	})
}
