package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/masking"
	"github.com/tarsy-io/tarsy/pkg/models"
	"github.com/tarsy-io/tarsy/pkg/store"
)

// SubmitAlertInput contains the domain-level data needed to create a session.
// Transformed from the HTTP request + headers by the handler.
type SubmitAlertInput struct {
	AlertType string
	Runbook   string
	Data      string                     // Alert payload (opaque text, may be masked before storage)
	MCP       *models.MCPSelectionConfig // MCP selection config (optional)
	Author    string                     // From oauth2-proxy headers
}

// AlertService handles alert submission and session creation.
type AlertService struct {
	store          *store.Store
	chainRegistry  *config.ChainRegistry
	defaults       *config.Defaults
	maskingService *masking.MaskingService // Optional — nil means no masking
}

// NewAlertService creates a new AlertService. maskingService may be nil
// (masking disabled).
func NewAlertService(st *store.Store, chainRegistry *config.ChainRegistry, defaults *config.Defaults, maskingService *masking.MaskingService) *AlertService {
	if st == nil {
		panic("NewAlertService: store must not be nil")
	}
	if chainRegistry == nil {
		panic("NewAlertService: chainRegistry must not be nil")
	}
	if defaults == nil {
		panic("NewAlertService: defaults must not be nil")
	}
	return &AlertService{
		store:          st,
		chainRegistry:  chainRegistry,
		defaults:       defaults,
		maskingService: maskingService,
	}
}

// SubmitAlert creates a new session from an alert submission. The session
// starts in "pending" status and is picked up by the worker pool. When an
// active session already carries the same duplicate-detection fingerprint
// (same alert type + canonicalized payload), the existing session is
// returned with duplicate=true instead of creating a second attempt.
func (s *AlertService) SubmitAlert(ctx context.Context, input SubmitAlertInput) (*models.AlertSession, bool, error) {
	if input.Data == "" {
		return nil, false, NewValidationError("data", "alert data is required")
	}

	alertType := input.AlertType
	if alertType == "" {
		alertType = s.defaults.AlertType
	}

	chainID, err := s.chainRegistry.GetIDByAlertType(alertType)
	if err != nil {
		return nil, false, NewValidationError("alert_type", fmt.Sprintf("no chain found for alert type '%s'", alertType))
	}

	alertData := input.Data
	if s.maskingService != nil {
		alertData = s.maskingService.MaskAlertData(alertData)
	}

	req := models.CreateSessionRequest{
		SessionID:    uuid.New().String(),
		AlertData:    alertData,
		AgentType:    alertType,
		AlertType:    alertType,
		ChainID:      chainID,
		Author:       input.Author,
		RunbookURL:   input.Runbook,
		MCP:          input.MCP,
		DuplicateKey: duplicateKey(alertType, input.Data),
	}

	session, err := s.store.CreateSession(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSession) {
			existing, lookupErr := s.store.GetActiveSessionByDuplicateKey(ctx, req.DuplicateKey)
			if lookupErr == nil {
				return existing, true, nil
			}
			// The in-flight twin finished between check and lookup; surface
			// the original conflict rather than the lookup error.
		}
		return nil, false, translateStoreErr(err)
	}
	return session, false, nil
}

// duplicateKey computes the stable fingerprint used to detect two concurrent
// in-flight sessions for identical input: a sha256 hash of stable canonical
// JSON of the alert payload (keys sorted) concatenated with the alert type.
// Falls back to hashing the raw payload bytes when the data isn't valid JSON.
func duplicateKey(alertType, data string) string {
	canonical := canonicalizeJSON(data)
	h := sha256.New()
	h.Write([]byte(canonical))
	h.Write([]byte(alertType))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalizeJSON parses data as arbitrary JSON and re-marshals it with map
// keys sorted and whitespace normalized (json.Marshal already does both for
// Go maps), so that field reordering or formatting differences don't change
// the fingerprint. Non-JSON payloads are returned unchanged.
func canonicalizeJSON(data string) string {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return data
	}
	canonical, err := json.Marshal(canonicalizeValue(v))
	if err != nil {
		return data
	}
	return string(canonical)
}

// canonicalizeValue recursively normalizes nested maps/slices so that
// json.Marshal's sorted-key behavior applies at every level, not just the
// top one.
func canonicalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = canonicalizeValue(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalizeValue(item)
		}
		return out
	default:
		return val
	}
}
