// Package warnings tracks non-fatal operational conditions surfaced to
// operators via the dashboard : a degraded MCP server, a runbook
// fetch failure, a queue running hot. Warnings are transient, in-memory, and
// reset on restart — they describe current pod health, not history.
package warnings

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// Service manages the set of active system warnings. Thread-safe.
type Service struct {
	mu       sync.RWMutex
	warnings map[string]*models.Warning
}

// NewService creates an empty warnings registry.
func NewService() *Service {
	return &Service{
		warnings: make(map[string]*models.Warning),
	}
}

// Add records a warning and returns its ID. A warning already present for the
// same category+serverID is replaced rather than duplicated, so a flapping
// MCP server doesn't accumulate one warning per health check.
func (s *Service) Add(category models.WarningCategory, message, details, serverID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.warnings {
		if w.Category == category && w.ServerID == serverID {
			delete(s.warnings, id)
			break
		}
	}

	id := uuid.New().String()
	s.warnings[id] = &models.Warning{
		ID:        id,
		Category:  category,
		Message:   message,
		Details:   details,
		ServerID:  serverID,
		CreatedAt: time.Now(),
	}
	return id
}

// Warnings returns all active warnings as value copies, safe to read or
// serialize without holding the registry's lock.
func (s *Service) Warnings() []*models.Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Warning, 0, len(s.warnings))
	for _, w := range s.warnings {
		cp := *w
		result = append(result, &cp)
	}
	return result
}

// ClearByServerID removes the warning matching category+serverID, if any.
// Used by the MCP health monitor to retract a warning once a server recovers.
// Reports whether a warning was actually removed.
func (s *Service) ClearByServerID(category models.WarningCategory, serverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.warnings {
		if w.Category == category && w.ServerID == serverID {
			delete(s.warnings, id)
			return true
		}
	}
	return false
}
