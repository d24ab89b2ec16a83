package events

import (
	"context"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// eventQuerier abstracts the event query method needed by StoreCatchupAdapter.
// Implemented by *store.Store.
type eventQuerier interface {
	GetCatchupEvents(ctx context.Context, channels []string, afterID int64) ([]*models.Event, error)
}

// StoreCatchupAdapter wraps the Interaction Store's event query to
// implement CatchupQuerier, converting its (channels []string, afterID
// int64) signature into the single-channel, int-limited shape the
// ConnectionManager calls.
type StoreCatchupAdapter struct {
	querier eventQuerier
}

// NewStoreCatchupAdapter creates a CatchupQuerier backed by the Interaction Store.
func NewStoreCatchupAdapter(s eventQuerier) *StoreCatchupAdapter {
	return &StoreCatchupAdapter{querier: s}
}

// GetCatchupEvents queries events since sinceID up to limit for the catchup
// mechanism, translating a single channel into the one-element slice the
// store's query expects and truncating its unbounded result to limit.
func (a *StoreCatchupAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := a.querier.GetCatchupEvents(ctx, []string{channel}, int64(sinceID))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	result := make([]CatchupEvent, len(rows))
	for i, evt := range rows {
		result[i] = CatchupEvent{ID: int(evt.ID), Payload: evt.Payload}
	}
	return result, nil
}
