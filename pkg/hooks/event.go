package hooks

import (
	"context"
	"time"

	"github.com/tarsy-io/tarsy/pkg/events"
)

// EventPublisher is the subset of agent.EventPublisher the event hook needs.
type EventPublisher interface {
	PublishInteractionCreated(ctx context.Context, sessionID string, payload events.InteractionCreatedPayload) error
}

// EventHook publishes a trace-view event once an interaction has been
// persisted. Runs after the history hook (higher priority number) since it
// needs the row id the history hook assigns.
type EventHook struct {
	publisher EventPublisher
}

// NewEventHook creates an event hook. publisher may be nil, in which case
// Handle is a no-op (streaming disabled).
func NewEventHook(publisher EventPublisher) *EventHook {
	return &EventHook{publisher: publisher}
}

func (h *EventHook) Name() string  { return "event" }
func (h *EventHook) Priority() int { return 10 }

func (h *EventHook) Handle(ctx context.Context, ix *Interaction) error {
	if h.publisher == nil || ix.InteractionID == "" {
		return nil
	}

	interactionType := events.InteractionTypeMCP
	if ix.Type == OperationLLM {
		interactionType = events.InteractionTypeLLM
	}

	return h.publisher.PublishInteractionCreated(ctx, ix.SessionID, events.InteractionCreatedPayload{
		BasePayload: events.BasePayload{
			Type:      events.EventTypeInteractionCreated,
			SessionID: ix.SessionID,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		},
		StageID:         ix.StageID,
		ExecutionID:     ix.ExecutionID,
		InteractionID:   ix.InteractionID,
		InteractionType: interactionType,
	})
}
