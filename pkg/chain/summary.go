package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/events"
	"github.com/tarsy-io/tarsy/pkg/models"
)

// executiveSummarySeqNum is a sentinel sequence number ensuring the executive
// summary timeline event sorts after all stage events.
const executiveSummarySeqNum = 999_999

// generateExecutiveSummary produces the short, human-facing wrap-up shown on
// the dashboard once a chain completes. Unlike stage agents it
// is a single LLM call with no tools and no DB-backed execution row — the
// interaction and timeline event are recorded at the session level.
func (e *Executor) generateExecutiveSummary(ctx context.Context, sessionID string, chain *config.ChainConfig, finalAnalysis string) (string, error) {
	if finalAnalysis == "" {
		return "", nil
	}
	startTime := time.Now()

	providerName := chain.ExecutiveSummaryProvider
	if providerName == "" {
		providerName = chain.LLMProvider
	}
	if providerName == "" {
		providerName = e.cfg.Defaults.LLMProvider
	}
	provider, err := e.cfg.GetLLMProvider(providerName)
	if err != nil {
		return "", fmt.Errorf("executive summary LLM provider %q not found: %w", providerName, err)
	}

	backend := chain.LLMBackend
	if backend == "" {
		backend = e.cfg.Defaults.LLMBackend
	}

	messages := []agent.ConversationMessage{
		{Role: agent.RoleSystem, Content: e.promptBuilder.BuildExecutiveSummarySystemPrompt()},
		{Role: agent.RoleUser, Content: e.promptBuilder.BuildExecutiveSummaryUserPrompt(finalAnalysis)},
	}

	chunks, err := e.llmClient.Generate(ctx, &agent.GenerateInput{
		Messages: messages,
		Config:   provider,
		Backend:  backend,
	})
	if err != nil {
		return "", fmt.Errorf("executive summary generation failed: %w", err)
	}

	var summary string
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			summary += c.Content
		case *agent.ErrorChunk:
			return "", fmt.Errorf("executive summary LLM error: %s", c.Message)
		}
	}
	if summary == "" {
		return "", fmt.Errorf("executive summary LLM returned empty response")
	}

	e.recordExecutiveSummary(ctx, sessionID, provider.Model, messages, summary, startTime)
	return summary, nil
}

// recordExecutiveSummary writes the session-level LLM interaction and
// timeline event for a generated summary. Best-effort — a recording failure
// never discards the summary itself.
func (e *Executor) recordExecutiveSummary(ctx context.Context, sessionID, model string, messages []agent.ConversationMessage, summary string, startTime time.Time) {
	conversation := make([]map[string]string, 0, len(messages)+1)
	for _, m := range messages {
		conversation = append(conversation, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	conversation = append(conversation, map[string]string{"role": string(agent.RoleAssistant), "content": summary})
	durationMs := int(time.Since(startTime).Milliseconds())

	interactionID, err := e.store.CreateLLMInteraction(ctx, models.CreateLLMInteractionRequest{
		SessionID:       sessionID,
		InteractionType: "executive_summary",
		ModelName:       model,
		LLMRequest: map[string]any{
			"messages_count": len(messages),
			"conversation":   conversation,
		},
		LLMResponse: map[string]any{
			"text_length":      len(summary),
			"tool_calls_count": 0,
		},
		DurationMs: &durationMs,
	})
	if err != nil {
		slog.Warn("failed to record executive summary interaction", "session_id", sessionID, "error", err)
	} else if e.eventPub != nil {
		if pubErr := e.eventPub.PublishInteractionCreated(ctx, sessionID, events.InteractionCreatedPayload{
			BasePayload:     events.BasePayload{Type: events.EventTypeInteractionCreated, SessionID: sessionID},
			InteractionID:   interactionID,
			InteractionType: events.InteractionTypeLLM,
		}); pubErr != nil {
			slog.Warn("failed to publish executive summary interaction", "session_id", sessionID, "error", pubErr)
		}
	}

	// Session-level timeline event: no stage, no execution, sentinel sequence
	// so it always sorts last. DB-only — clients read it from the session API
	// response or the timeline endpoint after completion.
	if _, err := e.store.CreateTimelineEvent(ctx, models.CreateTimelineEventRequest{
		SessionID:      sessionID,
		SequenceNumber: executiveSummarySeqNum,
		EventType:      models.TimelineEventTypeExecutiveSummary,
		Status:         models.TimelineStatusCompleted,
		Content:        summary,
	}); err != nil {
		slog.Warn("failed to create executive summary timeline event", "session_id", sessionID, "error", err)
	}
}
