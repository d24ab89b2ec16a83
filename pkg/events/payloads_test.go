package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-io/tarsy/pkg/models"
)

func TestTimelineCreatedPayload(t *testing.T) {
	t.Run("creates timeline created payload with all fields", func(t *testing.T) {
		payload := TimelineCreatedPayload{
			BasePayload: BasePayload{
				Type:      EventTypeTimelineCreated,
				SessionID: "session-abc",
				Timestamp: time.Now().Format(time.RFC3339Nano),
			},
			EventID:        "event-123",
			StageID:        "stage-1",
			ExecutionID:    "exec-1",
			EventType:      models.TimelineEventTypeLLMThinking,
			Status:         models.TimelineStatusStreaming,
			Content:        "Analyzing the alert...",
			Metadata:       map[string]any{"source": "native"},
			SequenceNumber: 5,
		}

		assert.Equal(t, EventTypeTimelineCreated, payload.Type)
		assert.Equal(t, "event-123", payload.EventID)
		assert.Equal(t, "session-abc", payload.SessionID)
		assert.Equal(t, "stage-1", payload.StageID)
		assert.Equal(t, "exec-1", payload.ExecutionID)
		assert.Equal(t, models.TimelineEventTypeLLMThinking, payload.EventType)
		assert.Equal(t, models.TimelineStatusStreaming, payload.Status)
		assert.Equal(t, "Analyzing the alert...", payload.Content)
		assert.Equal(t, 5, payload.SequenceNumber)
		assert.NotEmpty(t, payload.Timestamp)
		require.NotNil(t, payload.Metadata)
		assert.Equal(t, "native", payload.Metadata["source"])
	})

	t.Run("creates session-level timeline event without stage and execution", func(t *testing.T) {
		payload := TimelineCreatedPayload{
			BasePayload: BasePayload{
				Type:      EventTypeTimelineCreated,
				SessionID: "session-xyz",
				Timestamp: time.Now().Format(time.RFC3339Nano),
			},
			EventID:        "event-456",
			EventType:      models.TimelineEventTypeExecutiveSummary,
			Status:         models.TimelineStatusCompleted,
			Content:        "Executive summary content",
			SequenceNumber: 100,
		}

		assert.Equal(t, "session-xyz", payload.SessionID)
		assert.Empty(t, payload.StageID, "session-level event should have empty stage_id")
		assert.Empty(t, payload.ExecutionID, "session-level event should have empty execution_id")
		assert.Equal(t, models.TimelineEventTypeExecutiveSummary, payload.EventType)
	})

	t.Run("handles empty content for streaming events", func(t *testing.T) {
		payload := TimelineCreatedPayload{
			BasePayload: BasePayload{
				Type:      EventTypeTimelineCreated,
				SessionID: "session-123",
				Timestamp: time.Now().Format(time.RFC3339Nano),
			},
			EventID:        "event-789",
			StageID:        "stage-2",
			ExecutionID:    "exec-2",
			EventType:      models.TimelineEventTypeLLMResponse,
			Status:         models.TimelineStatusStreaming,
			Content:        "", // Empty content is allowed for streaming
			SequenceNumber: 1,
		}

		assert.Empty(t, payload.Content)
		assert.Equal(t, models.TimelineStatusStreaming, payload.Status)
	})

	t.Run("supports various event types", func(t *testing.T) {
		eventTypes := []string{
			models.TimelineEventTypeLLMThinking,
			models.TimelineEventTypeLLMResponse,
			models.TimelineEventTypeLLMToolCall,
			models.TimelineEventTypeMCPToolSummary,
			models.TimelineEventTypeCodeExecution,
			models.TimelineEventTypeGoogleSearchResult,
			models.TimelineEventTypeURLContextResult,
			models.TimelineEventTypeExecutiveSummary,
		}

		for _, eventType := range eventTypes {
			payload := TimelineCreatedPayload{
				BasePayload: BasePayload{
					Type:      EventTypeTimelineCreated,
					SessionID: "session-id",
					Timestamp: time.Now().Format(time.RFC3339Nano),
				},
				EventID:        "event-id",
				EventType:      eventType,
				Status:         models.TimelineStatusCompleted,
				Content:        "test content",
				SequenceNumber: 1,
			}

			assert.Equal(t, eventType, payload.EventType)
		}
	})

	t.Run("supports all status types", func(t *testing.T) {
		statuses := []string{
			models.TimelineStatusStreaming,
			models.TimelineStatusCompleted,
			models.TimelineStatusFailed,
			models.TimelineStatusCancelled,
			models.TimelineStatusTimedOut,
		}

		for _, status := range statuses {
			payload := TimelineCreatedPayload{
				BasePayload: BasePayload{
					Type:      EventTypeTimelineCreated,
					SessionID: "session-id",
					Timestamp: time.Now().Format(time.RFC3339Nano),
				},
				EventID:        "event-id",
				EventType:      models.TimelineEventTypeLLMResponse,
				Status:         status,
				Content:        "content",
				SequenceNumber: 1,
			}

			assert.Equal(t, status, payload.Status)
		}
	})

	t.Run("metadata is optional", func(t *testing.T) {
		payload := TimelineCreatedPayload{
			BasePayload: BasePayload{
				Type:      EventTypeTimelineCreated,
				SessionID: "session-id",
				Timestamp: time.Now().Format(time.RFC3339Nano),
			},
			EventID:        "event-id",
			EventType:      models.TimelineEventTypeLLMResponse,
			Status:         models.TimelineStatusCompleted,
			Content:        "content",
			SequenceNumber: 1,
			Metadata:       nil,
		}

		assert.Nil(t, payload.Metadata)
	})
}

func TestTimelineCompletedPayload(t *testing.T) {
	t.Run("creates timeline completed payload", func(t *testing.T) {
		payload := TimelineCompletedPayload{
			BasePayload: BasePayload{Type: EventTypeTimelineCompleted, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "event-123",
			Content:     "Final analysis complete",
			Status:      models.TimelineStatusCompleted,
			Metadata:    map[string]any{"duration_ms": 1500},
		}

		assert.Equal(t, EventTypeTimelineCompleted, payload.Type)
		assert.Equal(t, "event-123", payload.EventID)
		assert.Equal(t, "Final analysis complete", payload.Content)
		assert.Equal(t, models.TimelineStatusCompleted, payload.Status)
		assert.NotEmpty(t, payload.Timestamp)
		require.NotNil(t, payload.Metadata)
		assert.Equal(t, 1500, payload.Metadata["duration_ms"])
	})

	t.Run("supports failed status", func(t *testing.T) {
		payload := TimelineCompletedPayload{
			BasePayload: BasePayload{Type: EventTypeTimelineCompleted, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "event-456",
			Content:     "Streaming failed: rate limit exceeded",
			Status:      models.TimelineStatusFailed,
		}

		assert.Equal(t, models.TimelineStatusFailed, payload.Status)
		assert.Contains(t, payload.Content, "rate limit exceeded")
	})

	t.Run("supports cancelled status", func(t *testing.T) {
		payload := TimelineCompletedPayload{
			BasePayload: BasePayload{Type: EventTypeTimelineCompleted, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "event-789",
			Content:     "Operation cancelled",
			Status:      models.TimelineStatusCancelled,
		}

		assert.Equal(t, models.TimelineStatusCancelled, payload.Status)
	})

	t.Run("supports timed out status", func(t *testing.T) {
		payload := TimelineCompletedPayload{
			BasePayload: BasePayload{Type: EventTypeTimelineCompleted, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "event-abc",
			Content:     "Operation timed out",
			Status:      models.TimelineStatusTimedOut,
		}

		assert.Equal(t, models.TimelineStatusTimedOut, payload.Status)
	})

	t.Run("metadata is optional", func(t *testing.T) {
		payload := TimelineCompletedPayload{
			BasePayload: BasePayload{Type: EventTypeTimelineCompleted, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "event-def",
			Content:     "Completed",
			Status:      models.TimelineStatusCompleted,
		}

		assert.Nil(t, payload.Metadata)
	})

	t.Run("tool call completion with is_error metadata", func(t *testing.T) {
		payload := TimelineCompletedPayload{
			BasePayload: BasePayload{Type: EventTypeTimelineCompleted, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "tool-event-123",
			Content:     "Tool execution failed: not found",
			Status:      models.TimelineStatusCompleted,
			Metadata:    map[string]any{"is_error": true},
		}

		require.NotNil(t, payload.Metadata)
		assert.Equal(t, true, payload.Metadata["is_error"])
	})
}

func TestStreamChunkPayload(t *testing.T) {
	t.Run("creates stream chunk payload", func(t *testing.T) {
		payload := StreamChunkPayload{
			BasePayload: BasePayload{Type: EventTypeStreamChunk, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "event-123",
			Delta:       "The analysis shows ",
		}

		assert.Equal(t, EventTypeStreamChunk, payload.Type)
		assert.Equal(t, "event-123", payload.EventID)
		assert.Equal(t, "The analysis shows ", payload.Delta)
		assert.NotEmpty(t, payload.Timestamp)
	})

	t.Run("delta contains incremental content only", func(t *testing.T) {
		chunks := []string{"The ", "answer ", "is ", "42."}

		var payloads []StreamChunkPayload
		for _, delta := range chunks {
			payloads = append(payloads, StreamChunkPayload{
				BasePayload: BasePayload{Type: EventTypeStreamChunk, Timestamp: time.Now().Format(time.RFC3339Nano)},
				EventID:     "event-456",
				Delta:       delta,
			})
		}

		assert.Len(t, payloads, 4)
		assert.Equal(t, "The ", payloads[0].Delta)
		assert.Equal(t, "answer ", payloads[1].Delta)
		assert.Equal(t, "is ", payloads[2].Delta)
		assert.Equal(t, "42.", payloads[3].Delta)
	})

	t.Run("handles empty delta", func(t *testing.T) {
		payload := StreamChunkPayload{
			BasePayload: BasePayload{Type: EventTypeStreamChunk, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "event-abc",
			Delta:       "",
		}

		assert.Empty(t, payload.Delta)
	})

	t.Run("handles multi-line delta", func(t *testing.T) {
		payload := StreamChunkPayload{
			BasePayload: BasePayload{Type: EventTypeStreamChunk, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "event-def",
			Delta:       "Line 1\nLine 2\nLine 3",
		}

		assert.Contains(t, payload.Delta, "\n")
	})
}

func TestSessionStatusPayload(t *testing.T) {
	t.Run("creates session status payload", func(t *testing.T) {
		payload := SessionStatusPayload{
			BasePayload: BasePayload{Type: EventTypeSessionStatus, SessionID: "session-123", Timestamp: time.Now().Format(time.RFC3339Nano)},
			Status:      string(models.SessionStatusInProgress),
		}

		assert.Equal(t, EventTypeSessionStatus, payload.Type)
		assert.Equal(t, "session-123", payload.SessionID)
		assert.Equal(t, string(models.SessionStatusInProgress), payload.Status)
		assert.NotEmpty(t, payload.Timestamp)
	})

	t.Run("supports all session statuses", func(t *testing.T) {
		statuses := []models.SessionStatus{
			models.SessionStatusPending,
			models.SessionStatusInProgress,
			models.SessionStatusPaused,
			models.SessionStatusCompleted,
			models.SessionStatusFailed,
			models.SessionStatusCancelled,
		}

		for _, status := range statuses {
			payload := SessionStatusPayload{
				BasePayload: BasePayload{Type: EventTypeSessionStatus, SessionID: "session-456", Timestamp: time.Now().Format(time.RFC3339Nano)},
				Status:      string(status),
			}

			assert.Equal(t, string(status), payload.Status)
		}
	})
}

func TestStageStatusPayload(t *testing.T) {
	t.Run("creates stage status payload with all fields", func(t *testing.T) {
		payload := StageStatusPayload{
			BasePayload: BasePayload{Type: EventTypeStageStatus, SessionID: "session-123", Timestamp: time.Now().Format(time.RFC3339Nano)},
			StageID:     "stage-456",
			StageName:   "Deep Dive",
			StageIndex:  2,
			Status:      StageStatusCompleted,
		}

		assert.Equal(t, EventTypeStageStatus, payload.Type)
		assert.Equal(t, "session-123", payload.SessionID)
		assert.Equal(t, "stage-456", payload.StageID)
		assert.Equal(t, "Deep Dive", payload.StageName)
		assert.Equal(t, 2, payload.StageIndex)
		assert.Equal(t, StageStatusCompleted, payload.Status)
		assert.NotEmpty(t, payload.Timestamp)
	})

	t.Run("stage started event may have empty stage_id", func(t *testing.T) {
		payload := StageStatusPayload{
			BasePayload: BasePayload{Type: EventTypeStageStatus, SessionID: "session-789", Timestamp: time.Now().Format(time.RFC3339Nano)},
			StageID:     "", // Empty on "started" before stage creation
			StageName:   "Initial Analysis",
			StageIndex:  1,
			Status:      StageStatusStarted,
		}

		assert.Empty(t, payload.StageID)
		assert.Equal(t, StageStatusStarted, payload.Status)
	})

	t.Run("supports various stage statuses", func(t *testing.T) {
		statuses := []string{
			StageStatusStarted,
			StageStatusCompleted,
			StageStatusFailed,
			StageStatusTimedOut,
			StageStatusCancelled,
		}

		for _, status := range statuses {
			payload := StageStatusPayload{
				BasePayload: BasePayload{Type: EventTypeStageStatus, SessionID: "session-abc", Timestamp: time.Now().Format(time.RFC3339Nano)},
				StageID:     "stage-def",
				StageName:   "Test Stage",
				StageIndex:  1,
				Status:      status,
			}

			assert.Equal(t, status, payload.Status)
		}
	})

	t.Run("multi-stage session with sequential indices", func(t *testing.T) {
		stages := []StageStatusPayload{
			{
				BasePayload: BasePayload{Type: EventTypeStageStatus, SessionID: "session-multi", Timestamp: time.Now().Format(time.RFC3339Nano)},
				StageID:     "stage-1",
				StageName:   "Initial Analysis",
				StageIndex:  1,
				Status:      StageStatusCompleted,
			},
			{
				BasePayload: BasePayload{Type: EventTypeStageStatus, SessionID: "session-multi", Timestamp: time.Now().Format(time.RFC3339Nano)},
				StageID:     "stage-2",
				StageName:   "Deep Dive",
				StageIndex:  2,
				Status:      StageStatusStarted,
			},
		}

		assert.Equal(t, 1, stages[0].StageIndex)
		assert.Equal(t, 2, stages[1].StageIndex)
		assert.Equal(t, "session-multi", stages[0].SessionID)
		assert.Equal(t, "session-multi", stages[1].SessionID)
	})
}

func TestPayloadTypes(t *testing.T) {
	t.Run("all payload types have correct type field", func(t *testing.T) {
		timelineCreated := TimelineCreatedPayload{
			BasePayload:    BasePayload{Type: EventTypeTimelineCreated, SessionID: "s1", Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:        "e1",
			EventType:      models.TimelineEventTypeLLMResponse,
			Status:         models.TimelineStatusCompleted,
			Content:        "content",
			SequenceNumber: 1,
		}
		assert.Equal(t, EventTypeTimelineCreated, timelineCreated.Type)

		timelineCompleted := TimelineCompletedPayload{
			BasePayload: BasePayload{Type: EventTypeTimelineCompleted, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "e2",
			Content:     "content",
			Status:      models.TimelineStatusCompleted,
		}
		assert.Equal(t, EventTypeTimelineCompleted, timelineCompleted.Type)

		streamChunk := StreamChunkPayload{
			BasePayload: BasePayload{Type: EventTypeStreamChunk, Timestamp: time.Now().Format(time.RFC3339Nano)},
			EventID:     "e3",
			Delta:       "delta",
		}
		assert.Equal(t, EventTypeStreamChunk, streamChunk.Type)

		sessionStatus := SessionStatusPayload{
			BasePayload: BasePayload{Type: EventTypeSessionStatus, SessionID: "s1", Timestamp: time.Now().Format(time.RFC3339Nano)},
			Status:      string(models.SessionStatusInProgress),
		}
		assert.Equal(t, EventTypeSessionStatus, sessionStatus.Type)

		stageStatus := StageStatusPayload{
			BasePayload: BasePayload{Type: EventTypeStageStatus, SessionID: "s1", Timestamp: time.Now().Format(time.RFC3339Nano)},
			StageID:     "st1",
			StageName:   "Stage",
			StageIndex:  1,
			Status:      StageStatusStarted,
		}
		assert.Equal(t, EventTypeStageStatus, stageStatus.Type)
	})
}
