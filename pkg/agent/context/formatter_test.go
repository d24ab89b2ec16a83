package context

import (
	"testing"

	"github.com/tarsy-io/tarsy/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestSimpleContextFormatter_Format(t *testing.T) {
	formatter := NewSimpleContextFormatter()

	t.Run("empty events", func(t *testing.T) {
		t.Run("nil slice", func(t *testing.T) {
			result := formatter.Format(nil)
			assert.Equal(t, "", result)
		})

		t.Run("empty non-nil slice", func(t *testing.T) {
			result := formatter.Format([]*models.TimelineEvent{})
			assert.Equal(t, "", result)
		})
	})

	t.Run("formats events with type labels", func(t *testing.T) {
		events := []*models.TimelineEvent{
			{EventType: models.TimelineEventTypeFinalAnalysis, Content: "Pod crash analysis"},
		}
		result := formatter.Format(events)
		assert.Contains(t, result, "<!-- STAGE_CONTEXT_START -->")
		assert.Contains(t, result, "### Analysis")
		assert.Contains(t, result, "Pod crash analysis")
		assert.Contains(t, result, "<!-- STAGE_CONTEXT_END -->")
	})

	t.Run("handles multiple events", func(t *testing.T) {
		events := []*models.TimelineEvent{
			{EventType: models.TimelineEventTypeLLMThinking, Content: "thinking..."},
			{EventType: models.TimelineEventTypeFinalAnalysis, Content: "result"},
		}
		result := formatter.Format(events)
		assert.Contains(t, result, "### LLM Thinking")
		assert.Contains(t, result, "### Analysis")
	})
}
