package hooks

import (
	"context"
	"fmt"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// InteractionStore is the subset of *store.Store the history hook needs.
type InteractionStore interface {
	CreateLLMInteraction(ctx context.Context, req models.CreateLLMInteractionRequest) (string, error)
	CreateMCPInteraction(ctx context.Context, req models.CreateMCPInteractionRequest) (string, error)
}

// HistoryHook persists every interaction it sees, truncating oversized
// request/response content first so a single runaway tool result doesn't
// blow out a row.
type HistoryHook struct {
	store           InteractionStore
	truncationBytes int
}

// NewHistoryHook creates a history hook using the default truncation
// threshold (100 KB per string value).
func NewHistoryHook(store InteractionStore) *HistoryHook {
	return &HistoryHook{store: store, truncationBytes: DefaultTruncationThresholdBytes}
}

func (h *HistoryHook) Name() string  { return "history" }
func (h *HistoryHook) Priority() int { return 0 }

func (h *HistoryHook) Handle(ctx context.Context, ix *Interaction) error {
	request, _ := TruncateValue(ix.Request, h.truncationBytes).(map[string]any)
	response, _ := TruncateValue(ix.Response, h.truncationBytes).(map[string]any)

	var errMsg *string
	if ix.Err != nil {
		msg := ix.Err.Error()
		errMsg = &msg
	}
	durationMs := int(ix.DurationMs)

	var (
		id  string
		err error
	)
	switch ix.Type {
	case OperationLLM:
		interactionType := ix.InteractionType
		if interactionType == "" {
			interactionType = "iteration"
		}
		id, err = h.store.CreateLLMInteraction(ctx, models.CreateLLMInteractionRequest{
			SessionID:       ix.SessionID,
			StageID:         stringPtrOrNil(ix.StageID),
			ExecutionID:     stringPtrOrNil(ix.ExecutionID),
			InteractionType: interactionType,
			ModelName:       ix.ModelName,
			LLMRequest:      request,
			LLMResponse:     response,
			DurationMs:      &durationMs,
			ErrorMessage:    errMsg,
		})
	case OperationMCPToolCall, OperationMCPToolList:
		interactionType := ix.InteractionType
		if interactionType == "" {
			interactionType = "tool_call"
			if ix.Type == OperationMCPToolList {
				interactionType = "tool_list"
			}
		}

		var availableTools []any
		if ix.Type == OperationMCPToolList {
			if tools, ok := response["tools"]; ok {
				availableTools, _ = tools.([]any)
				if availableTools == nil {
					if names, ok := tools.([]string); ok {
						availableTools = make([]any, len(names))
						for i, n := range names {
							availableTools[i] = n
						}
					}
				}
			}
		}

		id, err = h.store.CreateMCPInteraction(ctx, models.CreateMCPInteractionRequest{
			SessionID:       ix.SessionID,
			StageID:         ix.StageID,
			ExecutionID:     ix.ExecutionID,
			InteractionType: interactionType,
			ServerName:      ix.ServerName,
			ToolName:        stringPtrOrNil(ix.ToolName),
			ToolArguments:   request,
			ToolResult:      response,
			AvailableTools:  availableTools,
			DurationMs:      &durationMs,
			ErrorMessage:    errMsg,
		})
	default:
		return fmt.Errorf("hooks: unknown operation type %q", ix.Type)
	}
	if err != nil {
		return err
	}
	ix.InteractionID = id
	return nil
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
