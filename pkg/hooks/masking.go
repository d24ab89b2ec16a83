package hooks

import "context"

// ResultMasker is the subset of *masking.MaskingService the masking hook
// needs. Implemented by *masking.MaskingService.
type ResultMasker interface {
	MaskToolResult(content string, serverID string) string
}

// MaskingHook rewrites an MCP tool result's "result" field before any other
// hook observes it. It is a no-op for LLM interactions and for servers with
// no masking rules configured. Runs before the history/event hooks (lowest
// priority number) so both see the masked payload.
type MaskingHook struct {
	masker ResultMasker
}

// NewMaskingHook creates a masking hook. masker may be nil (masking
// disabled), in which case Handle is a no-op.
func NewMaskingHook(masker ResultMasker) *MaskingHook {
	return &MaskingHook{masker: masker}
}

func (h *MaskingHook) Name() string  { return "masking" }
func (h *MaskingHook) Priority() int { return -10 }

func (h *MaskingHook) Handle(_ context.Context, ix *Interaction) error {
	if h.masker == nil || ix.Type == OperationLLM || ix.ServerName == "" || ix.Response == nil {
		return nil
	}
	content, ok := ix.Response["result"].(string)
	if !ok {
		return nil
	}
	ix.Response["result"] = h.masker.MaskToolResult(content, ix.ServerName)
	return nil
}
