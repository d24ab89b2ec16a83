package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the usual ~4-characters-per-token heuristic for English
// text. Close enough for thresholds; an exact count would drag in a
// tokenizer dependency to guard what is only a soft limit anyway.
const charsPerToken = 4

// DefaultStorageMaxTokens caps tool output persisted for display, keeping
// the dashboard from rendering megabyte text blobs.
const DefaultStorageMaxTokens = 8000

// DefaultSummarizationMaxTokens caps the tool output handed to the
// summarization LLM, so prompt plus payload stay inside the context window.
const DefaultSummarizationMaxTokens = 100000

// EstimateTokens approximates the token count of text, rounding up.
// len() counts bytes, so multi-byte UTF-8 (CJK, emoji) overestimates — the
// safe direction, since it only makes summarization trigger a bit early.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TruncateForStorage bounds raw tool output before it lands in
// llm_tool_call completions and MCP interaction records. Applied to every
// raw result whether or not summarization triggers.
func TruncateForStorage(content string) string {
	return truncateAtLineBoundary(content, DefaultStorageMaxTokens*charsPerToken,
		"Output exceeded storage display limit")
}

// TruncateForSummarization bounds tool output before the summarization LLM
// sees it — a much larger limit than storage, to give the summarizer as
// much of the data as the context window allows.
func TruncateForSummarization(content string) string {
	return truncateAtLineBoundary(content, DefaultSummarizationMaxTokens*charsPerToken,
		"Output exceeded summarization input limit")
}

// truncateAtLineBoundary cuts content to maxChars (bytes, consistent with
// EstimateTokens), backing up first off any split multi-byte rune and then
// to the last newline so indented JSON/YAML/log output keeps whole lines.
// A marker noting the original and limit sizes is appended.
func truncateAtLineBoundary(content string, maxChars int, marker string) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}

	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	kept := content[:cut]
	if idx := strings.LastIndex(kept, "\n"); idx > 0 {
		kept = kept[:idx]
	}

	return kept + fmt.Sprintf(
		"\n\n[TRUNCATED: %s — Original size: %s, limit: %s]",
		marker, formatSize(len(content)), formatSize(maxChars),
	)
}

// formatSize renders a byte count for the truncation marker, staying in
// bytes below 1KB so small content never reads as "0KB".
func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}
