// Package context renders persisted execution state into the text blocks
// downstream prompts consume: completed-stage summaries for the next stage,
// and full per-agent investigation timelines for synthesis.
package context

import (
	"fmt"
	"strings"
)

// StageResult is one completed stage's contribution to the next stage's
// prompt. Built from the chain loop's in-memory results (or rehydrated from
// the store on resume) — the analysis text is all a later stage needs.
type StageResult struct {
	StageName     string
	FinalAnalysis string
}

// BuildStageContext renders completed stages, in order, into the
// previous-stage context block handed to Agent.Execute. The sentinel
// markers let the prompt builder treat the whole block as opaque.
func BuildStageContext(stages []StageResult) string {
	if len(stages) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<!-- CHAIN_CONTEXT_START -->\n\n")
	for i, stage := range stages {
		fmt.Fprintf(&sb, "### Stage %d: %s\n\n", i+1, stage.StageName)
		if stage.FinalAnalysis != "" {
			sb.WriteString(stage.FinalAnalysis)
		} else {
			sb.WriteString("(No final analysis produced)")
		}
		sb.WriteString("\n\n")
	}
	sb.WriteString("<!-- CHAIN_CONTEXT_END -->")
	return sb.String()
}
