// Package agent holds the per-execution agent framework: the Agent and
// Controller contracts, the resolved configuration an execution runs under,
// and the narrow store/publisher interfaces controllers depend on. One Agent
// value is built per execution and thrown away afterwards; nothing in this
// package is shared between sessions.
package agent

import (
	"context"

	"github.com/tarsy-io/tarsy/pkg/models"
)

// Agent is one investigation run bound to a single agent execution row.
//
// Execute returns (nil, error) only when the run could not even be started
// (e.g. the execution row could not be marked active). Every agent-level
// outcome — completion, failure, timeout, cancellation, pause — comes back
// as a non-nil ExecutionResult with a nil error.
type Agent interface {
	Execute(ctx context.Context, execCtx *ExecutionContext, prevStageContext string) (*ExecutionResult, error)
}

// ExecutionStatus is the lifecycle state of one agent execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusActive    ExecutionStatus = "active"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	// ExecutionStatusPaused means the run suspended at an iteration
	// boundary (iteration cap reached, or an operator asked for a pause)
	// and can be resumed from its persisted conversation.
	ExecutionStatusPaused ExecutionStatus = "paused"
)

// ExecutionResult is what Agent.Execute hands back to the chain executor.
// Intermediate state (messages, timeline events, interactions) was already
// persisted during the run; this carries only the outcome.
type ExecutionResult struct {
	Status        ExecutionStatus
	FinalAnalysis string
	Error         error
	TokensUsed    TokenUsage

	// Iterations is how many iterations the run consumed, cumulative
	// across resumes. Persisted onto the execution row.
	Iterations int

	// Pause is set only when Status is ExecutionStatusPaused: why the run
	// suspended and where a resume should pick back up.
	Pause *models.PauseMetadata
}

// ResumeState carries everything a controller needs to continue a paused
// execution instead of starting fresh: the reloaded conversation, the
// iteration to continue from, and the message/timeline sequence counters so
// new rows don't collide with the ones written before the pause.
type ResumeState struct {
	Messages   []ConversationMessage
	Iteration  int // 0-based; the next LLM call is iteration Iteration+1
	MessageSeq int
	EventSeq   int
}

// TokenUsage aggregates token consumption across a run's LLM calls.
type TokenUsage struct {
	InputTokens    int
	OutputTokens   int
	ThinkingTokens int
	TotalTokens    int
}
