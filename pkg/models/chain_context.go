package models

import "time"

// ChainContext is the accumulated state threaded through a chain's stages:
// the original alert, each prior stage's output, and the runbook content
// . It is rebuilt from storage on resume so a restarted
// worker can continue a paused chain without re-running completed stages.
type ChainContext struct {
	SessionID      string
	AlertType      string
	AlertData      map[string]any
	RunbookContent string
	StageOutputs   []StageOutput
}

// StageOutput is the result of one completed stage, as seen by later stages.
type StageOutput struct {
	StageName string
	Analysis  string // synthesized analysis when a stage fans out to N agents
}

// AgentExecutionResult is the outcome of one agent's ReAct loop.
type AgentExecutionResult struct {
	AgentName      string
	Status         StageStatus
	Analysis       string
	ErrorMessage   string
	IterationCount int
	PauseMetadata  *PauseMetadata
	DurationMs     int64
}

// ParallelStageResult aggregates the AgentExecutionResults of a parallel
// (multi-agent or replicated) stage, after the stage's SuccessPolicy has
// been applied.
type ParallelStageResult struct {
	StageName    string
	Results      []AgentExecutionResult
	Synthesis    string // combined analysis, present once the stage has a winner/aggregate
	Status       StageStatus
	PauseCount   int
	FailureCount int
	CompletedAt  time.Time
}
