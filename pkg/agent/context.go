package agent

import (
	"context"
	"time"

	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/events"
	"github.com/tarsy-io/tarsy/pkg/hooks"
	"github.com/tarsy-io/tarsy/pkg/models"
)

// ExecutionContext carries all dependencies and state needed by an agent
// during execution. Created by the session executor for each agent run.
type ExecutionContext struct {
	// Identity
	SessionID   string
	StageID     string
	ExecutionID string
	AgentName   string
	AgentIndex  int

	// Alert data (pulled from AlertSession by executor).
	// Arbitrary text — not parsed, not assumed to be JSON.
	AlertData string

	// Alert type (from session/chain config)
	AlertType string

	// Runbook content (fetched by executor, passed as text)
	RunbookContent string

	// Configuration (resolved from hierarchy)
	Config *ResolvedAgentConfig

	// Dependencies (injected by executor)
	LLMClient      LLMClient
	ToolExecutor   ToolExecutor
	EventPublisher EventPublisher // Real-time event delivery to WebSocket clients
	Services       *ServiceBundle

	// Hooks records and publishes every LLM/MCP interaction (history +
	// event hooks). nil disables interaction recording, used by tests that
	// don't care about trace data.
	Hooks *hooks.Pipeline

	// Prompt builder (injected by executor, stateless, shared across executions).
	// Implemented by prompt.PromptBuilder; interface avoids agent↔prompt import cycle.
	PromptBuilder PromptBuilder

	// FailedServers maps serverID → error message for MCP servers that
	// failed to initialize. Used by the prompt builder to warn the LLM.
	// nil when all servers initialized successfully.
	FailedServers map[string]string

	// Resume, when non-nil, continues a paused execution from its
	// persisted conversation instead of starting fresh.
	Resume *ResumeState

	// PauseRequested reports whether an operator asked the owning session
	// to pause. Controllers consult it between iterations; nil means pause
	// requests are not monitored (tests, synthesis, executive summary).
	PauseRequested func(ctx context.Context) bool
}

// TimelineStore persists and retrieves ReAct timeline events. Satisfied by
// *store.Store; narrowed here to the operations controllers actually call,
// so tests can supply a lightweight fake instead of a real database.
type TimelineStore interface {
	CreateTimelineEvent(ctx context.Context, req models.CreateTimelineEventRequest) (*models.TimelineEvent, error)
	CompleteTimelineEvent(ctx context.Context, id string, req models.CompleteTimelineEventRequest) error
	FailTimelineEvent(ctx context.Context, id, content string) error
	GetAgentTimeline(ctx context.Context, executionID string) ([]*models.TimelineEvent, error)
	GetMaxSequenceForExecution(ctx context.Context, executionID string) (int, error)
}

// MessageStore persists an agent execution's conversation history.
// Satisfied by *store.Store.
type MessageStore interface {
	CreateMessage(ctx context.Context, req models.CreateMessageRequest) (*models.Message, error)
	ListMessagesForExecution(ctx context.Context, executionID string) ([]*models.Message, error)
}

// InteractionStore records the LLM and MCP calls made during an execution,
// independent of the timeline (trace API). Satisfied by
// *store.Store.
type InteractionStore interface {
	CreateLLMInteraction(ctx context.Context, req models.CreateLLMInteractionRequest) (string, error)
	CreateMCPInteraction(ctx context.Context, req models.CreateMCPInteractionRequest) (string, error)
}

// StageStore manages stage and agent-execution DB records for the chain
// executor. Satisfied by *store.Store.
type StageStore interface {
	CreateStage(ctx context.Context, req models.CreateStageRequest) (*models.Stage, error)
	GetStage(ctx context.Context, id string) (*models.Stage, error)
	UpdateStageStatus(ctx context.Context, id string, status models.StageStatus, errMsg *string) error
	ListStagesForSession(ctx context.Context, sessionID string) ([]*models.Stage, error)
	CreateAgentExecution(ctx context.Context, req models.CreateAgentExecutionRequest) (*models.AgentExecution, error)
	GetAgentExecution(ctx context.Context, id string) (*models.AgentExecution, error)
	UpdateAgentExecution(ctx context.Context, id string, req models.UpdateAgentStatusRequest, iterationCount int, stageAnalysis *string, pause *models.PauseMetadata) error
	ListAgentExecutionsForStage(ctx context.Context, stageID string) ([]*models.AgentExecution, error)
}

// ServiceBundle groups all store-backed dependencies needed during
// execution. All four fields are ordinarily satisfied by the same
// *store.Store — split into narrow interfaces so controller code depends
// only on the operations it uses, and tests can fake just those.
type ServiceBundle struct {
	Timeline    TimelineStore
	Message     MessageStore
	Interaction InteractionStore
	Stage       StageStore
}

// ResolvedAgentConfig is the fully-resolved configuration for an agent execution.
// All hierarchy levels (defaults → chain → stage → agent) have been applied.
type ResolvedAgentConfig struct {
	AgentName          string
	Type               config.AgentType   // drives controller + agent wrapper selection
	LLMBackend         config.LLMBackend  // drives react vs. native-thinking controller choice
	LLMProvider        *config.LLMProviderConfig
	LLMProviderName    string        // The resolved provider key (for observability / DB records)
	MaxIterations      int
	OnMaxIterations    config.MaxIterationsAction // pause (default) or force-conclusion at the cap
	IterationTimeout   time.Duration // Per-iteration timeout (default: 120s)
	MCPServers         []string
	CustomInstructions string

	// NativeToolsOverride is the per-alert native tools override (nil = use provider defaults).
	// Set by the session executor when the alert provides an MCP selection with native_tools.
	NativeToolsOverride *models.NativeToolsConfig
}

// PromptBuilder builds all prompt text for agent controllers.
// Implemented by prompt.PromptBuilder; defined as interface here to
// avoid a circular import between pkg/agent and pkg/agent/prompt.
type PromptBuilder interface {
	BuildReActMessages(execCtx *ExecutionContext, prevStageContext string, tools []ToolDefinition) []ConversationMessage
	BuildNativeThinkingMessages(execCtx *ExecutionContext, prevStageContext string) []ConversationMessage
	BuildSynthesisMessages(execCtx *ExecutionContext, prevStageContext string) []ConversationMessage
	BuildForcedConclusionPrompt(iteration int, strategy config.IterationStrategy) string
	BuildMCPSummarizationSystemPrompt(serverName, toolName string, maxSummaryTokens int) string
	BuildMCPSummarizationUserPrompt(conversationContext, serverName, toolName, resultText string) string
	BuildExecutiveSummarySystemPrompt() string
	BuildExecutiveSummaryUserPrompt(finalAnalysis string) string
	MCPServerRegistry() *config.MCPServerRegistry
}

// EventPublisher publishes events for WebSocket delivery.
// Implemented by events.EventPublisher; defined as interface here to
// avoid a circular import between pkg/agent and pkg/events and to
// enable testing with mocks.
//
// Each method accepts a specific typed payload struct — no untyped maps or any.
type EventPublisher interface {
	PublishTimelineCreated(ctx context.Context, sessionID string, payload events.TimelineCreatedPayload) error
	PublishTimelineCompleted(ctx context.Context, sessionID string, payload events.TimelineCompletedPayload) error
	PublishStreamChunk(ctx context.Context, sessionID string, payload events.StreamChunkPayload) error
	PublishSessionStatus(ctx context.Context, sessionID string, payload events.SessionStatusPayload) error
	PublishStageStatus(ctx context.Context, sessionID string, payload events.StageStatusPayload) error
	PublishInteractionCreated(ctx context.Context, sessionID string, payload events.InteractionCreatedPayload) error
	PublishSessionProgress(ctx context.Context, payload events.SessionProgressPayload) error
	PublishExecutionProgress(ctx context.Context, sessionID string, payload events.ExecutionProgressPayload) error
}
