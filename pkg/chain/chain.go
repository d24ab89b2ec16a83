// Package chain is the chain executor (C8/C9/C10): it walks a chain's
// stages in order, fans a stage out across its configured agents, applies
// the stage's success policy, and synthesizes parallel results into the
// context the next stage sees. It is the only caller of pkg/agent's
// execution surface — everything upstream (the claim worker in pkg/queue)
// hands it a claimed session and gets back a terminal status.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tarsy-io/tarsy/pkg/agent"
	agentctx "github.com/tarsy-io/tarsy/pkg/agent/context"
	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/hooks"
	"github.com/tarsy-io/tarsy/pkg/mcp"
	"github.com/tarsy-io/tarsy/pkg/models"
	"github.com/tarsy-io/tarsy/pkg/runbook"
)

// Result is the outcome of running a whole chain for one session.
type Result struct {
	Status           models.SessionStatus
	FinalAnalysis    string
	ExecutiveSummary string
	Error            error
}

// AgentFactory creates Agent instances from a resolved execution context.
// Satisfied by *agent.AgentFactory.
type AgentFactory interface {
	CreateAgent(execCtx *agent.ExecutionContext) (agent.Agent, error)
}

// Store is the subset of *store.Store the chain executor needs beyond what
// agent.ServiceBundle already covers: session-level reads/writes and the
// stage/execution bookkeeping used to sequence a chain.
type Store interface {
	agent.StageStore
	agent.TimelineStore
	agent.MessageStore
	agent.InteractionStore
	GetSession(ctx context.Context, id string) (*models.AlertSession, error)
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, errMsg, finalAnalysis, execSummary *string, pause *models.PauseMetadata) error
	SetExecutiveSummaryError(ctx context.Context, id, message string) error
	IsPauseRequested(ctx context.Context, id string) (bool, error)
	Heartbeat(ctx context.Context, sessionID string) error
}

// Executor runs chains to completion against a database-backed Store.
type Executor struct {
	cfg           *config.Config
	store         Store
	agentFactory  AgentFactory
	llmClient     agent.LLMClient
	eventPub      agent.EventPublisher
	mcpFactory    *mcp.ClientFactory
	promptBuilder agent.PromptBuilder
	runbooks      *runbook.Service
	hooks         *hooks.Pipeline
}

// New builds a chain Executor. promptBuilder is typically *prompt.PromptBuilder;
// it is accepted as the agent.PromptBuilder interface to avoid a pkg/chain →
// pkg/agent/prompt → pkg/chain import cycle risk down the line.
//
// New wires a hook pipeline internally: a masking hook rewrites MCP tool
// results first (when masker is non-nil), a history hook persists every
// LLM/MCP interaction through store, and (when eventPub is non-nil) an
// event hook publishes each one for the live trace view once persisted.
func New(
	cfg *config.Config,
	store Store,
	agentFactory AgentFactory,
	llmClient agent.LLMClient,
	eventPub agent.EventPublisher,
	mcpFactory *mcp.ClientFactory,
	promptBuilder agent.PromptBuilder,
	runbooks *runbook.Service,
	masker hooks.ResultMasker,
) *Executor {
	pipeline := hooks.NewPipeline()
	historyHook := hooks.NewHistoryHook(store)
	var eventHook *hooks.EventHook
	if eventPub != nil {
		eventHook = hooks.NewEventHook(eventPub)
	}
	if masker != nil {
		pipeline.Register(hooks.OperationMCPToolCall, hooks.NewMaskingHook(masker))
	}
	for _, op := range []hooks.OperationType{hooks.OperationLLM, hooks.OperationMCPToolCall, hooks.OperationMCPToolList} {
		pipeline.Register(op, historyHook)
		if eventHook != nil {
			pipeline.Register(op, eventHook)
		}
	}

	return &Executor{
		cfg:           cfg,
		store:         store,
		agentFactory:  agentFactory,
		llmClient:     llmClient,
		eventPub:      eventPub,
		mcpFactory:    mcpFactory,
		promptBuilder: promptBuilder,
		runbooks:      runbooks,
		hooks:         pipeline,
	}
}

// Execute runs a claimed session's chain to completion. It never returns an
// error for agent-level failures — those are reflected in Result.Status —
// only for infrastructure faults severe enough that no meaningful session
// status could be written (the caller should leave the session claimed so
// the orphan reaper picks it back up).
func (e *Executor) Execute(ctx context.Context, session *models.AlertSession) (*Result, error) {
	chain, err := e.cfg.GetChain(session.ChainID)
	if err != nil {
		return e.fail(ctx, session, fmt.Errorf("chain %q not found: %w", session.ChainID, err))
	}

	runbookContent, err := e.runbooks.Resolve(ctx, session.RunbookURL)
	if err != nil {
		slog.Warn("runbook resolution failed, continuing without runbook content",
			"session_id", session.ID, "runbook_url", session.RunbookURL, "error", err)
		runbookContent = ""
	}

	totalStages := len(chain.Stages)
	var stageResults []agentctx.StageResult
	var lastAnalysis string

	// A resumed (or reclaimed) session already has stage rows: completed
	// stages are carried over as context, the suspended one picks back up.
	history, err := e.stageHistory(ctx, session.ID)
	if err != nil {
		return e.fail(ctx, session, err)
	}

	stageIndex := 0
	for _, stageCfg := range chain.Stages {
		select {
		case <-ctx.Done():
			return e.fail(ctx, session, ctx.Err())
		default:
		}

		stageIndex++

		if prior := history[stageCfg.Name]; prior != nil && prior.Status == models.StageStatusCompleted {
			analysis := e.priorStageAnalysis(ctx, prior)
			if synth := history[stageCfg.Name+" - Synthesis"]; synth != nil {
				stageIndex++
				if synth.Status == models.StageStatusCompleted {
					if sa := e.priorStageAnalysis(ctx, synth); sa != "" {
						analysis = sa
					}
				}
			}
			stageResults = append(stageResults, agentctx.StageResult{StageName: stageCfg.Name, FinalAnalysis: analysis})
			if analysis != "" {
				lastAnalysis = analysis
			}
			continue
		}

		e.publishSessionProgress(ctx, session.ID, stageCfg.Name, stageIndex, totalStages, len(stageCfg.Agents))

		sr, err := e.executeStage(ctx, stageInput{
			session:          session,
			chain:            chain,
			stageCfg:         stageCfg,
			stageIndex:       stageIndex,
			runbookContent:   runbookContent,
			prevStageContext: agentctx.BuildStageContext(stageResults),
			prior:            history[stageCfg.Name],
		})
		if err != nil {
			return e.fail(ctx, session, err)
		}

		stageResults = append(stageResults, agentctx.StageResult{StageName: stageCfg.Name, FinalAnalysis: sr.analysis})
		if sr.analysis != "" {
			lastAnalysis = sr.analysis
		}
		if sr.stagesUsed > 1 {
			stageIndex += sr.stagesUsed - 1
		}

		if sr.status == models.StageStatusPaused {
			return e.pauseSession(ctx, session, stageCfg.Name, sr.pause)
		}
		if sr.status == models.StageStatusFailed {
			return e.complete(ctx, session, models.SessionStatusFailed, lastAnalysis, "", sr.err)
		}
		if sr.status == models.StageStatusCancelled {
			return e.complete(ctx, session, models.SessionStatusCancelled, lastAnalysis, "", sr.err)
		}
	}

	execSummary, err := e.generateExecutiveSummary(ctx, session.ID, chain, lastAnalysis)
	if err != nil {
		slog.Warn("executive summary generation failed", "session_id", session.ID, "error", err)
		if setErr := e.store.SetExecutiveSummaryError(context.WithoutCancel(ctx), session.ID, err.Error()); setErr != nil {
			slog.Warn("failed to record executive summary error", "session_id", session.ID, "error", setErr)
		}
		execSummary = ""
	}

	return e.complete(ctx, session, models.SessionStatusCompleted, lastAnalysis, execSummary, nil)
}

func (e *Executor) complete(ctx context.Context, session *models.AlertSession, status models.SessionStatus, analysis, execSummary string, resultErr error) (*Result, error) {
	var errMsg, finalAnalysis, summary *string
	if resultErr != nil {
		msg := resultErr.Error()
		errMsg = &msg
	}
	if analysis != "" {
		finalAnalysis = &analysis
	}
	if execSummary != "" {
		summary = &execSummary
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := e.store.UpdateSessionStatus(persistCtx, session.ID, status, errMsg, finalAnalysis, summary, nil); err != nil {
		return nil, fmt.Errorf("failed to persist terminal session status: %w", err)
	}
	e.publishSessionStatus(persistCtx, session.ID, string(status))
	return &Result{Status: status, FinalAnalysis: analysis, ExecutiveSummary: execSummary, Error: resultErr}, nil
}

func (e *Executor) fail(ctx context.Context, session *models.AlertSession, cause error) (*Result, error) {
	if errors.Is(cause, context.Canceled) {
		res, err := e.complete(ctx, session, models.SessionStatusCancelled, "", "", cause)
		return res, err
	}
	res, err := e.complete(ctx, session, models.SessionStatusFailed, "", "", cause)
	return res, err
}

// pauseSession suspends the session at a stage boundary: status PAUSED with
// the resume pointer, pod ownership retained per the claim contract. A
// resume flips the session back to pending, and the stage history replay in
// Execute picks the paused stage back up.
func (e *Executor) pauseSession(ctx context.Context, session *models.AlertSession, stageName string, pause *models.PauseMetadata) (*Result, error) {
	if pause == nil {
		pause = &models.PauseMetadata{Reason: agent.PauseReasonMaxIterations}
	}
	if pause.Message == "" {
		pause.Message = fmt.Sprintf("stage %q paused", stageName)
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := e.store.UpdateSessionStatus(persistCtx, session.ID, models.SessionStatusPaused, nil, nil, nil, pause); err != nil {
		return nil, fmt.Errorf("failed to persist paused session status: %w", err)
	}
	e.publishSessionStatus(persistCtx, session.ID, string(models.SessionStatusPaused))
	return &Result{Status: models.SessionStatusPaused}, nil
}

// stageHistory loads the session's persisted stage rows keyed by name.
// Empty for a fresh session; populated on resume or reclaim.
func (e *Executor) stageHistory(ctx context.Context, sessionID string) (map[string]*models.Stage, error) {
	rows, err := e.store.ListStagesForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage history: %w", err)
	}
	history := make(map[string]*models.Stage, len(rows))
	for _, row := range rows {
		history[row.StageName] = row
	}
	return history, nil
}

// priorStageAnalysis recovers a completed stage's analysis from its
// persisted executions (last completed one wins, matching combineAnalysis).
func (e *Executor) priorStageAnalysis(ctx context.Context, stage *models.Stage) string {
	execs, err := e.store.ListAgentExecutionsForStage(ctx, stage.ID)
	if err != nil {
		slog.Warn("failed to load executions for completed stage",
			"stage_id", stage.ID, "error", err)
		return ""
	}
	var analysis string
	for _, exec := range execs {
		if exec.Status == models.StageStatusCompleted && exec.StageAnalysis != nil && *exec.StageAnalysis != "" {
			analysis = *exec.StageAnalysis
		}
	}
	return analysis
}

func (e *Executor) resolvedSuccessPolicy(stageCfg config.StageConfig) config.SuccessPolicy {
	if stageCfg.SuccessPolicy.IsValid() {
		return stageCfg.SuccessPolicy
	}
	return config.SuccessPolicyAny
}

func formatStageContext(stageName string, sr stageResult) string {
	if len(sr.agents) <= 1 {
		return fmt.Sprintf("### Results from stage '%s':\n\n%s", stageName, sr.analysis)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "### Results from parallel stage '%s':\n\n", stageName)
	succeeded := 0
	for _, a := range sr.agents {
		if a.status == agent.ExecutionStatusCompleted {
			succeeded++
		}
	}
	fmt.Fprintf(&sb, "**Parallel Execution Summary**: %d/%d agents succeeded\n\n", succeeded, len(sr.agents))
	for i, a := range sr.agents {
		fmt.Fprintf(&sb, "#### Agent %d: %s\n**Status**: %s\n\n%s\n\n", i+1, a.agentName, a.status, a.analysis)
	}
	return sb.String()
}
