package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/models"
)

type stageInput struct {
	session          *models.AlertSession
	chain            *config.ChainConfig
	stageCfg         config.StageConfig
	stageIndex       int
	runbookContent   string
	prevStageContext string

	// prior is the persisted stage row when this stage is being resumed
	// (or re-run after a crash); nil for a fresh stage.
	prior *models.Stage
}

type agentOutcome struct {
	agentName   string
	executionID string
	strategy    string
	provider    string
	status      agent.ExecutionStatus
	analysis    string
	err         error
	pause       *models.PauseMetadata
}

type stageResult struct {
	status   models.StageStatus
	analysis string
	agents   []agentOutcome
	err      error
	pause    *models.PauseMetadata

	// stagesUsed is how many stage rows this stage produced: 1 normally,
	// 2 when a synthesis stage followed a parallel stage. The executor
	// advances its stage-index counter by this much.
	stagesUsed int
}

// expandAgents turns a stage's agents[] + replicas into the flat list of
// (agent name, replica index) pairs to execute in parallel. A stage with one
// agent and no replicas runs sequentially (the common case); everything
// else — multiple named agents, or replicas > 1 — runs concurrently.
func expandAgents(stageCfg config.StageConfig) []config.StageAgentConfig {
	if stageCfg.Replicas <= 1 {
		return stageCfg.Agents
	}
	replicated := make([]config.StageAgentConfig, 0, len(stageCfg.Agents)*stageCfg.Replicas)
	for i := 0; i < stageCfg.Replicas; i++ {
		replicated = append(replicated, stageCfg.Agents...)
	}
	return replicated
}

func (e *Executor) executeStage(ctx context.Context, in stageInput) (stageResult, error) {
	agentCfgs := expandAgents(in.stageCfg)
	displayNames := displayAgentNames(in.stageCfg, agentCfgs)

	stage := in.prior
	var priorExecs map[int]*models.AgentExecution
	if stage == nil {
		var successPolicy *string
		if in.stageCfg.SuccessPolicy.IsValid() {
			p := string(in.stageCfg.SuccessPolicy)
			successPolicy = &p
		}
		var parallelType *string
		if len(agentCfgs) > 1 {
			pt := "multi_agent"
			if in.stageCfg.Replicas > 1 {
				pt = "replica"
			}
			parallelType = &pt
		}

		created, err := e.store.CreateStage(ctx, models.CreateStageRequest{
			SessionID:          in.session.ID,
			StageName:          in.stageCfg.Name,
			StageIndex:         in.stageIndex,
			ExpectedAgentCount: len(agentCfgs),
			ParallelType:       parallelType,
			SuccessPolicy:      successPolicy,
		})
		if err != nil {
			return stageResult{}, fmt.Errorf("failed to create stage %q: %w", in.stageCfg.Name, err)
		}
		stage = created
	} else {
		// Resuming: reuse the existing stage row and pick up each agent's
		// execution where it left off.
		execs, err := e.store.ListAgentExecutionsForStage(ctx, stage.ID)
		if err != nil {
			return stageResult{}, fmt.Errorf("failed to load executions for resumed stage %q: %w", in.stageCfg.Name, err)
		}
		priorExecs = make(map[int]*models.AgentExecution, len(execs))
		for _, exec := range execs {
			priorExecs[exec.AgentIndex] = exec
		}
		if err := e.store.UpdateStageStatus(ctx, stage.ID, models.StageStatusInProgress, nil); err != nil {
			return stageResult{}, fmt.Errorf("failed to reactivate stage %q: %w", in.stageCfg.Name, err)
		}
	}

	e.publishStageStatus(ctx, in.session.ID, stage.ID, in.stageCfg.Name, in.stageIndex, "started")

	outcomes := make([]agentOutcome, len(agentCfgs))
	var wg sync.WaitGroup
	for idx, agentCfg := range agentCfgs {
		if prior := priorExecs[idx]; prior != nil && prior.Status == models.StageStatusCompleted {
			// Finished before the pause; carry its result over as-is.
			outcomes[idx] = completedOutcome(prior)
			continue
		}
		wg.Add(1)
		go func(idx int, agentCfg config.StageAgentConfig) {
			defer wg.Done()
			outcomes[idx] = e.executeAgent(ctx, in, stage.ID, idx, agentCfg, displayNames[idx], priorExecs[idx])
		}(idx, agentCfg)
	}
	wg.Wait()

	status, aggErr := aggregateStatus(outcomes, e.resolvedSuccessPolicy(in.stageCfg))
	analysis := combineAnalysis(outcomes)

	// Terminal writes must survive session cancellation and deadline expiry,
	// otherwise a cancelled stage would be stranded as in_progress.
	persistCtx := context.WithoutCancel(ctx)
	var errMsg *string
	if aggErr != nil {
		msg := aggErr.Error()
		errMsg = &msg
	}
	if err := e.store.UpdateStageStatus(persistCtx, stage.ID, status, errMsg); err != nil {
		return stageResult{}, fmt.Errorf("failed to finalize stage %q: %w", in.stageCfg.Name, err)
	}
	e.publishStageStatus(persistCtx, in.session.ID, stage.ID, in.stageCfg.Name, in.stageIndex, string(status))

	stagesUsed := 1
	if len(outcomes) > 1 && status == models.StageStatusCompleted {
		synthesized, err := e.synthesize(ctx, in, outcomes)
		stagesUsed = 2
		if err == nil && synthesized != "" {
			analysis = synthesized
		}
	}

	return stageResult{
		status:     status,
		analysis:   analysis,
		agents:     outcomes,
		err:        aggErr,
		pause:      firstPause(outcomes),
		stagesUsed: stagesUsed,
	}, nil
}

// completedOutcome reconstructs an agentOutcome from a persisted execution
// row, used when a resumed stage carries agents that already finished.
func completedOutcome(exec *models.AgentExecution) agentOutcome {
	out := agentOutcome{
		agentName:   exec.AgentName,
		executionID: exec.ID,
		strategy:    exec.IterationStrategy,
		status:      agent.ExecutionStatusCompleted,
	}
	if exec.StageAnalysis != nil {
		out.analysis = *exec.StageAnalysis
	}
	return out
}

// firstPause returns the resume pointer of the first paused agent, if any.
func firstPause(outcomes []agentOutcome) *models.PauseMetadata {
	for _, o := range outcomes {
		if o.pause != nil {
			return o.pause
		}
	}
	return nil
}

// displayAgentNames derives the per-execution display name for each expanded
// agent slot. Replicated stages get "{name}-{k}" so the N otherwise-identical
// executions are tellable apart in records and events.
func displayAgentNames(stageCfg config.StageConfig, agentCfgs []config.StageAgentConfig) []string {
	names := make([]string, len(agentCfgs))
	for i, cfg := range agentCfgs {
		if stageCfg.Replicas > 1 {
			names[i] = fmt.Sprintf("%s-%d", cfg.Name, i+1)
		} else {
			names[i] = cfg.Name
		}
	}
	return names
}

func (e *Executor) executeAgent(ctx context.Context, in stageInput, stageID string, agentIndex int, agentCfg config.StageAgentConfig, displayName string, prior *models.AgentExecution) agentOutcome {
	resolved, err := agent.ResolveAgentConfig(e.cfg, in.chain, in.stageCfg, agentCfg)
	if err != nil {
		return agentOutcome{agentName: displayName, status: agent.ExecutionStatusFailed, err: err}
	}

	var execRow *models.AgentExecution
	var resume *agent.ResumeState
	if prior != nil {
		execRow = prior
		if rs, loadErr := e.loadResumeState(ctx, prior); loadErr != nil {
			slog.Warn("failed to reload paused conversation, restarting agent",
				"session_id", in.session.ID, "execution_id", prior.ID, "error", loadErr)
		} else {
			resume = rs
		}
	} else {
		created, createErr := e.store.CreateAgentExecution(ctx, models.CreateAgentExecutionRequest{
			StageID:           stageID,
			SessionID:         in.session.ID,
			AgentName:         displayName,
			AgentIndex:        agentIndex,
			IterationStrategy: string(resolved.LLMBackend),
		})
		if createErr != nil {
			return agentOutcome{agentName: displayName, status: agent.ExecutionStatusFailed, err: createErr}
		}
		execRow = created
	}

	toolExecutor, mcpClient, err := e.mcpFactory.CreateToolExecutor(ctx, resolved.MCPServers, toolFilterFor(in.session, resolved.MCPServers))
	if err != nil {
		_ = e.store.UpdateAgentExecution(ctx, execRow.ID, models.UpdateAgentStatusRequest{
			Status: string(models.StageStatusFailed), ErrorMessage: err.Error(),
		}, 0, nil, nil)
		return agentOutcome{agentName: displayName, executionID: execRow.ID, status: agent.ExecutionStatusFailed, err: err}
	}
	defer func() { _ = mcpClient.Close() }()

	if resolved.NativeToolsOverride == nil && in.session.MCPSelection != nil {
		resolved.NativeToolsOverride = in.session.MCPSelection.NativeTools
	}

	execCtx := &agent.ExecutionContext{
		SessionID:      in.session.ID,
		StageID:        stageID,
		ExecutionID:    execRow.ID,
		AgentName:      displayName,
		AgentIndex:     agentIndex,
		AlertData:      in.session.AlertData,
		AlertType:      in.session.AlertType,
		RunbookContent: in.runbookContent,
		Config:         resolved,
		LLMClient:      e.llmClient,
		ToolExecutor:   toolExecutor,
		EventPublisher: e.eventPub,
		Services: &agent.ServiceBundle{
			Timeline:    e.store,
			Message:     e.store,
			Interaction: e.store,
			Stage:       e.store,
		},
		PromptBuilder:  e.promptBuilder,
		FailedServers:  mcpClient.FailedServers(),
		Hooks:          e.hooks,
		Resume:         resume,
		PauseRequested: e.pauseProbe(in.session.ID),
	}

	a, err := e.agentFactory.CreateAgent(execCtx)
	if err != nil {
		return agentOutcome{agentName: displayName, executionID: execRow.ID, status: agent.ExecutionStatusFailed, err: err}
	}

	e.publishExecutionProgress(ctx, in.session.ID, stageID, execRow.ID, "started", fmt.Sprintf("%s starting", displayName))

	result, err := a.Execute(ctx, execCtx, in.prevStageContext)

	// Persist the execution's terminal state on a cancellation-immune context
	// so cancelled and timed-out runs still land in the record.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		_ = e.store.UpdateAgentExecution(persistCtx, execRow.ID, models.UpdateAgentStatusRequest{
			Status: string(agent.ExecutionStatusFailed), ErrorMessage: err.Error(),
		}, 0, nil, nil)
		return agentOutcome{agentName: displayName, executionID: execRow.ID, status: agent.ExecutionStatusFailed, err: err}
	}

	updateReq := models.UpdateAgentStatusRequest{Status: string(result.Status)}
	if result.Error != nil {
		updateReq.ErrorMessage = result.Error.Error()
	}
	var analysisPtr *string
	if result.FinalAnalysis != "" {
		analysisPtr = &result.FinalAnalysis
	}
	if updErr := e.store.UpdateAgentExecution(persistCtx, execRow.ID, updateReq, result.Iterations, analysisPtr, result.Pause); updErr != nil {
		slog.Warn("failed to persist agent execution result",
			"session_id", in.session.ID, "execution_id", execRow.ID, "error", updErr)
	}

	e.publishExecutionProgress(persistCtx, in.session.ID, stageID, execRow.ID, string(result.Status), fmt.Sprintf("%s finished: %s", displayName, result.Status))

	return agentOutcome{
		agentName:   displayName,
		executionID: execRow.ID,
		strategy:    string(resolved.LLMBackend),
		provider:    resolved.LLMProviderName,
		status:      result.Status,
		analysis:    result.FinalAnalysis,
		err:         result.Error,
		pause:       result.Pause,
	}
}

// pauseProbe builds the between-iterations callback controllers use to
// notice an operator's pause request. A read failure just means "no".
func (e *Executor) pauseProbe(sessionID string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		requested, err := e.store.IsPauseRequested(ctx, sessionID)
		return err == nil && requested
	}
}

// loadResumeState reloads a paused execution's conversation and counters so
// the controller continues where the pause left off rather than starting a
// fresh investigation.
func (e *Executor) loadResumeState(ctx context.Context, exec *models.AgentExecution) (*agent.ResumeState, error) {
	rows, err := e.store.ListMessagesForExecution(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("paused execution %s has no persisted conversation", exec.ID)
	}

	messages := make([]agent.ConversationMessage, 0, len(rows))
	for _, m := range rows {
		msg := agent.ConversationMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, agent.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		messages = append(messages, msg)
	}

	eventSeq, err := e.store.GetMaxSequenceForExecution(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline sequence: %w", err)
	}

	return &agent.ResumeState{
		Messages:   messages,
		Iteration:  exec.IterationCount,
		MessageSeq: rows[len(rows)-1].SequenceNumber + 1,
		EventSeq:   eventSeq,
	}, nil
}

// toolFilterFor derives a per-server allowed-tool-names filter from the
// session's MCP selection override, if any. A server absent from the
// selection (or no selection at all) gets every tool the server exposes.
func toolFilterFor(session *models.AlertSession, serverIDs []string) map[string][]string {
	if session.MCPSelection == nil {
		return nil
	}
	filter := make(map[string][]string)
	for _, sel := range session.MCPSelection.Servers {
		if len(sel.Tools) > 0 {
			filter[sel.Name] = sel.Tools
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

func combineAnalysis(outcomes []agentOutcome) string {
	if len(outcomes) == 1 {
		return outcomes[0].analysis
	}
	var best string
	for _, o := range outcomes {
		if o.status == agent.ExecutionStatusCompleted && o.analysis != "" {
			best = o.analysis
		}
	}
	return best
}
