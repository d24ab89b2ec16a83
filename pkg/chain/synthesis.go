package chain

import (
	"context"
	"fmt"

	"github.com/tarsy-io/tarsy/pkg/agent"
	agentctx "github.com/tarsy-io/tarsy/pkg/agent/context"
	"github.com/tarsy-io/tarsy/pkg/models"
)

// synthesize reconciles a parallel stage's per-agent analyses into one
// narrative using a dedicated synthesis agent. It runs as its
// own stage row, named "{stage} - Synthesis", at the index after the
// parallel stage. It never fails the parallel stage on its own error — a
// synthesis failure just means the caller keeps the
// combined-but-unsynthesized analysis already computed.
func (e *Executor) synthesize(ctx context.Context, in stageInput, outcomes []agentOutcome) (string, error) {
	resolved, err := agent.ResolveSynthesisConfig(e.cfg, in.chain, in.stageCfg.Synthesis)
	if err != nil {
		return "", fmt.Errorf("failed to resolve synthesis agent: %w", err)
	}

	synthStageName := in.stageCfg.Name + " - Synthesis"
	synthStageIndex := in.stageIndex + 1
	stage, err := e.store.CreateStage(ctx, models.CreateStageRequest{
		SessionID:          in.session.ID,
		StageName:          synthStageName,
		StageIndex:         synthStageIndex,
		ExpectedAgentCount: 1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create synthesis stage: %w", err)
	}
	stageID := stage.ID
	e.publishStageStatus(ctx, in.session.ID, stageID, synthStageName, synthStageIndex, "started")

	synthesized, synthErr := e.runSynthesisAgent(ctx, in, stageID, resolved, outcomes)

	persistCtx := context.WithoutCancel(ctx)
	stageStatus := models.StageStatusCompleted
	var errMsg *string
	if synthErr != nil {
		stageStatus = models.StageStatusFailed
		msg := synthErr.Error()
		errMsg = &msg
	}
	if err := e.store.UpdateStageStatus(persistCtx, stageID, stageStatus, errMsg); err != nil {
		return "", fmt.Errorf("failed to finalize synthesis stage: %w", err)
	}
	e.publishStageStatus(persistCtx, in.session.ID, stageID, synthStageName, synthStageIndex, string(stageStatus))

	return synthesized, synthErr
}

func (e *Executor) runSynthesisAgent(ctx context.Context, in stageInput, stageID string, resolved *agent.ResolvedAgentConfig, outcomes []agentOutcome) (string, error) {
	execRow, err := e.store.CreateAgentExecution(ctx, models.CreateAgentExecutionRequest{
		StageID:           stageID,
		SessionID:         in.session.ID,
		AgentName:         resolved.AgentName,
		AgentIndex:        0,
		IterationStrategy: string(resolved.LLMBackend),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create synthesis execution row: %w", err)
	}

	toolExecutor, mcpClient, err := e.mcpFactory.CreateToolExecutor(ctx, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build synthesis tool executor: %w", err)
	}
	defer func() { _ = mcpClient.Close() }()

	execCtx := &agent.ExecutionContext{
		SessionID:      in.session.ID,
		StageID:        stageID,
		ExecutionID:    execRow.ID,
		AgentName:      resolved.AgentName,
		AgentIndex:     0,
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
		PromptBuilder: e.promptBuilder,
		Hooks:         e.hooks,
	}

	a, err := e.agentFactory.CreateAgent(execCtx)
	if err != nil {
		return "", fmt.Errorf("failed to create synthesis agent: %w", err)
	}

	result, err := a.Execute(ctx, execCtx, e.formatParallelResults(ctx, in.stageCfg.Name, outcomes))
	if err != nil {
		return "", err
	}
	if result.Status != agent.ExecutionStatusCompleted {
		return "", fmt.Errorf("synthesis agent %s did not complete: %s", resolved.AgentName, result.Status)
	}
	return result.FinalAnalysis, nil
}

// formatParallelResults renders each parallel agent's full investigation
// timeline (thinking, tool calls, observations) for the synthesis prompt.
// Falls back to the flat per-agent analysis summary when no timeline rows
// can be read for any agent.
func (e *Executor) formatParallelResults(ctx context.Context, stageName string, outcomes []agentOutcome) string {
	invs := make([]agentctx.AgentInvestigation, 0, len(outcomes))
	haveEvents := false
	for i, o := range outcomes {
		inv := agentctx.AgentInvestigation{
			AgentName:   o.agentName,
			AgentIndex:  i + 1,
			Strategy:    o.strategy,
			LLMProvider: o.provider,
			Status:      models.SessionStatus(o.status),
		}
		if o.err != nil {
			inv.ErrorMessage = o.err.Error()
		}
		if o.executionID != "" {
			if events, err := e.store.GetAgentTimeline(ctx, o.executionID); err == nil {
				inv.Events = events
				haveEvents = haveEvents || len(events) > 0
			}
		}
		invs = append(invs, inv)
	}
	if !haveEvents {
		return formatStageContext(stageName, stageResult{agents: outcomes})
	}
	return agentctx.FormatInvestigationForSynthesis(invs, stageName)
}
