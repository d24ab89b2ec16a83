package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/agent/prompt"
	"github.com/tarsy-io/tarsy/pkg/config"
	"github.com/tarsy-io/tarsy/pkg/hooks"
	"github.com/tarsy-io/tarsy/pkg/models"
	"github.com/tarsy-io/tarsy/pkg/store"
	"github.com/tarsy-io/tarsy/test/util"
	"github.com/stretchr/testify/require"
)

// llmInteractionRow and mcpInteractionRow are test-only full-record views
// over llm_interactions/mcp_interactions, queried directly by session_id
// since the production InteractionStore surface only exposes Create* (writes)
// and the trimmed per-execution list/detail reads used by the trace API.

type llmInteractionRow struct {
	ID              string
	InteractionType string
	LlmRequest      map[string]any
}

type mcpInteractionRow struct {
	ID              string
	SessionID       string
	StageID         string
	ExecutionID     string
	InteractionType string
	ServerName      string
	ToolName        *string
	ToolArguments   map[string]any
	ToolResult      map[string]any
	AvailableTools  []any
	DurationMs      *int
	ErrorMessage    *string
}

// listLLMInteractionsForSession queries llm_interactions for one session,
// bypassing the execution-scoped InteractionStore interface used in production.
func listLLMInteractionsForSession(t *testing.T, execCtx *agent.ExecutionContext) ([]llmInteractionRow, error) {
	t.Helper()
	st, ok := execCtx.Services.Interaction.(*store.Store)
	require.True(t, ok, "Interaction service is not backed by *store.Store")

	rows, err := st.Pool().Query(context.Background(), `
		SELECT id, interaction_type, llm_request
		FROM llm_interactions WHERE session_id = $1 ORDER BY created_at ASC`, execCtx.SessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []llmInteractionRow
	for rows.Next() {
		var row llmInteractionRow
		var reqJSON []byte
		if err := rows.Scan(&row.ID, &row.InteractionType, &reqJSON); err != nil {
			return nil, err
		}
		if len(reqJSON) > 0 {
			if err := json.Unmarshal(reqJSON, &row.LlmRequest); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// listMCPInteractionsForSession queries mcp_interactions for one session,
// bypassing the execution-scoped InteractionStore interface used in production.
func listMCPInteractionsForSession(t *testing.T, execCtx *agent.ExecutionContext) ([]*mcpInteractionRow, error) {
	t.Helper()
	st, ok := execCtx.Services.Interaction.(*store.Store)
	require.True(t, ok, "Interaction service is not backed by *store.Store")

	rows, err := st.Pool().Query(context.Background(), `
		SELECT id, session_id, stage_id, execution_id, interaction_type, server_name, tool_name,
		       tool_arguments, tool_result, available_tools, duration_ms, error_message
		FROM mcp_interactions WHERE session_id = $1 ORDER BY created_at ASC`, execCtx.SessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*mcpInteractionRow
	for rows.Next() {
		row := &mcpInteractionRow{}
		var argsJSON, resultJSON, toolsJSON []byte
		if err := rows.Scan(&row.ID, &row.SessionID, &row.StageID, &row.ExecutionID, &row.InteractionType,
			&row.ServerName, &row.ToolName, &argsJSON, &resultJSON, &toolsJSON,
			&row.DurationMs, &row.ErrorMessage); err != nil {
			return nil, err
		}
		if len(argsJSON) > 0 {
			if err := json.Unmarshal(argsJSON, &row.ToolArguments); err != nil {
				return nil, err
			}
		}
		if len(resultJSON) > 0 {
			if err := json.Unmarshal(resultJSON, &row.ToolResult); err != nil {
				return nil, err
			}
		}
		if len(toolsJSON) > 0 {
			if err := json.Unmarshal(toolsJSON, &row.AvailableTools); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type mockLLMResponse struct {
	chunks []agent.Chunk
	err    error
}

// mockLLMClient is a test mock for agent.LLMClient.
// NOTE: Not safe for concurrent use — callCount and lastInput are mutated
// without synchronization. This is fine as long as controllers call Generate
// sequentially (which they currently do).
type mockLLMClient struct {
	responses []mockLLMResponse
	callCount int
	lastInput *agent.GenerateInput

	// capture enables recording all inputs across calls (not just the last one).
	capture        bool
	capturedInputs []*agent.GenerateInput

	// onGenerate is called before processing the response, allowing tests to
	// perform side-effects (e.g. cancel a context) at call time.
	onGenerate func(callIndex int)
}

func (m *mockLLMClient) Generate(_ context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	idx := m.callCount
	m.callCount++
	m.lastInput = input
	if m.capture {
		m.capturedInputs = append(m.capturedInputs, input)
	}
	if m.onGenerate != nil {
		m.onGenerate(idx)
	}

	if idx >= len(m.responses) {
		return nil, fmt.Errorf("no more mock responses (call %d)", idx+1)
	}

	r := m.responses[idx]
	if r.err != nil {
		return nil, r.err
	}

	ch := make(chan agent.Chunk, len(r.chunks))
	for _, c := range r.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (m *mockLLMClient) Close() error { return nil }

// mockToolExecutor is a test mock for agent.ToolExecutor.
type mockToolExecutor struct {
	tools   []agent.ToolDefinition
	results map[string]*agent.ToolResult
}

func (m *mockToolExecutor) Execute(_ context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	result, ok := m.results[call.Name]
	if !ok {
		return nil, fmt.Errorf("unexpected tool call: %s", call.Name)
	}
	return &agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: result.Content,
		IsError: result.IsError,
	}, nil
}

func (m *mockToolExecutor) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	return m.tools, nil
}

func (m *mockToolExecutor) Close() error { return nil }

// mockToolExecutorFunc is a flexible test mock that allows custom execute functions.
type mockToolExecutorFunc struct {
	tools     []agent.ToolDefinition
	executeFn func(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error)
}

func (m *mockToolExecutorFunc) Execute(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	return m.executeFn(ctx, call)
}

func (m *mockToolExecutorFunc) ListTools(_ context.Context) ([]agent.ToolDefinition, error) {
	return m.tools, nil
}

func (m *mockToolExecutorFunc) Close() error { return nil }

// newTestExecCtx creates a test ExecutionContext backed by a real test database.
// Defaults: MaxIterations=20, force-conclusion at the cap, IterationTimeout=120s,
// LLMBackend=langchain. Tests that need different limits (or the pause-at-cap
// path) override execCtx.Config before running the controller.
func newTestExecCtx(t *testing.T, llm agent.LLMClient, toolExec agent.ToolExecutor) *agent.ExecutionContext {
	t.Helper()

	st := util.SetupTestDatabase(t)
	svc := newTestServiceBundle(st)

	ctx := context.Background()

	session, err := st.CreateSession(ctx, models.CreateSessionRequest{
		SessionID:    fmt.Sprintf("sess-%d", time.Now().UnixNano()),
		AlertData:    "Test alert: CPU high on prod-server-1",
		AgentType:    "test-agent",
		AlertType:    "test-alert",
		ChainID:      "test-chain",
		Author:       "test",
		DuplicateKey: fmt.Sprintf("dup-%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	sessionID := session.ID

	stage, err := st.CreateStage(ctx, models.CreateStageRequest{
		SessionID:          sessionID,
		StageName:          "test-stage",
		StageIndex:         1,
		ExpectedAgentCount: 1,
	})
	require.NoError(t, err)
	stageID := stage.ID

	exec, err := st.CreateAgentExecution(ctx, models.CreateAgentExecutionRequest{
		StageID:           stageID,
		SessionID:         sessionID,
		AgentName:         "test-agent",
		AgentIndex:        1,
		IterationStrategy: "langchain",
	})
	require.NoError(t, err)
	execID := exec.ID

	testRegistry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{})
	pb := prompt.NewPromptBuilder(testRegistry)

	pipeline := hooks.NewPipeline()
	historyHook := hooks.NewHistoryHook(st)
	pipeline.Register(hooks.OperationLLM, historyHook)
	pipeline.Register(hooks.OperationMCPToolCall, historyHook)
	pipeline.Register(hooks.OperationMCPToolList, historyHook)

	return &agent.ExecutionContext{
		SessionID:   sessionID,
		StageID:     stageID,
		ExecutionID: execID,
		AgentName:   "test-agent",
		AgentIndex:  1,
		AlertData:   "Test alert: CPU high on prod-server-1",
		AlertType:   "test-alert",
		Config: &agent.ResolvedAgentConfig{
			AgentName:          "test-agent",
			Type:               config.AgentTypeDefault,
			LLMProvider:        &config.LLMProviderConfig{Model: "test-model"},
			MaxIterations:      20,
			OnMaxIterations:    config.MaxIterationsForceConclusion,
			IterationTimeout:   120 * time.Second,
			CustomInstructions: "You are a test agent.",
			LLMBackend:         config.LLMBackendLangChain,
		},
		LLMClient:     llm,
		ToolExecutor:  toolExec,
		PromptBuilder: pb,
		Services:      svc,
		Hooks:         pipeline,
	}
}

func newTestServiceBundle(st *store.Store) *agent.ServiceBundle {
	return &agent.ServiceBundle{
		Timeline:    st,
		Message:     st,
		Interaction: st,
		Stage:       st,
	}
}
