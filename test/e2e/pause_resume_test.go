package e2e

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/test/e2e/testdata/configs"
)

// ────────────────────────────────────────────────────────────
// Pause/resume test — iteration-cap suspension.
//
// pause-chain, single stage "investigation" with Investigator at
// max_iterations=2 and the default pause-at-cap action. The scripted LLM
// only ever calls tools, so the cap fires and the session pauses with a
// resume pointer. Resuming re-queues it; the agent continues from the
// persisted conversation with a fresh budget, and the next LLM call is
// iteration 3.
// ────────────────────────────────────────────────────────────

func TestE2E_PauseOnIterationCap(t *testing.T) {
	llm := NewScriptedLLMClient()

	toolCall := func(id string) LLMScriptEntry {
		return LLMScriptEntry{
			Chunks: []agent.Chunk{
				&agent.ThinkingChunk{Content: "Still gathering data."},
				&agent.ToolCallChunk{CallID: id, Name: "test-mcp__get_pods", Arguments: `{"namespace":"default"}`},
				&agent.UsageChunk{InputTokens: 50, OutputTokens: 10, TotalTokens: 60},
			},
		}
	}

	// Iterations 1-2: tool calls only — the cap fires with no final answer.
	llm.AddRouted("Investigator", toolCall("call-1"))
	llm.AddRouted("Investigator", toolCall("call-2"))

	// After resume — iteration 3 calls one more tool, iteration 4 concludes.
	llm.AddRouted("Investigator", toolCall("call-3"))
	llm.AddRouted("Investigator", LLMScriptEntry{
		Chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "That's enough evidence."},
			&agent.TextChunk{Content: "Root cause identified: pod-1 is flapping."},
			&agent.UsageChunk{InputTokens: 80, OutputTokens: 20, TotalTokens: 100},
		},
	})

	// Executive summary after the resumed run completes.
	llm.AddSequential(LLMScriptEntry{Text: "Summary: pod-1 flapping, restart recommended."})

	app := NewTestApp(t,
		WithConfig(configs.Load(t, "pause-resume")),
		WithLLMClient(llm),
		WithMCPServers(map[string]map[string]mcpsdk.ToolHandler{
			"test-mcp": {"get_pods": StaticToolHandler(`[{"name":"pod-1","restarts":7}]`)},
		}),
	)

	ctx := context.Background()
	ws, err := WSConnect(ctx, app.WSURL)
	require.NoError(t, err)
	defer ws.Close()

	resp := app.SubmitAlert(t, "test-pause", "Pod flapping")
	sessionID := resp["session_id"].(string)
	require.NotEmpty(t, sessionID)
	require.NoError(t, ws.Subscribe("session:"+sessionID))

	// ── Cap fires → session pauses ──
	app.WaitForSessionStatus(t, sessionID, "paused")

	session := app.GetSession(t, sessionID)
	assert.Equal(t, "paused", session["status"])

	pause, ok := session["pause_metadata"].(map[string]interface{})
	require.True(t, ok, "paused session should carry pause_metadata")
	assert.Equal(t, "max_iterations_reached", pause["reason"])
	assert.Equal(t, 2, toInt(pause["current_iteration"]))

	stages := app.QueryStages(t, sessionID)
	require.Len(t, stages, 1)
	assert.Equal(t, "paused", string(stages[0].Status))

	execs := app.QueryExecutions(t, sessionID)
	require.Len(t, execs, 1)
	assert.Equal(t, "paused", string(execs[0].Status))
	assert.Equal(t, 2, execs[0].IterationCount)

	// Two LLM calls so far — the pause itself costs none.
	assert.Equal(t, 2, llm.CallCount())

	// ── Resume → the same execution continues ──
	app.ResumeSession(t, sessionID)
	app.WaitForSessionStatus(t, sessionID, "completed")

	// Wait for the terminal WS event before inspecting state.
	ws.WaitForEvent(t, func(e WSEvent) bool {
		return e.Type == "session.status" && e.Parsed["status"] == "completed"
	}, 5*time.Second, "expected session.status completed WS event after resume")

	session = app.GetSession(t, sessionID)
	assert.Equal(t, "completed", session["status"])
	assert.NotEmpty(t, session["final_analysis"])

	// Same stage row, same execution row — resumed, not re-created.
	stages = app.QueryStages(t, sessionID)
	require.Len(t, stages, 1)
	assert.Equal(t, "completed", string(stages[0].Status))

	resumedExecs := app.QueryExecutions(t, sessionID)
	require.Len(t, resumedExecs, 1)
	assert.Equal(t, execs[0].ID, resumedExecs[0].ID, "resume must reuse the paused execution row")
	assert.Equal(t, "completed", string(resumedExecs[0].Status))
	assert.Equal(t, 4, resumedExecs[0].IterationCount,
		"iteration counter continues across the pause")

	// 2 pre-pause + 2 post-resume + 1 executive summary.
	assert.Equal(t, 5, llm.CallCount())

	// The first post-resume call continues the persisted conversation: it
	// must already contain the pre-pause tool exchanges, not a fresh prompt.
	inputs := llm.CapturedInputs()
	require.GreaterOrEqual(t, len(inputs), 3)
	firstResumed := inputs[2]
	assert.Greater(t, len(firstResumed.Messages), len(inputs[0].Messages),
		"resumed conversation should carry the pre-pause exchanges")
}
