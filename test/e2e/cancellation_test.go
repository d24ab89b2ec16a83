package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-io/tarsy/test/e2e/testdata"
	"github.com/tarsy-io/tarsy/test/e2e/testdata/configs"
)

// ────────────────────────────────────────────────────────────
// Cancellation test — Scenario 4 (Session cancellation).
//
// Session 1 — Investigation cancellation:
//   cancel-investigation chain, single stage "investigation" with 2 parallel
//   agents (policy=any), both BlockUntilCancelled. Test cancels the session
//   while agents are blocked → agents, stage, and session all become cancelled.
//
// ────────────────────────────────────────────────────────────

func TestE2E_Cancellation(t *testing.T) {
	llm := NewScriptedLLMClient()

	// ═══════════════════════════════════════════════════════
	// Session 1 LLM entries (routed to parallel agents)
	// ═══════════════════════════════════════════════════════

	// Both agents block until context is cancelled.
	// investigatorsBlocked receives a signal when each agent enters Generate()'s
	// blocking path, replacing the previous time.Sleep heuristic.
	investigatorsBlocked := make(chan struct{}, 2)
	llm.AddRouted("InvestigatorA", LLMScriptEntry{BlockUntilCancelled: true, OnBlock: investigatorsBlocked})
	llm.AddRouted("InvestigatorB", LLMScriptEntry{BlockUntilCancelled: true, OnBlock: investigatorsBlocked})

	// ═══════════════════════════════════════════════════════
	// Boot test app
	// ═══════════════════════════════════════════════════════

	app := NewTestApp(t,
		WithConfig(configs.Load(t, "cancellation")),
		WithLLMClient(llm),
		// Long timeout so BlockUntilCancelled agents aren't killed by the session deadline.
		WithSessionTimeout(2*time.Minute),
	)

	// ═══════════════════════════════════════════════════════
	// Session 1: Investigation cancellation
	// ═══════════════════════════════════════════════════════

	// Connect WS for Session 1.
	ctx := context.Background()
	ws1, err := WSConnect(ctx, app.WSURL)
	require.NoError(t, err)
	defer ws1.Close()

	// Submit alert that routes to cancel-investigation chain.
	resp1 := app.SubmitAlert(t, "test-cancel", "Investigation cancellation test")
	session1ID := resp1["session_id"].(string)
	require.NotEmpty(t, session1ID)

	require.NoError(t, ws1.Subscribe("session:"+session1ID))

	// Wait until the session is in_progress and agents are executing.
	app.WaitForSessionStatus(t, session1ID, "in_progress")

	// Wait for both agents to enter Generate()'s blocking path.
	// OnBlock fires once each agent is blocking on ctx.Done(), so after
	// receiving both signals we know cancellation will be observed immediately.
	for i := 0; i < 2; i++ {
		select {
		case <-investigatorsBlocked:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for investigator agents to block in Generate()")
		}
	}

	// Cancel the session while both agents are blocked.
	app.CancelSession(t, session1ID)

	// Wait for session to reach terminal status.
	app.WaitForSessionStatus(t, session1ID, "cancelled")

	// Wait for the final WS event (session.status cancelled) instead of a fixed sleep.
	ws1.WaitForEvent(t, func(e WSEvent) bool {
		return e.Type == "session.status" && e.Parsed["status"] == "cancelled"
	}, 5*time.Second, "session 1: expected session.status cancelled WS event")

	// ── Session 1 assertions ──
	session1 := app.GetSession(t, session1ID)
	assert.Equal(t, "cancelled", session1["status"])

	// Stage assertions: single "investigation" stage, cancelled.
	stages1 := app.QueryStages(t, session1ID)
	require.Len(t, stages1, 1, "only the investigation stage should exist")
	assert.Equal(t, "investigation", stages1[0].StageName)
	assert.Equal(t, "cancelled", string(stages1[0].Status))

	// Execution assertions: both agents should be cancelled.
	execs1 := app.QueryExecutions(t, session1ID)
	require.Len(t, execs1, 2, "InvestigatorA + InvestigatorB")
	for _, e := range execs1 {
		assert.Equal(t, "cancelled", string(e.Status),
			"execution %s (%s) should be cancelled", e.ID, e.AgentName)
	}

	// LLM call count for Session 1: 2 (one per parallel agent).
	// (Verified below.)

	// Timeline API: no events stuck as "streaming".
	apiTimeline1 := app.GetTimeline(t, session1ID)
	for i, raw := range apiTimeline1 {
		event, ok := raw.(map[string]interface{})
		require.True(t, ok)
		status, _ := event["status"].(string)
		assert.NotEqual(t, "streaming", status,
			"session 1: timeline event %d should not be stuck as streaming", i)
	}

	// WS event structural assertions for Session 1.
	AssertEventsInOrder(t, ws1.Events(), testdata.CancellationInvestigationExpectedEvents)

	// ── Total LLM call count ──
	// InvestigatorA (1) + InvestigatorB (1) = 2
	assert.Equal(t, 2, llm.CallCount())
}
