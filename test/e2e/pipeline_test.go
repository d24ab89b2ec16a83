package e2e

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/test/e2e/testdata"
	"github.com/tarsy-io/tarsy/test/e2e/testdata/configs"
)

// ────────────────────────────────────────────────────────────
// Pipeline test — the most comprehensive end-to-end flow.
// Four stages + two synthesis stages:
//   1. investigation  (DataCollector, NativeThinking)
//   2. remediation    (Remediator, ReAct)
//   3. validation     (ConfigValidator react ∥ MetricsValidator native-thinking, forced conclusion)
//      → validation - Synthesis (synthesis-native-thinking)
//   4. scaling-review (ScalingReviewer x2 replicas, NativeThinking)
//      → scaling-review - Synthesis (plain synthesis)
// Two MCP servers (test-mcp, prometheus-mcp), tool call summarization,
// parallel agents, replicas, both synthesis strategies, forced conclusion,
// and executive summary.
// ────────────────────────────────────────────────────────────

func TestE2E_Pipeline(t *testing.T) {
	llm := NewScriptedLLMClient()

	// ── Stage 1: investigation (DataCollector, native-thinking) ──

	// Iteration 1: thinking + text + two tool calls from test-mcp.
	llm.AddSequential(LLMScriptEntry{
		Chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "Let me check the cluster nodes and pod status."},
			&agent.TextChunk{Content: "I'll look up the nodes and pods."},
			&agent.ToolCallChunk{CallID: "call-1", Name: "test-mcp__get_nodes", Arguments: `{}`},
			&agent.ToolCallChunk{CallID: "call-2", Name: "test-mcp__get_pods", Arguments: `{"namespace":"default"}`},
			&agent.UsageChunk{InputTokens: 100, OutputTokens: 30, TotalTokens: 130},
		},
	})
	// Tool result summarization for get_pods (triggered by size_threshold_tokens=100).
	llm.AddSequential(LLMScriptEntry{Text: "Pod pod-1 is OOMKilled with 5 restarts."})
	// Iteration 2: thinking + tool call from prometheus-mcp.
	llm.AddSequential(LLMScriptEntry{
		Chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "Let me check the memory metrics for pod-1."},
			&agent.TextChunk{Content: "Querying Prometheus for memory usage."},
			&agent.ToolCallChunk{CallID: "call-3", Name: "prometheus-mcp__query_metrics", Arguments: `{"query":"container_memory_usage_bytes{pod=\"pod-1\"}"}`},
			&agent.UsageChunk{InputTokens: 200, OutputTokens: 30, TotalTokens: 230},
		},
	})
	// Iteration 3: thinking + final answer (no tools).
	llm.AddSequential(LLMScriptEntry{
		Chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "The pod is clearly OOMKilled."},
			&agent.TextChunk{Content: "Investigation complete: pod-1 is OOMKilled with 5 restarts."},
			&agent.UsageChunk{InputTokens: 150, OutputTokens: 50, TotalTokens: 200},
		},
	})

	// ── Stage 2: remediation (Remediator, react) ──
	// ReAct uses text-based tool calling (Action/Action Input with dot notation).
	// Mirrors stage 1: tool call (no summary) → tool call (with summary) → final answer.

	// Iteration 1: tool call to test-mcp (small result, no summarization).
	llm.AddSequential(LLMScriptEntry{
		Text: "Thought: I should check the pod logs to understand the OOM pattern.\n" +
			"Action: test-mcp.get_pod_logs\n" +
			`Action Input: {"pod":"pod-1","namespace":"default"}`,
	})
	// Iteration 2: tool call to prometheus-mcp (large result, triggers summarization).
	llm.AddSequential(LLMScriptEntry{
		Text: "Thought: Let me check the Prometheus alert history for memory-related alerts.\n" +
			"Action: prometheus-mcp.query_alerts\n" +
			`Action Input: {"query":"ALERTS{alertname=\"OOMKilled\",pod=\"pod-1\"}"}`,
	})
	// Summarization for query_alerts result (triggered by size_threshold_tokens=100).
	llm.AddSequential(LLMScriptEntry{Text: "OOMKilled alert fired 3 times in the last hour for pod-1."})
	// Iteration 3: final answer.
	llm.AddSequential(LLMScriptEntry{
		Text: "Thought: The logs and alerts confirm repeated OOM kills due to memory pressure.\n" +
			"Final Answer: Recommend increasing memory limit to 1Gi and adding a HPA for pod-1.",
	})

	// ── Stage 3: validation (parallel: ConfigValidator react + MetricsValidator native-thinking) ──
	// Parallel agents use routed dispatch — LLM calls are matched by agent name.

	// ConfigValidator (react): 2 iterations.
	llm.AddRouted("ConfigValidator", LLMScriptEntry{
		Text: "Thought: I should verify the pod memory limits are properly configured.\n" +
			"Action: test-mcp.get_resource_config\n" +
			`Action Input: {"pod":"pod-1","namespace":"default"}`,
	})
	llm.AddRouted("ConfigValidator", LLMScriptEntry{
		Text: "Thought: The memory limit of 512Mi matches the alert threshold.\n" +
			"Final Answer: Config validated: pod-1 memory limit is 512Mi, matching the OOM threshold.",
	})

	// MetricsValidator (native-thinking): max_iterations=1 → forced conclusion.
	// Iteration 1: tool call consumes the single allowed iteration.
	llm.AddRouted("MetricsValidator", LLMScriptEntry{
		Chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "Let me verify the SLO metrics for pod-1."},
			&agent.TextChunk{Content: "Checking SLO compliance."},
			&agent.ToolCallChunk{CallID: "call-v1", Name: "prometheus-mcp__query_slo", Arguments: `{"pod":"pod-1"}`},
			&agent.UsageChunk{InputTokens: 80, OutputTokens: 20, TotalTokens: 100},
		},
	})
	// Forced conclusion: called WITHOUT tools after max_iterations exhausted.
	llm.AddRouted("MetricsValidator", LLMScriptEntry{
		Chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "SLO is being violated."},
			&agent.TextChunk{Content: "Metrics confirm SLO violation for pod-1 availability."},
			&agent.UsageChunk{InputTokens: 100, OutputTokens: 30, TotalTokens: 130},
		},
	})

	// ── Validation Synthesis (synthesis-native-thinking — includes thinking + Google Search grounding) ──
	// The test-provider has native_tools.google_search enabled, and synthesis-native-thinking
	// uses the google-native backend with no MCP tools, so native tools (Google Search) activate.
	// The mock returns a GroundingChunk simulating a Google Search result.
	llm.AddSequential(LLMScriptEntry{
		Chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "Combining ConfigValidator and MetricsValidator results."},
			&agent.TextChunk{Content: "Combined validation confirms pod-1 has correct memory limit of 512Mi but violates 99.9% availability SLO."},
			&agent.GroundingChunk{
				WebSearchQueries: []string{"kubernetes pod OOM memory limit best practices"},
				Sources: []agent.GroundingSource{
					{URI: "https://kubernetes.io/docs/concepts/configuration/manage-resources-containers/", Title: "Resource Management for Pods and Containers"},
				},
			},
			&agent.UsageChunk{InputTokens: 120, OutputTokens: 40, TotalTokens: 160},
		},
	})

	// ── Stage 4: scaling-review (ScalingReviewer x2 replicas, native-thinking) ──
	// Replicas run in parallel with the same agent config. Both extract "ScalingReviewer"
	// from custom instructions, so routed dispatch handles them (entries consumed in arrival order).

	// Both replica entries are identical — replicas are interchangeable and goroutine
	// scheduling determines which replica gets which entry. Identical entries ensure
	// golden file stability regardless of dispatch order.
	scalingReviewerEntry := LLMScriptEntry{
		Chunks: []agent.Chunk{
			&agent.ThinkingChunk{Content: "Evaluating horizontal scaling needs for pod-1."},
			&agent.TextChunk{Content: "Current replicas=1 is insufficient. Recommend min=2 max=5 with 70% CPU target."},
			&agent.UsageChunk{InputTokens: 80, OutputTokens: 25, TotalTokens: 105},
		},
	}
	llm.AddRouted("ScalingReviewer", scalingReviewerEntry)
	llm.AddRouted("ScalingReviewer", scalingReviewerEntry)

	// ── Scaling-review Synthesis (plain "synthesis" strategy — no thinking) ──
	llm.AddSequential(LLMScriptEntry{
		Text: "Both replicas confirm: set HPA to 70% CPU with min=2, max=5 replicas for pod-1.",
	})

	// ── Executive summary ──
	llm.AddSequential(LLMScriptEntry{Text: "Pod-1 OOM killed due to memory leak. Recommend increasing memory limit."})

	// ── Tool results ──
	nodesResult := `[{"name":"worker-1","status":"Ready","cpu":"4","memory":"16Gi"}]`
	podsResult := `[` +
		`{"name":"pod-1","namespace":"default","status":"OOMKilled","restarts":5,"cpu":"250m","memory":"512Mi","node":"worker-1","image":"app:v1.2.3","started":"2026-01-15T10:00:00Z","lastRestart":"2026-01-15T14:30:00Z"},` +
		`{"name":"pod-2","namespace":"default","status":"Running","restarts":0,"cpu":"100m","memory":"256Mi","node":"worker-2","image":"app:v1.2.3","started":"2026-01-10T08:00:00Z","lastRestart":""},` +
		`{"name":"pod-3","namespace":"default","status":"CrashLoopBackOff","restarts":12,"cpu":"500m","memory":"1Gi","node":"worker-1","image":"app:v1.2.3","started":"2026-01-14T12:00:00Z","lastRestart":"2026-01-15T15:00:00Z"}` +
		`]`
	metricsResult := `[{"metric":"container_memory_usage_bytes","pod":"pod-1","value":"524288000","timestamp":"2026-01-15T14:29:00Z"}]`
	podLogsResult := `{"pod":"pod-1","logs":"OOMKilled at 14:30:00 - memory usage exceeded 512Mi limit"}`
	resourceConfigResult := `{"pod":"pod-1","limits":{"memory":"512Mi","cpu":"250m"},"requests":{"memory":"256Mi","cpu":"100m"}}`
	sloResult := `[{"slo":"availability","target":0.999,"current":0.95,"pod":"pod-1","violation":true}]`
	// Large alert result — triggers summarization (>100 tokens ≈ 400 chars).
	alertsResult := `[` +
		`{"alertname":"OOMKilled","pod":"pod-1","namespace":"default","severity":"critical","state":"firing","startsAt":"2026-01-15T14:30:00Z","summary":"Container killed due to OOM","description":"Pod pod-1 exceeded memory limit of 512Mi"},` +
		`{"alertname":"OOMKilled","pod":"pod-1","namespace":"default","severity":"critical","state":"resolved","startsAt":"2026-01-15T13:15:00Z","endsAt":"2026-01-15T13:20:00Z","summary":"Container killed due to OOM","description":"Pod pod-1 exceeded memory limit of 512Mi"},` +
		`{"alertname":"OOMKilled","pod":"pod-1","namespace":"default","severity":"critical","state":"resolved","startsAt":"2026-01-15T12:00:00Z","endsAt":"2026-01-15T12:05:00Z","summary":"Container killed due to OOM","description":"Pod pod-1 exceeded memory limit of 512Mi"}` +
		`]`

	app := NewTestApp(t,
		WithConfig(configs.Load(t, "pipeline")),
		WithLLMClient(llm),
		WithMCPServers(map[string]map[string]mcpsdk.ToolHandler{
			"test-mcp": {
				"get_nodes":           StaticToolHandler(nodesResult),
				"get_pods":            StaticToolHandler(podsResult),
				"get_pod_logs":        StaticToolHandler(podLogsResult),
				"get_resource_config": StaticToolHandler(resourceConfigResult),
			},
			"prometheus-mcp": {
				"query_metrics": StaticToolHandler(metricsResult),
				"query_alerts":  StaticToolHandler(alertsResult),
				"query_slo":     StaticToolHandler(sloResult),
			},
		}),
	)

	// Connect WS and subscribe to sessions channel.
	ctx := context.Background()
	ws, err := WSConnect(ctx, app.WSURL)
	require.NoError(t, err)
	defer ws.Close()

	// Submit alert.
	resp := app.SubmitAlert(t, "test-alert", "Pod OOMKilled")
	sessionID := resp["session_id"].(string)
	require.NotEmpty(t, sessionID)

	// Subscribe to session-specific channel.
	require.NoError(t, ws.Subscribe("session:"+sessionID))

	// Wait for session completion via DB polling (most reliable).
	app.WaitForSessionStatus(t, sessionID, "completed")

	// Wait for the final WS event (session completed).
	ws.WaitForEvent(t, func(e WSEvent) bool {
		return e.Type == "session.status" && e.Parsed["status"] == "completed"
	}, 5*time.Second, "expected session.status completed WS event")

	// Verify session via API.
	session := app.GetSession(t, sessionID)
	assert.Equal(t, "completed", session["status"])
	assert.NotEmpty(t, session["final_analysis"])

	// Verify DB state — 6 pipeline stages.
	stages := app.QueryStages(t, sessionID)
	assert.Len(t, stages, 6)
	assert.Equal(t, "investigation", stages[0].StageName)
	assert.Equal(t, "remediation", stages[1].StageName)
	assert.Equal(t, "validation", stages[2].StageName)
	assert.Equal(t, "validation - Synthesis", stages[3].StageName)
	assert.Equal(t, "scaling-review", stages[4].StageName)
	assert.Equal(t, "scaling-review - Synthesis", stages[5].StageName)

	// 8 pipeline execs.
	execs := app.QueryExecutions(t, sessionID)
	assert.Len(t, execs, 8)
	assert.Equal(t, "DataCollector", execs[0].AgentName)
	assert.Equal(t, "Remediator", execs[1].AgentName)
	// Validation parallel agents — order may vary, so check by name set.
	validationNames := map[string]bool{execs[2].AgentName: true, execs[3].AgentName: true}
	assert.True(t, validationNames["ConfigValidator"], "expected ConfigValidator execution")
	assert.True(t, validationNames["MetricsValidator"], "expected MetricsValidator execution")
	assert.Equal(t, "SynthesisAgent", execs[4].AgentName)
	// Scaling-review replicas — order may vary, so check by name set.
	replicaNames := map[string]bool{execs[5].AgentName: true, execs[6].AgentName: true}
	assert.True(t, replicaNames["ScalingReviewer-1"], "expected ScalingReviewer-1 execution")
	assert.True(t, replicaNames["ScalingReviewer-2"], "expected ScalingReviewer-2 execution")
	assert.Equal(t, "SynthesisAgent", execs[7].AgentName)

	timeline := app.QueryTimeline(t, sessionID)
	assert.NotEmpty(t, timeline)

	// ── Timeline API verification ──────────────────────────────
	// Verify the GET /sessions/:id/timeline endpoint returns correct data.
	apiTimeline := app.GetTimeline(t, sessionID)
	require.Len(t, apiTimeline, len(timeline),
		"API timeline event count must match DB query")

	// Verify each event has required fields and correct values.
	for i, raw := range apiTimeline {
		event, ok := raw.(map[string]interface{})
		require.True(t, ok, "timeline event %d should be a JSON object", i)

		// Required fields must be present.
		assert.NotEmpty(t, event["id"], "event %d: id required", i)
		assert.NotEmpty(t, event["session_id"], "event %d: session_id required", i)
		assert.NotEmpty(t, event["event_type"], "event %d: event_type required", i)
		assert.NotEmpty(t, event["status"], "event %d: status required", i)

		// All events belong to this session.
		assert.Equal(t, sessionID, event["session_id"], "event %d: wrong session_id", i)

		// Sequence numbers are in ascending order (API returns ordered).
		seq := toInt(event["sequence_number"])
		if i > 0 {
			prevEvent, _ := apiTimeline[i-1].(map[string]interface{})
			prevSeq := toInt(prevEvent["sequence_number"])
			assert.GreaterOrEqual(t, seq, prevSeq,
				"event %d: sequence_number %d should be >= previous %d", i, seq, prevSeq)
		}

		// Cross-reference with DB: event IDs must match.
		assert.Equal(t, timeline[i].ID, event["id"],
			"event %d: API id must match DB id", i)
		assert.Equal(t, string(timeline[i].EventType), event["event_type"],
			"event %d: API event_type must match DB", i)
		assert.Equal(t, string(timeline[i].Status), event["status"],
			"event %d: API status must match DB", i)
		assert.Equal(t, timeline[i].Content, event["content"],
			"event %d: API content must match DB", i)
	}

	// Verify LLM call count:
	// Stage 1: iteration 1 + summarization + iteration 2 + iteration 3 = 4
	// Stage 2: iteration 1 + iteration 2 + summarization + iteration 3 = 4
	// Stage 3: ConfigValidator (2) + MetricsValidator (1 iteration + 1 forced conclusion) = 4
	// Validation Synthesis: 1
	// Stage 4: ScalingReviewer-1 (1) + ScalingReviewer-2 (1) = 2
	// Scaling-review Synthesis: 1
	// Executive summary: 1
	// Total: 17
	assert.Equal(t, 17, llm.CallCount())

	// WS event structural assertions (not exact-sequence — event ordering is
	// non-deterministic due to the catchup/NOTIFY race, so we verify expected
	// events in relative order).
	AssertEventsInOrder(t, ws.Events(), testdata.PipelineExpectedEvents)

	// ── Debug API ──
	//
	// The debug list endpoint returns executions grouped by stage in
	// stage_index + agent_index order, which is deterministic even for
	// parallel agents. Verify its structure matches the DB state and that
	// every execution carries its recorded interactions.
	debugList := app.GetDebugList(t, sessionID)
	debugStages, ok := debugList["stages"].([]interface{})
	require.True(t, ok, "stages should be an array")
	require.Len(t, debugStages, 6, "debug list should group by the 6 stages")

	totalExecs := 0
	totalLLMInteractions := 0
	for si, rawStage := range debugStages {
		stg, ok := rawStage.(map[string]interface{})
		require.True(t, ok, "debug stage %d: expected object", si)
		stageID, ok := stg["stage_id"].(string)
		require.True(t, ok, "debug stage %d: stage_id missing or not a string", si)
		require.NotEmpty(t, stageID)

		executions, ok := stg["executions"].([]interface{})
		require.True(t, ok, "debug stage %d: executions missing or not an array", si)
		for ei, rawExec := range executions {
			exec, ok := rawExec.(map[string]interface{})
			require.True(t, ok, "debug stage %d exec %d: expected object", si, ei)
			execID, ok := exec["execution_id"].(string)
			require.True(t, ok, "debug stage %d exec %d: execution_id missing or not a string", si, ei)
			require.NotEmpty(t, execID)
			totalExecs++

			llmInteractions, _ := exec["llm_interactions"].([]interface{})
			totalLLMInteractions += len(llmInteractions)

			// Every LLM interaction detail must be retrievable through the
			// detail endpoint.
			for _, rawLI := range llmInteractions {
				li, _ := rawLI.(map[string]interface{})
				id, _ := li["id"].(string)
				require.NotEmpty(t, id)
				detail := app.GetLLMInteractionDetail(t, sessionID, id)
				assert.NotEmpty(t, detail, "LLM interaction %s should have detail", id)
			}
			for _, rawMI := range exec["mcp_interactions"].([]interface{}) {
				mi, _ := rawMI.(map[string]interface{})
				id, _ := mi["id"].(string)
				require.NotEmpty(t, id)
				detail := app.GetMCPInteractionDetail(t, sessionID, id)
				assert.NotEmpty(t, detail, "MCP interaction %s should have detail", id)
			}
		}
	}
	assert.Equal(t, 8, totalExecs, "debug list should cover all 8 executions")

	// Session-level interactions (executive summary) appear outside stages.
	debugSessionInteractions, _ := debugList["session_interactions"].([]interface{})
	assert.NotEmpty(t, debugSessionInteractions, "executive summary should be a session-level interaction")

	// Stage-level + session-level LLM interactions must add up to every call
	// the scripted client served.
	assert.Equal(t, llm.CallCount(), totalLLMInteractions+len(debugSessionInteractions))

}
