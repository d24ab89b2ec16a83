// Package configs provides programmatic chain configurations for e2e tests.
// Configs are built in code (not YAML) for type safety and to avoid file path issues.
package configs

import (
	"github.com/tarsy-io/tarsy/pkg/config"
)

// intPtr is a helper to create a pointer to an int.
func intPtr(n int) *int { return &n }

// testDefaults returns the Defaults block shared by most test configs.
// Scenarios script every LLM call, so agents conclude at the cap instead of
// suspending; the pause path has its own config (PauseResumeConfig).
func testDefaults(provider string, maxIter int) *config.Defaults {
	return &config.Defaults{
		LLMProvider:     provider,
		LLMBackend:      config.LLMBackendNativeGemini,
		MaxIterations:   intPtr(maxIter),
		OnMaxIterations: config.MaxIterationsForceConclusion,
	}
}

// PauseResumeConfig creates a single-agent chain that pauses at the
// iteration cap (the default action) instead of forcing a conclusion.
func PauseResumeConfig() *config.Config {
	return &config.Config{
		Defaults: &config.Defaults{
			LLMProvider:     "test-provider",
			LLMBackend:      config.LLMBackendNativeGemini,
			MaxIterations:   intPtr(2),
			OnMaxIterations: config.MaxIterationsPause,
		},
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"Investigator": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(2),
				MCPServers:         []string{"test-mcp"},
				CustomInstructions: "You are Investigator, analyzing incidents in depth.",
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"pause-chain": {
				AlertTypes: []string{"test-pause"},
				Stages: []config.StageConfig{
					{Name: "investigation", Agents: []config.StageAgentConfig{
						{Name: "Investigator"},
					}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp": stdioServer(),
		}),
	}
}

func googleProvider(model string) *config.LLMProviderConfig {
	return &config.LLMProviderConfig{
		Type:                config.LLMProviderTypeGoogle,
		Model:               model,
		MaxToolResultTokens: 100000,
	}
}

func stdioServer() *config.MCPServerConfig {
	return &config.MCPServerConfig{
		Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "mock"},
	}
}

// summarizingServer returns an MCP server config whose tool results are
// summarized once they exceed thresholdTokens.
func summarizingServer(thresholdTokens int) *config.MCPServerConfig {
	return &config.MCPServerConfig{
		Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "mock"},
		Summarization: &config.SummarizationConfig{
			SizeThresholdTokens:  thresholdTokens,
			SummaryMaxTokenLimit: 1000,
		},
	}
}

// SingleStageConfig creates a minimal 1-stage, 1-agent config with MCP tools.
func SingleStageConfig() *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"DataCollector": {
				LLMBackend:    config.LLMBackendNativeGemini,
				MaxIterations: intPtr(3),
				MCPServers:    []string{"test-mcp"},
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"test-chain": {
				AlertTypes: []string{"test-alert"},
				Stages: []config.StageConfig{
					{Name: "investigation", Agents: []config.StageAgentConfig{
						{Name: "DataCollector"},
					}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp": stdioServer(),
		}),
	}
}

// FullFlowConfig creates a multi-stage chain with parallel agents, mixed
// backends and per-stage-agent provider overrides.
func FullFlowConfig() *config.Config {
	return &config.Config{
		Defaults: testDefaults("google-test", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"DataCollector": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				MCPServers:         []string{"test-mcp"},
				CustomInstructions: "You are DataCollector, gathering system metrics and logs.",
			},
			"Investigator": {
				MaxIterations:      intPtr(3),
				MCPServers:         []string{"test-mcp", "kubernetes-server"},
				CustomInstructions: "You are Investigator, analyzing incidents in depth.",
			},
			"ResourceAnalyzer": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				MCPServers:         []string{"kubernetes-server"},
				CustomInstructions: "You are ResourceAnalyzer, checking resource limits and usage.",
			},
			"Diagnostician": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are Diagnostician, providing final root cause analysis.",
			},
			"SynthesisAgent": {
				Type:               config.AgentTypeSynthesis,
				CustomInstructions: "You are SynthesisAgent, synthesizing parallel investigation results.",
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"google-test": googleProvider("gemini-test"),
			"openai-test": {Type: config.LLMProviderTypeOpenAI, Model: "gpt-test", MaxToolResultTokens: 100000},
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"kubernetes-oom": {
				AlertTypes: []string{"kubernetes-oom"},
				Stages: []config.StageConfig{
					{Name: "data-collection", Agents: []config.StageAgentConfig{
						{Name: "DataCollector"},
					}},
					{Name: "parallel-investigation", Agents: []config.StageAgentConfig{
						{Name: "Investigator", LLMProvider: "google-test", LLMBackend: config.LLMBackendNativeGemini, MCPServers: []string{"test-mcp"}},
						{Name: "Investigator", LLMProvider: "openai-test", LLMBackend: config.LLMBackendLangChain, MCPServers: []string{"test-mcp", "kubernetes-server"}},
						{Name: "ResourceAnalyzer"},
					}, SuccessPolicy: config.SuccessPolicyAny},
					{Name: "final-diagnosis", Agents: []config.StageAgentConfig{
						{Name: "Diagnostician"},
					}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp":          stdioServer(),
			"kubernetes-server": stdioServer(),
		}),
	}
}

// TwoStageFailFastConfig creates a 2-stage chain where stage 1 failure prevents stage 2.
func TwoStageFailFastConfig() *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"Investigator": {
				LLMBackend:    config.LLMBackendNativeGemini,
				MaxIterations: intPtr(3),
				MCPServers:    []string{"test-mcp"},
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"test-chain": {
				AlertTypes: []string{"test-alert"},
				Stages: []config.StageConfig{
					{Name: "stage-1", Agents: []config.StageAgentConfig{{Name: "Investigator"}}},
					{Name: "stage-2", Agents: []config.StageAgentConfig{{Name: "Investigator"}}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp": stdioServer(),
		}),
	}
}

// ParallelConfig creates a single-stage chain with 2 parallel agents and a
// synthesis stage after them.
func ParallelConfig(policy config.SuccessPolicy) *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"Agent1": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				MCPServers:         []string{"test-mcp"},
				CustomInstructions: "You are Agent1, specializing in infrastructure analysis.",
			},
			"Agent2": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				MCPServers:         []string{"test-mcp"},
				CustomInstructions: "You are Agent2, specializing in application analysis.",
			},
			"SynthesisAgent": {
				Type:               config.AgentTypeSynthesis,
				CustomInstructions: "You are SynthesisAgent, synthesizing parallel investigation results.",
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"test-chain": {
				AlertTypes: []string{"test-alert"},
				Stages: []config.StageConfig{
					{Name: "parallel-stage", Agents: []config.StageAgentConfig{
						{Name: "Agent1"},
						{Name: "Agent2"},
					}, SuccessPolicy: policy},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp": stdioServer(),
		}),
	}
}

// ReplicaConfig creates a single-stage chain running the same agent N times.
func ReplicaConfig(replicaCount int) *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"Investigator": {
				LLMBackend:    config.LLMBackendNativeGemini,
				MaxIterations: intPtr(3),
				MCPServers:    []string{"test-mcp"},
			},
			"SynthesisAgent": {
				Type: config.AgentTypeSynthesis,
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"test-chain": {
				AlertTypes: []string{"test-alert"},
				Stages: []config.StageConfig{
					{Name: "replicated-stage", Agents: []config.StageAgentConfig{
						{Name: "Investigator"},
					}, Replicas: replicaCount},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp": stdioServer(),
		}),
	}
}

// ForcedConclusionConfig creates a chain with MaxIterations=2 for forced conclusion testing.
func ForcedConclusionConfig() *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 2),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"Investigator": {
				LLMBackend:    config.LLMBackendNativeGemini,
				MaxIterations: intPtr(2),
				MCPServers:    []string{"test-mcp"},
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"test-chain": {
				AlertTypes: []string{"test-alert"},
				Stages: []config.StageConfig{
					{Name: "investigation", Agents: []config.StageAgentConfig{
						{Name: "Investigator"},
					}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp": stdioServer(),
		}),
	}
}

// PipelineConfig creates the comprehensive pipeline chain: four stages,
// mixed backends, parallel agents, replicas, both synthesis backends, and
// two MCP servers with tool-result summarization.
func PipelineConfig() *config.Config {
	provider := googleProvider("test-model")
	provider.NativeTools = map[config.GoogleNativeTool]bool{
		config.GoogleNativeToolGoogleSearch: true,
	}
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"DataCollector": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				MCPServers:         []string{"test-mcp", "prometheus-mcp"},
				CustomInstructions: "You are DataCollector, gathering system metrics and logs.",
			},
			"Remediator": {
				LLMBackend:         config.LLMBackendLangChain,
				MaxIterations:      intPtr(3),
				MCPServers:         []string{"test-mcp", "prometheus-mcp"},
				CustomInstructions: "You are Remediator, proposing remediation steps.",
			},
			"ConfigValidator": {
				LLMBackend:         config.LLMBackendLangChain,
				MaxIterations:      intPtr(3),
				MCPServers:         []string{"test-mcp"},
				CustomInstructions: "You are ConfigValidator, verifying resource configuration.",
			},
			"MetricsValidator": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(1),
				MCPServers:         []string{"prometheus-mcp"},
				CustomInstructions: "You are MetricsValidator, verifying SLO metrics.",
			},
			"ScalingReviewer": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are ScalingReviewer, evaluating horizontal scaling needs.",
			},
			"SynthesisAgent": {
				Type:               config.AgentTypeSynthesis,
				CustomInstructions: "You are SynthesisAgent, synthesizing parallel investigation results.",
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": provider,
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"pipeline-chain": {
				AlertTypes: []string{"test-alert"},
				Stages: []config.StageConfig{
					{Name: "investigation", Agents: []config.StageAgentConfig{
						{Name: "DataCollector"},
					}},
					{Name: "remediation", Agents: []config.StageAgentConfig{
						{Name: "Remediator"},
					}},
					{Name: "validation", Agents: []config.StageAgentConfig{
						{Name: "ConfigValidator"},
						{Name: "MetricsValidator"},
					}, SuccessPolicy: config.SuccessPolicyAll,
						Synthesis: &config.SynthesisConfig{LLMBackend: config.LLMBackendNativeGemini}},
					{Name: "scaling-review", Agents: []config.StageAgentConfig{
						{Name: "ScalingReviewer"},
					}, Replicas: 2,
						Synthesis: &config.SynthesisConfig{LLMBackend: config.LLMBackendLangChain}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp":       summarizingServer(100),
			"prometheus-mcp": summarizingServer(100),
		}),
	}
}

// ReactStreamingConfig creates a single ReAct agent chain for streaming tests.
func ReactStreamingConfig() *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"Investigator": {
				LLMBackend:    config.LLMBackendLangChain,
				MaxIterations: intPtr(3),
				MCPServers:    []string{"test-mcp"},
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"react-chain": {
				AlertTypes: []string{"react-test"},
				Stages: []config.StageConfig{
					{Name: "investigation", Agents: []config.StageAgentConfig{
						{Name: "Investigator"},
					}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp": stdioServer(),
		}),
	}
}

// TimeoutConfig creates a chain whose single agent blocks until the session
// deadline fires. No MCP servers — the agent never calls tools.
func TimeoutConfig() *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"TimeoutAgent": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are TimeoutAgent.",
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"timeout-investigation": {
				AlertTypes: []string{"test-timeout"},
				Stages: []config.StageConfig{
					{Name: "investigation", Agents: []config.StageAgentConfig{
						{Name: "TimeoutAgent"},
					}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(nil),
	}
}

// CancellationConfig creates a chain with two parallel blocking agents for
// cancellation testing. No MCP servers — the agents never reach tools.
func CancellationConfig() *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"InvestigatorA": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are InvestigatorA.",
			},
			"InvestigatorB": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are InvestigatorB.",
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"cancel-investigation": {
				AlertTypes: []string{"test-cancel"},
				Stages: []config.StageConfig{
					{Name: "investigation", Agents: []config.StageAgentConfig{
						{Name: "InvestigatorA"},
						{Name: "InvestigatorB"},
					}, SuccessPolicy: config.SuccessPolicyAny},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(nil),
	}
}

// ConcurrencyConfig creates a minimal single-agent chain used by the
// concurrency and multi-replica tests. No MCP servers.
func ConcurrencyConfig(alertType string) *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"SimpleAgent": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are SimpleAgent.",
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"simple-chain": {
				AlertTypes: []string{alertType},
				Stages: []config.StageConfig{
					{Name: "analysis", Agents: []config.StageAgentConfig{
						{Name: "SimpleAgent"},
					}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(nil),
	}
}

// FailurePropagationConfig creates the three-stage fail-fast chain: a
// preparation stage, a policy=all parallel check, and a final stage that
// must never start when the check fails.
func FailurePropagationConfig() *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"Preparer": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are Preparer, reviewing alert data.",
			},
			"CheckerA": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are CheckerA.",
			},
			"CheckerB": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are CheckerB.",
			},
			"Finalizer": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are Finalizer.",
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"failure-chain": {
				AlertTypes: []string{"test-failure"},
				Stages: []config.StageConfig{
					{Name: "preparation", Agents: []config.StageAgentConfig{
						{Name: "Preparer"},
					}},
					{Name: "parallel-check", Agents: []config.StageAgentConfig{
						{Name: "CheckerA"},
						{Name: "CheckerB"},
					}, SuccessPolicy: config.SuccessPolicyAll},
					{Name: "final", Agents: []config.StageAgentConfig{
						{Name: "Finalizer"},
					}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(nil),
	}
}

// FailureResilienceConfig creates a policy=any parallel stage with synthesis
// followed by a summary stage.
func FailureResilienceConfig() *config.Config {
	return &config.Config{
		Defaults: testDefaults("test-provider", 3),
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"Analyzer": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(1),
				CustomInstructions: "You are Analyzer.",
			},
			"Investigator": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				MCPServers:         []string{"test-mcp"},
				CustomInstructions: "You are Investigator, analyzing incidents in depth.",
			},
			"Summarizer": {
				LLMBackend:         config.LLMBackendNativeGemini,
				MaxIterations:      intPtr(3),
				CustomInstructions: "You are Summarizer.",
			},
			"SynthesisAgent": {
				Type:               config.AgentTypeSynthesis,
				CustomInstructions: "You are SynthesisAgent, synthesizing parallel investigation results.",
			},
		}),
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"test-provider": googleProvider("test-model"),
		}),
		ChainRegistry: config.NewChainRegistry(map[string]*config.ChainConfig{
			"resilience-chain": {
				AlertTypes: []string{"test-resilience"},
				Stages: []config.StageConfig{
					{Name: "analysis", Agents: []config.StageAgentConfig{
						{Name: "Analyzer"},
						{Name: "Investigator"},
					}, SuccessPolicy: config.SuccessPolicyAny,
						Synthesis: &config.SynthesisConfig{LLMBackend: config.LLMBackendNativeGemini}},
					{Name: "summary", Agents: []config.StageAgentConfig{
						{Name: "Summarizer"},
					}},
				},
			},
		}),
		MCPServerRegistry: config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-mcp": stdioServer(),
		}),
	}
}
