// Package config is the configuration layer: YAML-loaded agent, chain, MCP
// server and LLM provider definitions, the typed registries that hold them,
// and the validator that fail-fasts a bad configuration at startup.
package config

// AgentConfig is one agent definition as loaded from YAML. It is metadata
// only — agent.AgentFactory turns a resolved copy of it into a runnable
// agent per execution.
type AgentConfig struct {
	// Type selects the controller family (iterating vs. synthesis).
	Type AgentType `yaml:"type,omitempty"`

	// Description is shown in the dashboard's agent listing.
	Description string `yaml:"description,omitempty"`

	// MCPServers the agent may call tools on. Optional — an agent can run
	// without tools.
	MCPServers []string `yaml:"mcp_servers" validate:"omitempty"`

	// CustomInstructions are appended to the system prompt as the agent's
	// tier-3 instruction block.
	CustomInstructions string `yaml:"custom_instructions"`

	// LLMBackend picks the SDK path for this agent's LLM calls.
	LLMBackend LLMBackend `yaml:"llm_backend,omitempty"`

	// MaxIterations caps the agent's reasoning loop.
	MaxIterations *int `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`

	// OnMaxIterations decides what hitting the cap does: pause the
	// execution for a later resume (default), or force a tool-less
	// concluding call.
	OnMaxIterations MaxIterationsAction `yaml:"on_max_iterations,omitempty"`

	// NativeTools are per-agent Google/Gemini native tool overrides,
	// merged per-key over the LLM provider's own NativeTools map.
	NativeTools map[GoogleNativeTool]bool `yaml:"native_tools,omitempty"`
}

// AgentRegistry holds the merged built-in + user-defined agent definitions.
type AgentRegistry struct {
	reg *registry[AgentConfig]
}

// NewAgentRegistry copies the given definitions into a new registry.
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	return &AgentRegistry{reg: newRegistry(agents)}
}

// Get returns the agent definition for name, or ErrAgentNotFound.
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	return r.reg.get(name, ErrAgentNotFound)
}

// GetAll returns a copy of every agent definition.
func (r *AgentRegistry) GetAll() map[string]*AgentConfig {
	return r.reg.all()
}

// Has reports whether an agent definition exists for name.
func (r *AgentRegistry) Has(name string) bool {
	return r.reg.has(name)
}

// Len returns the number of agent definitions.
func (r *AgentRegistry) Len() int {
	return r.reg.size()
}
