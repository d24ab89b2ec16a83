package config

import "fmt"

// ChainConfig is one multi-stage processing chain: which alert types route
// to it and the ordered stages it runs. Chain-level fields override the
// system defaults for every stage in the chain.
type ChainConfig struct {
	// AlertTypes this chain handles. Each alert type may route to at most
	// one chain; the validator enforces uniqueness.
	AlertTypes []string `yaml:"alert_types" validate:"required,min=1"`

	// Description is shown in the dashboard's chain listing.
	Description string `yaml:"description,omitempty"`

	// Stages run in order; a stage failure under the default policy stops
	// the chain.
	Stages []StageConfig `yaml:"stages" validate:"required,min=1,dive"`

	// LLMProvider overrides the default provider for the whole chain.
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// ExecutiveSummaryProvider overrides LLMProvider for the wrap-up
	// summary call only.
	ExecutiveSummaryProvider string `yaml:"executive_summary_provider,omitempty"`

	// LLMBackend overrides the default SDK path for the whole chain.
	LLMBackend LLMBackend `yaml:"llm_backend,omitempty"`

	// MaxIterations overrides the default iteration cap for every stage.
	MaxIterations *int `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`

	// MCPServers overrides each agent's own server list for the whole chain.
	MCPServers []string `yaml:"mcp_servers,omitempty"`
}

// StageConfig is one stage of a chain. A stage with one agent and no
// replicas runs sequentially; multiple agents or replicas > 1 fan out in
// parallel and aggregate under SuccessPolicy.
type StageConfig struct {
	Name string `yaml:"name" validate:"required"`

	// Agents always uses array form, even for a single agent:
	// [{name: "AgentName"}].
	Agents []StageAgentConfig `yaml:"agents" validate:"required,min=1,dive"`

	// Replicas runs the same agent N times with identical config.
	Replicas int `yaml:"replicas,omitempty" validate:"omitempty,min=1"`

	// SuccessPolicy decides how parallel outcomes aggregate: "all" or "any".
	SuccessPolicy SuccessPolicy `yaml:"success_policy,omitempty"`

	// MaxIterations overrides the cap for this stage's agents.
	MaxIterations *int `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`

	// MCPServers overrides the server list for this stage's agents.
	MCPServers []string `yaml:"mcp_servers,omitempty"`

	// Synthesis configures the reconciliation agent that runs after a
	// parallel stage.
	Synthesis *SynthesisConfig `yaml:"synthesis,omitempty"`
}

// ChainRegistry holds the chain definitions plus the alert-type routing
// lookups the submission path uses.
type ChainRegistry struct {
	reg *registry[ChainConfig]
}

// NewChainRegistry copies the given definitions into a new registry.
func NewChainRegistry(chains map[string]*ChainConfig) *ChainRegistry {
	return &ChainRegistry{reg: newRegistry(chains)}
}

// Get returns the chain definition for chainID, or ErrChainNotFound.
func (r *ChainRegistry) Get(chainID string) (*ChainConfig, error) {
	return r.reg.get(chainID, ErrChainNotFound)
}

// GetByAlertType returns the chain that handles alertType.
func (r *ChainRegistry) GetByAlertType(alertType string) (*ChainConfig, error) {
	_, chain := r.reg.find(func(_ string, c *ChainConfig) bool {
		return handlesAlertType(c, alertType)
	})
	if chain == nil {
		return nil, fmt.Errorf("%w for alert type: %s", ErrChainNotFound, alertType)
	}
	return chain, nil
}

// GetIDByAlertType returns the id of the chain that handles alertType.
func (r *ChainRegistry) GetIDByAlertType(alertType string) (string, error) {
	id, _ := r.reg.find(func(_ string, c *ChainConfig) bool {
		return handlesAlertType(c, alertType)
	})
	if id == "" {
		return "", fmt.Errorf("%w for alert type: %s", ErrChainNotFound, alertType)
	}
	return id, nil
}

func handlesAlertType(c *ChainConfig, alertType string) bool {
	for _, at := range c.AlertTypes {
		if at == alertType {
			return true
		}
	}
	return false
}

// GetAll returns a copy of every chain definition.
func (r *ChainRegistry) GetAll() map[string]*ChainConfig {
	return r.reg.all()
}

// Has reports whether a chain definition exists for chainID.
func (r *ChainRegistry) Has(chainID string) bool {
	return r.reg.has(chainID)
}

// Len returns the number of chain definitions.
func (r *ChainRegistry) Len() int {
	return r.reg.size()
}
