package config

// Shared types used across configuration structs

// TransportConfig defines MCP server transport configuration
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // extra env for the subprocess

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // In seconds
}

// MaskingConfig defines data masking configuration for MCP servers
type MaskingConfig struct {
	Enabled        bool             `yaml:"enabled"`
	PatternGroups  []string         `yaml:"pattern_groups,omitempty"`
	Patterns       []string         `yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// MaskingPattern defines a regex-based masking pattern
type MaskingPattern struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement" validate:"required"`
	Description string `yaml:"description,omitempty"`
}

// DefaultSizeThresholdTokens is the summarization threshold applied when a
// server's summarization block doesn't set size_threshold_tokens.
const DefaultSizeThresholdTokens = 5000

// SummarizationConfig defines when and how to summarize large MCP responses.
// Summarization is on by default: Enabled is a *bool so "omitted" and
// "explicitly false" are distinguishable.
type SummarizationConfig struct {
	Enabled              *bool `yaml:"enabled,omitempty"`
	SizeThresholdTokens  int   `yaml:"size_threshold_tokens,omitempty" validate:"omitempty,min=100"`
	SummaryMaxTokenLimit int   `yaml:"summary_max_token_limit,omitempty" validate:"omitempty,min=50"`
}

// SummarizationDisabled reports whether summarization was explicitly turned
// off. A nil config or nil Enabled means the default (enabled) applies.
func (s *SummarizationConfig) SummarizationDisabled() bool {
	return s != nil && s.Enabled != nil && !*s.Enabled
}

// BoolPtr returns a pointer to b, for the tri-state config fields above.
func BoolPtr(b bool) *bool {
	return &b
}

// StageAgentConfig represents an agent reference with stage-level overrides
// Used in stage.agents[] array (even for single-agent stages)
// Parallel execution occurs when: len(agents) > 1 OR replicas > 1
type StageAgentConfig struct {
	Name          string     `yaml:"name" validate:"required"`
	LLMProvider   string     `yaml:"llm_provider,omitempty"`
	LLMBackend    LLMBackend `yaml:"llm_backend,omitempty"`
	MaxIterations *int       `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
	MCPServers    []string   `yaml:"mcp_servers,omitempty"`
}

// SynthesisConfig defines synthesis agent configuration
type SynthesisConfig struct {
	Agent       string     `yaml:"agent,omitempty"`
	LLMBackend  LLMBackend `yaml:"llm_backend,omitempty"`
	LLMProvider string     `yaml:"llm_provider,omitempty"`
}

