package config

// LLMProviderConfig is one LLM provider entry from llm-providers.yaml.
// The Type field picks the vendor implementation in pkg/llm; everything
// else parameterizes it.
type LLMProviderConfig struct {
	Type LLMProviderType `yaml:"type" validate:"required"`

	Model string `yaml:"model" validate:"required"`

	// APIKeyEnv names the environment variable holding the API key — the
	// key itself never appears in configuration files.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// ProjectEnv/LocationEnv name the env vars for Vertex AI routing.
	ProjectEnv  string `yaml:"project_env,omitempty"`
	LocationEnv string `yaml:"location_env,omitempty"`

	// CredentialsEnv names the env var holding the path to a Vertex AI
	// service-account credentials file.
	CredentialsEnv string `yaml:"credentials_env,omitempty"`

	// BaseURL points OpenAI-compatible providers (xAI, self-hosted
	// gateways) at a non-default endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// MaxToolResultTokens bounds how much tool output a single request may
	// carry back to the provider.
	MaxToolResultTokens int `yaml:"max_tool_result_tokens" validate:"required,min=1000"`

	// NativeTools toggles Gemini's built-in tools (search grounding, code
	// execution, URL context) for this provider.
	NativeTools map[GoogleNativeTool]bool `yaml:"native_tools,omitempty"`
}

// LLMProviderRegistry holds the merged built-in + user-defined providers.
type LLMProviderRegistry struct {
	reg *registry[LLMProviderConfig]
}

// NewLLMProviderRegistry copies the given providers into a new registry.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	return &LLMProviderRegistry{reg: newRegistry(providers)}
}

// Get returns the provider for name, or ErrLLMProviderNotFound.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	return r.reg.get(name, ErrLLMProviderNotFound)
}

// GetAll returns a copy of every provider entry.
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	return r.reg.all()
}

// Has reports whether a provider exists for name.
func (r *LLMProviderRegistry) Has(name string) bool {
	return r.reg.has(name)
}

// Len returns the number of provider entries.
func (r *LLMProviderRegistry) Len() int {
	return r.reg.size()
}
