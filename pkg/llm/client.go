// Package llm implements agent.LLMClient directly against the major model
// vendor SDKs (Anthropic, OpenAI, Gemini) instead of proxying to an external
// service. Which vendor handles a given call is decided per-request from
// config.LLMProviderConfig.Type, so a single Client instance can serve agents
// that mix providers across stages.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/config"
)

// provider is the minimal internal surface each vendor backend implements.
// Client adapts agent.LLMClient's single Generate/Close pair onto whichever
// provider a request's config.LLMProviderConfig.Type selects.
type provider interface {
	generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error)
	close() error
}

// Client is the concrete agent.LLMClient implementation wired into the
// application. It lazily constructs one provider instance per distinct
// (type, API key env var, base URL) triple and reuses it across calls, since
// each vendor SDK client owns its own HTTP transport and connection pool.
type Client struct {
	mu        sync.Mutex
	providers map[string]provider
}

// NewClient creates an LLM client with no providers instantiated yet.
// Providers are created on first use and cached for the life of the Client.
func NewClient() *Client {
	return &Client{providers: make(map[string]provider)}
}

// Generate routes the request to the provider named by input.Config.Type,
// creating and caching that provider's client on first use.
func (c *Client) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	if input.Config == nil {
		return nil, fmt.Errorf("llm: GenerateInput.Config is required")
	}

	p, err := c.providerFor(input.Config)
	if err != nil {
		return nil, err
	}
	return p.generate(ctx, input)
}

// Close releases every provider client created so far.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, p := range c.providers {
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("llm: closing provider %s: %w", key, err)
		}
	}
	c.providers = make(map[string]provider)
	return firstErr
}

func (c *Client) providerFor(cfg *config.LLMProviderConfig) (provider, error) {
	key := string(cfg.Type) + "|" + cfg.APIKeyEnv + "|" + cfg.BaseURL

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.providers[key]; ok {
		return p, nil
	}

	p, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	c.providers[key] = p
	return p, nil
}

func newProvider(cfg *config.LLMProviderConfig) (provider, error) {
	switch cfg.Type {
	case config.LLMProviderTypeAnthropic:
		return newAnthropicProvider(cfg)
	case config.LLMProviderTypeOpenAI, config.LLMProviderTypeXAI:
		return newOpenAIProvider(cfg)
	case config.LLMProviderTypeGoogle, config.LLMProviderTypeVertexAI:
		return newGoogleProvider(cfg)
	default:
		return nil, fmt.Errorf("llm: unsupported provider type %q", cfg.Type)
	}
}
