// Package controller provides agent type implementations for controllers.
package controller

import (
	"fmt"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/config"
)

// Factory creates controllers by agent type.
// Implements agent.ControllerFactory.
type Factory struct{}

// NewFactory creates a new controller factory.
func NewFactory() *Factory {
	return &Factory{}
}

// CreateController builds a Controller for the given agent type.
func (f *Factory) CreateController(agentType config.AgentType, execCtx *agent.ExecutionContext) (agent.Controller, error) {
	switch agentType {
	case config.AgentTypeDefault:
		if execCtx.Config.LLMBackend == config.LLMBackendNativeGemini {
			return NewNativeThinkingController(), nil
		}
		return NewReActController(), nil
	case config.AgentTypeSynthesis:
		return NewSynthesisController(execCtx.PromptBuilder), nil
	default:
		return nil, fmt.Errorf("unknown agent type: %q", agentType)
	}
}
