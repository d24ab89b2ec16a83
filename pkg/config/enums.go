package config

// AgentType determines what the agent does — drives controller selection and agent wrapper.
type AgentType string

const (
	AgentTypeDefault   AgentType = ""          // Regular investigation agent (iterating controller)
	AgentTypeSynthesis AgentType = "synthesis" // Synthesizes parallel investigation results (single-shot)
)

// IsValid checks if the agent type is valid (empty string is valid — means default).
func (t AgentType) IsValid() bool {
	switch t {
	case AgentTypeDefault, AgentTypeSynthesis:
		return true
	default:
		return false
	}
}

// LLMBackend determines which SDK path to use for LLM calls.
type LLMBackend string

const (
	LLMBackendNativeGemini LLMBackend = "google-native" // Google SDK direct
	LLMBackendLangChain    LLMBackend = "langchain"     // LangChain multi-provider
)

// IsValid checks if the LLM backend is valid (empty string is NOT valid — must be explicit).
func (b LLMBackend) IsValid() bool {
	return b == LLMBackendNativeGemini || b == LLMBackendLangChain
}

// MaxIterationsAction selects what happens when an iterating agent spends
// its iteration budget without reaching a final answer.
type MaxIterationsAction string

const (
	// MaxIterationsPause suspends the execution with pause metadata so an
	// operator can resume it later (the default).
	MaxIterationsPause MaxIterationsAction = "pause"
	// MaxIterationsForceConclusion makes one more LLM call without tools to
	// force a final answer instead of suspending.
	MaxIterationsForceConclusion MaxIterationsAction = "force-conclusion"
)

// IsValid checks the action value (empty string is valid — means pause).
func (a MaxIterationsAction) IsValid() bool {
	switch a {
	case "", MaxIterationsPause, MaxIterationsForceConclusion:
		return true
	default:
		return false
	}
}

// SuccessPolicy defines success criteria for parallel stages
type SuccessPolicy string

const (
	// SuccessPolicyAll requires all agents to succeed
	SuccessPolicyAll SuccessPolicy = "all"
	// SuccessPolicyAny requires at least one agent to succeed (default)
	SuccessPolicyAny SuccessPolicy = "any"
)

// IsValid checks if the success policy is valid
func (p SuccessPolicy) IsValid() bool {
	return p == SuccessPolicyAll || p == SuccessPolicyAny
}

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses HTTP/HTTPS JSON-RPC
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// LLMProviderType defines supported LLM providers
type LLMProviderType string

const (
	// LLMProviderTypeGoogle is Google Gemini API
	LLMProviderTypeGoogle LLMProviderType = "google"
	// LLMProviderTypeOpenAI is OpenAI API
	LLMProviderTypeOpenAI LLMProviderType = "openai"
	// LLMProviderTypeAnthropic is Anthropic Claude API
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	// LLMProviderTypeXAI is xAI Grok API
	LLMProviderTypeXAI LLMProviderType = "xai"
	// LLMProviderTypeVertexAI is Google Vertex AI
	LLMProviderTypeVertexAI LLMProviderType = "vertexai"
)

// IsValid checks if the LLM provider type is valid
func (t LLMProviderType) IsValid() bool {
	switch t {
	case LLMProviderTypeGoogle,
		LLMProviderTypeOpenAI,
		LLMProviderTypeAnthropic,
		LLMProviderTypeXAI,
		LLMProviderTypeVertexAI:
		return true
	default:
		return false
	}
}

// IterationStrategy selects the control loop an agent execution runs under.
type IterationStrategy string

const (
	// IterationStrategyReact runs the standard think/act/observe tool-calling loop.
	IterationStrategyReact IterationStrategy = "react"
	// IterationStrategyNativeThinking runs a single Google-native call with
	// built-in thinking and native tools (search, code execution, URL context),
	// no MCP tool loop.
	IterationStrategyNativeThinking IterationStrategy = "native-thinking"
	// IterationStrategyLangChain runs the ReAct loop through the LangChain backend.
	IterationStrategyLangChain IterationStrategy = "langchain"
	// IterationStrategySynthesis is a single-shot call that synthesizes parallel
	// stage results into one analysis, no tool loop.
	IterationStrategySynthesis IterationStrategy = "synthesis"
	// IterationStrategySynthesisNativeThinking synthesizes parallel stage results
	// using the Google-native thinking backend.
	IterationStrategySynthesisNativeThinking IterationStrategy = "synthesis-native-thinking"
)

// IsValid checks if the iteration strategy is valid (empty string is NOT valid — must be explicit).
func (s IterationStrategy) IsValid() bool {
	switch s {
	case IterationStrategyReact,
		IterationStrategyNativeThinking,
		IterationStrategyLangChain,
		IterationStrategySynthesis,
		IterationStrategySynthesisNativeThinking:
		return true
	default:
		return false
	}
}

// GoogleNativeTool defines Google/Gemini native tools
type GoogleNativeTool string

const (
	// GoogleNativeToolGoogleSearch enables Google Search grounding
	GoogleNativeToolGoogleSearch GoogleNativeTool = "google_search"
	// GoogleNativeToolCodeExecution enables code execution
	GoogleNativeToolCodeExecution GoogleNativeTool = "code_execution"
	// GoogleNativeToolURLContext enables URL context fetching
	GoogleNativeToolURLContext GoogleNativeTool = "url_context"
)

// IsValid checks if the Google native tool is valid
func (t GoogleNativeTool) IsValid() bool {
	return t == GoogleNativeToolGoogleSearch ||
		t == GoogleNativeToolCodeExecution ||
		t == GoogleNativeToolURLContext
}
