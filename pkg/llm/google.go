package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/config"
	"google.golang.org/genai"
)

// googleProvider implements provider against the Gemini API, either directly
// (config.LLMProviderTypeGoogle) or through Vertex AI (config.LLMProviderTypeVertexAI).
// Native Gemini tools (Google Search grounding, code execution, URL context)
// are enabled per cfg.NativeTools and only apply when no MCP tools are bound,
// matching the Gemini API's own restriction on mixing function declarations
// with native tools.
type googleProvider struct {
	client       *genai.Client
	defaultModel string
	nativeTools  map[config.GoogleNativeTool]bool
}

func newGoogleProvider(cfg *config.LLMProviderConfig) (*googleProvider, error) {
	ccfg := &genai.ClientConfig{}

	switch cfg.Type {
	case config.LLMProviderTypeVertexAI:
		ccfg.Backend = genai.BackendVertexAI
		if cfg.ProjectEnv != "" {
			ccfg.Project = os.Getenv(cfg.ProjectEnv)
		}
		if cfg.LocationEnv != "" {
			ccfg.Location = os.Getenv(cfg.LocationEnv)
		}
		if ccfg.Project == "" {
			return nil, fmt.Errorf("llm: vertex ai provider requires %s to be set", cfg.ProjectEnv)
		}
	default:
		ccfg.Backend = genai.BackendGeminiAPI
		key, err := apiKey(cfg.APIKeyEnv)
		if err != nil {
			return nil, err
		}
		ccfg.APIKey = key
	}

	client, err := genai.NewClient(context.Background(), ccfg)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create google client: %w", err)
	}

	return &googleProvider{
		client:       client,
		defaultModel: cfg.Model,
		nativeTools:  cfg.NativeTools,
	}, nil
}

func (p *googleProvider) close() error { return nil }

func (p *googleProvider) generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	model := p.model(input.Config.Model)
	contents, system := p.convertMessages(input.Messages)
	genConfig := &genai.GenerateContentConfig{MaxOutputTokens: defaultMaxTokens}
	if system != "" {
		genConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	if len(input.Tools) > 0 {
		genConfig.Tools = p.convertFunctionTools(input.Tools)
	} else {
		genConfig.Tools = p.nativeToolSet()
	}

	out := make(chan agent.Chunk, 32)
	go func() {
		defer close(out)

		err := retryWithBackoff(ctx, defaultMaxRetries, defaultRetryDelay, isRetryableMessage, func() error {
			stream := p.client.Models.GenerateContentStream(ctx, model, contents, genConfig)
			return p.consumeStream(ctx, stream, out)
		})
		if err != nil {
			out <- &agent.ErrorChunk{Message: err.Error(), Retryable: isRetryableMessage(err)}
		}
	}()

	return out, nil
}

func (p *googleProvider) consumeStream(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], out chan<- agent.Chunk) error {
	var inputTokens, outputTokens, thinkingTokens int32

	for resp, err := range stream {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			inputTokens = resp.UsageMetadata.PromptTokenCount
			outputTokens = resp.UsageMetadata.CandidatesTokenCount
			thinkingTokens = resp.UsageMetadata.ThoughtsTokenCount
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				p.emitPart(part, out)
			}
			p.emitGrounding(candidate, out)
		}
	}

	out <- &agent.UsageChunk{
		InputTokens:    int(inputTokens),
		OutputTokens:   int(outputTokens),
		TotalTokens:    int(inputTokens + outputTokens),
		ThinkingTokens: int(thinkingTokens),
	}
	return nil
}

func (p *googleProvider) emitPart(part *genai.Part, out chan<- agent.Chunk) {
	if part == nil {
		return
	}
	switch {
	case part.Text != "" && part.Thought:
		out <- &agent.ThinkingChunk{Content: part.Text}
	case part.Text != "":
		out <- &agent.TextChunk{Content: part.Text}
	case part.FunctionCall != nil:
		argsJSON, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			argsJSON = []byte("{}")
		}
		id := part.FunctionCall.ID
		if id == "" {
			id = fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, time.Now().UnixNano())
		}
		out <- &agent.ToolCallChunk{CallID: id, Name: part.FunctionCall.Name, Arguments: string(argsJSON)}
	case part.ExecutableCode != nil:
		out <- &agent.CodeExecutionChunk{Code: part.ExecutableCode.Code}
	case part.CodeExecutionResult != nil:
		out <- &agent.CodeExecutionChunk{Result: part.CodeExecutionResult.Output}
	}
}

func (p *googleProvider) emitGrounding(candidate *genai.Candidate, out chan<- agent.Chunk) {
	gm := candidate.GroundingMetadata
	if gm == nil {
		return
	}

	grounding := &agent.GroundingChunk{WebSearchQueries: gm.WebSearchQueries}
	for _, chunk := range gm.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		grounding.Sources = append(grounding.Sources, agent.GroundingSource{URI: chunk.Web.URI, Title: chunk.Web.Title})
	}
	for _, support := range gm.GroundingSupports {
		if support == nil || support.Segment == nil {
			continue
		}
		indices := make([]int, len(support.GroundingChunkIndices))
		for i, idx := range support.GroundingChunkIndices {
			indices[i] = int(idx)
		}
		grounding.Supports = append(grounding.Supports, agent.GroundingSupport{
			StartIndex:            int(support.Segment.StartIndex),
			EndIndex:              int(support.Segment.EndIndex),
			Text:                  support.Segment.Text,
			GroundingChunkIndices: indices,
		})
	}
	if gm.SearchEntryPoint != nil {
		grounding.SearchEntryPointHTML = gm.SearchEntryPoint.RenderedContent
	}

	if len(grounding.WebSearchQueries) > 0 || len(grounding.Sources) > 0 {
		out <- grounding
	}
}

func (p *googleProvider) convertMessages(messages []agent.ConversationMessage) ([]*genai.Content, string) {
	var system string
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == agent.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		switch msg.Role {
		case agent.RoleAssistant:
			content.Role = genai.RoleModel
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
				})
			}
		case agent.RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{ID: msg.ToolCallID, Name: msg.ToolName, Response: response},
			})
		default:
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, system
}

func (p *googleProvider) convertFunctionTools(tools []agent.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schema *genai.Schema
		if err := json.Unmarshal([]byte(tool.ParametersSchema), &schema); err != nil {
			schema = &genai.Schema{Type: genai.TypeObject}
		}
		normalizeSchemaTypes(schema)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// normalizeSchemaTypes uppercases JSON-Schema type names recursively. MCP
// servers emit standard JSON Schema ("object", "string", ...) while the
// Gemini API only accepts its own uppercase Type enum.
func normalizeSchemaTypes(s *genai.Schema) {
	if s == nil {
		return
	}
	if s.Type != "" {
		s.Type = genai.Type(strings.ToUpper(string(s.Type)))
	}
	for _, prop := range s.Properties {
		normalizeSchemaTypes(prop)
	}
	normalizeSchemaTypes(s.Items)
	for _, sub := range s.AnyOf {
		normalizeSchemaTypes(sub)
	}
}

// nativeToolSet builds the Gemini-native tool list (search, code execution,
// URL context) from configuration. Only meaningful when no MCP/function
// tools are bound for this call.
func (p *googleProvider) nativeToolSet() []*genai.Tool {
	var tools []*genai.Tool
	if p.nativeTools[config.GoogleNativeToolGoogleSearch] {
		tools = append(tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if p.nativeTools[config.GoogleNativeToolCodeExecution] {
		tools = append(tools, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
	}
	if p.nativeTools[config.GoogleNativeToolURLContext] {
		tools = append(tools, &genai.Tool{URLContext: &genai.URLContext{}})
	}
	return tools
}

func (p *googleProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}
