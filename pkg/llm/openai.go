package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/config"
)

// openaiProvider implements provider against the OpenAI Chat Completions API.
// xAI's Grok models speak the same wire protocol, so a request configured
// with LLMProviderTypeXAI reaches here too — only the base URL differs.
type openaiProvider struct {
	client       *openai.Client
	defaultModel string
}

func newOpenAIProvider(cfg *config.LLMProviderConfig) (*openaiProvider, error) {
	key, err := apiKey(cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(key)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &openaiProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.Model,
	}, nil
}

func (p *openaiProvider) close() error { return nil }

func (p *openaiProvider) generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:     p.model(input.Config.Model),
		Messages:  p.convertMessages(input.Messages),
		MaxTokens: defaultMaxTokens,
		Stream:    true,
	}
	if len(input.Tools) > 0 {
		req.Tools = p.convertTools(input.Tools)
	}

	out := make(chan agent.Chunk, 32)
	go func() {
		defer close(out)

		var stream *openai.ChatCompletionStream
		err := retryWithBackoff(ctx, defaultMaxRetries, defaultRetryDelay, isRetryableMessage, func() error {
			var streamErr error
			stream, streamErr = p.client.CreateChatCompletionStream(ctx, req)
			return streamErr
		})
		if err != nil {
			out <- &agent.ErrorChunk{Message: err.Error(), Retryable: isRetryableMessage(err)}
			return
		}
		defer stream.Close()

		p.consumeStream(ctx, stream, out)
	}()

	return out, nil
}

func (p *openaiProvider) consumeStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- agent.Chunk) {
	type pendingCall struct{ id, name, args string }
	calls := make(map[int]*pendingCall)
	var inputTokens, outputTokens int

	flushCalls := func() {
		for i := 0; i < len(calls); i++ {
			if c := calls[i]; c != nil && c.id != "" && c.name != "" {
				out <- &agent.ToolCallChunk{CallID: c.id, Name: c.name, Arguments: c.args}
			}
		}
		calls = make(map[int]*pendingCall)
	}

	for {
		select {
		case <-ctx.Done():
			out <- &agent.ErrorChunk{Message: ctx.Err().Error()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushCalls()
				out <- &agent.UsageChunk{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens}
				return
			}
			out <- &agent.ErrorChunk{Message: err.Error(), Retryable: isRetryableMessage(err)}
			return
		}

		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			out <- &agent.TextChunk{Content: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if calls[idx] == nil {
				calls[idx] = &pendingCall{}
			}
			if tc.ID != "" {
				calls[idx].id = tc.ID
			}
			if tc.Function.Name != "" {
				calls[idx].name = tc.Function.Name
			}
			calls[idx].args += tc.Function.Arguments
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			flushCalls()
		}
	}
}

func (p *openaiProvider) convertMessages(messages []agent.ConversationMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case agent.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case agent.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			role := openai.ChatMessageRoleUser
			if msg.Role == agent.RoleSystem {
				role = openai.ChatMessageRoleSystem
			}
			result = append(result, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
		}
	}
	return result
}

func (p *openaiProvider) convertTools(tools []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal([]byte(tool.ParametersSchema), &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		})
	}
	return result
}

func (p *openaiProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}
