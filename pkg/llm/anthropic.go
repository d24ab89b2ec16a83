package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/tarsy-io/tarsy/pkg/agent"
	"github.com/tarsy-io/tarsy/pkg/config"
)

// anthropicProvider implements provider against Anthropic's Messages API.
type anthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxToolTok   int
}

func newAnthropicProvider(cfg *config.LLMProviderConfig) (*anthropicProvider, error) {
	key, err := apiKey(cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.Model,
		maxToolTok:   cfg.MaxToolResultTokens,
	}, nil
}

func (p *anthropicProvider) close() error { return nil }

func (p *anthropicProvider) generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	out := make(chan agent.Chunk, 32)

	go func() {
		defer close(out)

		messages, system := p.convertMessages(input.Messages)
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(p.model(input.Config.Model)),
			Messages:  messages,
			MaxTokens: int64(maxTokensOrDefault(0)),
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if len(input.Tools) > 0 {
			params.Tools = p.convertTools(input.Tools)
		}

		err := retryWithBackoff(ctx, defaultMaxRetries, defaultRetryDelay, isRetryableMessage, func() error {
			stream := p.client.Messages.NewStreaming(ctx, params)
			return p.consumeStream(stream, out)
		})
		if err != nil {
			select {
			case out <- &agent.ErrorChunk{Message: err.Error(), Retryable: isRetryableMessage(err)}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

// consumeStream drains one Anthropic SSE stream, emitting chunks as it goes.
// A nil return means message_stop was observed; any other return is the
// terminal stream error, left for the caller's retry loop to classify.
func (p *anthropicProvider) consumeStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- agent.Chunk) error {
	var toolCallID, toolCallName string
	var toolInput strings.Builder
	inThinking := false
	var inputTokens, outputTokens, thinkingTokens int64

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			inputTokens = ms.Message.Usage.InputTokens

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
			case "tool_use":
				toolUse := block.AsToolUse()
				toolCallID, toolCallName = toolUse.ID, toolUse.Name
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- &agent.TextChunk{Content: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- &agent.ThinkingChunk{Content: delta.Thinking}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
			} else if toolCallName != "" {
				out <- &agent.ToolCallChunk{CallID: toolCallID, Name: toolCallName, Arguments: toolInput.String()}
				toolCallID, toolCallName = "", ""
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = md.Usage.OutputTokens
			}

		case "message_stop":
			out <- &agent.UsageChunk{
				InputTokens:    int(inputTokens),
				OutputTokens:   int(outputTokens),
				TotalTokens:    int(inputTokens + outputTokens),
				ThinkingTokens: int(thinkingTokens),
			}
			return nil

		case "error":
			return errors.New("anthropic stream error")
		}
	}

	return stream.Err()
}

func (p *anthropicProvider) convertMessages(messages []agent.ConversationMessage) ([]anthropic.MessageParam, string) {
	var system string
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == agent.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if msg.Role == agent.RoleTool {
			blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			result = append(result, anthropic.NewUserMessage(blocks...))
			continue
		}

		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
		}

		if msg.Role == agent.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}

	return result, system
}

func (p *anthropicProvider) convertTools(tools []agent.ToolDefinition) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal([]byte(tool.ParametersSchema), &schema); err != nil {
			schema = anthropic.ToolInputSchemaParam{}
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, param)
	}
	return result
}

func (p *anthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
