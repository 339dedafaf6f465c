package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/muthuks2020/reasona/pkg/config"
)

// anthropicDefaultMaxTokens is used when a request leaves MaxTokens unset;
// the Messages API requires a value.
const anthropicDefaultMaxTokens = 4096

func init() {
	RegisterFactory("anthropic", func(cfg config.ProviderConfig) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return NewAnthropicProvider(cfg), nil
	})
}

// AnthropicProvider implements Provider for the Anthropic Messages API
type AnthropicProvider struct {
	client anthropic.Client
	retry  RetryPolicy
}

// NewAnthropicProvider creates a new Anthropic provider. SDK retries are
// disabled in favour of the provider retry policy.
func NewAnthropicProvider(cfg config.ProviderConfig) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Std()}))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		retry:  DefaultRetryPolicy,
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// CreateCompletion creates a message
func (p *AnthropicProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := p.buildParams(req)

	var resp *anthropic.Message
	err := p.retry.do(ctx, func() error {
		var err error
		resp, err = p.client.Messages.New(ctx, params)
		return p.wrapError(err)
	})
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp), nil
}

// CreateStreaming streams a message as text deltas
func (p *AnthropicProvider) CreateStreaming(ctx context.Context, req CompletionRequest) (Stream, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))
	if err := stream.Err(); err != nil {
		return nil, p.wrapError(err)
	}
	return &anthropicStream{stream: stream, provider: p}, nil
}

func (p *AnthropicProvider) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if len(tc.Function.Arguments) > 0 {
					_ = json.Unmarshal(tc.Function.Arguments, &input)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	return params
}

func buildAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}

		var params struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if len(t.Parameters) > 0 && json.Unmarshal(t.Parameters, &params) == nil {
			schema.Properties = params.Properties
			schema.Required = params.Required
		}

		out[i] = anthropic.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" && out[i].OfTool != nil {
			out[i].OfTool.Description = anthropic.String(t.Description)
		}
	}
	return out
}

func (p *AnthropicProvider) parseResponse(resp *anthropic.Message) *CompletionResponse {
	result := &CompletionResponse{
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	if resp.StopReason != "" {
		result.FinishReason = string(resp.StopReason)
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := json.RawMessage(toolBlock.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:   toolBlock.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      toolBlock.Name,
					Arguments: args,
				},
			})
		}
	}

	return result
}

// wrapError converts SDK errors to ProviderError
func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return statusError("anthropic", apiErr.StatusCode, apiErr.Error(), err)
	}
	return transportError("anthropic", err)
}

type anthropicStream struct {
	stream   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	provider *AnthropicProvider
}

func (s *anthropicStream) Recv() (*StreamChunk, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text != "" {
				return &StreamChunk{Delta: event.Delta.Text}, nil
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				return &StreamChunk{FinishReason: string(event.Delta.StopReason)}, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return nil, s.provider.wrapError(err)
	}
	return nil, io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
