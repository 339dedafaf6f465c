package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/sashabaranov/go-openai"

	"github.com/muthuks2020/reasona/pkg/config"
)

// Base URLs for OpenAI-compatible services
const (
	groqBaseURL    = "https://api.groq.com/openai/v1"
	mistralBaseURL = "https://api.mistral.ai/v1"

	defaultAzureAPIVersion = "2024-06-01"
)

func init() {
	RegisterFactory("openai", func(cfg config.ProviderConfig) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		oc.OrgID = cfg.Organization
		return NewOpenAIProvider("openai", oc, cfg), nil
	})

	RegisterFactory("groq", compatibleFactory("groq", "GROQ_API_KEY", groqBaseURL))
	RegisterFactory("mistral", compatibleFactory("mistral", "MISTRAL_API_KEY", mistralBaseURL))

	RegisterFactory("azure", func(cfg config.ProviderConfig) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("AZURE_OPENAI_API_KEY not set")
		}
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("AZURE_OPENAI_ENDPOINT not set")
		}
		oc := openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		oc.APIVersion = defaultAzureAPIVersion
		if cfg.APIVersion != "" {
			oc.APIVersion = cfg.APIVersion
		}
		return NewOpenAIProvider("azure", oc, cfg), nil
	})
}

// compatibleFactory builds a factory for services speaking the OpenAI wire format
func compatibleFactory(name, envVar, baseURL string) Factory {
	return func(cfg config.ProviderConfig) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s not set", envVar)
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		oc.BaseURL = baseURL
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		return NewOpenAIProvider(name, oc, cfg), nil
	}
}

// OpenAIProvider implements Provider for OpenAI and compatible APIs
type OpenAIProvider struct {
	name   string
	client *openai.Client
	retry  RetryPolicy
}

// NewOpenAIProvider creates a provider named name from a go-openai client config
func NewOpenAIProvider(name string, oc openai.ClientConfig, cfg config.ProviderConfig) *OpenAIProvider {
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout.Std()}
	}
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClientWithConfig(oc),
		retry:  DefaultRetryPolicy,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// CreateCompletion creates a chat completion
func (p *OpenAIProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	oreq := p.buildRequest(req)

	var resp openai.ChatCompletionResponse
	err := p.retry.do(ctx, func() error {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, oreq)
		return p.wrapError(err)
	})
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp)
}

// CreateStreaming creates a streaming chat completion
func (p *OpenAIProvider) CreateStreaming(ctx context.Context, req CompletionRequest) (Stream, error) {
	oreq := p.buildRequest(req)
	oreq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, p.wrapError(err)
	}
	return &openaiStream{stream: stream, provider: p}, nil
}

// ListModels returns the model ids visible to the API key, sorted
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.wrapError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == RoleTool {
			msg.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: string(tc.Function.Arguments),
				},
			})
		}
		messages[i] = msg
	}

	oreq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	for _, t := range req.Tools {
		var params any
		if len(t.Parameters) > 0 {
			params = t.Parameters
		}
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	return oreq
}

func (p *OpenAIProvider) parseResponse(resp openai.ChatCompletionResponse) (*CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, NewProviderError(p.name, ErrorCodeUnknown, "no choices in response", nil)
	}

	choice := resp.Choices[0]
	result := &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}

	return result, nil
}

// wrapError converts go-openai errors to ProviderError
func (p *OpenAIProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(p.name, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(p.name, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return transportError(p.name, err)
}

type openaiStream struct {
	stream   *openai.ChatCompletionStream
	provider *OpenAIProvider
}

func (s *openaiStream) Recv() (*StreamChunk, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, s.provider.wrapError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		return &StreamChunk{
			Delta:        choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
		}, nil
	}
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
