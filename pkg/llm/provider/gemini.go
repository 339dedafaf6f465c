package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/muthuks2020/reasona/pkg/config"
)

func init() {
	RegisterFactory("google", func(cfg config.ProviderConfig) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY not set")
		}
		return NewGeminiProvider(context.Background(), cfg)
	})
}

// GeminiProvider implements Provider for the Gemini API using the Gen AI SDK
type GeminiProvider struct {
	client *genai.Client
	retry  RetryPolicy
}

// NewGeminiProvider creates a Gemini API client authenticated by API key
func NewGeminiProvider(ctx context.Context, cfg config.ProviderConfig) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout.Std()}
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client, retry: DefaultRetryPolicy}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "google"
}

// CreateCompletion generates content
func (p *GeminiProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	contents, genConfig := p.buildRequest(req)

	var resp *genai.GenerateContentResponse
	err := p.retry.do(ctx, func() error {
		var err error
		resp, err = p.client.Models.GenerateContent(ctx, req.Model, contents, genConfig)
		return p.wrapError(err)
	})
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp)
}

// CreateStreaming streams generated content
func (p *GeminiProvider) CreateStreaming(ctx context.Context, req CompletionRequest) (Stream, error) {
	contents, genConfig := p.buildRequest(req)

	streamCtx, cancel := context.WithCancel(ctx)
	chunks := make(chan geminiChunk)

	go func() {
		defer close(chunks)
		for resp, err := range p.client.Models.GenerateContentStream(streamCtx, req.Model, contents, genConfig) {
			chunk := geminiChunk{err: p.wrapError(err)}
			if err == nil {
				chunk.text, chunk.finish = streamText(resp)
			}
			select {
			case chunks <- chunk:
			case <-streamCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	return &geminiStream{chunks: chunks, cancel: cancel}, nil
}

// ListModels returns the models available to the API key
func (p *GeminiProvider) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, p.wrapError(err)
		}
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	sort.Strings(names)
	return names, nil
}

func (p *GeminiProvider) buildRequest(req CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		genConfig.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			genConfig.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     m.Name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		case RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Function.Arguments, &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args},
				})
			}
			contents = append(contents, content)
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			}
			if len(t.Parameters) > 0 {
				decls[i].ParametersJsonSchema = t.Parameters
			}
		}
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, genConfig
}

func (p *GeminiProvider) parseResponse(resp *genai.GenerateContentResponse) (*CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, NewProviderError("google", ErrorCodeUnknown, "no candidates in response", nil)
	}

	candidate := resp.Candidates[0]
	result := &CompletionResponse{FinishReason: "stop"}

	if candidate.Content != nil {
		for i, part := range candidate.Content.Parts {
			if part.Text != "" {
				result.Content += part.Text
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("%s_%d", part.FunctionCall.Name, i)
				}
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:   id,
					Type: "function",
					Function: FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: args,
					},
				})
			}
		}
	}

	if reason := string(candidate.FinishReason); reason != "" && reason != "STOP" {
		result.FinishReason = strings.ToLower(reason)
	}

	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return result, nil
}

// wrapError converts Gen AI errors to ProviderError
func (p *GeminiProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError("google", apiErr.Code, apiErr.Message, err)
	}
	return transportError("google", err)
}

func streamText(resp *genai.GenerateContentResponse) (string, string) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ""
	}
	candidate := resp.Candidates[0]
	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
	}
	var finish string
	if candidate.FinishReason != "" {
		finish = strings.ToLower(string(candidate.FinishReason))
	}
	return text.String(), finish
}

type geminiChunk struct {
	text   string
	finish string
	err    error
}

type geminiStream struct {
	chunks <-chan geminiChunk
	cancel context.CancelFunc
	done   bool
}

func (s *geminiStream) Recv() (*StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}
	chunk, ok := <-s.chunks
	if !ok {
		s.done = true
		return nil, io.EOF
	}
	if chunk.err != nil {
		s.done = true
		return nil, chunk.err
	}
	return &StreamChunk{Delta: chunk.text, FinishReason: chunk.finish}, nil
}

func (s *geminiStream) Close() error {
	s.done = true
	s.cancel()
	return nil
}
