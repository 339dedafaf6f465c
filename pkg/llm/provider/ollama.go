package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/muthuks2020/reasona/pkg/config"
	"github.com/muthuks2020/reasona/pkg/security"
)

func init() {
	RegisterFactory("ollama", func(cfg config.ProviderConfig) (Provider, error) {
		return NewOllamaProvider(cfg.BaseURL)
	})
}

// ollamaGuard limits Ollama to loopback and well-known container hosts.
// Container names may resolve to private addresses, so those are allowed.
var ollamaGuard = security.NewSSRFValidator(security.SSRFConfig{
	AllowedHosts:   []string{"localhost", "127.0.0.1", "::1", "ollama", "host.docker.internal"},
	AllowLocalhost: true,
	BlockMetadata:  true,
	BlockLinkLocal: true,
})

// OllamaProvider talks to an Ollama server's native /api/chat endpoint
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaProvider checks baseURL against the host allowlist. Every
// connection is checked again at dial time.
func NewOllamaProvider(baseURL string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = config.DefaultOllamaURL
	}
	if _, err := ollamaGuard.CheckURL(baseURL); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   5 * time.Minute,
			Transport: ollamaGuard.CreateSecureTransport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

// CreateCompletion calls /api/chat without streaming
func (p *OllamaProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.post(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewProviderError("ollama", ErrorCodeUnknown, "decode response: "+err.Error(), err)
	}

	result := &CompletionResponse{
		Content:      out.Message.Content,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}
	if out.DoneReason != "" {
		result.FinishReason = out.DoneReason
	}
	for i, tc := range out.Message.ToolCalls {
		args := tc.Function.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return result, nil
}

// CreateStreaming calls /api/chat and reads newline-delimited JSON
func (p *OllamaProvider) CreateStreaming(ctx context.Context, req CompletionRequest) (Stream, error) {
	resp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	return &ollamaStream{scanner: bufio.NewScanner(resp.Body), body: resp.Body}, nil
}

// ListModels returns the locally pulled models from /api/tags
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError("ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("ollama", resp.StatusCode, fmt.Sprintf("list models failed with status %d", resp.StatusCode), nil)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *OllamaProvider) buildRequest(req CompletionRequest, stream bool) ollamaRequest {
	oreq := ollamaRequest{
		Model:  req.Model,
		Stream: stream,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		oreq.Options["num_predict"] = req.MaxTokens
	}

	for _, m := range req.Messages {
		msg := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = tc.Function.Arguments
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		oreq.Messages = append(oreq.Messages, msg)
	}

	for _, t := range req.Tools {
		var tool ollamaTool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		oreq.Tools = append(oreq.Tools, tool)
	}

	return oreq
}

func (p *OllamaProvider) post(ctx context.Context, body ollamaRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError("ollama", fmt.Errorf("send request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, statusError("ollama", resp.StatusCode,
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}
	return resp, nil
}

type ollamaStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	done    bool
}

func (s *ollamaStream) Recv() (*StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp ollamaResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if resp.Error != "" {
			s.done = true
			return nil, NewProviderError("ollama", ErrorCodeServerError, resp.Error, nil)
		}
		chunk := &StreamChunk{Delta: resp.Message.Content}
		if resp.Done {
			s.done = true
			chunk.FinishReason = "stop"
			if resp.DoneReason != "" {
				chunk.FinishReason = resp.DoneReason
			}
		}
		return chunk, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *ollamaStream) Close() error {
	s.done = true
	return s.body.Close()
}
