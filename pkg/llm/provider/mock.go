package provider

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/muthuks2020/reasona/pkg/config"
)

func init() {
	RegisterFactory("mock", func(config.ProviderConfig) (Provider, error) {
		return NewMockProvider("mock"), nil
	})
}

// MockProvider is a scripted provider for tests and offline runs. Queued
// responses and errors are consumed in order; once both queues are drained
// it echoes the last user message.
type MockProvider struct {
	name string

	mu        sync.Mutex
	responses []*CompletionResponse
	errors    []error
	streams   [][]*StreamChunk
	calls     []CompletionRequest
}

// NewMockProvider creates a new mock provider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

// Name implements Provider
func (m *MockProvider) Name() string {
	return m.name
}

// AddCompletionResponse queues a completion response
func (m *MockProvider) AddCompletionResponse(response *CompletionResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
	return m
}

// AddText queues a plain text response
func (m *MockProvider) AddText(content string) *MockProvider {
	return m.AddCompletionResponse(MockCompletionResponse(content))
}

// AddError queues an error; errors are returned before queued responses
func (m *MockProvider) AddError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
	return m
}

// AddStream queues the chunks for the next streaming call
func (m *MockProvider) AddStream(deltas ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks := make([]*StreamChunk, len(deltas))
	for i, d := range deltas {
		chunks[i] = &StreamChunk{Delta: d}
	}
	if len(chunks) > 0 {
		chunks[len(chunks)-1].FinishReason = "stop"
	}
	m.streams = append(m.streams, chunks)
	return m
}

// Calls returns a copy of the recorded requests
func (m *MockProvider) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of requests seen
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CreateCompletion implements Provider
func (m *MockProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, request)

	if len(m.errors) > 0 {
		err := m.errors[0]
		m.errors = m.errors[1:]
		if err != nil {
			return nil, err
		}
	}

	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		return resp, nil
	}

	return MockCompletionResponse(echo(request)), nil
}

// CreateStreaming implements Provider
func (m *MockProvider) CreateStreaming(ctx context.Context, request CompletionRequest) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, request)

	if len(m.errors) > 0 {
		err := m.errors[0]
		m.errors = m.errors[1:]
		if err != nil {
			return nil, err
		}
	}

	if len(m.streams) > 0 {
		chunks := m.streams[0]
		m.streams = m.streams[1:]
		return &MockStream{chunks: chunks}, nil
	}

	words := strings.SplitAfter(echo(request), " ")
	chunks := make([]*StreamChunk, 0, len(words))
	for _, w := range words {
		chunks = append(chunks, &StreamChunk{Delta: w})
	}
	if len(chunks) > 0 {
		chunks[len(chunks)-1].FinishReason = "stop"
	}
	return &MockStream{chunks: chunks}, nil
}

// ListModels implements ModelLister
func (m *MockProvider) ListModels(context.Context) ([]string, error) {
	return []string{"echo"}, nil
}

func echo(request CompletionRequest) string {
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role == RoleUser {
			return request.Messages[i].Content
		}
	}
	return ""
}

// MockStream replays fixed chunks
type MockStream struct {
	chunks []*StreamChunk
	index  int
	closed bool
}

// NewMockStream creates a stream over chunks
func NewMockStream(chunks ...*StreamChunk) *MockStream {
	return &MockStream{chunks: chunks}
}

// Recv implements Stream
func (s *MockStream) Recv() (*StreamChunk, error) {
	if s.closed || s.index >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.index]
	s.index++
	return chunk, nil
}

// Close implements Stream
func (s *MockStream) Close() error {
	s.closed = true
	return nil
}

// MockCompletionResponse builds a text response with nominal usage
func MockCompletionResponse(content string) *CompletionResponse {
	return &CompletionResponse{
		Content:      content,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 5,
			TotalTokens:      15,
		},
	}
}

// MockToolCallResponse builds a response requesting a single tool call
func MockToolCallResponse(id, name, arguments string) *CompletionResponse {
	return &CompletionResponse{
		FinishReason: "tool_calls",
		ToolCalls: []ToolCall{{
			ID:   id,
			Type: "function",
			Function: FunctionCall{
				Name:      name,
				Arguments: []byte(arguments),
			},
		}},
	}
}
