// Package provider adapts LLM APIs to one request/response shape and
// resolves "provider/model" strings to them.
package provider

import (
	"context"
	"encoding/json"
)

// Provider is one LLM backend.
type Provider interface {
	CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error)

	// CreateStreaming returns a Stream that yields text deltas; the caller
	// must Close it.
	CreateStreaming(ctx context.Context, request CompletionRequest) (Stream, error)

	// Name is the registry key, e.g. "openai"
	Name() string
}

// ModelLister is implemented by providers that can enumerate their models
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat turn in provider-neutral form. Tool results carry
// Name and ToolCallID; assistant turns that call tools carry ToolCalls.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Tool describes a callable function offered to the model. Parameters is a
// JSON Schema object.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionRequest is sent to CreateCompletion and CreateStreaming. Model
// is the provider-local name, without the "provider/" prefix. Zero
// Temperature and MaxTokens leave the provider defaults in place.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
}

type CompletionResponse struct {
	Content      string     `json:"content"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
}

// Usage counts tokens for one call
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCall is a model's request to run a tool. Type is always "function".
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (*StreamChunk, error)
	Close() error
}

// StreamChunk is one streamed delta; FinishReason is set on the last one
// when the provider reports it.
type StreamChunk struct {
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}
