package agent

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/muthuks2020/reasona/pkg/llm/provider"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the role name
func (r Role) String() string { return string(r) }

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one turn of a conversation. Messages are values: they are
// appended to a history and never changed afterwards.
type Message struct {
	// ID is a unique identifier for this message, automatically generated.
	ID string `json:"id"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Name optionally identifies the speaker or the tool that produced a
	// tool message.
	Name string `json:"name,omitempty"`

	// ToolCallID links a tool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls are the calls requested by an assistant message, in order.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// SystemMessage creates a system message
func SystemMessage(content string) Message { return NewMessage(RoleSystem, content) }

// UserMessage creates a user message
func UserMessage(content string) Message { return NewMessage(RoleUser, content) }

// AssistantMessage creates an assistant message, optionally carrying tool calls.
func AssistantMessage(content string, calls ...ToolCall) Message {
	m := NewMessage(RoleAssistant, content)
	if len(calls) > 0 {
		m.ToolCalls = append([]ToolCall(nil), calls...)
	}
	return m
}

// ToolMessage creates the result message for a tool call.
func ToolMessage(toolCallID, name, content string) Message {
	m := NewMessage(RoleTool, content)
	m.ToolCallID = toolCallID
	m.Name = name
	return m
}

// WithMetadata returns a copy of the message with key set in its metadata.
// The receiver is left untouched.
func (m Message) WithMetadata(key string, value any) Message {
	out := m.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, 1)
	}
	out.Metadata[key] = value
	return out
}

// Clone returns a deep copy of the message's slices and metadata.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			c.Arguments = append(json.RawMessage(nil), c.Arguments...)
			out.ToolCalls[i] = c
		}
	}
	if m.Metadata != nil {
		out.Metadata = maps.Clone(m.Metadata)
	}
	return out
}

// String returns a human-readable representation of the message for debugging.
func (m Message) String() string {
	return fmt.Sprintf("Message{ID:%s, Role:%s, Content:%q}", m.ID, m.Role, truncate(m.Content, 60))
}

// toProvider converts the message to the provider wire shape.
func (m Message) toProvider() provider.Message {
	pm := provider.Message{
		Role:       string(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, c := range m.ToolCalls {
		pm.ToolCalls = append(pm.ToolCalls, provider.ToolCall{
			ID:   c.ID,
			Type: "function",
			Function: provider.FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		})
	}
	return pm
}

func toolCallsFromProvider(calls []provider.ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments}
	}
	return out
}

// Conversation is an ordered thread of messages.
type Conversation struct {
	ID        string         `json:"id"`
	Messages  []Message      `json:"messages"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewConversation creates an empty conversation with a fresh ID.
func NewConversation() *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Add appends messages to the conversation.
func (c *Conversation) Add(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now().UTC()
}

// Clear drops every message except system messages.
func (c *Conversation) Clear() {
	kept := c.Messages[:0:0]
	for _, m := range c.Messages {
		if m.Role == RoleSystem {
			kept = append(kept, m)
		}
	}
	c.Messages = kept
	c.UpdatedAt = time.Now().UTC()
}

// Len returns the number of messages
func (c *Conversation) Len() int { return len(c.Messages) }

// Last returns the most recent message, if any.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
