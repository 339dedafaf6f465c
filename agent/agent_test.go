package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	t.Run("constructors set role and fresh id", func(t *testing.T) {
		a := UserMessage("hi")
		b := UserMessage("hi")
		assert.Equal(t, RoleUser, a.Role)
		assert.Equal(t, "hi", a.Content)
		assert.NotEmpty(t, a.ID)
		assert.NotEqual(t, a.ID, b.ID)
		assert.False(t, a.Timestamp.IsZero())

		assert.Equal(t, RoleSystem, SystemMessage("s").Role)
		assert.Equal(t, RoleAssistant, AssistantMessage("a").Role)
	})

	t.Run("tool message links call", func(t *testing.T) {
		m := ToolMessage("call_1", "calculator", "4")
		assert.Equal(t, RoleTool, m.Role)
		assert.Equal(t, "call_1", m.ToolCallID)
		assert.Equal(t, "calculator", m.Name)
	})

	t.Run("WithMetadata returns a copy", func(t *testing.T) {
		m := UserMessage("hi").WithMetadata("a", 1)
		m2 := m.WithMetadata("b", 2)
		assert.Equal(t, map[string]any{"a": 1}, m.Metadata)
		assert.Equal(t, map[string]any{"a": 1, "b": 2}, m2.Metadata)
		assert.Equal(t, m.ID, m2.ID)
	})

	t.Run("Clone does not share tool calls", func(t *testing.T) {
		m := AssistantMessage("", ToolCall{ID: "1", Name: "x", Arguments: json.RawMessage(`{"a":1}`)})
		c := m.Clone()
		c.ToolCalls[0].Arguments[2] = 'b'
		c.ToolCalls[0].Name = "y"
		assert.Equal(t, "x", m.ToolCalls[0].Name)
		assert.JSONEq(t, `{"a":1}`, string(m.ToolCalls[0].Arguments))
	})

	t.Run("String truncates content", func(t *testing.T) {
		m := UserMessage(strings.Repeat("x", 100))
		assert.Contains(t, m.String(), "...")
	})

	t.Run("toProvider carries tool calls", func(t *testing.T) {
		pm := AssistantMessage("", ToolCall{ID: "c1", Name: "calc", Arguments: json.RawMessage(`{}`)}).toProvider()
		require.Len(t, pm.ToolCalls, 1)
		assert.Equal(t, "assistant", pm.Role)
		assert.Equal(t, "function", pm.ToolCalls[0].Type)
		assert.Equal(t, "calc", pm.ToolCalls[0].Function.Name)
	})
}

func TestConversation(t *testing.T) {
	c := NewConversation()
	assert.NotEmpty(t, c.ID)
	_, ok := c.Last()
	assert.False(t, ok)

	c.Add(SystemMessage("sys"), UserMessage("hi"), AssistantMessage("hello"))
	assert.Equal(t, 3, c.Len())
	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "hello", last.Content)

	c.Clear()
	require.Equal(t, 1, c.Len())
	assert.Equal(t, RoleSystem, c.Messages[0].Role)
}

func TestFuncAgent(t *testing.T) {
	a := NewFunc("upper", func(_ context.Context, in string) (string, error) {
		return strings.ToUpper(in), nil
	})
	assert.Equal(t, "upper", a.Name())

	out, err := a.Think(t.Context(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)

	s, err := a.Stream(t.Context(), "abc")
	require.NoError(t, err)
	out, err = Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)

	failing := NewFunc("fail", func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	})
	_, err = failing.Stream(t.Context(), "x")
	assert.EqualError(t, err, "boom")
}

func TestSliceStream(t *testing.T) {
	s := NewSliceStream("a", "b")
	p, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", p)

	require.NoError(t, s.Close())
	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestMemoryHistory(t *testing.T) {
	ctx := t.Context()
	h := NewMemoryHistory()

	msgs, err := h.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, h.Append(ctx, "c1", UserMessage("a"), AssistantMessage("b")))
	require.NoError(t, h.Append(ctx, "c2", UserMessage("x")))
	assert.Equal(t, 2, h.Conversations())

	msgs, err = h.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "b", msgs[1].Content)

	msgs[0].Content = "changed"
	again, _ := h.Load(ctx, "c1")
	assert.Equal(t, "a", again[0].Content)

	require.NoError(t, h.Clear(ctx, "c1"))
	msgs, _ = h.Load(ctx, "c1")
	assert.Empty(t, msgs)
	assert.Equal(t, 1, h.Conversations())
}

func TestMemoryHistoryConcurrent(t *testing.T) {
	ctx := t.Context()
	h := NewMemoryHistory()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Append(ctx, "c", UserMessage("x"))
		}()
	}
	wg.Wait()

	msgs, err := h.Load(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, msgs, 50)
}

func TestNewCard(t *testing.T) {
	card := newCard("bot", strings.Repeat("é", 250), nil, "")
	assert.Equal(t, "bot", card.Name)
	assert.Equal(t, CardVersion, card.Version)
	assert.Equal(t, []string{CapabilityReasoning, CapabilityStreaming}, card.Capabilities)
	assert.Equal(t, []string{}, card.Skills)
	assert.Equal(t, 200, len([]rune(card.Description)))
	assert.Equal(t, []string{ProtocolSynaptic, ProtocolJSONRPC}, card.Protocols)

	card = newCard("bot", "short", []string{"calculator"}, "http://localhost:8000")
	assert.Equal(t, []string{CapabilityReasoning, CapabilityToolUse, CapabilityStreaming}, card.Capabilities)
	assert.Equal(t, "short", card.Description)
	assert.Equal(t, "http://localhost:8000", card.Endpoint)
}
