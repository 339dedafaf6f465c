package agent

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muthuks2020/reasona/pkg/llm/provider"
	"github.com/muthuks2020/reasona/pkg/tool"
)

func newTestConductor(t *testing.T, p provider.Provider, opts ...Option) *Conductor {
	t.Helper()
	opts = append([]Option{
		WithModel("mock/test-model"),
		WithProvider(p),
		WithLogger(hclog.NewNullLogger()),
	}, opts...)
	c, err := NewConductor("tester", opts...)
	require.NoError(t, err)
	return c
}

type addArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func addTool(t *testing.T) tool.Tool {
	t.Helper()
	return tool.MustFunctionTool("add", "Add two numbers", func(_ context.Context, in addArgs) (any, error) {
		return in.A + in.B, nil
	})
}

func TestNewConductorDefaults(t *testing.T) {
	c, err := NewConductor("helper", WithProvider(provider.NewMockProvider("mock")))
	require.NoError(t, err)

	assert.Equal(t, "helper", c.Name())
	assert.Equal(t, "openai/gpt-4o-mini", c.Model())
	assert.Equal(t, 0.7, c.Temperature())
	assert.Equal(t, 4096, c.MaxTokens())
	assert.Contains(t, c.Instructions(), "You are helper, an intelligent AI assistant powered by Reasona.")
	assert.NotEmpty(t, c.ConversationID())
	assert.Empty(t, c.Tools())
}

func TestNewConductorValidation(t *testing.T) {
	tests := []struct {
		name string
		cn   string
		opts []Option
	}{
		{"empty name", " ", nil},
		{"temperature too high", "a", []Option{WithTemperature(2.5)}},
		{"negative temperature", "a", []Option{WithTemperature(-0.1)}},
		{"zero max tokens", "a", []Option{WithMaxTokens(0)}},
		{"empty model", "a", []Option{WithModel("openai/")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConductor(tt.cn, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidConductor)
		})
	}

	t.Run("duplicate tools", func(t *testing.T) {
		_, err := NewConductor("a", WithTools(addTool(t), addTool(t)))
		assert.ErrorIs(t, err, tool.ErrDuplicateTool)
	})
}

func TestConductorThink(t *testing.T) {
	mock := provider.NewMockProvider("mock").AddText("Hello there")
	c := newTestConductor(t, mock, WithInstructions("Be brief."), WithTemperature(0.2), WithMaxTokens(100))

	out, err := c.Think(t.Context(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 0.2, req.Temperature)
	assert.Equal(t, 100, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, provider.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Be brief.", req.Messages[0].Content)
	assert.Equal(t, provider.RoleUser, req.Messages[1].Role)

	hist, err := c.History(t.Context())
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, RoleUser, hist[0].Role)
	assert.Equal(t, "Hi", hist[0].Content)
	assert.Equal(t, RoleAssistant, hist[1].Role)
	assert.Equal(t, "Hello there", hist[1].Content)
}

func TestConductorThinkIncludesHistory(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	c := newTestConductor(t, mock)

	_, err := c.Think(t.Context(), "first")
	require.NoError(t, err)
	_, err = c.Think(t.Context(), "second")
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	msgs := calls[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "first", msgs[2].Content)
	assert.Equal(t, "second", msgs[3].Content)
}

func TestConductorThinkFailureLeavesHistory(t *testing.T) {
	mock := provider.NewMockProvider("mock").AddError(provider.NewProviderError("mock", provider.ErrorCodeServerError, "down", nil))
	c := newTestConductor(t, mock)

	_, err := c.Think(t.Context(), "Hi")
	require.Error(t, err)
	assert.True(t, provider.IsRetryable(err))
	assert.Contains(t, err.Error(), "conductor tester")

	hist, err := c.History(t.Context())
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestConductorToolLoop(t *testing.T) {
	mock := provider.NewMockProvider("mock").
		AddCompletionResponse(provider.MockToolCallResponse("call_1", "add", `{"a":2,"b":3}`)).
		AddText("The sum is 5")
	c := newTestConductor(t, mock, WithTools(addTool(t)))

	out, err := c.Think(t.Context(), "What is 2+3?")
	require.NoError(t, err)
	assert.Equal(t, "The sum is 5", out)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[0].Tools, 1)
	assert.Equal(t, "add", calls[0].Tools[0].Name)

	second := calls[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, provider.RoleAssistant, second[2].Role)
	require.Len(t, second[2].ToolCalls, 1)
	assert.Equal(t, "call_1", second[2].ToolCalls[0].ID)
	assert.Equal(t, provider.RoleTool, second[3].Role)
	assert.Equal(t, "call_1", second[3].ToolCallID)
	assert.Equal(t, "5", second[3].Content)

	// Tool traffic stays out of the persisted history.
	hist, err := c.History(t.Context())
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "The sum is 5", hist[1].Content)
}

func TestConductorToolErrorsReachModel(t *testing.T) {
	mock := provider.NewMockProvider("mock").
		AddCompletionResponse(provider.MockToolCallResponse("call_1", "missing", `{}`)).
		AddText("sorry")
	c := newTestConductor(t, mock, WithTools(addTool(t)))

	out, err := c.Think(t.Context(), "x")
	require.NoError(t, err)
	assert.Equal(t, "sorry", out)

	toolMsg := mock.Calls()[1].Messages[3]
	assert.Equal(t, provider.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, `"success":false`)
	assert.Contains(t, toolMsg.Content, "unknown tool")
}

func TestConductorMaxToolRounds(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	for range 5 {
		mock.AddCompletionResponse(provider.MockToolCallResponse("c", "add", `{"a":1,"b":1}`))
	}
	c := newTestConductor(t, mock, WithTools(addTool(t)), WithMaxToolRounds(2))

	_, err := c.Think(t.Context(), "loop")
	assert.ErrorIs(t, err, ErrToolRoundsExceeded)
	assert.Equal(t, 3, mock.CallCount())

	hist, _ := c.History(t.Context())
	assert.Empty(t, hist)
}

func TestConductorStream(t *testing.T) {
	mock := provider.NewMockProvider("mock").AddStream("Hel", "lo", "!")
	c := newTestConductor(t, mock)

	s, err := c.Stream(t.Context(), "Hi")
	require.NoError(t, err)
	out, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)

	hist, err := c.History(t.Context())
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "Hello!", hist[1].Content)
}

func TestConductorStreamClosedEarly(t *testing.T) {
	mock := provider.NewMockProvider("mock").AddStream("a", "b", "c")
	c := newTestConductor(t, mock)

	s, err := c.Stream(t.Context(), "Hi")
	require.NoError(t, err)
	part, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", part)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)

	hist, err := c.History(t.Context())
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestConductorStreamError(t *testing.T) {
	mock := provider.NewMockProvider("mock").AddError(errors.New("no stream"))
	c := newTestConductor(t, mock)

	_, err := c.Stream(t.Context(), "Hi")
	require.Error(t, err)

	// The conductor is usable again after a failed stream.
	_, err = c.Think(t.Context(), "again")
	require.NoError(t, err)
}

// blockingProvider records how many completions run at once.
type blockingProvider struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) CreateCompletion(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	p.mu.Lock()
	p.active++
	if p.active > p.maxSeen {
		p.maxSeen = p.active
	}
	p.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return provider.MockCompletionResponse("ok"), nil
}

func (p *blockingProvider) CreateStreaming(context.Context, provider.CompletionRequest) (provider.Stream, error) {
	return provider.NewMockStream(&provider.StreamChunk{Delta: "ok"}), nil
}

func TestConductorSerializesTurns(t *testing.T) {
	p := &blockingProvider{}
	c := newTestConductor(t, p)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Think(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, p.maxSeen)
	hist, err := c.History(t.Context())
	require.NoError(t, err)
	require.Len(t, hist, 16)
	for i := 0; i < len(hist); i += 2 {
		assert.Equal(t, RoleUser, hist[i].Role)
		assert.Equal(t, RoleAssistant, hist[i+1].Role)
	}
}

func TestConductorReset(t *testing.T) {
	store := NewMemoryHistory()
	c := newTestConductor(t, provider.NewMockProvider("mock"), WithHistoryStore(store))
	before := c.ConversationID()

	_, err := c.Think(t.Context(), "Hi")
	require.NoError(t, err)
	require.NoError(t, c.Reset(t.Context()))

	assert.NotEqual(t, before, c.ConversationID())
	hist, err := c.History(t.Context())
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.Equal(t, 0, store.Conversations())
}

func TestConductorResumeConversation(t *testing.T) {
	store := NewMemoryHistory()
	require.NoError(t, store.Append(t.Context(), "conv-1", UserMessage("earlier"), AssistantMessage("noted")))

	mock := provider.NewMockProvider("mock")
	c := newTestConductor(t, mock, WithHistoryStore(store), WithConversationID("conv-1"))
	_, err := c.Think(t.Context(), "now")
	require.NoError(t, err)

	msgs := mock.Calls()[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "earlier", msgs[1].Content)
}

func TestConductorSetters(t *testing.T) {
	c := newTestConductor(t, provider.NewMockProvider("mock"))

	c.SetInstructions("new prompt")
	assert.Equal(t, "new prompt", c.Instructions())

	require.NoError(t, c.SetTemperature(1.5))
	assert.Equal(t, 1.5, c.Temperature())
	assert.ErrorIs(t, c.SetTemperature(3), ErrInvalidConductor)

	require.NoError(t, c.AddTool(addTool(t)))
	assert.ErrorIs(t, c.AddTool(addTool(t)), tool.ErrDuplicateTool)
	assert.Len(t, c.Tools(), 1)
}

func TestConductorCard(t *testing.T) {
	c := newTestConductor(t, provider.NewMockProvider("mock"),
		WithInstructions("Answers questions."),
		WithEndpoint("http://localhost:8000"),
	)

	card := c.Card()
	assert.Equal(t, "tester", card.Name)
	assert.Equal(t, "Answers questions.", card.Description)
	assert.NotContains(t, card.Capabilities, CapabilityToolUse)

	require.NoError(t, c.AddTool(addTool(t)))
	card = c.Card()
	assert.Contains(t, card.Capabilities, CapabilityToolUse)
	assert.Equal(t, []string{"add"}, card.Skills)
}

func TestConductorResolvesThroughRegistry(t *testing.T) {
	reg := provider.NewRegistry(nil, provider.WithInstrumentation(false), provider.WithRegistryLogger(hclog.NewNullLogger()))
	mock := provider.NewMockProvider("mock").AddText("from registry")
	reg.Register("mock", mock)

	c, err := NewConductor("r", WithModel("mock/echo"), WithRegistry(reg), WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)

	out, err := c.Think(t.Context(), "x")
	require.NoError(t, err)
	assert.Equal(t, "from registry", out)
	assert.Equal(t, "echo", mock.Calls()[0].Model)

	c2, err := NewConductor("u", WithModel("nope/model"), WithRegistry(reg), WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)
	_, err = c2.Think(t.Context(), "x")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}
