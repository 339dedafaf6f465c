package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/pkg/llm/provider"
	metrics "github.com/muthuks2020/reasona/pkg/observability"
	"github.com/muthuks2020/reasona/pkg/tool"
	"github.com/muthuks2020/reasona/workflow"
)

func newConductor(t *testing.T, name string, opts ...agent.Option) (*agent.Conductor, *provider.MockProvider) {
	t.Helper()
	p := provider.NewMockProvider("mock")
	opts = append([]agent.Option{
		agent.WithModel("mock/echo"),
		agent.WithProvider(p),
		agent.WithLogger(hclog.NewNullLogger()),
	}, opts...)
	c, err := agent.NewConductor(name, opts...)
	require.NoError(t, err)
	return c, p
}

func newTestServer(opts ...Option) *Server {
	return New(append([]Option{WithLogger(hclog.NewNullLogger())}, opts...)...)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(
		WithVersion("1.2.3"),
		WithHealthCheck(metrics.ExternalServiceCheck("upstream", func(context.Context) error { return nil })),
	)

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[metrics.HealthResponse](t, rec)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Contains(t, resp.Checks, "upstream")

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health/ready", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer()
	_ = do(t, s, http.MethodGet, "/health", nil)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reasona_http_requests_total")
}

func TestPrimaryAgent(t *testing.T) {
	calc, ok := tool.Builtin("calculator")
	require.True(t, ok)
	c, p := newConductor(t, "helper", agent.WithTools(calc))
	p.AddText("hi there")
	s := newTestServer(WithPrimary(c))

	rec := do(t, s, http.MethodPost, "/v1/think", ThinkRequest{Input: "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ThinkResponse](t, rec)
	assert.Equal(t, "hi there", resp.Output)
	assert.Equal(t, "helper", resp.Agent)
	assert.Equal(t, "mock/echo", resp.Model)
	assert.Equal(t, c.ConversationID(), resp.ConversationID)

	rec = do(t, s, http.MethodPost, "/v1/chat", ThinkRequest{Input: "again"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "again", decode[ThinkResponse](t, rec).Output)

	history, err := c.History(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 4)

	info := decode[AgentInfo](t, do(t, s, http.MethodGet, "/v1/agent", nil))
	assert.Equal(t, "helper", info.Name)
	assert.Equal(t, []string{"calculator"}, info.Tools)
	assert.Contains(t, info.Card.Capabilities, agent.CapabilityToolUse)

	card := decode[agent.AgentCard](t, do(t, s, http.MethodGet, "/.well-known/agent-card.json", nil))
	assert.Equal(t, "helper", card.Name)
	assert.Equal(t, agent.CardVersion, card.Version)

	tools := decode[map[string][]ToolInfo](t, do(t, s, http.MethodGet, "/v1/tools", nil))
	require.Len(t, tools["tools"], 1)
	assert.Equal(t, "calculator", tools["tools"][0].Name)
	assert.NotEmpty(t, tools["tools"][0].Schema)

	before := c.ConversationID()
	rec = do(t, s, http.MethodPost, "/v1/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, before, c.ConversationID())
	history, _ = c.History(context.Background())
	assert.Empty(t, history)
}

func TestThinkValidation(t *testing.T) {
	c, p := newConductor(t, "helper")
	s := newTestServer(WithPrimary(c))

	rec := do(t, s, http.MethodPost, "/v1/think", ThinkRequest{Input: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/think", strings.NewReader(`{"input": "x", "bogus": 1}`))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	p.AddError(errors.New("upstream down"))
	rec = do(t, s, http.MethodPost, "/v1/think", ThinkRequest{Input: "hello"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "upstream down")
}

func TestNoPrimary(t *testing.T) {
	s := newTestServer()
	rec := do(t, s, http.MethodPost, "/v1/think", ThinkRequest{Input: "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamThink(t *testing.T) {
	c, p := newConductor(t, "helper")
	p.AddStream("Hello", ", ", "world")
	s := newTestServer(WithPrimary(c))

	rec := do(t, s, http.MethodPost, "/v1/think", ThinkRequest{Input: "hi", Stream: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"content":"Hello"}`)
	assert.Contains(t, body, `data: {"content":"world"}`)
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: {\"agent\":\"helper\"}\n\n"), body)

	history, err := c.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Hello, world", history[1].Content)
}

func TestNamedAgents(t *testing.T) {
	a, _ := newConductor(t, "alpha")
	plain := agent.NewFunc("beta", func(_ context.Context, in string) (string, error) {
		return "beta says " + in, nil
	})
	s := newTestServer(WithAgents(a, plain))

	list := decode[map[string][]AgentInfo](t, do(t, s, http.MethodGet, "/agents", nil))
	require.Len(t, list["agents"], 2)
	assert.Equal(t, "alpha", list["agents"][0].Name)
	assert.Equal(t, "beta", list["agents"][1].Name)

	rec := do(t, s, http.MethodPost, "/agents/beta/think", ThinkRequest{Input: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "beta says hi", decode[ThinkResponse](t, rec).Output)

	card := decode[agent.AgentCard](t, do(t, s, http.MethodGet, "/agents/beta/card", nil))
	assert.Equal(t, "beta", card.Name)
	assert.Empty(t, card.Skills)

	info := decode[AgentInfo](t, do(t, s, http.MethodGet, "/agents/alpha", nil))
	assert.Equal(t, "mock/echo", info.Model)

	assert.Equal(t, http.StatusNotImplemented, do(t, s, http.MethodPost, "/agents/beta/reset", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/agents/alpha/reset", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/agents/ghost/think", ThinkRequest{Input: "x"}).Code)

	assert.True(t, s.RemoveAgent("beta"))
	assert.False(t, s.RemoveAgent("beta"))
	assert.Equal(t, []string{"alpha"}, s.Agents())
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/agents/beta/card", nil).Code)
}

func upper(name string) agent.Agent {
	return agent.NewFunc(name, func(_ context.Context, in string) (string, error) {
		return strings.ToUpper(in), nil
	})
}

func TestWorkflowRoutes(t *testing.T) {
	wf := workflow.New("shout", workflow.WithDescription("Shouts"), workflow.WithLogger(hclog.NewNullLogger()))
	require.NoError(t, wf.AddStage("first", upper("u1"), "one: {input}"))
	require.NoError(t, wf.AddStage("second", upper("u2"), "two: {first}"))
	s := newTestServer(WithWorkflows(wf))

	list := decode[map[string][]WorkflowInfo](t, do(t, s, http.MethodGet, "/workflows", nil))
	require.Len(t, list["workflows"], 1)
	assert.Equal(t, "shout", list["workflows"][0].Name)
	assert.Len(t, list["workflows"][0].Stages, 2)

	rec := do(t, s, http.MethodPost, "/workflows/shout/run", WorkflowRunRequest{Input: "go"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[workflow.RunResult](t, rec)
	assert.Equal(t, workflow.RunCompleted, res.Status)
	assert.Equal(t, "TWO: ONE: GO", res.Output)
	assert.Equal(t, "ONE: GO", res.Context["first"])

	info := decode[WorkflowInfo](t, do(t, s, http.MethodGet, "/workflows/shout", nil))
	assert.Equal(t, "Shouts", info.Description)
	assert.Equal(t, workflow.StageSucceeded, info.Stages[1].Status)
	assert.Contains(t, info.Diagram, "[first] (u1)")

	runs := decode[map[string][]workflow.RunRecord](t, do(t, s, http.MethodGet, "/workflows/shout/runs", nil))
	require.Len(t, runs["runs"], 1)
	assert.Equal(t, res.RunID, runs["runs"][0].RunID)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/workflows/shout/run", WorkflowRunRequest{}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/workflows/nope/run", WorkflowRunRequest{Input: "x"}).Code)
}

func TestWorkflowRunFailure(t *testing.T) {
	wf := workflow.New("broken", workflow.WithLogger(hclog.NewNullLogger()))
	require.NoError(t, wf.AddStage("only", upper("u"), "{missing}"))
	s := newTestServer(WithWorkflows(wf))

	rec := do(t, s, http.MethodPost, "/workflows/broken/run", WorkflowRunRequest{Inputs: map[string]any{"topic": "x"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error  string             `json:"error"`
		Result workflow.RunResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "missing")
	assert.Equal(t, workflow.RunFailed, resp.Result.Status)
	assert.Equal(t, "x", resp.Result.Context["topic"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(WithRateLimit(1, 1))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health/live", nil).Code)
	rec := do(t, s, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestListenAndServeShutdown(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
