package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/pkg/tool"
	"github.com/muthuks2020/reasona/workflow"
)

// ThinkRequest is the body of the think and chat endpoints
type ThinkRequest struct {
	Input  string `json:"input"`
	Stream bool   `json:"stream,omitempty"`
}

// ThinkResponse is returned by the think and chat endpoints
type ThinkResponse struct {
	Agent          string `json:"agent"`
	Output         string `json:"output"`
	ConversationID string `json:"conversation_id,omitempty"`
	Model          string `json:"model,omitempty"`
}

// AgentInfo describes a served agent
type AgentInfo struct {
	Name           string          `json:"name"`
	Model          string          `json:"model,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Tools          []string        `json:"tools"`
	Card           agent.AgentCard `json:"card"`
}

// ToolInfo describes a tool an agent may call
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// WorkflowRunRequest is the body of POST /workflows/{workflow}/run. Input is
// shorthand for inputs {"input": ...}.
type WorkflowRunRequest struct {
	Input  string         `json:"input,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// WorkflowInfo describes a served workflow
type WorkflowInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Stages      []StageInfo `json:"stages"`
	Diagram     string      `json:"diagram,omitempty"`
}

// StageInfo describes one workflow stage and its last-run status
type StageInfo struct {
	Name        string               `json:"name"`
	Agent       string               `json:"agent"`
	Prompt      string               `json:"prompt,omitempty"`
	Retries     int                  `json:"retries,omitempty"`
	TimeoutMS   int64                `json:"timeout_ms,omitempty"`
	Conditional bool                 `json:"conditional,omitempty"`
	Status      workflow.StageStatus `json:"status"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Result any    `json:"result,omitempty"`
}

// Optional agent capabilities, all implemented by *agent.Conductor
type (
	modeled        interface{ Model() string }
	tooled         interface{ Tools() []tool.Tool }
	resetter       interface{ Reset(ctx context.Context) error }
	conversational interface{ ConversationID() string }
)

type agentHandler func(w http.ResponseWriter, r *http.Request, a agent.Agent)

func (s *Server) withPrimary(h agentHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		a := s.primary
		s.mu.RUnlock()
		if a == nil {
			writeError(w, http.StatusNotFound, "no primary agent configured")
			return
		}
		h(w, r, a)
	}
}

func (s *Server) withNamed(h agentHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "agent")
		a, ok := s.agent(name)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("agent %q not found", name))
			return
		}
		h(w, r, a)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func cardOf(a agent.Agent) agent.AgentCard {
	if c, ok := a.(agent.Carded); ok {
		return c.Card()
	}
	return agent.AgentCard{
		Name:         a.Name(),
		Version:      agent.CardVersion,
		Capabilities: []string{agent.CapabilityReasoning, agent.CapabilityStreaming},
		Skills:       []string{},
		Protocols:    []string{agent.ProtocolSynaptic, agent.ProtocolJSONRPC},
	}
}

func infoOf(a agent.Agent) AgentInfo {
	info := AgentInfo{Name: a.Name(), Tools: []string{}, Card: cardOf(a)}
	if m, ok := a.(modeled); ok {
		info.Model = m.Model()
	}
	if c, ok := a.(conversational); ok {
		info.ConversationID = c.ConversationID()
	}
	if t, ok := a.(tooled); ok {
		for _, tl := range t.Tools() {
			info.Tools = append(info.Tools, tl.Name())
		}
	}
	return info
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request, a agent.Agent) {
	writeJSON(w, http.StatusOK, cardOf(a))
}

func (s *Server) handleAgentInfo(w http.ResponseWriter, _ *http.Request, a agent.Agent) {
	writeJSON(w, http.StatusOK, infoOf(a))
}

func (s *Server) handleThink(w http.ResponseWriter, r *http.Request, a agent.Agent) {
	var req ThinkRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	if req.Stream {
		s.streamThink(w, r, a, req.Input)
		return
	}

	out, err := a.Think(r.Context(), req.Input)
	if err != nil {
		s.logger.Error("think failed", "agent", a.Name(), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := ThinkResponse{Agent: a.Name(), Output: out}
	if m, ok := a.(modeled); ok {
		resp.Model = m.Model()
	}
	if c, ok := a.(conversational); ok {
		resp.ConversationID = c.ConversationID()
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamThink writes the agent's stream as server-sent events: one data
// event per fragment, then a "done" or "error" event.
func (s *Server) streamThink(w http.ResponseWriter, r *http.Request, a agent.Agent, input string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := a.Stream(r.Context(), input)
	if err != nil {
		s.logger.Error("stream failed", "agent", a.Name(), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() { _ = stream.Close() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			writeEvent(w, "done", map[string]string{"agent": a.Name()})
			flusher.Flush()
			return
		}
		if err != nil {
			s.logger.Warn("stream interrupted", "agent", a.Name(), "error", err)
			writeEvent(w, "error", errorResponse{Error: err.Error()})
			flusher.Flush()
			return
		}
		writeEvent(w, "", map[string]string{"content": part})
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, event string, v any) {
	data, _ := json.Marshal(v)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, a agent.Agent) {
	rs, ok := a.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, fmt.Sprintf("agent %q does not keep history", a.Name()))
		return
	}
	if err := rs.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]string{"status": "reset", "agent": a.Name()}
	if c, ok := a.(conversational); ok {
		resp["conversation_id"] = c.ConversationID()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request, a agent.Agent) {
	tools := []ToolInfo{}
	if t, ok := a.(tooled); ok {
		for _, tl := range t.Tools() {
			tools = append(tools, ToolInfo{Name: tl.Name(), Description: tl.Description(), Schema: tl.Schema()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	infos := []AgentInfo{}
	for _, name := range s.Agents() {
		if a, ok := s.agent(name); ok {
			infos = append(infos, infoOf(a))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": infos})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	infos := []WorkflowInfo{}
	for _, name := range s.Workflows() {
		if wf, ok := s.workflow(name); ok {
			info := workflowInfo(wf)
			info.Diagram = ""
			infos = append(infos, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": infos})
}

func workflowInfo(wf *workflow.Workflow) WorkflowInfo {
	info := WorkflowInfo{
		Name:        wf.Name(),
		Description: wf.Description(),
		Stages:      []StageInfo{},
		Diagram:     wf.Visualize(),
	}
	for _, name := range wf.Stages() {
		st, ok := wf.Stage(name)
		if !ok {
			continue
		}
		info.Stages = append(info.Stages, StageInfo{
			Name:        st.Name,
			Agent:       st.Agent.Name(),
			Prompt:      st.PromptTemplate,
			Retries:     st.Retries,
			TimeoutMS:   st.Timeout.Milliseconds(),
			Conditional: st.Condition != nil,
			Status:      wf.Status(name),
		})
	}
	return info
}

func (s *Server) lookupWorkflow(w http.ResponseWriter, r *http.Request) (*workflow.Workflow, bool) {
	name := chi.URLParam(r, "workflow")
	wf, ok := s.workflow(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %q not found", name))
	}
	return wf, ok
}

func (s *Server) handleWorkflowInfo(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.lookupWorkflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, workflowInfo(wf))
}

func (s *Server) handleWorkflowRun(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.lookupWorkflow(w, r)
	if !ok {
		return
	}
	var req WorkflowRunRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inputs := make(map[string]any, len(req.Inputs)+1)
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	if req.Input != "" {
		inputs["input"] = req.Input
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "input or inputs is required")
		return
	}

	res, err := wf.Run(r.Context(), inputs)
	if err != nil {
		status := http.StatusInternalServerError
		var serr *workflow.StageError
		if errors.As(err, &serr) || errors.Is(err, workflow.ErrMissingContextKey) {
			status = http.StatusUnprocessableEntity
		}
		s.logger.Warn("workflow run failed", "workflow", wf.Name(), "error", err)
		writeJSON(w, status, errorResponse{Error: err.Error(), Result: res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWorkflowRuns(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.lookupWorkflow(w, r)
	if !ok {
		return
	}
	runs, err := wf.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []workflow.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
