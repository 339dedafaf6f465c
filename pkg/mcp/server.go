// Package mcp serves tools, resources and prompts over the Model Context
// Protocol. A Server answers JSON-RPC 2.0 on /rpc and mirrors each method
// as a plain REST route for clients that do not speak JSON-RPC.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/gjson"

	"github.com/muthuks2020/reasona/internal/logging"
	"github.com/muthuks2020/reasona/pkg/security"
	"github.com/muthuks2020/reasona/pkg/tool"
)

const (
	DefaultVersion     = "1.0.0"
	DefaultToolTimeout = 30 * time.Second

	anonymousClient = "anonymous"
)

// Server hosts a tool registry and a catalog of resources and prompts
type Server struct {
	name    string
	version string
	tools   *tool.Registry
	catalog *Catalog
	logger  hclog.Logger
	limiter *security.RateLimiter
	timeout time.Duration
}

// ServerOption is a functional option for configuring the server
type ServerOption func(*Server)

// WithVersion sets the version reported by initialize
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the logger
func WithLogger(l hclog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithCatalog publishes the catalog's resources and prompts
func WithCatalog(c *Catalog) ServerOption {
	return func(s *Server) { s.catalog = c }
}

// WithRateLimit limits tool calls per client. Zero disables limiting.
func WithRateLimit(requestsPerSecond float64, burst int) ServerOption {
	return func(s *Server) {
		if requestsPerSecond > 0 {
			s.limiter = security.NewRateLimiter(requestsPerSecond, burst)
		}
	}
}

// WithToolTimeout bounds each tool call
func WithToolTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.timeout = d }
}

// NewServer creates a server for the tools in reg. A nil registry serves
// no tools.
func NewServer(name string, reg *tool.Registry, opts ...ServerOption) *Server {
	s := &Server{
		name:    name,
		version: DefaultVersion,
		tools:   reg,
		timeout: DefaultToolTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tools == nil {
		s.tools, _ = tool.NewRegistry()
	}
	if s.catalog == nil {
		s.catalog = NewCatalog()
	}
	s.logger = logging.OrDefault(s.logger, "mcp")
	return s
}

// Name returns the server name
func (s *Server) Name() string { return s.name }

// Version returns the server version
func (s *Server) Version() string { return s.version }

// Catalog returns the published resources and prompts
func (s *Server) Catalog() *Catalog { return s.catalog }

// Info summarizes the server for GET /
func (s *Server) Info() ServerInfo {
	resources, prompts := s.catalog.Len()
	return ServerInfo{
		Name:     s.name,
		Version:  s.version,
		Protocol: "mcp",
		Capabilities: map[string]bool{
			"tools":     s.tools.Len() > 0,
			"resources": resources > 0,
			"prompts":   prompts > 0,
		},
	}
}

// Initialize answers the initialize handshake
func (s *Server) Initialize() InitializeResult {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &Capability{},
			Resources: &Capability{},
			Prompts:   &Capability{},
		},
		ServerInfo: Implementation{Name: s.name, Version: s.version},
	}
}

// ListTools returns the served tools in registration order
func (s *Server) ListTools() []ToolInfo {
	tools := s.tools.Tools()
	out := make([]ToolInfo, len(tools))
	for i, t := range tools {
		schema := t.Schema()
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out[i] = ToolInfo{Name: t.Name(), Description: t.Description(), InputSchema: schema}
	}
	return out
}

// CallTool executes a tool. Unknown tools, malformed arguments and rate
// limiting are returned as errors; a failing tool yields a result with
// IsError set.
func (s *Server) CallTool(ctx context.Context, params CallToolParams) (*CallToolResult, error) {
	if err := security.ValidateToolName(params.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	t, ok := s.tools.Get(params.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, params.Name)
	}

	client := ClientID(ctx)
	if s.limiter != nil && !s.limiter.Allow(client) {
		s.logger.Warn("tool call rate limited", "tool", params.Name, "client", client)
		return nil, ErrRateLimited
	}

	args, err := checkArguments(t.Schema(), params.Arguments)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := s.tools.Execute(callCtx, params.Name, args)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", params.Name, "client", client, "error", err)
		return &CallToolResult{Content: []Content{TextContent(tool.FormatError(err))}, IsError: true}, nil
	}
	s.logger.Debug("tool call", "tool", params.Name, "client", client, "duration", time.Since(start))
	return &CallToolResult{Content: []Content{TextContent(out)}}, nil
}

// checkArguments normalizes empty arguments to {} and enforces that the
// arguments form a JSON object holding every required property.
func checkArguments(schema, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	if !gjson.ValidBytes(args) || !gjson.ParseBytes(args).IsObject() {
		return nil, fmt.Errorf("%w: arguments must be a JSON object", ErrInvalidArguments)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	var missing error
	gjson.GetBytes(schema, "required").ForEach(func(_, name gjson.Result) bool {
		if _, ok := fields[name.String()]; !ok {
			missing = fmt.Errorf("%w: missing required field %s", ErrInvalidArguments, name.String())
			return false
		}
		return true
	})
	if missing != nil {
		return nil, missing
	}
	return args, nil
}

// ListResources returns the published resources
func (s *Server) ListResources() []Resource {
	return s.catalog.Resources()
}

// ReadResource renders a resource's current content
func (s *Server) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	r, ok := s.catalog.Resource(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	v, err := r.Handler(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.URI, err)
	}
	return &ReadResourceResult{Contents: []ResourceContents{{
		URI:      r.URI,
		MimeType: r.MimeType,
		Text:     tool.FormatResult(v),
	}}}, nil
}

// ListPrompts returns the published prompts
func (s *Server) ListPrompts() []Prompt {
	return s.catalog.Prompts()
}

// GetPrompt renders a prompt after checking its required arguments
func (s *Server) GetPrompt(ctx context.Context, params GetPromptParams) (*GetPromptResult, error) {
	p, ok := s.catalog.Prompt(params.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, params.Name)
	}
	for _, arg := range p.Arguments {
		if _, ok := params.Arguments[arg.Name]; arg.Required && !ok {
			return nil, fmt.Errorf("%w: prompt %s requires %s", ErrInvalidArguments, p.Name, arg.Name)
		}
	}
	args := params.Arguments
	if args == nil {
		args = map[string]string{}
	}
	msgs, err := p.Handler(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("prompt %s: %w", p.Name, err)
	}
	return &GetPromptResult{Description: p.Description, Messages: msgs}, nil
}

// Handle answers one JSON-RPC request. It returns nil for notifications.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	result, rpcErr := s.dispatch(ctx, req)
	if req.IsNotification() {
		return nil
	}
	resp := &Response{JSONRPC: JSONRPCVersion, ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
		s.logger.Debug("rpc error", "method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, *Error) {
	if req.JSONRPC != JSONRPCVersion {
		return nil, &Error{Code: CodeInvalidRequest, Message: `jsonrpc must be "2.0"`}
	}
	switch req.Method {
	case "initialize":
		return s.Initialize(), nil
	case "ping":
		return struct{}{}, nil
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil

	case "tools/list":
		return map[string]any{"tools": s.ListTools()}, nil
	case "tools/call":
		var p CallToolParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		res, err := s.CallTool(ctx, p)
		if err != nil {
			return nil, rpcError(err)
		}
		return res, nil

	case "resources/list":
		return map[string]any{"resources": s.ListResources()}, nil
	case "resources/read":
		var p ReadResourceParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		res, err := s.ReadResource(ctx, p.URI)
		if err != nil {
			return nil, rpcError(err)
		}
		return res, nil

	case "prompts/list":
		return map[string]any{"prompts": s.ListPrompts()}, nil
	case "prompts/get":
		var p GetPromptParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		res, err := s.GetPrompt(ctx, p)
		if err != nil {
			return nil, rpcError(err)
		}
		return res, nil
	}
	return nil, &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
}

func decodeParams(raw json.RawMessage, v any) *Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

func rpcError(err error) *Error {
	code := CodeInternalError
	switch {
	case errors.Is(err, ErrToolNotFound), errors.Is(err, ErrResourceNotFound),
		errors.Is(err, ErrPromptNotFound), errors.Is(err, ErrInvalidArguments):
		code = CodeInvalidParams
	case errors.Is(err, ErrRateLimited):
		code = CodeRateLimited
	}
	return &Error{Code: code, Message: err.Error()}
}

type ctxKey int

const (
	clientKey ctxKey = iota
	tokenKey
)

// WithClientID tags ctx with the caller identity used for rate limiting
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientKey, id)
}

// ClientID returns the caller identity, or "anonymous"
func ClientID(ctx context.Context) string {
	if id, ok := ctx.Value(clientKey).(string); ok && id != "" {
		return id
	}
	return anonymousClient
}

// WithToken stores the caller's bearer token for tool and resource handlers
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// Token returns the bearer token of the current request, if any
func Token(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}
