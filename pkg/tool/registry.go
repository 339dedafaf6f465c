package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/muthuks2020/reasona/internal/observability"
	metrics "github.com/muthuks2020/reasona/pkg/observability"
	"github.com/muthuks2020/reasona/pkg/security"
)

// Registry holds tools by unique name and executes them with rate limits,
// spans and metrics.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	limiter *security.ToolRateLimiter
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool),
		limiter: security.NewToolRateLimiter(),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique and safe.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidToolConfig)
	}
	if err := security.ValidateToolName(t.Name()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToolConfig, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Get returns a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the registered tools in registration order
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the sorted tool names
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SetRateLimit throttles calls to one tool.
func (r *Registry) SetRateLimit(name string, requestsPerSecond float64, burst int) {
	r.limiter.SetToolLimit(name, requestsPerSecond, burst)
}

// Execute runs a tool by name and returns its result rendered as text.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if err := r.limiter.Wait(ctx, name); err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}

	ctx, span := observability.StartSpan(ctx, "tool."+name, map[string]any{"tool.name": name})
	defer span.End()

	start := time.Now()
	result, err := t.Execute(ctx, args)
	status := "success"
	if err != nil {
		status = "error"
		span.SetError(err)
	}
	metrics.RecordToolCall(name, status, time.Since(start))

	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	return FormatResult(result), nil
}
