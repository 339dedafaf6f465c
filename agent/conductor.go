package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/muthuks2020/reasona/internal/logging"
	"github.com/muthuks2020/reasona/internal/observability"
	"github.com/muthuks2020/reasona/pkg/config"
	"github.com/muthuks2020/reasona/pkg/llm/provider"
	"github.com/muthuks2020/reasona/pkg/tool"
)

// DefaultMaxToolRounds bounds the completion/tool-execution loop of one Think.
const DefaultMaxToolRounds = 10

var (
	// ErrToolRoundsExceeded is returned when the model keeps requesting tools
	// past the configured number of rounds.
	ErrToolRoundsExceeded = errors.New("tool rounds exceeded")

	ErrInvalidConductor = errors.New("invalid conductor")
)

// Conductor is an LLM-backed agent with instructions, tools and a
// conversation history. Turns on one Conductor are serialized; different
// Conductors run concurrently.
type Conductor struct {
	name     string
	logger   hclog.Logger
	registry *provider.Registry
	history  HistoryStore
	tools    *tool.Registry

	cfgMu         sync.RWMutex
	model         string
	instructions  string
	temperature   float64
	maxTokens     int
	maxToolRounds int
	metadata      map[string]any
	endpoint      string
	provider      provider.Provider

	// turnMu is held for the whole of a Think, a live Stream, or a Reset.
	turnMu         sync.Mutex
	conversationID string
}

// Option configures a Conductor
type Option func(*conductorOptions)

type conductorOptions struct {
	model          string
	instructions   string
	tools          []tool.Tool
	temperature    float64
	maxTokens      int
	maxToolRounds  int
	metadata       map[string]any
	endpoint       string
	provider       provider.Provider
	registry       *provider.Registry
	history        HistoryStore
	conversationID string
	logger         hclog.Logger
}

// WithModel sets the "provider/model" string
func WithModel(model string) Option {
	return func(o *conductorOptions) { o.model = model }
}

// WithInstructions sets the system prompt
func WithInstructions(instructions string) Option {
	return func(o *conductorOptions) { o.instructions = instructions }
}

// WithTools adds tools the model may call
func WithTools(tools ...tool.Tool) Option {
	return func(o *conductorOptions) { o.tools = append(o.tools, tools...) }
}

// WithTemperature sets the sampling temperature (0.0 to 2.0)
func WithTemperature(t float64) Option {
	return func(o *conductorOptions) { o.temperature = t }
}

// WithMaxTokens sets the response token limit
func WithMaxTokens(n int) Option {
	return func(o *conductorOptions) { o.maxTokens = n }
}

// WithMaxToolRounds bounds the tool loop
func WithMaxToolRounds(n int) Option {
	return func(o *conductorOptions) { o.maxToolRounds = n }
}

// WithMetadata attaches free-form metadata
func WithMetadata(md map[string]any) Option {
	return func(o *conductorOptions) { o.metadata = maps.Clone(md) }
}

// WithEndpoint sets the endpoint advertised on the AgentCard
func WithEndpoint(endpoint string) Option {
	return func(o *conductorOptions) { o.endpoint = endpoint }
}

// WithProvider uses p directly instead of resolving the model's provider.
// The model string still supplies the provider-local model name.
func WithProvider(p provider.Provider) Option {
	return func(o *conductorOptions) { o.provider = p }
}

// WithRegistry resolves providers through r instead of the default registry
func WithRegistry(r *provider.Registry) Option {
	return func(o *conductorOptions) { o.registry = r }
}

// WithHistoryStore keeps conversation history in h
func WithHistoryStore(h HistoryStore) Option {
	return func(o *conductorOptions) { o.history = h }
}

// WithConversationID resumes an existing conversation
func WithConversationID(id string) Option {
	return func(o *conductorOptions) { o.conversationID = id }
}

// WithLogger sets the logger
func WithLogger(l hclog.Logger) Option {
	return func(o *conductorOptions) { o.logger = l }
}

// DefaultInstructions returns the system prompt used when none is given.
func DefaultInstructions(name string) string {
	return fmt.Sprintf(`You are %s, an intelligent AI assistant powered by Reasona.
You are helpful, harmless, and honest. You think step-by-step when solving problems.
If you're unsure about something, say so rather than making things up.`, name)
}

// NewConductor creates a Conductor named name.
func NewConductor(name string, opts ...Option) (*Conductor, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConductor)
	}

	o := conductorOptions{
		model:         config.DefaultModel,
		temperature:   config.DefaultTemperature,
		maxTokens:     config.DefaultMaxTokens,
		maxToolRounds: DefaultMaxToolRounds,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.temperature < 0 || o.temperature > 2 {
		return nil, fmt.Errorf("%w: temperature must be between 0 and 2, got %v", ErrInvalidConductor, o.temperature)
	}
	if o.maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", ErrInvalidConductor, o.maxTokens)
	}
	if o.maxToolRounds <= 0 {
		o.maxToolRounds = DefaultMaxToolRounds
	}
	if o.instructions == "" {
		o.instructions = DefaultInstructions(name)
	}
	if _, model := provider.ParseModel(o.model); model == "" {
		return nil, fmt.Errorf("%w: invalid model %q", ErrInvalidConductor, o.model)
	}

	tools, err := tool.NewRegistry(o.tools...)
	if err != nil {
		return nil, fmt.Errorf("conductor %s: %w", name, err)
	}

	if o.registry == nil && o.provider == nil {
		o.registry = provider.DefaultRegistry()
	}
	if o.history == nil {
		o.history = NewMemoryHistory()
	}
	if o.conversationID == "" {
		o.conversationID = uuid.New().String()
	}
	logger := o.logger
	if logger == nil {
		logger = logging.New("conductor")
	}

	return &Conductor{
		name:           name,
		logger:         logger.With("agent", name),
		registry:       o.registry,
		history:        o.history,
		tools:          tools,
		model:          o.model,
		instructions:   o.instructions,
		temperature:    o.temperature,
		maxTokens:      o.maxTokens,
		maxToolRounds:  o.maxToolRounds,
		metadata:       o.metadata,
		endpoint:       o.endpoint,
		provider:       o.provider,
		conversationID: o.conversationID,
	}, nil
}

// Name implements Agent
func (c *Conductor) Name() string { return c.name }

// Model returns the "provider/model" string
func (c *Conductor) Model() string {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.model
}

// Instructions returns the system prompt
func (c *Conductor) Instructions() string {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.instructions
}

// Temperature returns the sampling temperature
func (c *Conductor) Temperature() float64 {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.temperature
}

// MaxTokens returns the response token limit
func (c *Conductor) MaxTokens() int {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.maxTokens
}

// Metadata returns a copy of the conductor metadata
func (c *Conductor) Metadata() map[string]any {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return maps.Clone(c.metadata)
}

// Tools returns the tools in registration order
func (c *Conductor) Tools() []tool.Tool { return c.tools.Tools() }

// ConversationID returns the ID of the current conversation
func (c *Conductor) ConversationID() string {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	return c.conversationID
}

// SetInstructions replaces the system prompt
func (c *Conductor) SetInstructions(instructions string) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.instructions = instructions
}

// SetTemperature replaces the sampling temperature
func (c *Conductor) SetTemperature(t float64) error {
	if t < 0 || t > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2, got %v", ErrInvalidConductor, t)
	}
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.temperature = t
	return nil
}

// AddTool makes another tool available. Names must stay unique.
func (c *Conductor) AddTool(t tool.Tool) error {
	return c.tools.Register(t)
}

// Card returns the discovery card reflecting the current settings.
func (c *Conductor) Card() AgentCard {
	c.cfgMu.RLock()
	instructions, endpoint := c.instructions, c.endpoint
	c.cfgMu.RUnlock()
	return newCard(c.name, instructions, c.tools.Names(), endpoint)
}

// History returns a copy of the current conversation.
func (c *Conductor) History(ctx context.Context) ([]Message, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	return c.history.Load(ctx, c.conversationID)
}

// Reset clears the conversation and starts a new one.
func (c *Conductor) Reset(ctx context.Context) error {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if err := c.history.Clear(ctx, c.conversationID); err != nil {
		return fmt.Errorf("conductor %s: reset: %w", c.name, err)
	}
	c.conversationID = uuid.New().String()
	return nil
}

type turnSettings struct {
	provider     provider.Provider
	model        string
	instructions string
	temperature  float64
	maxTokens    int
	maxRounds    int
}

func (c *Conductor) settings() (turnSettings, error) {
	c.cfgMu.RLock()
	s := turnSettings{
		model:        c.model,
		instructions: c.instructions,
		temperature:  c.temperature,
		maxTokens:    c.maxTokens,
		maxRounds:    c.maxToolRounds,
	}
	explicit := c.provider
	c.cfgMu.RUnlock()

	if explicit != nil {
		_, s.model = provider.ParseModel(s.model)
		s.provider = explicit
		return s, nil
	}
	p, model, err := c.registry.Resolve(s.model)
	if err != nil {
		return s, err
	}
	s.provider, s.model = p, model
	return s, nil
}

// prompt assembles [system, history..., user].
func (c *Conductor) prompt(ctx context.Context, s turnSettings, input string) ([]provider.Message, error) {
	hist, err := c.history.Load(ctx, c.conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs := make([]provider.Message, 0, len(hist)+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: s.instructions})
	for _, m := range hist {
		msgs = append(msgs, m.toProvider())
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: input})
	return msgs, nil
}

// Think implements Agent. On success exactly one user and one assistant
// message are appended to the history; on failure the history is unchanged.
func (c *Conductor) Think(ctx context.Context, input string) (string, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	ctx, span := observability.StartSpan(ctx, "conductor.think", map[string]any{
		"agent.name": c.name,
	})
	defer span.End()

	out, err := c.think(ctx, input)
	if err != nil {
		span.SetError(err)
		c.logger.Debug("think failed", "error", err)
		return "", fmt.Errorf("conductor %s: %w", c.name, err)
	}
	return out, nil
}

func (c *Conductor) think(ctx context.Context, input string) (string, error) {
	s, err := c.settings()
	if err != nil {
		return "", err
	}
	msgs, err := c.prompt(ctx, s, input)
	if err != nil {
		return "", err
	}
	decls := tool.ToProviderTools(c.tools.Tools())

	for round := 0; ; round++ {
		resp, err := s.provider.CreateCompletion(ctx, provider.CompletionRequest{
			Messages:    msgs,
			Model:       s.model,
			Temperature: s.temperature,
			MaxTokens:   s.maxTokens,
			Tools:       decls,
		})
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			if err := c.history.Append(ctx, c.conversationID, UserMessage(input), AssistantMessage(resp.Content)); err != nil {
				return "", fmt.Errorf("save history: %w", err)
			}
			c.logger.Debug("think complete", "rounds", round)
			return resp.Content, nil
		}
		if round >= s.maxRounds {
			return "", fmt.Errorf("%w: %d", ErrToolRoundsExceeded, s.maxRounds)
		}

		calls := toolCallsFromProvider(resp.ToolCalls)
		msgs = append(msgs, AssistantMessage(resp.Content, calls...).toProvider())
		for _, call := range calls {
			result := c.runTool(ctx, call)
			msgs = append(msgs, ToolMessage(call.ID, call.Name, result).toProvider())
		}
	}
}

// runTool executes one call; failures are reported to the model as text.
func (c *Conductor) runTool(ctx context.Context, call ToolCall) string {
	out, err := c.tools.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		c.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		return tool.FormatError(err)
	}
	c.logger.Debug("tool call", "tool", call.Name)
	return out
}

// Stream implements Agent. The conductor stays locked until the stream
// reaches EOF, fails, or is closed; the completed text is recorded in the
// history only when the stream is drained to EOF.
func (c *Conductor) Stream(ctx context.Context, input string) (Stream, error) {
	c.turnMu.Lock()

	s, err := c.settings()
	if err != nil {
		c.turnMu.Unlock()
		return nil, fmt.Errorf("conductor %s: %w", c.name, err)
	}
	msgs, err := c.prompt(ctx, s, input)
	if err != nil {
		c.turnMu.Unlock()
		return nil, fmt.Errorf("conductor %s: %w", c.name, err)
	}

	ps, err := s.provider.CreateStreaming(ctx, provider.CompletionRequest{
		Messages:    msgs,
		Model:       s.model,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		c.turnMu.Unlock()
		return nil, fmt.Errorf("conductor %s: %w", c.name, err)
	}

	return &conductorStream{c: c, ctx: ctx, input: input, src: ps}, nil
}

type conductorStream struct {
	c     *Conductor
	ctx   context.Context
	input string
	src   provider.Stream

	mu      sync.Mutex
	buf     strings.Builder
	done    bool
	release sync.Once
}

func (s *conductorStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return "", io.EOF
	}

	for {
		chunk, err := s.src.Recv()
		if err == io.EOF {
			s.done = true
			herr := s.c.history.Append(s.ctx, s.c.conversationID, UserMessage(s.input), AssistantMessage(s.buf.String()))
			s.finish()
			if herr != nil {
				return "", fmt.Errorf("conductor %s: save history: %w", s.c.name, herr)
			}
			return "", io.EOF
		}
		if err != nil {
			s.done = true
			s.finish()
			return "", fmt.Errorf("conductor %s: %w", s.c.name, err)
		}
		if chunk.Delta == "" {
			continue
		}
		s.buf.WriteString(chunk.Delta)
		return chunk.Delta, nil
	}
}

func (s *conductorStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.finish()
	return nil
}

// finish closes the source and releases the conductor exactly once.
func (s *conductorStream) finish() {
	s.release.Do(func() {
		_ = s.src.Close()
		s.c.turnMu.Unlock()
	})
}

func (c *Conductor) String() string {
	return fmt.Sprintf("Conductor(name=%q, model=%q, tools=%d)", c.name, c.Model(), c.tools.Len())
}
