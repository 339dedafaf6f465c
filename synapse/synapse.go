package synapse

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/internal/logging"
	"github.com/muthuks2020/reasona/internal/observability"
	metrics "github.com/muthuks2020/reasona/pkg/observability"
)

// Synapse is an in-process message bus between named agents.
//
// Synapse is thread-safe and can be used concurrently.
type Synapse struct {
	name           string
	logger         hclog.Logger
	maxConcurrency int

	mu     sync.RWMutex
	conns  map[string]*connection
	order  []string // Connection order for deterministic broadcast
	closed bool

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	handlersMu sync.RWMutex
	handlers   map[Event][]Handler

	tasksMu   sync.RWMutex
	tasks     map[string]*Task
	taskOrder []string
}

type connection struct {
	agent        agent.Agent
	capabilities []string
	connectedAt  time.Time

	// ctx is cancelled on disconnect to stop in-flight calls.
	ctx    context.Context
	cancel context.CancelFunc
}

// pendingRequest is a delivered envelope awaiting its terminal reply.
type pendingRequest struct {
	request Envelope
	done    chan struct{}
	reply   Envelope
}

// New creates a Synapse network.
func New(opts ...Option) *Synapse {
	s := &Synapse{
		name:           DefaultName,
		maxConcurrency: DefaultMaxConcurrency,
		conns:          make(map[string]*connection),
		pending:        make(map[string]*pendingRequest),
		handlers:       make(map[Event][]Handler),
		tasks:          make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger, "synapse").With("network", s.name)
	return s
}

// Name returns the network name
func (s *Synapse) Name() string { return s.name }

// Connect registers a under its name. A name can hold only one live
// registration; connecting a taken name fails with ErrDuplicateAgent.
func (s *Synapse) Connect(a agent.Agent, capabilities ...string) error {
	name := a.Name()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, exists := s.conns[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.conns[name] = &connection{
		agent:        a,
		capabilities: slices.Clone(capabilities),
		connectedAt:  time.Now().UTC(),
		ctx:          ctx,
		cancel:       cancel,
	}
	s.order = append(s.order, name)
	count := len(s.conns)
	s.mu.Unlock()

	metrics.SetConnectedAgents(count)
	s.logger.Info("connected agent", "agent", name)

	hs := NewEnvelope(TypeHandshake, name, s.name, "")
	hs = hs.WithMetadata("capabilities", slices.Clone(capabilities))
	if c, ok := a.(agent.Carded); ok {
		hs = hs.WithMetadata("card", c.Card())
	}
	metrics.RecordEnvelope(string(TypeHandshake))
	s.emit(EventConnect, hs)
	return nil
}

// Disconnect removes a registration. Requests still waiting on the agent
// resolve immediately with ErrAgentUnavailable.
func (s *Synapse) Disconnect(name string) error {
	s.mu.Lock()
	conn, ok := s.conns[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	delete(s.conns, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	count := len(s.conns)
	s.mu.Unlock()

	s.failPending(name)
	conn.cancel()

	metrics.SetConnectedAgents(count)
	s.logger.Info("disconnected agent", "agent", name)

	env := NewEnvelope(TypeNotification, name, s.name, "").WithMetadata("event", string(EventDisconnect))
	s.emit(EventDisconnect, env)
	return nil
}

// failPending resolves every request addressed to name.
func (s *Synapse) failPending(name string) {
	s.pendingMu.Lock()
	var orphans []*pendingRequest
	for _, p := range s.pending {
		if p.request.Recipient == name {
			orphans = append(orphans, p)
		}
	}
	s.pendingMu.Unlock()

	for _, p := range orphans {
		err := fmt.Errorf("%w: %s", ErrAgentUnavailable, name)
		_ = s.complete(p.request.fail(err))
	}
}

// Agents returns connected agent names in connection order
func (s *Synapse) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Get returns a connected agent by name
func (s *Synapse) Get(name string) (agent.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[name]
	if !ok {
		return nil, false
	}
	return conn.agent, true
}

// Capabilities returns the capabilities declared at connect time
func (s *Synapse) Capabilities(name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return slices.Clone(conn.capabilities), nil
}

// Len returns the number of connected agents
func (s *Synapse) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Synapse) lookup(name string) (*connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	conn, ok := s.conns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return conn, nil
}

// Send delivers content from one agent to another and returns the
// recipient's answer. The sender's own history is not touched.
func (s *Synapse) Send(ctx context.Context, from, to, content string, typ MessageType) (string, error) {
	if !typ.Deliverable() {
		return "", fmt.Errorf("%w: cannot send %s", ErrInvalidMessageType, typ)
	}
	reply, err := s.Request(ctx, NewEnvelope(typ, from, to, content))
	if err != nil {
		return "", err
	}
	return reply.Payload, nil
}

// Request delivers env to its recipient and waits for the terminal reply.
// An ERROR reply is returned together with its error.
func (s *Synapse) Request(ctx context.Context, env Envelope) (Envelope, error) {
	if !env.Type.Deliverable() {
		return Envelope{}, fmt.Errorf("%w: cannot deliver %s", ErrInvalidMessageType, env.Type)
	}
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	conn, err := s.lookup(env.Recipient)
	if err != nil {
		return Envelope{}, err
	}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.ID
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	ctx, span := observability.StartSpan(ctx, "synapse.deliver", map[string]any{
		"synapse.sender":    env.Sender,
		"synapse.recipient": env.Recipient,
		"synapse.type":      string(env.Type),
	})
	defer span.End()

	p := &pendingRequest{request: env, done: make(chan struct{})}
	s.pendingMu.Lock()
	if _, dup := s.pending[env.CorrelationID]; dup {
		s.pendingMu.Unlock()
		return Envelope{}, fmt.Errorf("correlation id %s already pending", env.CorrelationID)
	}
	s.pending[env.CorrelationID] = p
	s.pendingMu.Unlock()

	metrics.RecordEnvelope(string(env.Type))
	s.emit(EventMessage, env)
	s.logger.Debug("deliver", "from", env.Sender, "to", env.Recipient, "type", env.Type)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(conn.ctx, cancel)
	defer stop()

	start := time.Now()
	// The recipient may have left between lookup and registration.
	if _, err := s.lookup(env.Recipient); err != nil {
		_ = s.complete(env.fail(fmt.Errorf("%w: %s", ErrAgentUnavailable, env.Recipient)))
	} else {
		go func() {
			out, err := conn.agent.Think(callCtx, env.Payload)
			var reply Envelope
			if err != nil {
				reply = env.fail(fmt.Errorf("agent %s: %w", env.Recipient, err))
			} else {
				reply = env.reply(out)
			}
			if cerr := s.complete(reply); cerr != nil {
				s.logger.Debug("late reply dropped", "agent", env.Recipient, "correlation_id", env.CorrelationID)
			}
		}()
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		_ = s.complete(env.fail(ctx.Err()))
		<-p.done
	}

	reply := p.reply
	status := "success"
	if reply.Type == TypeError {
		status = "error"
		span.SetError(reply.Err())
	}
	metrics.RecordDelivery(env.Recipient, status, time.Since(start))

	if reply.Type == TypeError {
		return reply, reply.Err()
	}
	return reply, nil
}

// complete records the terminal reply for a request. Only the first reply
// is accepted; later ones are reported to error observers.
func (s *Synapse) complete(reply Envelope) error {
	s.pendingMu.Lock()
	p, ok := s.pending[reply.CorrelationID]
	if ok {
		delete(s.pending, reply.CorrelationID)
	}
	s.pendingMu.Unlock()

	if !ok {
		err := fmt.Errorf("%w: correlation %s", ErrDuplicateReply, reply.CorrelationID)
		dropped := reply.WithMetadata("dropped", err.Error())
		s.emit(EventError, dropped)
		return err
	}

	p.reply = reply
	metrics.RecordEnvelope(string(reply.Type))
	if reply.Type == TypeError {
		s.emit(EventError, reply)
	} else {
		s.emit(EventMessage, reply)
	}
	close(p.done)
	return nil
}

// Pending returns the number of requests awaiting a reply
func (s *Synapse) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Delegate sends a REQUEST carrying a task. When taskContext is non-empty
// the prompt is prefixed with its JSON encoding.
func (s *Synapse) Delegate(ctx context.Context, from, to, task string, taskContext map[string]any) (string, error) {
	prompt, err := delegationPrompt(task, taskContext)
	if err != nil {
		return "", err
	}
	out, err := s.Send(ctx, from, to, prompt, TypeRequest)
	if err != nil {
		return "", err
	}
	s.logger.Debug("delegated", "from", from, "to", to, "task", truncate(task, 50))
	return out, nil
}

// Heartbeat emits a HEARTBEAT envelope for every connection and returns
// them in connection order.
func (s *Synapse) Heartbeat(ctx context.Context) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	out := make([]Envelope, 0, len(s.order))
	for _, name := range s.order {
		conn := s.conns[name]
		env := NewEnvelope(TypeHeartbeat, s.name, name, "").
			WithMetadata("connected_for", time.Since(conn.connectedAt).String())
		out = append(out, env)
	}
	s.mu.RUnlock()

	for _, env := range out {
		metrics.RecordEnvelope(string(TypeHeartbeat))
		s.emit(EventMessage, env)
	}
	return out, nil
}

// Close disconnects every agent. Further operations fail with ErrClosed.
func (s *Synapse) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	names := slices.Clone(s.order)
	s.mu.Unlock()

	for _, name := range names {
		s.mu.Lock()
		conn, ok := s.conns[name]
		delete(s.conns, name)
		s.mu.Unlock()
		if !ok {
			continue
		}
		s.failPending(name)
		conn.cancel()
	}

	s.mu.Lock()
	s.order = nil
	s.mu.Unlock()

	metrics.SetConnectedAgents(0)
	s.logger.Info("closed")
	return nil
}

func (s *Synapse) String() string {
	return fmt.Sprintf("Synapse(name=%q, agents=%d)", s.name, s.Len())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
