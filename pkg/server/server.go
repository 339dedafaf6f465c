// Package server exposes agents and workflows over HTTP.
//
// A server has an optional primary agent, served under /v1 for single-agent
// deployments, plus any number of named agents under /agents/{agent} and
// workflows under /workflows/{name}. Health and Prometheus metrics are
// always mounted.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/internal/logging"
	metrics "github.com/muthuks2020/reasona/pkg/observability"
	"github.com/muthuks2020/reasona/pkg/security"
	"github.com/muthuks2020/reasona/workflow"
)

const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
)

// Server routes HTTP requests to agents and workflows.
type Server struct {
	version string
	logger  hclog.Logger
	health  *metrics.HealthChecker
	checks  []*metrics.HealthCheck
	limiter *security.RateLimiter

	mu        sync.RWMutex
	primary   agent.Agent
	agents    map[string]agent.Agent
	order     []string
	workflows map[string]*workflow.Workflow

	router chi.Router
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l hclog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version reported by /health
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithPrimary serves a under /v1 and /.well-known/agent-card.json
func WithPrimary(a agent.Agent) Option {
	return func(s *Server) { s.primary = a }
}

// WithAgents mounts agents under /agents/{agent}
func WithAgents(agents ...agent.Agent) Option {
	return func(s *Server) {
		for _, a := range agents {
			s.setAgent(a)
		}
	}
}

// WithWorkflows mounts workflows under /workflows/{name}
func WithWorkflows(wfs ...*workflow.Workflow) Option {
	return func(s *Server) {
		for _, wf := range wfs {
			s.workflows[wf.Name()] = wf
		}
	}
}

// WithRateLimit limits each client to rps requests per second. Zero
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = security.NewRateLimiter(rps, burst)
		}
	}
}

// WithHealthCheck registers an additional health check
func WithHealthCheck(check *metrics.HealthCheck) Option {
	return func(s *Server) { s.checks = append(s.checks, check) }
}

// New creates a server. Options are applied in order.
func New(opts ...Option) *Server {
	s := &Server{
		version:   "dev",
		agents:    make(map[string]agent.Agent),
		workflows: make(map[string]*workflow.Workflow),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health = metrics.NewHealthChecker(s.version)
	for _, c := range s.checks {
		s.health.RegisterCheck(c)
	}
	s.logger = logging.OrDefault(s.logger, "server")
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)
	if s.limiter != nil {
		r.Use(s.rateLimitMiddleware)
	}

	r.Get("/health", s.health.HealthHandler())
	r.Get("/health/live", metrics.LivenessHandler())
	r.Get("/health/ready", s.health.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", metrics.MetricsHandler())

	r.Get("/.well-known/agent-card.json", s.withPrimary(s.handleCard))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/agent", s.withPrimary(s.handleAgentInfo))
		r.Post("/think", s.withPrimary(s.handleThink))
		r.Post("/chat", s.withPrimary(s.handleThink))
		r.Post("/reset", s.withPrimary(s.handleReset))
		r.Get("/tools", s.withPrimary(s.handleTools))
	})

	r.Get("/agents", s.handleListAgents)
	r.Route("/agents/{agent}", func(r chi.Router) {
		r.Get("/", s.withNamed(s.handleAgentInfo))
		r.Get("/card", s.withNamed(s.handleCard))
		r.Post("/think", s.withNamed(s.handleThink))
		r.Post("/reset", s.withNamed(s.handleReset))
		r.Get("/tools", s.withNamed(s.handleTools))
	})

	r.Get("/workflows", s.handleListWorkflows)
	r.Route("/workflows/{workflow}", func(r chi.Router) {
		r.Get("/", s.handleWorkflowInfo)
		r.Post("/run", s.handleWorkflowRun)
		r.Get("/runs", s.handleWorkflowRuns)
	})
	return r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetAgent adds or replaces a named agent
func (s *Server) SetAgent(a agent.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAgent(a)
}

func (s *Server) setAgent(a agent.Agent) {
	name := a.Name()
	if _, exists := s.agents[name]; !exists {
		s.order = append(s.order, name)
	}
	s.agents[name] = a
}

// RemoveAgent removes a named agent. It reports whether the agent existed.
func (s *Server) RemoveAgent(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[name]; !ok {
		return false
	}
	delete(s.agents, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true
}

// SetPrimary replaces the agent served under /v1
func (s *Server) SetPrimary(a agent.Agent) {
	s.mu.Lock()
	s.primary = a
	s.mu.Unlock()
}

// SetWorkflow adds or replaces a workflow
func (s *Server) SetWorkflow(wf *workflow.Workflow) {
	s.mu.Lock()
	s.workflows[wf.Name()] = wf
	s.mu.Unlock()
}

// RemoveWorkflow removes a workflow. It reports whether it existed.
func (s *Server) RemoveWorkflow(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workflows[name]
	delete(s.workflows, name)
	return ok
}

// Workflows returns the served workflow names, sorted
func (s *Server) Workflows() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.workflows))
	for name := range s.workflows {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Agents returns the named agents in registration order
func (s *Server) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

func (s *Server) agent(name string) (agent.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[name]
	return a, ok
}

func (s *Server) workflow(name string) (*workflow.Workflow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[name]
	return wf, ok
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: DefaultReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
