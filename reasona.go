// Package reasona loads a declarative project file into running agents,
// workflows and a Synapse, and serves them over HTTP.
//
// A project file is the YAML (or JSON) configuration of pkg/config plus the
// application blocks:
//
//	name: content-team
//	default_model: openai/gpt-4o-mini
//	agents_dir: agents            # *.md agents, relative to the file
//	agents:
//	  - name: reviewer
//	    model: anthropic/claude-sonnet-4
//	    instructions: Review drafts critically.
//	    capabilities: [review]
//	workflows:
//	  publish:
//	    stages:
//	      - {name: draft, agent: writer, prompt: "Draft: {input}"}
//	      - {name: review, agent: reviewer, prompt: "Review: {draft}"}
//	synapse:
//	  max_concurrency: 4
//	primary: writer
package reasona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/muthuks2020/reasona/agent"
	"github.com/muthuks2020/reasona/internal/logging"
	"github.com/muthuks2020/reasona/pkg/config"
	"github.com/muthuks2020/reasona/pkg/llm/provider"
	metrics "github.com/muthuks2020/reasona/pkg/observability"
	"github.com/muthuks2020/reasona/pkg/security"
	"github.com/muthuks2020/reasona/pkg/server"
	"github.com/muthuks2020/reasona/pkg/session"
	"github.com/muthuks2020/reasona/synapse"
	"github.com/muthuks2020/reasona/workflow"
)

// Version is the reasona release, overridden via ldflags.
var Version = "dev"

var (
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrDuplicateAgent  = errors.New("agent defined twice")
)

// ProjectConfig is the decoded project file
type ProjectConfig struct {
	config.Config `yaml:",inline"`

	Name      string                         `yaml:"name" json:"name"`
	AgentsDir string                         `yaml:"agents_dir" json:"agents_dir"`
	Agents    []AgentDef                     `yaml:"agents" json:"agents"`
	Workflows map[string]workflow.Definition `yaml:"workflows" json:"workflows"`
	Synapse   SynapseDef                     `yaml:"synapse" json:"synapse"`

	// Primary is the agent served under /v1
	Primary string `yaml:"primary" json:"primary"`
}

// AgentDef declares an agent inline or by markdown file
type AgentDef struct {
	Name         string   `yaml:"name" json:"name"`
	File         string   `yaml:"file" json:"file"`
	Model        string   `yaml:"model" json:"model"`
	Instructions string   `yaml:"instructions" json:"instructions"`
	Temperature  *float64 `yaml:"temperature" json:"temperature"`
	MaxTokens    int      `yaml:"max_tokens" json:"max_tokens"`
	Tools        []string `yaml:"tools" json:"tools"`
	Endpoint     string   `yaml:"endpoint" json:"endpoint"`

	// Capabilities are advertised when the agent joins the Synapse
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

// SynapseDef configures the project's message bus
type SynapseDef struct {
	Name           string `yaml:"name" json:"name"`
	MaxConcurrency int    `yaml:"max_concurrency" json:"max_concurrency"`
	// Agents limits which agents connect; empty connects all
	Agents []string `yaml:"agents" json:"agents"`
}

// FileReader reads project files. Tests substitute it.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile
type OSFileReader struct{}

func (OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path is operator supplied
}

// ConfigLoader decodes project files with YAML size and depth limits
type ConfigLoader struct {
	fileReader FileReader
	yamlParser *security.SafeYAMLParser
}

// NewConfigLoader creates a loader with the default YAML limits
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return NewConfigLoaderWithLimits(fr, security.DefaultYAMLLimits())
}

// NewConfigLoaderWithLimits creates a loader with custom YAML limits
func NewConfigLoaderWithLimits(fr FileReader, limits security.YAMLLimits) *ConfigLoader {
	return &ConfigLoader{fileReader: fr, yamlParser: security.NewSafeYAMLParser(limits)}
}

// LoadConfig reads and decodes a project file, then overlays the .env file
// next to it and the environment.
func (cl *ConfigLoader) LoadConfig(path string) (*ProjectConfig, error) {
	data, err := cl.fileReader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var pc ProjectConfig
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &pc)
	} else {
		err = cl.yamlParser.UnmarshalYAML(data, &pc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.LoadDotEnvFor(path); err != nil {
		return nil, err
	}
	pc.ApplyEnv()
	pc.ApplyDefaults()
	if pc.Name == "" {
		pc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &pc, nil
}

// Option configures a Project
type Option func(*projectOptions)

type projectOptions struct {
	logger   hclog.Logger
	provider provider.Provider
	registry *provider.Registry
}

// WithLogger sets the project logger
func WithLogger(l hclog.Logger) Option {
	return func(o *projectOptions) { o.logger = l }
}

// WithProvider routes every agent to p regardless of its model
func WithProvider(p provider.Provider) Option {
	return func(o *projectOptions) { o.provider = p }
}

// WithRegistry sets the provider registry agents resolve models from
func WithRegistry(r *provider.Registry) Option {
	return func(o *projectOptions) { o.registry = r }
}

// Project is a loaded reasona application
type Project struct {
	Name    string
	Config  *ProjectConfig
	Synapse *synapse.Synapse

	agents    []*agent.Conductor
	byName    map[string]*agent.Conductor
	caps      map[string][]string
	workflows map[string]*workflow.Workflow
	history   session.Store
	runs      workflow.Store
	redis     *redis.Client
	logger    hclog.Logger
}

// Load reads a project file and builds the project
func Load(path string, opts ...Option) (*Project, error) {
	pc, err := NewConfigLoader(OSFileReader{}).LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(pc, filepath.Dir(path), opts...)
}

// New builds a project from a decoded config. Relative paths resolve
// against baseDir.
func New(pc *ProjectConfig, baseDir string, opts ...Option) (*Project, error) {
	var o projectOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrDefault(o.logger, "project")

	pc.ApplyDefaults()
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Project{
		Name:      pc.Name,
		Config:    pc,
		byName:    make(map[string]*agent.Conductor),
		caps:      make(map[string][]string),
		workflows: make(map[string]*workflow.Workflow),
		logger:    logger,
	}

	var err error
	sess := pc.Session
	sess.Dir = resolve(baseDir, sess.Dir)
	if p.history, err = session.New(sess); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	if p.runs, err = p.runStore(baseDir); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("workflow store: %w", err)
	}

	if err := p.loadAgents(baseDir, o); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := p.buildWorkflows(); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := p.connectSynapse(); err != nil {
		_ = p.Close()
		return nil, err
	}
	if pc.Primary != "" {
		if _, ok := p.byName[pc.Primary]; !ok {
			_ = p.Close()
			return nil, fmt.Errorf("primary: %w: %s", ErrUnknownAgent, pc.Primary)
		}
	}

	logger.Info("project loaded", "name", p.Name, "agents", len(p.agents), "workflows", len(p.workflows))
	return p, nil
}

func (p *Project) runStore(baseDir string) (workflow.Store, error) {
	switch p.Config.Workflow.Store {
	case "", "memory":
		return workflow.NewMemoryStore(), nil
	case "file":
		return workflow.NewFileStore(resolve(baseDir, p.Config.Workflow.Dir))
	case "redis":
		opts, err := redis.ParseURL(p.Config.Session.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		p.redis = redis.NewClient(opts)
		return workflow.NewRedisStore(p.redis, "", p.Config.Session.TTL.Std()), nil
	default:
		return nil, fmt.Errorf("unknown workflow store: %s", p.Config.Workflow.Store)
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// agentOptions are the project-wide conductor defaults, applied before any
// per-agent setting.
func (p *Project) agentOptions(o projectOptions) []agent.Option {
	opts := []agent.Option{
		agent.WithModel(p.Config.DefaultModel),
		agent.WithTemperature(p.Config.Temperature),
		agent.WithMaxTokens(p.Config.MaxTokens),
		agent.WithHistoryStore(p.history),
		agent.WithLogger(p.logger.ResetNamed("reasona.conductor")),
	}
	switch {
	case o.provider != nil:
		opts = append(opts, agent.WithProvider(o.provider))
	case o.registry != nil:
		opts = append(opts, agent.WithRegistry(o.registry))
	default:
		opts = append(opts, agent.WithRegistry(provider.NewRegistry(&p.Config.Config,
			provider.WithRegistryLogger(p.logger.ResetNamed("reasona.provider")))))
	}
	return opts
}

func (p *Project) loadAgents(baseDir string, o projectOptions) error {
	base := p.agentOptions(o)

	if p.Config.AgentsDir != "" {
		paths, err := filepath.Glob(filepath.Join(resolve(baseDir, p.Config.AgentsDir), "*.md"))
		if err != nil {
			return fmt.Errorf("agents_dir: %w", err)
		}
		slices.Sort(paths)
		for _, path := range paths {
			c, err := loadMarkdown(path, base, nil)
			if err != nil {
				return err
			}
			if err := p.addAgent(c); err != nil {
				return err
			}
		}
	}

	for _, def := range p.Config.Agents {
		c, err := buildAgent(baseDir, def, base)
		if err != nil {
			return err
		}
		if err := p.addAgent(c); err != nil {
			return err
		}
		if len(def.Capabilities) > 0 {
			p.caps[c.Name()] = def.Capabilities
		}
	}
	return nil
}

// loadMarkdown builds a conductor from a markdown file. Options apply in
// order: project defaults, then frontmatter, then overrides.
func loadMarkdown(path string, base, overrides []agent.Option) (*agent.Conductor, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the project file
	if err != nil {
		return nil, fmt.Errorf("read agent file: %w", err)
	}
	def, err := agent.ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	name := def.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	fileOpts, err := def.Options()
	if err != nil {
		return nil, fmt.Errorf("%s: agent %s: %w", path, name, err)
	}
	return agent.NewConductor(name, slices.Concat(base, fileOpts, overrides)...)
}

func buildAgent(baseDir string, def AgentDef, base []agent.Option) (*agent.Conductor, error) {
	inline := agent.Definition{
		Model:        def.Model,
		Temperature:  def.Temperature,
		MaxTokens:    def.MaxTokens,
		Tools:        def.Tools,
		Endpoint:     def.Endpoint,
		Instructions: def.Instructions,
	}
	overrides, err := inline.Options()
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", def.Name, err)
	}

	if def.File != "" {
		c, err := loadMarkdown(resolve(baseDir, def.File), base, overrides)
		if err != nil {
			return nil, err
		}
		if def.Name != "" && def.Name != c.Name() {
			return nil, fmt.Errorf("agent %s: file %s defines agent %q", def.Name, def.File, c.Name())
		}
		return c, nil
	}
	if def.Name == "" {
		return nil, fmt.Errorf("%w: agent name or file is required", agent.ErrInvalidDefinition)
	}
	return agent.NewConductor(def.Name, slices.Concat(base, overrides)...)
}

func (p *Project) addAgent(c *agent.Conductor) error {
	if _, exists := p.byName[c.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, c.Name())
	}
	p.byName[c.Name()] = c
	p.agents = append(p.agents, c)
	return nil
}

func (p *Project) lookupAgent(name string) (agent.Agent, bool) {
	c, ok := p.byName[name]
	return c, ok
}

func (p *Project) buildWorkflows() error {
	for name, def := range p.Config.Workflows {
		wf, err := workflow.Build(name, def, p.lookupAgent,
			workflow.WithStore(p.runs),
			workflow.WithLogger(p.logger.ResetNamed("reasona.workflow")),
		)
		if err != nil {
			return err
		}
		p.workflows[name] = wf
	}
	return nil
}

func (p *Project) connectSynapse() error {
	def := p.Config.Synapse
	opts := []synapse.Option{synapse.WithLogger(p.logger.ResetNamed("reasona.synapse"))}
	if def.Name != "" {
		opts = append(opts, synapse.WithName(def.Name))
	}
	if def.MaxConcurrency > 0 {
		opts = append(opts, synapse.WithMaxConcurrency(def.MaxConcurrency))
	}
	p.Synapse = synapse.New(opts...)

	names := def.Agents
	if len(names) == 0 {
		names = p.Agents()
	}
	for _, name := range names {
		c, ok := p.byName[name]
		if !ok {
			return fmt.Errorf("synapse: %w: %s", ErrUnknownAgent, name)
		}
		if err := p.Synapse.Connect(c, p.caps[name]...); err != nil {
			return fmt.Errorf("synapse: %w", err)
		}
	}
	return nil
}

// Agents returns agent names in load order: agents_dir first, then inline
func (p *Project) Agents() []string {
	names := make([]string, len(p.agents))
	for i, c := range p.agents {
		names[i] = c.Name()
	}
	return names
}

// Agent returns an agent by name
func (p *Project) Agent(name string) (*agent.Conductor, bool) {
	c, ok := p.byName[name]
	return c, ok
}

// Workflows returns workflow names, sorted
func (p *Project) Workflows() []string {
	names := make([]string, 0, len(p.workflows))
	for name := range p.workflows {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Workflow returns a workflow by name
func (p *Project) Workflow(name string) (*workflow.Workflow, bool) {
	wf, ok := p.workflows[name]
	return wf, ok
}

// Primary returns the configured primary agent, or the only agent of a
// single-agent project. It returns nil otherwise.
func (p *Project) Primary() agent.Agent {
	if c, ok := p.byName[p.Config.Primary]; ok {
		return c
	}
	if len(p.agents) == 1 {
		return p.agents[0]
	}
	return nil
}

// Run executes a workflow by name
func (p *Project) Run(ctx context.Context, name string, inputs map[string]any) (*workflow.RunResult, error) {
	wf, ok := p.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	return wf.Run(ctx, inputs)
}

// Think sends input to one agent directly
func (p *Project) Think(ctx context.Context, name, input string) (string, error) {
	c, ok := p.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return c.Think(ctx, input)
}

// ServerOptions returns the options that mount the project on a server:
// every agent, every workflow, the primary agent, rate limits and store
// health checks.
func (p *Project) ServerOptions() []server.Option {
	opts := []server.Option{
		server.WithVersion(Version),
		server.WithLogger(p.logger.ResetNamed("reasona.server")),
		server.WithRateLimit(p.Config.Server.RequestsPerSecond, p.Config.Server.Burst),
	}
	for _, c := range p.agents {
		opts = append(opts, server.WithAgents(c))
	}
	for _, name := range p.Workflows() {
		opts = append(opts, server.WithWorkflows(p.workflows[name]))
	}
	if a := p.Primary(); a != nil {
		opts = append(opts, server.WithPrimary(a))
	}

	type pinger interface{ Ping(context.Context) error }
	if h, ok := p.history.(pinger); ok {
		opts = append(opts, server.WithHealthCheck(metrics.RedisCheck(h.Ping)))
	} else if r, ok := p.runs.(pinger); ok {
		opts = append(opts, server.WithHealthCheck(metrics.RedisCheck(r.Ping)))
	}
	return opts
}

// Server builds an HTTP server for the project
func (p *Project) Server(opts ...server.Option) *server.Server {
	return server.New(append(p.ServerOptions(), opts...)...)
}

// Serve runs the project's server on the configured address until ctx is
// cancelled.
func (p *Project) Serve(ctx context.Context) error {
	return p.Server().ListenAndServe(ctx, p.Config.Server.Addr())
}

// Close shuts down the Synapse and releases stores
func (p *Project) Close() error {
	var errs []error
	if p.Synapse != nil {
		errs = append(errs, p.Synapse.Close())
	}
	if p.history != nil {
		errs = append(errs, p.history.Close())
	}
	if p.redis != nil {
		errs = append(errs, p.redis.Close())
	}
	return errors.Join(errs...)
}
