package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/muthuks2020/reasona/internal/logging"
	"github.com/muthuks2020/reasona/pkg/config"
)

// ErrUnknownProvider is returned when no factory exists for a provider name
var ErrUnknownProvider = errors.New("unknown provider")

// DefaultProviderName is used for model strings without a provider prefix
const DefaultProviderName = "openai"

// Factory builds a provider from its configuration block
type Factory func(cfg config.ProviderConfig) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)

	aliases = map[string]string{
		"gemini": "google",
	}
)

// RegisterFactory registers a provider factory under name
func RegisterFactory(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Factories returns the registered factory names, sorted
func Factories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupFactory(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// ParseModel splits "provider/model" into its parts. A bare model name
// belongs to the default provider. Only the first slash separates, so
// "ollama/library/llama3" keeps "library/llama3" as the model.
func ParseModel(model string) (providerName, modelName string) {
	name, rest, ok := strings.Cut(model, "/")
	if !ok {
		return DefaultProviderName, model
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	return name, rest
}

// Registry resolves provider names to lazily constructed providers
type Registry struct {
	cfg        *config.Config
	instrument bool
	logger     hclog.Logger

	mu        sync.RWMutex
	providers map[string]Provider
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithInstrumentation wraps every constructed provider with spans and metrics
func WithInstrumentation(enabled bool) RegistryOption {
	return func(r *Registry) { r.instrument = enabled }
}

// WithRegistryLogger sets the registry logger
func WithRegistryLogger(l hclog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry backed by cfg
func NewRegistry(cfg *config.Config, opts ...RegistryOption) *Registry {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Registry{
		cfg:        cfg,
		instrument: true,
		providers:  make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger, "provider")
	return r
}

// Register installs an already constructed provider under name
func (r *Registry) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// Get retrieves a provider by name, constructing it on first use
func (r *Registry) Get(name string) (Provider, error) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}

	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	factory, ok := lookupFactory(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	pc := r.cfg.Provider(name)
	p, err := factory(pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", name, err)
	}
	if pc.RequestsPerSecond > 0 {
		p = NewRateLimited(p, pc.RequestsPerSecond, pc.Burst)
	}
	if r.instrument {
		p = WrapProvider(p)
	}

	r.logger.Debug("provider created", "provider", name)
	r.providers[name] = p
	return p, nil
}

// Has checks if a provider is constructed or constructible
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return true
	}
	_, ok = lookupFactory(name)
	return ok
}

// List returns all provider names this registry can serve
func (r *Registry) List() []string {
	seen := make(map[string]bool)
	for _, name := range Factories() {
		seen[name] = true
	}
	r.mu.RLock()
	for name := range r.providers {
		seen[name] = true
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve parses a "provider/model" string and returns the provider together
// with the provider-local model name.
func (r *Registry) Resolve(model string) (Provider, string, error) {
	providerName, modelName := ParseModel(model)
	if modelName == "" {
		return nil, "", fmt.Errorf("invalid model %q: missing model name", model)
	}
	p, err := r.Get(providerName)
	if err != nil {
		return nil, "", err
	}
	return p, modelName, nil
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns a registry configured from the environment only
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		cfg := config.Default()
		cfg.ApplyEnv()
		defaultRegistry = NewRegistry(cfg)
	})
	return defaultRegistry
}

// Resolve resolves a model string against the default registry
func Resolve(model string) (Provider, string, error) {
	return DefaultRegistry().Resolve(model)
}
