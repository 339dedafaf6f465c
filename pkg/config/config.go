package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muthuks2020/reasona/pkg/security"
)

// MaxConfigSize is the largest config file LoadConfig accepts.
const MaxConfigSize = 1 << 20

const (
	DefaultModel       = "openai/gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8000
)

// Config represents the application configuration
type Config struct {
	// Model defaults applied to agents that do not set their own
	DefaultModel string  `yaml:"default_model" json:"default_model"`
	Temperature  float64 `yaml:"temperature" json:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens"`

	// Providers holds per-provider credentials keyed by provider name
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`

	Debug    bool   `yaml:"debug" json:"debug"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	Server   ServerConfig   `yaml:"server" json:"server"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Workflow WorkflowConfig `yaml:"workflow" json:"workflow"`
}

// ProviderConfig holds connection settings for a single LLM provider
type ProviderConfig struct {
	APIKey            string   `yaml:"api_key" json:"api_key"`
	BaseURL           string   `yaml:"base_url" json:"base_url"`
	Organization      string   `yaml:"organization" json:"organization"`
	Region            string   `yaml:"region" json:"region"`
	APIVersion        string   `yaml:"api_version" json:"api_version"`
	RequestsPerSecond float64  `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int      `yaml:"burst" json:"burst"`
	Timeout           Duration `yaml:"timeout" json:"timeout"`
}

// ServerConfig configures the REST API
type ServerConfig struct {
	Host              string  `yaml:"host" json:"host"`
	Port              int     `yaml:"port" json:"port"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
	EnableMetrics     bool    `yaml:"enable_metrics" json:"enable_metrics"`
}

// SessionConfig selects where conductor conversation history is kept
type SessionConfig struct {
	// Store is "memory", "file" or "redis"
	Store    string   `yaml:"store" json:"store"`
	Dir      string   `yaml:"dir" json:"dir"`
	RedisURL string   `yaml:"redis_url" json:"redis_url"`
	Prefix   string   `yaml:"prefix" json:"prefix"`
	TTL      Duration `yaml:"ttl" json:"ttl"`
}

// WorkflowConfig selects where workflow run records are kept. The redis
// store shares the session redis_url.
type WorkflowConfig struct {
	// Store is "memory", "file" or "redis"
	Store string `yaml:"store" json:"store"`
	Dir   string `yaml:"dir" json:"dir"`
}

// Addr returns host:port for the server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns a configuration populated with defaults only
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML or JSON file and overlays the
// environment.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := Decode(path, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Decode reads a YAML or JSON file into v, chosen by file extension.
func Decode(path string, v any) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigSize)
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is operator supplied
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := security.NewSafeYAMLParser(security.DefaultYAMLLimits()).UnmarshalYAML(data, v); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return nil
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.Prefix == "" {
		c.Session.Prefix = "reasona:history:"
	}
	if c.Workflow.Store == "" {
		c.Workflow.Store = "memory"
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	ollama := c.Providers["ollama"]
	if ollama.BaseURL == "" {
		ollama.BaseURL = DefaultOllamaURL
		c.Providers["ollama"] = ollama
	}
}

// providerEnv maps provider names to the environment variables that carry
// their API keys, in lookup order.
var providerEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"google":    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"mistral":   {"MISTRAL_API_KEY"},
	"groq":      {"GROQ_API_KEY"},
	"azure":     {"AZURE_OPENAI_API_KEY"},
}

// ApplyEnv loads settings from environment variables where the file left
// them empty.
func (c *Config) ApplyEnv() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}

	for name, vars := range providerEnv {
		pc := c.Providers[name]
		if pc.APIKey == "" {
			for _, v := range vars {
				if key := os.Getenv(v); key != "" {
					pc.APIKey = key
					break
				}
			}
		}
		if pc.APIKey != "" {
			c.Providers[name] = pc
		}
	}

	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		pc := c.Providers["ollama"]
		if pc.BaseURL == "" {
			pc.BaseURL = url
			c.Providers["ollama"] = pc
		}
	}
	if endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT"); endpoint != "" {
		pc := c.Providers["azure"]
		if pc.BaseURL == "" {
			pc.BaseURL = endpoint
			c.Providers["azure"] = pc
		}
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		pc := c.Providers["bedrock"]
		if pc.Region == "" {
			pc.Region = region
			c.Providers["bedrock"] = pc
		}
	}

	if v := os.Getenv("REASONA_DEBUG"); v != "" {
		c.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("REASONA_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("REASONA_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("REASONA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" && c.Session.RedisURL == "" {
		c.Session.RedisURL = v
	}
}

// Provider returns the settings for a provider, empty when unset
func (c *Config) Provider(name string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[name]
}

// SetAPIKey sets the API key for a provider
func (c *Config) SetAPIKey(provider, key string) {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	pc := c.Providers[provider]
	pc.APIKey = key
	c.Providers[provider] = pc
}

// SaveConfig saves configuration to a YAML or JSON file
func SaveConfig(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Session.Store {
	case "", "memory":
	case "file":
		if c.Session.Dir == "" {
			return fmt.Errorf("session store file requires dir")
		}
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("session store redis requires redis_url")
		}
	default:
		return fmt.Errorf("unknown session store: %s", c.Session.Store)
	}
	switch c.Workflow.Store {
	case "", "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("workflow store redis requires session redis_url")
		}
	case "file":
		if c.Workflow.Dir == "" {
			return fmt.Errorf("workflow store file requires dir")
		}
	default:
		return fmt.Errorf("unknown workflow store: %s", c.Workflow.Store)
	}
	return nil
}

// Duration is a time.Duration that reads "30s" style strings from YAML and JSON
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid duration: %s", string(b))
		}
		*d = Duration(time.Duration(n * float64(time.Second)))
		return nil
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// parseDuration accepts Go duration strings and bare numbers of seconds
func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(time.Duration(secs * float64(time.Second))), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(d), nil
}
