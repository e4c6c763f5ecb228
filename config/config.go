// Package config loads the agent configuration from YAML with environment
// overrides for secrets and the listen address.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adaojoaquim/agi-core/memory"
	"github.com/adaojoaquim/agi-core/provider"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderLocal     = "local" // OpenAI-compatible server at Completer.BaseURL
	ProviderNone      = "none"
)

// Embedding providers.
const (
	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
	EmbedderONNX   = "onnx"
)

// Memory backends. "chroma" is accepted as an alias of chromem.
const (
	BackendChromem = "chromem"
	BackendChroma  = "chroma"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAddr         = "AGICORE_ADDR"
)

// DefaultTools are enabled when ToolsEnabled is empty.
var DefaultTools = []string{"web", "code", "files"}

// Config is the top-level agent configuration.
type Config struct {
	// LLMProvider selects the completion provider: anthropic, openai,
	// local or none. Default: anthropic.
	LLMProvider string `yaml:"llm_provider" json:"llm_provider"`

	// MemoryBackend selects the vector backend. Default: chromem.
	MemoryBackend string `yaml:"memory_backend" json:"memory_backend"`

	// ReasoningDepth bounds reasoning chains. Default: 3.
	ReasoningDepth int `yaml:"reasoning_depth" json:"reasoning_depth"`

	// ToolsEnabled lists enabled tools. Default: web, code, files.
	ToolsEnabled []string `yaml:"tools_enabled" json:"tools_enabled"`

	// Options holds free-form settings passed through to the engine.
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`

	Embedder  EmbedderConfig  `yaml:"embedder" json:"embedder"`
	Completer CompleterConfig `yaml:"completer" json:"completer"`
	Memory    memory.Config   `yaml:"memory" json:"memory"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	// Provider is hash, openai or onnx. Default: hash.
	Provider string `yaml:"provider" json:"provider"`

	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey  string `yaml:"api_key,omitempty" json:"-"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Dimensions is the embedding size. Default depends on the provider.
	Dimensions int `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`

	// ONNX model files.
	ModelPath         string `yaml:"model_path,omitempty" json:"model_path,omitempty"`
	TokenizerPath     string `yaml:"tokenizer_path,omitempty" json:"tokenizer_path,omitempty"`
	SharedLibraryPath string `yaml:"shared_library_path,omitempty" json:"shared_library_path,omitempty"`

	// CacheSize is the number of cached embeddings. 0 disables the cache.
	CacheSize int64 `yaml:"cache_size" json:"cache_size"`

	Guard provider.GuardConfig `yaml:"guard" json:"guard"`
}

// CompleterConfig configures the completion provider.
type CompleterConfig struct {
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty" json:"-"`
	BaseURL   string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// System is the system prompt. Default: DefaultSystemPrompt.
	System string `yaml:"system,omitempty" json:"system,omitempty"`

	Guard provider.GuardConfig `yaml:"guard" json:"guard"`
}

// ServerConfig configures the websocket server.
type ServerConfig struct {
	// Addr is the listen address. Default: ":8080".
	Addr string `yaml:"addr" json:"addr"`

	// AllowedOrigins restricts websocket upgrades. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`
}

// DefaultSystemPrompt frames completions made by the engine.
const DefaultSystemPrompt = `You are AGI-Core, a goal-directed assistant with a layered memory.

Relevant memories are provided below the goal. Use them when they help,
ignore them when they don't, and say so when memory contradicts the goal.`

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.LLMProvider == "" {
		c.LLMProvider = ProviderAnthropic
	}
	if c.MemoryBackend == "" {
		c.MemoryBackend = BackendChromem
	}
	if c.ReasoningDepth <= 0 {
		c.ReasoningDepth = 3
	}
	if len(c.ToolsEnabled) == 0 {
		c.ToolsEnabled = slices.Clone(DefaultTools)
	}
	if c.Options == nil {
		c.Options = make(map[string]string)
	}

	if c.Embedder.Provider == "" {
		c.Embedder.Provider = EmbedderHash
	}
	if c.Embedder.Dimensions <= 0 {
		switch c.Embedder.Provider {
		case EmbedderOpenAI:
			c.Embedder.Dimensions = 1536
		default:
			c.Embedder.Dimensions = 384
		}
	}
	c.Embedder.Guard = guardDefaults(c.Embedder.Guard)

	if c.Completer.MaxTokens <= 0 {
		c.Completer.MaxTokens = 4096
	}
	if c.Completer.System == "" {
		c.Completer.System = DefaultSystemPrompt
	}
	c.Completer.Guard = guardDefaults(c.Completer.Guard)

	c.Memory.ApplyDefaults()

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

func guardDefaults(g provider.GuardConfig) provider.GuardConfig {
	if g == (provider.GuardConfig{}) {
		return provider.DefaultGuardConfig()
	}
	d := provider.DefaultGuardConfig()
	if g.Timeout <= 0 {
		g.Timeout = d.Timeout
	}
	if g.Backoff <= 0 {
		g.Backoff = d.Backoff
	}
	if g.MaxConcurrent <= 0 {
		g.MaxConcurrent = d.MaxConcurrent
	}
	return g
}

// ApplyEnv overrides secrets and the listen address from the environment.
// Explicit configuration wins over OPENAI_API_KEY and ANTHROPIC_API_KEY;
// AGICORE_ADDR always wins.
func (c *Config) ApplyEnv() {
	anthropicKey := os.Getenv(EnvAnthropicKey)
	openaiKey := os.Getenv(EnvOpenAIKey)

	if c.Completer.APIKey == "" {
		switch c.LLMProvider {
		case ProviderAnthropic:
			c.Completer.APIKey = anthropicKey
		case ProviderOpenAI:
			c.Completer.APIKey = openaiKey
		}
	}
	if c.Embedder.APIKey == "" && c.Embedder.Provider == EmbedderOpenAI {
		c.Embedder.APIKey = openaiKey
	}
	if addr := os.Getenv(EnvAddr); addr != "" {
		c.Server.Addr = addr
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case ProviderAnthropic, ProviderOpenAI, ProviderNone:
	case ProviderLocal:
		if c.Completer.BaseURL == "" {
			errs = append(errs, errors.New("completer.base_url is required for the local provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported llm_provider %q", c.LLMProvider))
	}

	switch c.MemoryBackend {
	case BackendChromem, BackendChroma:
	default:
		errs = append(errs, fmt.Errorf("unsupported memory_backend %q", c.MemoryBackend))
	}

	switch c.Embedder.Provider {
	case EmbedderHash:
	case EmbedderOpenAI:
		if c.Embedder.APIKey == "" && c.Embedder.BaseURL == "" {
			errs = append(errs, fmt.Errorf("embedder.api_key or %s is required for the openai embedder", EnvOpenAIKey))
		}
	case EmbedderONNX:
		if c.Embedder.ModelPath == "" || c.Embedder.TokenizerPath == "" {
			errs = append(errs, errors.New("embedder.model_path and embedder.tokenizer_path are required for the onnx embedder"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported embedder.provider %q", c.Embedder.Provider))
	}

	if c.ReasoningDepth <= 0 {
		errs = append(errs, fmt.Errorf("reasoning_depth must be greater than 0, got %d", c.ReasoningDepth))
	}
	if c.Embedder.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("embedder.cache_size must be non-negative, got %d", c.Embedder.CacheSize))
	}
	if err := c.Memory.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	return errors.Join(errs...)
}

// Load reads a YAML file, expands ${VAR} references, applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault loads path, or returns the defaults when path is empty or
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	c := &Config{}
	c.ApplyDefaults()
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Parse decodes YAML configuration data.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}

// YAML renders the configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	if redacted.Embedder.APIKey != "" {
		redacted.Embedder.APIKey = "<redacted>"
	}
	if redacted.Completer.APIKey != "" {
		redacted.Completer.APIKey = "<redacted>"
	}
	return yaml.Marshal(&redacted)
}
