package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/conclave/coordinator"
	"github.com/hupe1980/conclave/logging"
)

// EnvConfigPath names the variable that overrides the default config path.
const EnvConfigPath = "CONCLAVE_CONFIG"

// DefaultPath is used when neither a flag nor EnvConfigPath names a file.
const DefaultPath = "conclave.yaml"

// Provider names accepted in agents[].provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNATS      = "nats"
	ProviderMock      = "mock"
)

// Memory backends.
const (
	MemoryNone     = "none"
	MemoryInMemory = "inmemory"
	MemorySQLite   = "sqlite"
	MemorySnapshot = "snapshot"
)

// Similarity kinds.
const (
	SimilarityNone      = "none"
	SimilarityLexical   = "lexical"
	SimilarityEmbedding = "embedding"
)

// ErrNoAgents is returned by Validate for a config without agents.
var ErrNoAgents = errors.New("no agents configured")

type Config struct {
	Coordination CoordinationConfig `yaml:"coordination" toml:"coordination"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Memory       MemoryConfig       `yaml:"memory" toml:"memory"`
	Similarity   SimilarityConfig   `yaml:"similarity" toml:"similarity"`
	NATS         NATSConfig         `yaml:"nats" toml:"nats"`
	Agents       []AgentConfig      `yaml:"agents" toml:"agents"`

	// Path is the file the config was loaded from ("" for defaults only).
	Path string `yaml:"-" toml:"-"`
}

type CoordinationConfig struct {
	Strategy            string        `yaml:"strategy" toml:"strategy"`
	Timeout             time.Duration `yaml:"timeout" toml:"timeout"`
	PerCallTimeout      time.Duration `yaml:"per_call_timeout" toml:"per_call_timeout"`
	Quorum              float64       `yaml:"quorum" toml:"quorum"`
	SimilarityThreshold float64       `yaml:"similarity_threshold" toml:"similarity_threshold"`
	MaxCalls            int           `yaml:"max_calls" toml:"max_calls"`
	MaxConcurrency      int           `yaml:"max_concurrency" toml:"max_concurrency"`
	ChainTemplate       string        `yaml:"chain_template" toml:"chain_template"`
	SynthesisTemplate   string        `yaml:"synthesis_template" toml:"synthesis_template"`
	ConflictTemplate    string        `yaml:"conflict_template" toml:"conflict_template"`
	// Manager and TieBreaker pin roles to agent ids instead of tags.
	Manager    string `yaml:"manager" toml:"manager"`
	TieBreaker string `yaml:"tie_breaker" toml:"tie_breaker"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level"`
	Format    string `yaml:"format" toml:"format"`
	AddSource bool   `yaml:"add_source" toml:"add_source"`
}

type MemoryConfig struct {
	Backend  string `yaml:"backend" toml:"backend"`
	Path     string `yaml:"path" toml:"path"`
	MaxItems int    `yaml:"max_items" toml:"max_items"`
	// Limit is the number of relevant items agents receive as context.
	Limit int `yaml:"limit" toml:"limit"`
}

type SimilarityConfig struct {
	Kind      string `yaml:"kind" toml:"kind"`
	Model     string `yaml:"model" toml:"model"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	CacheSize int    `yaml:"cache_size" toml:"cache_size"`
}

type NATSConfig struct {
	// URL of an external server. Empty means an embedded server for serve.
	URL     string        `yaml:"url" toml:"url"`
	Host    string        `yaml:"host" toml:"host"`
	Port    int           `yaml:"port" toml:"port"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

type AgentConfig struct {
	ID            string   `yaml:"id" toml:"id"`
	Provider      string   `yaml:"provider" toml:"provider"`
	Model         string   `yaml:"model" toml:"model"`
	Description   string   `yaml:"description" toml:"description"`
	Tags          []string `yaml:"tags" toml:"tags"`
	Instruction   string   `yaml:"instruction" toml:"instruction"`
	Temperature   *float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens     int      `yaml:"max_tokens" toml:"max_tokens"`
	MaxToolRounds int      `yaml:"max_tool_rounds" toml:"max_tool_rounds"`
	APIKey        string   `yaml:"api_key" toml:"api_key"`
	BaseURL       string   `yaml:"base_url" toml:"base_url"`
	// RateLimit caps calls per second to this agent (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	Burst     int     `yaml:"burst" toml:"burst"`
	// Subject overrides the NATS subject of a nats agent.
	Subject string `yaml:"subject" toml:"subject"`
	// Answer is the canned reply of a mock agent.
	Answer string `yaml:"answer" toml:"answer"`
}

func defaults() Config {
	d := coordinator.DefaultConfig
	return Config{
		Coordination: CoordinationConfig{
			Strategy:            string(coordinator.StrategyDebate),
			Timeout:             d.Timeout,
			Quorum:              d.Quorum,
			SimilarityThreshold: d.SimilarityThreshold,
			ChainTemplate:       d.ChainTemplate,
			SynthesisTemplate:   d.SynthesisTemplate,
			ConflictTemplate:    d.ConflictTemplate,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Memory: MemoryConfig{
			Backend:  MemoryNone,
			Path:     "data/conclave.db",
			MaxItems: 100,
			Limit:    5,
		},
		Similarity: SimilarityConfig{
			Kind:      SimilarityLexical,
			Model:     "text-embedding-3-small",
			CacheSize: 1024,
		},
		NATS: NATSConfig{
			Host:    "127.0.0.1",
			Port:    4222,
			Timeout: 30 * time.Second,
		},
	}
}

// Default returns the built-in configuration without agents.
func Default() *Config {
	cfg := defaults()
	return &cfg
}

// Load reads the config at path (or $CONCLAVE_CONFIG, or DefaultPath).
// A missing default file yields the defaults; a missing explicit file is an
// error. ${VAR} references are expanded before decoding, files ending in
// .toml are decoded as TOML and everything else as YAML. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := defaults()

	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, os.ExpandEnv(string(data)), &cfg); err != nil {
			return nil, err
		}
		cfg.Path = filepath.Clean(path)
	case os.IsNotExist(err) && !explicit:
		// No config file, defaults + env.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func decode(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}

	if err := yaml.Unmarshal([]byte(data), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONCLAVE_STRATEGY"); v != "" {
		cfg.Coordination.Strategy = v
	}
	if v := os.Getenv("CONCLAVE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Coordination.Timeout = d
		}
	}
	if v := os.Getenv("CONCLAVE_MAX_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Coordination.MaxCalls = n
		}
	}
	if v := os.Getenv("CONCLAVE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CONCLAVE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CONCLAVE_MEMORY_BACKEND"); v != "" {
		cfg.Memory.Backend = v
	}
	if v := os.Getenv("CONCLAVE_MEMORY_PATH"); v != "" {
		cfg.Memory.Path = v
	}
	if v := os.Getenv("CONCLAVE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CONCLAVE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}

	// Provider keys fill agents that do not carry their own.
	keys := map[string]string{
		ProviderAnthropic: os.Getenv("ANTHROPIC_API_KEY"),
		ProviderOpenAI:    os.Getenv("OPENAI_API_KEY"),
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].APIKey == "" {
			cfg.Agents[i].APIKey = keys[cfg.Agents[i].Provider]
		}
	}
	if cfg.Similarity.APIKey == "" {
		cfg.Similarity.APIKey = keys[ProviderOpenAI]
	}
}

// Validate checks the whole config, including the coordinator settings it
// maps to.
func (c *Config) Validate() error {
	if _, err := coordinator.ParseStrategy(c.Coordination.Strategy); err != nil {
		return err
	}
	if err := c.CoordinatorConfig().Validate(); err != nil {
		return fmt.Errorf("coordination: %w", err)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}

	switch c.Memory.Backend {
	case MemoryNone, MemoryInMemory:
	case MemorySQLite, MemorySnapshot:
		if c.Memory.Path == "" {
			return fmt.Errorf("memory: backend %s needs a path", c.Memory.Backend)
		}
	default:
		return fmt.Errorf("memory: unknown backend %q", c.Memory.Backend)
	}

	switch c.Similarity.Kind {
	case SimilarityNone, SimilarityLexical:
	case SimilarityEmbedding:
		if c.Similarity.APIKey == "" {
			return fmt.Errorf("similarity: embedding needs an api key")
		}
	default:
		return fmt.Errorf("similarity: unknown kind %q", c.Similarity.Kind)
	}

	if len(c.Agents) == 0 {
		return ErrNoAgents
	}

	seen := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: missing id", i)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = struct{}{}

		switch a.Provider {
		case ProviderAnthropic, ProviderOpenAI:
			if a.APIKey == "" {
				return fmt.Errorf("agent %s: missing api key for provider %s", a.ID, a.Provider)
			}
		case ProviderNATS, ProviderMock:
		default:
			return fmt.Errorf("agent %s: unknown provider %q", a.ID, a.Provider)
		}
		if a.RateLimit < 0 || a.Burst < 0 {
			return fmt.Errorf("agent %s: rate_limit and burst must not be negative", a.ID)
		}
	}

	for _, role := range []struct{ name, id string }{
		{"manager", c.Coordination.Manager},
		{"tie_breaker", c.Coordination.TieBreaker},
	} {
		if role.id == "" {
			continue
		}
		if _, ok := seen[role.id]; !ok {
			return fmt.Errorf("coordination: %s %q is not a configured agent", role.name, role.id)
		}
	}

	return nil
}

// CoordinatorConfig maps the coordination section onto coordinator.Config.
func (c *Config) CoordinatorConfig() coordinator.Config {
	cc := coordinator.DefaultConfig
	co := c.Coordination

	cc.Timeout = co.Timeout
	cc.PerCallTimeout = co.PerCallTimeout
	cc.Quorum = co.Quorum
	cc.SimilarityThreshold = co.SimilarityThreshold
	cc.MaxCalls = co.MaxCalls
	cc.MaxConcurrency = co.MaxConcurrency
	if co.ChainTemplate != "" {
		cc.ChainTemplate = co.ChainTemplate
	}
	if co.SynthesisTemplate != "" {
		cc.SynthesisTemplate = co.SynthesisTemplate
	}
	if co.ConflictTemplate != "" {
		cc.ConflictTemplate = co.ConflictTemplate
	}

	return cc
}

// Agent returns the agent with the given id.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}
