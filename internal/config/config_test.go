package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/conclave/coordinator"
)

const yamlConfig = `
coordination:
  strategy: hierarchical
  timeout: 45s
  per_call_timeout: 10s
  quorum: 0.6
  max_calls: 12
  manager: boss
logging:
  level: debug
  format: json
memory:
  backend: sqlite
  path: ${CONCLAVE_TEST_DIR}/mem.db
agents:
  - id: boss
    provider: mock
    answer: done
  - id: worker
    provider: openai
    model: gpt-4o-mini
    tags: [expert]
    temperature: 0.2
`

const tomlConfig = `
[coordination]
strategy = "debate"
timeout = "1m"
similarity_threshold = 0.9

[similarity]
kind = "none"

[[agents]]
id = "a"
provider = "mock"
tags = ["expert"]
answer = "yes"

[[agents]]
id = "remote"
provider = "nats"
subject = "team.remote"
tags = ["expert"]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{
		EnvConfigPath, "CONCLAVE_STRATEGY", "CONCLAVE_TIMEOUT", "CONCLAVE_MAX_CALLS",
		"CONCLAVE_LOG_LEVEL", "CONCLAVE_LOG_FORMAT", "CONCLAVE_MEMORY_BACKEND",
		"CONCLAVE_MEMORY_PATH", "CONCLAVE_NATS_URL", "CONCLAVE_NATS_PORT",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONCLAVE_TEST_DIR", "/tmp/conclave")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(writeFile(t, "conclave.yaml", yamlConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "hierarchical", cfg.Coordination.Strategy)
	assert.Equal(t, 45*time.Second, cfg.Coordination.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Coordination.PerCallTimeout)
	assert.Equal(t, 12, cfg.Coordination.MaxCalls)
	assert.Equal(t, "/tmp/conclave/mem.db", cfg.Memory.Path)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Untouched sections keep their defaults.
	assert.Equal(t, 0.85, cfg.Coordination.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Memory.Limit)

	require.Len(t, cfg.Agents, 2)
	worker, ok := cfg.Agent("worker")
	require.True(t, ok)
	assert.Equal(t, "sk-test", worker.APIKey)
	require.NotNil(t, worker.Temperature)
	assert.InDelta(t, 0.2, *worker.Temperature, 1e-9)
	assert.Equal(t, []string{"expert"}, worker.Tags)

	boss, _ := cfg.Agent("boss")
	assert.Empty(t, boss.APIKey)
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeFile(t, "conclave.toml", tomlConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Minute, cfg.Coordination.Timeout)
	assert.Equal(t, 0.9, cfg.Coordination.SimilarityThreshold)
	assert.Equal(t, SimilarityNone, cfg.Similarity.Kind)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "team.remote", cfg.Agents[1].Subject)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONCLAVE_STRATEGY", "sequential")
	t.Setenv("CONCLAVE_TIMEOUT", "5s")
	t.Setenv("CONCLAVE_NATS_URL", "nats://example:4222")

	cfg, err := Load(writeFile(t, "c.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "sequential", cfg.Coordination.Strategy)
	assert.Equal(t, 5*time.Second, cfg.Coordination.Timeout)
	assert.Equal(t, "nats://example:4222", cfg.NATS.URL)
}

func TestLoad_MissingFiles(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)
	assert.ErrorIs(t, cfg.Validate(), ErrNoAgents)
}

func TestLoad_EnvPath(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "from-env.toml", tomlConfig)
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
}

func TestLoad_ParseError(t *testing.T) {
	clearEnv(t)

	_, err := Load(writeFile(t, "bad.yaml", "agents: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "[coordination\n"))
	assert.Error(t, err)
}

func validConfig() *Config {
	cfg := Default()
	cfg.Agents = []AgentConfig{
		{ID: "a", Provider: ProviderMock, Tags: []string{"expert"}},
		{ID: "b", Provider: ProviderAnthropic, APIKey: "k"},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := map[string]func(c *Config){
		"strategy":           func(c *Config) { c.Coordination.Strategy = "round-robin" },
		"quorum":             func(c *Config) { c.Coordination.Quorum = 2 },
		"template":           func(c *Config) { c.Coordination.ConflictTemplate = "{candidates} only" },
		"log level":          func(c *Config) { c.Logging.Level = "loud" },
		"log format":         func(c *Config) { c.Logging.Format = "xml" },
		"memory backend":     func(c *Config) { c.Memory.Backend = "redis" },
		"memory path": func(c *Config) {
			c.Memory.Backend = MemorySQLite
			c.Memory.Path = ""
		},
		"similarity kind":    func(c *Config) { c.Similarity.Kind = "magic" },
		"embedding key":      func(c *Config) { c.Similarity.Kind = SimilarityEmbedding },
		"missing id":         func(c *Config) { c.Agents[0].ID = "" },
		"duplicate id":       func(c *Config) { c.Agents[1].ID = "a" },
		"provider":           func(c *Config) { c.Agents[0].Provider = "llama" },
		"missing key":        func(c *Config) { c.Agents[1].APIKey = "" },
		"rate limit":         func(c *Config) { c.Agents[0].RateLimit = -1 },
		"unknown manager":    func(c *Config) { c.Coordination.Manager = "ghost" },
		"unknown tiebreaker": func(c *Config) { c.Coordination.TieBreaker = "ghost" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCoordinatorConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Coordination.MaxConcurrency = 3
	cfg.Coordination.ChainTemplate = ""

	cc := cfg.CoordinatorConfig()
	assert.Equal(t, 3, cc.MaxConcurrency)
	assert.Equal(t, coordinator.DefaultConfig.ChainTemplate, cc.ChainTemplate)
	assert.Equal(t, coordinator.DefaultConfig.ExpertTag, cc.ExpertTag)
	assert.NoError(t, cc.Validate())
}

func TestCompare(t *testing.T) {
	old := validConfig()
	next := validConfig()
	next.Agents[0].Answer = "changed"
	next.Agents = append(next.Agents[:1], AgentConfig{ID: "c", Provider: ProviderMock})
	next.Coordination.Quorum = 0.7
	next.Logging.Level = "debug"

	d := Compare(old, next)
	assert.True(t, d.HasChanges())
	assert.Equal(t, []string{"c"}, d.AgentsAdded)
	assert.Equal(t, []string{"b"}, d.AgentsRemoved)
	assert.Equal(t, []string{"a"}, d.AgentsChanged)
	assert.True(t, d.CoordinationChanged)
	assert.False(t, d.SimilarityChanged)
	assert.Equal(t, []string{"logging"}, d.NonReloadable)

	same := Compare(old, validConfig())
	assert.False(t, same.HasChanges())
	assert.Empty(t, same.NonReloadable)
}

func TestWatch_ReloadsValidChanges(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "conclave.toml", tomlConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is skipped.
	require.NoError(t, os.WriteFile(path, []byte("[coordination]\nstrategy = \"nope\"\n"), 0o600))
	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, changes)

	updated := tomlConfig + "\n[[agents]]\nid = \"late\"\nprovider = \"mock\"\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-changes:
		assert.Len(t, cfg.Agents, 3)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}
