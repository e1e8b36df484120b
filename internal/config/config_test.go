package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// clearEnv blanks every variable the loader reads so tests see a
// deterministic environment
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOCONVO_DB_PATH", "GOCONVO_AGENT", "CURSOR_STATE_DB", "GOCONVO_SCOPE",
		"GOCONVO_EMBEDDING_PROVIDER", "GOCONVO_EMBEDDING_MODEL", "GOCONVO_EMBEDDING_API_KEY",
		"GOCONVO_VECTOR_BACKEND", "GOCONVO_VECTOR_COLLECTION",
		"GOCONVO_LLM_PROVIDER", "GOCONVO_LLM_MODEL", "GOCONVO_LLM_API_KEY",
		"GOCONVO_REDIS_URL", "GOCONVO_TRACE_PATH",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "JINA_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

// writeConfig drops a YAML file into a temp dir and returns its path
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestDefault verifies the documented defaults validate cleanly
func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "cursor", cfg.Source.Agent)
	assert.Equal(t, "pair", cfg.Index.Scope)
	assert.Equal(t, 4, cfg.Index.Workers)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, "sqlite", cfg.Vector.Backend)
	assert.Equal(t, "conversations", cfg.Vector.Collection)
	assert.Equal(t, 10, cfg.Search.K)
	assert.Equal(t, 0.5, cfg.Search.SparseWeight)
	assert.Equal(t, 0.5, cfg.Search.DenseWeight)
	assert.Equal(t, time.Hour, cfg.Search.CacheTTL.Std())
	assert.Equal(t, "sqlite", cfg.LLMCache.Backend)
	assert.Equal(t, 2000, cfg.Trace.Truncate)
	assert.Empty(t, cfg.Trace.Path, "tracing is off by default")
}

// TestLoad_EmptyPathUsesDefaults tests loading with no file at all
func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestLoad_YAMLFile tests that file values land in the right sections
// while untouched fields keep their defaults
func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database:
  path: /tmp/custom.db
index:
  scope: turn
  max_turns_per_composer: 50
  workers: 8
embedding:
  provider: openai
  model: text-embedding-3-small
  api_key: file-key
search:
  k: 25
  sparse_weight: 0.7
  dense_weight: 0.3
  cache_ttl: 30m
llmcache:
  backend: redis
  redis_url: redis://localhost:6379/2
  ttl: 24h
trace:
  path: /tmp/trace.jsonl
  log_input: true
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	assert.Equal(t, "turn", cfg.Index.Scope)
	assert.Equal(t, 50, cfg.Index.MaxTurnsPerComposer)
	assert.Equal(t, 8, cfg.Index.Workers)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, "file-key", cfg.Embedding.APIKey)
	assert.Equal(t, 25, cfg.Search.K)
	assert.Equal(t, 0.7, cfg.Search.SparseWeight)
	assert.Equal(t, 30*time.Minute, cfg.Search.CacheTTL.Std())
	assert.Equal(t, "redis", cfg.LLMCache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.LLMCache.TTL.Std())
	assert.True(t, cfg.Trace.LogInput)

	// Untouched sections keep defaults
	assert.Equal(t, "cursor", cfg.Source.Agent)
	assert.Equal(t, "conversations", cfg.Vector.Collection)
}

// TestLoad_MissingExplicitFile tests that a named but absent file is a
// configuration error
func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.ErrorIs(t, err, types.ErrConfiguration)
}

// TestLoad_InvalidYAML tests parse failures
func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "search: [this is: not a mapping")

	_, err := Load(path)

	assert.ErrorIs(t, err, types.ErrConfiguration)
}

// TestLoad_InvalidDuration tests that a malformed duration string fails
// at parse time
func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "search:\n  cache_ttl: soon\n")

	_, err := Load(path)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Contains(t, err.Error(), "invalid duration")
}

// TestLoad_EnvOverridesFile tests that GOCONVO_* variables win over the
// file
func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database:
  path: /tmp/from-file.db
embedding:
  provider: jina
`)
	t.Setenv("GOCONVO_DB_PATH", "/tmp/from-env.db")
	t.Setenv("GOCONVO_EMBEDDING_PROVIDER", "local")
	t.Setenv("CURSOR_STATE_DB", "/tmp/state.vscdb")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.Database.Path)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, "/tmp/state.vscdb", cfg.Source.DBPath)
}

// TestLoad_ProviderKeyFallback tests that standard provider variables
// fill empty API keys only
func TestLoad_ProviderKeyFallback(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
embedding:
  provider: openai
llm:
  provider: anthropic
`)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-anthropic")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.Embedding.APIKey)
	assert.Equal(t, "sk-anthropic", cfg.LLM.APIKey)
}

// TestLoad_ExplicitKeyBeatsFallback tests precedence between an
// explicit key and the standard provider variable
func TestLoad_ExplicitKeyBeatsFallback(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
embedding:
  provider: openai
  api_key: from-file
`)
	t.Setenv("OPENAI_API_KEY", "from-env")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Embedding.APIKey)
}

// TestValidate rejects values no component could accept
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "UnknownAgent", mutate: func(c *Config) { c.Source.Agent = "copilot" }},
		{name: "UnknownScope", mutate: func(c *Config) { c.Index.Scope = "paragraph" }},
		{name: "NegativeMaxComposers", mutate: func(c *Config) { c.Index.MaxComposers = -1 }},
		{name: "UnknownEmbeddingProvider", mutate: func(c *Config) { c.Embedding.Provider = "cohere" }},
		{name: "NegativeBatchSize", mutate: func(c *Config) { c.Embedding.BatchSize = -4 }},
		{name: "UnknownVectorBackend", mutate: func(c *Config) { c.Vector.Backend = "faiss" }},
		{name: "BadCollectionName", mutate: func(c *Config) { c.Vector.Collection = "conv-2024!" }},
		{name: "EmptyCollectionName", mutate: func(c *Config) { c.Vector.Collection = "" }},
		{name: "NegativeK", mutate: func(c *Config) { c.Search.K = -5 }},
		{name: "NegativeWeight", mutate: func(c *Config) { c.Search.DenseWeight = -0.1 }},
		{name: "AllZeroWeights", mutate: func(c *Config) { c.Search.SparseWeight = 0; c.Search.DenseWeight = 0 }},
		{name: "UnknownLLMProvider", mutate: func(c *Config) { c.LLM.Provider = "mistral" }},
		{name: "UnknownLLMCacheBackend", mutate: func(c *Config) { c.LLMCache.Backend = "memcached" }},
		{name: "RedisWithoutURL", mutate: func(c *Config) { c.LLMCache.Backend = "redis" }},
		{name: "NegativeTruncate", mutate: func(c *Config) { c.Trace.Truncate = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), types.ErrConfiguration)
		})
	}
}

// TestValidate_OneSidedWeightsAllowed tests that sparse-only and
// dense-only configurations pass
func TestValidate_OneSidedWeightsAllowed(t *testing.T) {
	cfg := Default()
	cfg.Search.SparseWeight = 1
	cfg.Search.DenseWeight = 0
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Search.SparseWeight = 0
	cfg.Search.DenseWeight = 1
	assert.NoError(t, cfg.Validate())
}

// TestDatabasePath tests default resolution
func TestDatabasePath(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.DatabasePath(), "goconvo.db")

	cfg.Database.Path = "/data/index.db"
	assert.Equal(t, "/data/index.db", cfg.DatabasePath())
}
