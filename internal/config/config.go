package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// Collection names become table qualifiers and document-store ids, so
// they are restricted to word characters
var collectionRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Duration wraps time.Duration so YAML values like "30m" or "90s" parse
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full process configuration. Components receive their
// section; nothing below the cmd layer reads the environment.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Source    SourceConfig    `yaml:"source"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
	LLMCache  LLMCacheConfig  `yaml:"llmcache"`
	Trace     TraceConfig     `yaml:"trace"`
}

// DatabaseConfig locates the index database
type DatabaseConfig struct {
	// Path to the SQLite file. Empty resolves to ~/.goconvo/goconvo.db.
	Path string `yaml:"path"`
}

// SourceConfig selects the conversation source backend
type SourceConfig struct {
	// Agent is the source backend name. Only "cursor" is supported.
	Agent string `yaml:"agent"`

	// DBPath overrides the agent state database location. Empty uses
	// the per-OS default.
	DBPath string `yaml:"db_path"`
}

// IndexConfig shapes index builds
type IndexConfig struct {
	// Scope is the entry granularity, "pair" or "turn"
	Scope string `yaml:"scope"`

	// MaxComposers caps how many composers one build processes, in
	// discovery order. Zero means all.
	MaxComposers int `yaml:"max_composers"`

	// MaxTurnsPerComposer keeps only the earliest N entries per
	// composer. Zero means all.
	MaxTurnsPerComposer int `yaml:"max_turns_per_composer"`

	// Workers bounds concurrent composer processing. Zero means the
	// indexer default.
	Workers int `yaml:"workers"`

	// EmbedInline warms the embedding cache during index builds
	EmbedInline bool `yaml:"embed_inline"`
}

// EmbeddingConfig selects and sizes the embedding provider
type EmbeddingConfig struct {
	// Provider is "local", "openai", or "jina"
	Provider string `yaml:"provider"`

	// Model overrides the provider default model when non-empty
	Model string `yaml:"model"`

	// APIKey authenticates remote providers. The standard provider
	// variables (OPENAI_API_KEY, JINA_API_KEY) fill this when empty.
	APIKey string `yaml:"api_key"`

	// Dimension overrides the provider-reported dimension when positive
	Dimension int `yaml:"dimension"`

	// BatchSize is texts per provider call. Zero means the cache default.
	BatchSize int `yaml:"batch_size"`

	// CacheSize is entries in the in-memory cache tier. Zero means the
	// cache default.
	CacheSize int `yaml:"cache_size"`
}

// VectorConfig selects the vector index backend
type VectorConfig struct {
	// Backend is "sqlite" or "chromem"
	Backend string `yaml:"backend"`

	// Collection is the namespace vectors live under
	Collection string `yaml:"collection"`

	// Path persists the chromem backend when non-empty; ignored by sqlite
	Path string `yaml:"path"`
}

// SearchConfig sets retrieval defaults applied when a request leaves
// them unset
type SearchConfig struct {
	K            int      `yaml:"k"`
	SparseWeight float64  `yaml:"sparse_weight"`
	DenseWeight  float64  `yaml:"dense_weight"`
	CacheTTL     Duration `yaml:"cache_ttl"`
}

// LLMConfig selects the summarization provider
type LLMConfig struct {
	// Provider is "openai" or "anthropic"
	Provider string `yaml:"provider"`

	// Model overrides the caller default when non-empty
	Model string `yaml:"model"`

	// APIKey authenticates the provider. The standard provider
	// variables fill this when empty.
	APIKey string `yaml:"api_key"`

	// MaxTokens caps completion length. Zero means the caller default.
	MaxTokens int `yaml:"max_tokens"`
}

// LLMCacheConfig selects the response cache backing store
type LLMCacheConfig struct {
	// Backend is "sqlite" or "redis"
	Backend string `yaml:"backend"`

	// RedisURL connects the redis backend, e.g. redis://localhost:6379/0
	RedisURL string `yaml:"redis_url"`

	// TTL expires redis entries. Zero keeps them indefinitely.
	TTL Duration `yaml:"ttl"`

	// HotMaxCost is the in-memory tier budget in bytes. Zero means the
	// cache default.
	HotMaxCost int64 `yaml:"hot_max_cost"`
}

// TraceConfig controls the JSONL usage trace
type TraceConfig struct {
	// Path is the trace file. Empty disables tracing.
	Path string `yaml:"path"`

	// LogInput and LogOutput gate request/response previews
	LogInput  bool `yaml:"log_input"`
	LogOutput bool `yaml:"log_output"`

	// Truncate is the preview byte budget. Zero means the trace default.
	Truncate int `yaml:"truncate"`
}

// Default returns the configuration used when file and environment say
// nothing
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Agent: "cursor",
		},
		Index: IndexConfig{
			Scope:   "pair",
			Workers: 4,
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			BatchSize: 16,
			CacheSize: 10000,
		},
		Vector: VectorConfig{
			Backend:    "sqlite",
			Collection: "conversations",
		},
		Search: SearchConfig{
			K:            10,
			SparseWeight: 0.5,
			DenseWeight:  0.5,
			CacheTTL:     Duration(time.Hour),
		},
		LLM: LLMConfig{
			Provider:  "openai",
			MaxTokens: 1024,
		},
		LLMCache: LLMCacheConfig{
			Backend: "sqlite",
		},
		Trace: TraceConfig{
			Truncate: 2000,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path when path is non-empty, then environment overrides, then
// validation. A path that cannot be read or parsed is a configuration
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %v: %w", path, err, types.ErrConfiguration)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %v: %w", path, err, types.ErrConfiguration)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment overrides onto the config. GOCONVO_*
// variables override file values; the standard provider key variables
// only fill API keys still empty, so an explicit file or GOCONVO key
// wins.
func (c *Config) applyEnv() {
	setIfPresent := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setIfPresent(&c.Database.Path, "GOCONVO_DB_PATH")
	setIfPresent(&c.Source.Agent, "GOCONVO_AGENT")
	setIfPresent(&c.Source.DBPath, "CURSOR_STATE_DB")
	setIfPresent(&c.Index.Scope, "GOCONVO_SCOPE")
	setIfPresent(&c.Embedding.Provider, "GOCONVO_EMBEDDING_PROVIDER")
	setIfPresent(&c.Embedding.Model, "GOCONVO_EMBEDDING_MODEL")
	setIfPresent(&c.Embedding.APIKey, "GOCONVO_EMBEDDING_API_KEY")
	setIfPresent(&c.Vector.Backend, "GOCONVO_VECTOR_BACKEND")
	setIfPresent(&c.Vector.Collection, "GOCONVO_VECTOR_COLLECTION")
	setIfPresent(&c.LLM.Provider, "GOCONVO_LLM_PROVIDER")
	setIfPresent(&c.LLM.Model, "GOCONVO_LLM_MODEL")
	setIfPresent(&c.LLM.APIKey, "GOCONVO_LLM_API_KEY")
	setIfPresent(&c.LLMCache.RedisURL, "GOCONVO_REDIS_URL")
	setIfPresent(&c.Trace.Path, "GOCONVO_TRACE_PATH")

	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case "openai":
			c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		case "jina":
			c.Embedding.APIKey = os.Getenv("JINA_API_KEY")
		}
	}
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}

// Validate rejects values no component could accept. Components repeat
// the checks that guard their own invariants; this pass exists so a bad
// config fails at startup, not mid-build.
func (c *Config) Validate() error {
	if c.Source.Agent != "cursor" {
		return fmt.Errorf("unsupported source agent %q: %w", c.Source.Agent, types.ErrConfiguration)
	}
	if c.Index.Scope != "pair" && c.Index.Scope != "turn" {
		return fmt.Errorf("index scope must be pair or turn, got %q: %w", c.Index.Scope, types.ErrConfiguration)
	}
	if c.Index.MaxComposers < 0 || c.Index.MaxTurnsPerComposer < 0 || c.Index.Workers < 0 {
		return fmt.Errorf("index limits must be >= 0: %w", types.ErrConfiguration)
	}

	switch c.Embedding.Provider {
	case "local", "openai", "jina":
	default:
		return fmt.Errorf("unsupported embedding provider %q: %w", c.Embedding.Provider, types.ErrConfiguration)
	}
	if c.Embedding.Dimension < 0 || c.Embedding.BatchSize < 0 || c.Embedding.CacheSize < 0 {
		return fmt.Errorf("embedding sizes must be >= 0: %w", types.ErrConfiguration)
	}

	switch c.Vector.Backend {
	case "sqlite", "chromem":
	default:
		return fmt.Errorf("unsupported vector backend %q: %w", c.Vector.Backend, types.ErrConfiguration)
	}
	if !collectionRe.MatchString(c.Vector.Collection) {
		return fmt.Errorf("vector collection %q must match [A-Za-z0-9_]+: %w", c.Vector.Collection, types.ErrConfiguration)
	}

	if c.Search.K < 0 {
		return fmt.Errorf("search k must be >= 0: %w", types.ErrConfiguration)
	}
	if c.Search.SparseWeight < 0 || c.Search.DenseWeight < 0 {
		return fmt.Errorf("search weights must be >= 0: %w", types.ErrConfiguration)
	}
	if c.Search.SparseWeight == 0 && c.Search.DenseWeight == 0 {
		return fmt.Errorf("search weights cannot both be zero: %w", types.ErrConfiguration)
	}
	if c.Search.CacheTTL < 0 {
		return fmt.Errorf("search cache ttl must be >= 0: %w", types.ErrConfiguration)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider %q: %w", c.LLM.Provider, types.ErrConfiguration)
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm max_tokens must be >= 0: %w", types.ErrConfiguration)
	}

	switch c.LLMCache.Backend {
	case "sqlite":
	case "redis":
		if c.LLMCache.RedisURL == "" {
			return fmt.Errorf("redis llmcache backend needs redis_url: %w", types.ErrConfiguration)
		}
	default:
		return fmt.Errorf("unsupported llmcache backend %q: %w", c.LLMCache.Backend, types.ErrConfiguration)
	}

	if c.Trace.Truncate < 0 {
		return fmt.Errorf("trace truncate must be >= 0: %w", types.ErrConfiguration)
	}
	return nil
}

// DatabasePath returns the configured index database location, resolving
// the default under the user home directory
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(dataDir(), "goconvo.db")
}

// DefaultConfigPath is where Load looks when no path is given on the
// command line
func DefaultConfigPath() string {
	return filepath.Join(dataDir(), "config.yaml")
}

// dataDir is ~/.goconvo, falling back to the working directory when the
// home directory cannot be resolved
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".goconvo"
	}
	return filepath.Join(home, ".goconvo")
}
