package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/goconvo-mcp/internal/config"
	"github.com/dshills/goconvo-mcp/internal/embedcache"
	"github.com/dshills/goconvo-mcp/internal/embedder"
	"github.com/dshills/goconvo-mcp/internal/indexer"
	"github.com/dshills/goconvo-mcp/internal/llm"
	"github.com/dshills/goconvo-mcp/internal/llmcache"
	"github.com/dshills/goconvo-mcp/internal/searcher"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/internal/trace"
	"github.com/dshills/goconvo-mcp/internal/vectorstore"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "goconvo-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Default summarization models when the config names none
const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
)

// Server wraps the MCP server with the full retrieval stack. The
// conversation source is not held here: it is opened per index run, so a
// missing agent database fails that one tool call instead of startup.
type Server struct {
	mcp *server.MCPServer
	cfg *config.Config

	store    storage.Storage
	provider embedder.Embedder
	embed    *embedcache.Cache
	index    vectorstore.Index
	builder  *vectorstore.Builder
	search   *searcher.Searcher
	indexer  *indexer.Indexer
	tracer   *trace.Tracer
	caller   llm.Caller      // nil without an API key
	llm      *llmcache.Cache // nil without an API key
}

// NewServer wires every component from the effective configuration. The
// archive database and vector collection are opened eagerly so a broken
// configuration fails here, not on the first tool call.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{cfg: cfg}

	dbPath := cfg.DatabasePath()
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	s.store = store

	provider, err := embedder.New(embedder.Config{
		Provider: cfg.Embedding.Provider,
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.Model,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}
	s.provider = provider

	if cfg.Embedding.Dimension > 0 && cfg.Embedding.Dimension != provider.Dimension() {
		_ = s.Close()
		return nil, fmt.Errorf("configured dimension %d does not match %s/%s which produces %d: %w",
			cfg.Embedding.Dimension, provider.Provider(), provider.Model(), provider.Dimension(),
			types.ErrConfiguration)
	}

	if cfg.Trace.Path != "" {
		tracer, err := trace.New(trace.Options{
			Path:         cfg.Trace.Path,
			LogInput:     cfg.Trace.LogInput,
			LogOutput:    cfg.Trace.LogOutput,
			PreviewBytes: cfg.Trace.Truncate,
		})
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		s.tracer = tracer
	}

	embed, err := embedcache.New(provider, store, embedcache.Options{
		MemorySize: cfg.Embedding.CacheSize,
		BatchSize:  cfg.Embedding.BatchSize,
		Tracer:     s.tracer,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initialize embedding cache: %w", err)
	}
	s.embed = embed

	index, err := openIndex(ctx, cfg.Vector, store, provider)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	s.index = index

	builder, err := vectorstore.NewBuilder(index, embed, store)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.builder = builder

	s.search = searcher.New(store, index, embed)
	s.indexer = indexer.NewWithEmbeddings(store, embed)

	if err := s.initLLM(); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.mcp = server.NewMCPServer(ServerName, ServerVersion)
	s.registerTools()

	return s, nil
}

// initLLM builds the response cache when an API key is configured. Without
// one the server still serves every non-summarization tool.
func (s *Server) initLLM() error {
	if s.cfg.LLM.APIKey == "" {
		return nil
	}

	caller, err := llm.New(llm.Config{
		Provider: s.cfg.LLM.Provider,
		APIKey:   s.cfg.LLM.APIKey,
	})
	if err != nil {
		return fmt.Errorf("initialize llm caller: %w", err)
	}
	s.caller = caller

	var cacheStore llmcache.Store
	switch s.cfg.LLMCache.Backend {
	case "redis":
		cacheStore, err = llmcache.NewRedisStore(s.cfg.LLMCache.RedisURL, s.cfg.LLMCache.TTL.Std())
		if err != nil {
			return err
		}
	default:
		cacheStore = s.store
	}

	cache, err := llmcache.New(llmcache.Options{
		Caller:       caller,
		Store:        cacheStore,
		Tracer:       s.tracer,
		HotCostBytes: s.cfg.LLMCache.HotMaxCost,
	})
	if err != nil {
		return err
	}
	s.llm = cache
	return nil
}

// openIndex opens the configured vector backend over the shared collection
// name, using the embedder's model and dimension for registration.
func openIndex(ctx context.Context, cfg config.VectorConfig, store storage.Storage, provider embedder.Embedder) (vectorstore.Index, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return vectorstore.NewSQLiteIndex(ctx, store, cfg.Collection, provider.Model(), provider.Dimension())
	case "chromem":
		var db *chromem.DB
		if cfg.Path == "" {
			db = chromem.NewDB()
		} else {
			var err error
			db, err = chromem.NewPersistentDB(cfg.Path, false)
			if err != nil {
				return nil, fmt.Errorf("open chromem database %s: %w", cfg.Path, err)
			}
		}
		return vectorstore.NewChromemIndex(db, cfg.Collection, provider.Model(), provider.Dimension())
	default:
		return nil, fmt.Errorf("unknown vector backend %q: %w", cfg.Backend, types.ErrConfiguration)
	}
}

// summaryModel resolves the summarization model from config, falling back
// to a small default per provider.
func (s *Server) summaryModel() string {
	if s.cfg.LLM.Model != "" {
		return s.cfg.LLM.Model
	}
	if s.cfg.LLM.Provider == llm.ProviderAnthropic {
		return defaultAnthropicModel
	}
	return defaultOpenAIModel
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.Close() }()
	return server.ServeStdio(s.mcp)
}

// HandleMessage dispatches one raw JSON-RPC message against the tool
// registry and returns the response message. Serve wires this to stdio;
// in-process clients and alternate transports can call it directly.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcp.HandleMessage(ctx, message)
}

// Close releases every component the server owns, in reverse dependency
// order. Safe to call on a partially constructed server.
func (s *Server) Close() error {
	if s.llm != nil {
		_ = s.llm.Close()
	}
	if s.caller != nil {
		_ = s.caller.Close()
	}
	if s.tracer != nil {
		_ = s.tracer.Close()
	}
	if s.index != nil {
		_ = s.index.Close()
	}
	if s.provider != nil {
		_ = s.provider.Close()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexConversationsTool(), s.handleIndexConversations)
	s.mcp.AddTool(buildVectorsTool(), s.handleBuildVectors)
	s.mcp.AddTool(searchConversationsTool(), s.handleSearchConversations)
	s.mcp.AddTool(vectorSearchTool(), s.handleVectorSearch)
	s.mcp.AddTool(listComposersTool(), s.handleListComposers)
	s.mcp.AddTool(showConversationTool(), s.handleShowConversation)
	s.mcp.AddTool(summarizeConversationTool(), s.handleSummarizeConversation)
	s.mcp.AddTool(indexStatsTool(), s.handleIndexStats)
	s.mcp.AddTool(sampleEntriesTool(), s.handleSampleEntries)
	s.mcp.AddTool(cacheStatsTool(), s.handleCacheStats)
	s.mcp.AddTool(clearCachesTool(), s.handleClearCaches)
	s.mcp.AddTool(usageSummaryTool(), s.handleUsageSummary)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
