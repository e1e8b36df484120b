package mcp

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleIndexStats handles the index_stats tool invocation
func (s *Server) handleIndexStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArgs(request)
	topN := getIntDefault(args, "top_composers", 10)
	if topN < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_composers must be non-negative", map[string]interface{}{
			"param": "top_composers",
			"value": topN,
		})
	}

	stats, err := computeIndexStats(ctx, s.store, topN)
	if err != nil {
		return nil, toolError("index stats", err)
	}
	response := map[string]interface{}{
		"index": stats,
	}

	if getBoolDefault(args, "include_source", false) {
		src, err := s.openSource()
		if err != nil {
			return nil, err
		}
		defer func() { _ = src.Close() }()

		srcStats, err := computeSourceStats(ctx, src)
		if err != nil {
			return nil, toolError("source stats", err)
		}
		response["source"] = srcStats
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSampleEntries handles the sample_entries tool invocation
func (s *Server) handleSampleEntries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArgs(request)
	n := getIntDefault(args, "n", 5)
	if n < 1 || n > 50 {
		return nil, newMCPError(ErrorCodeInvalidParams, "n must be between 1 and 50", map[string]interface{}{
			"param": "n",
			"value": n,
		})
	}

	entries, err := s.store.ListAllEntries(ctx)
	if err != nil {
		return nil, toolError("sample entries", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sample := sampleEntries(entries, n, rng)

	rows := make([]map[string]interface{}, 0, len(sample))
	for _, entry := range sample {
		rows = append(rows, map[string]interface{}{
			"entry_key":      entry.Key(),
			"composer_id":    entry.ComposerID,
			"turn_index":     entry.TurnIndex,
			"scope":          entry.Scope,
			"user_head":      entry.UserHead,
			"assistant_head": entry.AssistantHead,
			"annotations":    entry.Annotations,
		})
	}

	response := map[string]interface{}{
		"entries": rows,
		"sampled": len(rows),
		"total":   len(entries),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCacheStats handles the cache_stats tool invocation
func (s *Server) handleCacheStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	embedStats := s.embed.Stats()
	persistentRows, err := s.embed.PersistentCount(ctx)
	if err != nil {
		return nil, toolError("cache stats", err)
	}

	response := map[string]interface{}{
		"embedding": map[string]interface{}{
			"model":           s.embed.Model(),
			"dimension":       s.embed.Dimension(),
			"hits":            embedStats.Hits,
			"misses":          embedStats.Misses,
			"stores":          embedStats.Stores,
			"corruptions":     embedStats.Corruptions,
			"memory_entries":  embedStats.MemoryEntries,
			"persistent_rows": persistentRows,
		},
	}

	if s.llm == nil {
		response["llm"] = map[string]interface{}{"configured": false}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	summary := s.llm.Summary()
	llmRows, err := s.llm.Count(ctx)
	if err != nil {
		return nil, toolError("cache stats", err)
	}
	response["llm"] = map[string]interface{}{
		"configured":      true,
		"backend":         s.cfg.LLMCache.Backend,
		"hits":            summary.Hits,
		"misses":          summary.Misses,
		"stores":          summary.Stores,
		"provider_calls":  summary.ProviderCalls,
		"corruptions":     summary.Corruptions,
		"persistent_rows": llmRows,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearCaches handles the clear_caches tool invocation
func (s *Server) handleClearCaches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArgs(request)
	target := getStringDefault(args, "target", "all")
	switch target {
	case "all", "embeddings", "llm", "queries":
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid target", map[string]interface{}{
			"param":   "target",
			"value":   target,
			"allowed": []string{"all", "embeddings", "llm", "queries"},
		})
	}

	var cleared []string
	if target == "all" || target == "embeddings" {
		if err := s.embed.Clear(ctx); err != nil {
			return nil, toolError("clear embedding cache", err)
		}
		cleared = append(cleared, "embeddings")
	}
	if (target == "all" || target == "llm") && s.llm != nil {
		if err := s.llm.Clear(ctx); err != nil {
			return nil, toolError("clear llm cache", err)
		}
		cleared = append(cleared, "llm")
	}
	if target == "all" || target == "queries" {
		s.search.InvalidateCache()
		cleared = append(cleared, "queries")
	}

	response := map[string]interface{}{
		"cleared": cleared,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleUsageSummary handles the usage_summary tool invocation
func (s *Server) handleUsageSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response := map[string]interface{}{}

	if s.llm != nil {
		summary := s.llm.Summary()
		response["llm"] = map[string]interface{}{
			"configured":     true,
			"provider":       s.cfg.LLM.Provider,
			"model":          s.summaryModel(),
			"hits":           summary.Hits,
			"misses":         summary.Misses,
			"stores":         summary.Stores,
			"provider_calls": summary.ProviderCalls,
			"corruptions":    summary.Corruptions,
		}
	} else {
		response["llm"] = map[string]interface{}{"configured": false}
	}

	if s.tracer != nil {
		counters := s.tracer.Counters()
		response["trace"] = map[string]interface{}{
			"enabled":           true,
			"path":              s.cfg.Trace.Path,
			"events":            counters.Events,
			"cache_hits":        counters.CacheHits,
			"cache_stores":      counters.CacheStores,
			"prompt_tokens":     counters.PromptTokens,
			"completion_tokens": counters.CompletionTokens,
			"total_tokens":      counters.TotalTokens,
		}
	} else {
		response["trace"] = map[string]interface{}{"enabled": false}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.store.GetStatus(ctx)
	if err != nil {
		return nil, toolError("get status", err)
	}

	collections := make([]map[string]interface{}, 0, len(status.Collections))
	for _, col := range status.Collections {
		collections = append(collections, map[string]interface{}{
			"name":      col.Name,
			"model":     col.Model,
			"dimension": col.Dimension,
			"vectors":   col.Vectors,
		})
	}

	response := map[string]interface{}{
		"composers_count": status.ComposersCount,
		"entries_count":   status.EntriesCount,
		"pair_entries":    status.PairEntries,
		"turn_entries":    status.TurnEntries,
		"collections":     collections,
		"embedding_rows":  status.EmbeddingRows,
		"llm_rows":        status.LLMRows,
		"index_size_mb":   fmt.Sprintf("%.2f", status.IndexSizeMB),
		"health": map[string]interface{}{
			"database_accessible": status.Health.DatabaseAccessible,
			"vectors_available":   status.Health.VectorsAvailable,
			"fts_index_built":     status.Health.FTSIndexBuilt,
		},
		"server": map[string]interface{}{
			"name":               ServerName,
			"version":            ServerVersion,
			"vector_backend":     s.cfg.Vector.Backend,
			"embedding_provider": s.provider.Provider(),
			"embedding_model":    s.provider.Model(),
			"dimension":          s.provider.Dimension(),
			"llm_configured":     s.llm != nil,
		},
	}
	if !status.LastIndexedAt.IsZero() {
		response["last_indexed_at"] = status.LastIndexedAt.Format(time.RFC3339)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}
