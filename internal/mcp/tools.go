package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/goconvo-mcp/internal/indexer"
	"github.com/dshills/goconvo-mcp/internal/llm"
	"github.com/dshills/goconvo-mcp/internal/llmcache"
	"github.com/dshills/goconvo-mcp/internal/searcher"
	"github.com/dshills/goconvo-mcp/internal/source"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/internal/vectorstore"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeSourceUnavailable = -32001 // Conversation source cannot be opened or read
	ErrorCodeBuildInProgress   = -32002 // Another index build is already running
	ErrorCodeNotIndexed        = -32003 // Conversation not present in the archive
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
	ErrorCodeLLMUnavailable    = -32005 // No LLM provider is configured
	ErrorCodeProviderFailure   = -32006 // Embedding or LLM provider call failed
)

// summaryInstructions is the fixed prompt wrapped around a transcript. It
// participates in the cache key, so changing it invalidates cached
// summaries on purpose.
const summaryInstructions = "Summarize this logged conversation between a developer and an AI coding assistant. " +
	"Report what was worked on, the decisions made, open questions, and likely next steps. " +
	"Be concise and specific."

// maxTranscriptRunes caps how much conversation text one summarization
// request carries. Earliest entries are kept, the tail is dropped.
const maxTranscriptRunes = 24000

// handleIndexConversations handles the index_conversations tool invocation
func (s *Server) handleIndexConversations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArgs(request)

	scope, err := scopeArg(args, "scope", s.cfg.Index.Scope)
	if err != nil {
		return nil, err
	}

	buildCfg := &indexer.Config{
		Scope:               scope,
		Workers:             getIntDefault(args, "workers", s.cfg.Index.Workers),
		MaxComposers:        getIntDefault(args, "max_composers", s.cfg.Index.MaxComposers),
		MaxTurnsPerComposer: getIntDefault(args, "max_turns_per_composer", s.cfg.Index.MaxTurnsPerComposer),
		GenerateEmbeddings:  getBoolDefault(args, "embed_inline", s.cfg.Index.EmbedInline),
	}

	src, err := s.openSource()
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	stats, buildErr := s.indexer.Build(ctx, src, buildCfg)
	if stats != nil {
		// Even a failed build may have upserted entries
		s.search.InvalidateCache()
	}
	if buildErr != nil {
		if stats != nil && stats.Incomplete {
			return nil, newMCPError(ErrorCodeInternalError, "index build interrupted", map[string]interface{}{
				"error":             buildErr.Error(),
				"composers_indexed": stats.ComposersIndexed,
				"entries_created":   stats.EntriesCreated,
			})
		}
		return nil, toolError("index build", buildErr)
	}

	response := map[string]interface{}{
		"run_id":               stats.RunID,
		"scope":                stats.Scope,
		"composers_indexed":    stats.ComposersIndexed,
		"composers_skipped":    stats.ComposersSkipped,
		"entries_created":      stats.EntriesCreated,
		"entries_updated":      stats.EntriesUpdated,
		"entries_unchanged":    stats.EntriesUnchanged,
		"entries_pruned":       stats.EntriesPruned,
		"records_skipped":      stats.RecordsSkipped,
		"embeddings_generated": stats.EmbeddingsGenerated,
		"embeddings_failed":    stats.EmbeddingsFailed,
		"duration_ms":          stats.Duration.Milliseconds(),
	}
	if len(stats.SkipReasons) > 0 {
		reasonCount := len(stats.SkipReasons)
		if reasonCount > 5 {
			response["skip_reasons"] = stats.SkipReasons[:5]
			response["skip_reason_count"] = reasonCount
		} else {
			response["skip_reasons"] = stats.SkipReasons
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleBuildVectors handles the build_vectors tool invocation
func (s *Server) handleBuildVectors(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArgs(request)

	scope, err := scopeArg(args, "scope", "")
	if err != nil {
		return nil, err
	}

	opts := vectorstore.BuildOptions{
		ComposerIDs: getStringSlice(args, "composer_ids"),
		Scope:       scope,
	}

	stats, buildErr := s.builder.Build(ctx, opts)
	if stats.VectorsAdded+stats.VectorsUpdated+stats.VectorsDeleted > 0 {
		s.search.InvalidateCache()
	}
	if buildErr != nil {
		return nil, toolError("vector build", buildErr)
	}

	response := map[string]interface{}{
		"namespace":          s.index.Namespace(),
		"entries_considered": stats.EntriesConsidered,
		"vectors_added":      stats.VectorsAdded,
		"vectors_updated":    stats.VectorsUpdated,
		"vectors_skipped":    stats.VectorsSkipped,
		"vectors_deleted":    stats.VectorsDeleted,
		"duration_ms":        stats.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchConversations handles the search_conversations tool invocation
func (s *Server) handleSearchConversations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArgs(request)

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", s.cfg.Search.K)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := getStringDefault(args, "mode", string(searcher.SearchModeHybrid))
	switch searcher.SearchMode(mode) {
	case searcher.SearchModeSparse, searcher.SearchModeDense, searcher.SearchModeHybrid:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{"sparse", "dense", "hybrid"},
		})
	}

	scope, err := scopeArg(args, "scope", "")
	if err != nil {
		return nil, err
	}

	req := searcher.SearchRequest{
		Query:      query,
		Mode:       searcher.SearchMode(mode),
		Limit:      limit,
		ComposerID: getStringDefault(args, "composer_id", ""),
		Scope:      scope,
		Weights: &searcher.Weights{
			Sparse: getFloatDefault(args, "sparse_weight", s.cfg.Search.SparseWeight),
			Dense:  getFloatDefault(args, "dense_weight", s.cfg.Search.DenseWeight),
		},
		UseCache: getBoolDefault(args, "use_cache", true),
		CacheTTL: s.cfg.Search.CacheTTL.Std(),
	}

	resp, err := s.search.Search(ctx, req)
	if err != nil {
		return nil, toolError("search", err)
	}

	response := map[string]interface{}{
		"results":       resp.Results,
		"total_results": resp.TotalResults,
		"search_mode":   resp.SearchMode,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	}
	if resp.DenseUnavailable {
		response["dense_unavailable"] = true
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleVectorSearch handles the vector_search tool invocation
func (s *Server) handleVectorSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArgs(request)

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	k := getIntDefault(args, "k", s.cfg.Search.K)
	if k < 1 || k > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("k must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}

	scope, err := scopeArg(args, "scope", "")
	if err != nil {
		return nil, err
	}

	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, toolError("query embedding", err)
	}

	var filters *vectorstore.Filters
	composerID := getStringDefault(args, "composer_id", "")
	minSim := getFloatDefault(args, "min_similarity", 0)
	if composerID != "" || scope != "" || minSim > 0 {
		filters = &vectorstore.Filters{
			ComposerID:    composerID,
			Scope:         scope,
			MinSimilarity: minSim,
		}
	}

	matches, err := s.index.Query(ctx, vec, k, filters)
	if err != nil {
		return nil, toolError("vector query", err)
	}

	rows := make([]map[string]interface{}, 0, len(matches))
	for _, m := range matches {
		row := map[string]interface{}{
			"entry_key":  m.EntryKey,
			"similarity": m.Similarity,
		}
		// Hydrate heads for matches whose entries still exist
		if cid, turnIndex, sc, ok := vectorstore.ParseEntryKey(m.EntryKey); ok {
			if entry, err := s.store.GetEntry(ctx, cid, turnIndex, sc); err == nil {
				row["composer_id"] = entry.ComposerID
				row["turn_index"] = entry.TurnIndex
				row["scope"] = entry.Scope
				row["user_head"] = entry.UserHead
				row["assistant_head"] = entry.AssistantHead
			}
		}
		rows = append(rows, row)
	}

	response := map[string]interface{}{
		"matches":   rows,
		"count":     len(rows),
		"namespace": s.index.Namespace(),
		"dimension": s.index.Dimension(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListComposers handles the list_composers tool invocation
func (s *Server) handleListComposers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArgs(request)
	limit := getIntDefault(args, "limit", 0)

	composers, err := s.store.ListComposers(ctx)
	if err != nil {
		return nil, toolError("list composers", err)
	}
	total := len(composers)
	if limit > 0 && len(composers) > limit {
		composers = composers[:limit]
	}

	rows := make([]map[string]interface{}, 0, len(composers))
	for _, c := range composers {
		row := map[string]interface{}{
			"composer_id":     c.ComposerID,
			"title":           c.Title,
			"turn_count":      c.TurnCount,
			"last_indexed_at": c.LastIndexedAt.Format(time.RFC3339),
		}
		if c.RepoHint != "" {
			row["repo_hint"] = c.RepoHint
		}
		rows = append(rows, row)
	}

	response := map[string]interface{}{
		"composers": rows,
		"count":     len(rows),
		"total":     total,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleShowConversation handles the show_conversation tool invocation
func (s *Server) handleShowConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := requestArgs(request)

	composerID, err := requiredString(args, "composer_id")
	if err != nil {
		return nil, err
	}
	scope, err := scopeArg(args, "scope", string(types.ScopePair))
	if err != nil {
		return nil, err
	}

	comp, err := s.store.GetComposer(ctx, composerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeNotIndexed, "conversation not indexed", map[string]interface{}{
			"composer_id": composerID,
		})
	}
	if err != nil {
		return nil, toolError("load conversation", err)
	}

	entries, err := s.store.ListEntries(ctx, composerID)
	if err != nil {
		return nil, toolError("load conversation entries", err)
	}

	turns := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		if entry.Scope != scope {
			continue
		}
		turns = append(turns, map[string]interface{}{
			"turn_index":     entry.TurnIndex,
			"user_text":      entry.UserText,
			"assistant_text": entry.AssistantText,
			"annotations":    entry.Annotations,
		})
	}

	response := map[string]interface{}{
		"composer_id": comp.ComposerID,
		"title":       comp.Title,
		"scope":       scope,
		"entry_count": len(turns),
		"turns":       turns,
	}
	if comp.RepoHint != "" {
		response["repo_hint"] = comp.RepoHint
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSummarizeConversation handles the summarize_conversation tool invocation
func (s *Server) handleSummarizeConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.llm == nil {
		return nil, newMCPError(ErrorCodeLLMUnavailable, "no llm provider configured", map[string]interface{}{
			"reason": "set llm.api_key in the configuration to enable summarization",
		})
	}

	args := requestArgs(request)
	composerID, err := requiredString(args, "composer_id")
	if err != nil {
		return nil, err
	}

	comp, err := s.store.GetComposer(ctx, composerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeNotIndexed, "conversation not indexed", map[string]interface{}{
			"composer_id": composerID,
		})
	}
	if err != nil {
		return nil, toolError("load conversation", err)
	}

	entries, err := s.store.ListEntries(ctx, composerID)
	if err != nil {
		return nil, toolError("load conversation entries", err)
	}
	transcript := transcriptText(entries)
	if transcript == "" {
		return nil, newMCPError(ErrorCodeNotIndexed, "conversation has no indexed text", map[string]interface{}{
			"composer_id": composerID,
		})
	}

	result, err := s.llm.Call(ctx, llmcache.Request{
		Request: llmRequest(s.summaryModel(), transcript, s.cfg.LLM.MaxTokens),
		JobMeta: map[string]string{
			"tool":        "summarize_conversation",
			"composer_id": composerID,
		},
	})
	if err != nil {
		return nil, toolError("summarize", err)
	}

	response := map[string]interface{}{
		"composer_id": comp.ComposerID,
		"title":       comp.Title,
		"model":       s.summaryModel(),
		"summary":     result.Response.Text,
		"cache_hit":   result.CacheHit,
		"cache_key":   result.Key,
		"usage": map[string]interface{}{
			"prompt_tokens":     result.Response.Usage.PromptTokens,
			"completion_tokens": result.Response.Usage.CompletionTokens,
			"total_tokens":      result.Response.Usage.TotalTokens,
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// openSource opens the configured conversation source for one tool call
func (s *Server) openSource() (source.Source, error) {
	src, err := source.New(source.Config{
		Agent:  s.cfg.Source.Agent,
		DBPath: s.cfg.Source.DBPath,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeSourceUnavailable, "conversation source unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return src, nil
}

// transcriptText flattens entries into a role-labeled transcript, pair
// entries first, turn entries only when the archive holds no pairs.
// Earliest entries win when the budget runs out.
func transcriptText(entries []*types.IndexEntry) string {
	scope := types.ScopePair
	hasPair := false
	for _, entry := range entries {
		if entry.Scope == types.ScopePair {
			hasPair = true
			break
		}
	}
	if !hasPair {
		scope = types.ScopeTurn
	}

	var b strings.Builder
	runes := 0
	for _, entry := range entries {
		if entry.Scope != scope {
			continue
		}
		var part strings.Builder
		if entry.UserText != "" {
			part.WriteString("User: ")
			part.WriteString(entry.UserText)
			part.WriteString("\n")
		}
		if entry.AssistantText != "" {
			part.WriteString("Assistant: ")
			part.WriteString(entry.AssistantText)
			part.WriteString("\n")
		}
		part.WriteString("\n")

		n := len([]rune(part.String()))
		if runes+n > maxTranscriptRunes {
			b.WriteString("[transcript truncated]\n")
			break
		}
		b.WriteString(part.String())
		runes += n
	}
	return strings.TrimSpace(b.String())
}

// llmRequest builds the summarization request. Everything here except the
// transcript is fixed, so identical conversations hit the same cache slot.
func llmRequest(model, transcript string, maxTokens int) llm.Request {
	req := llm.Request{
		Op:           "summarize",
		Model:        model,
		Instructions: summaryInstructions,
		Input:        []string{transcript},
	}
	if maxTokens > 0 {
		req.Params = map[string]any{"max_tokens": maxTokens}
	}
	return req
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toolError maps component failures onto MCP error codes by sentinel kind
func toolError(op string, err error) error {
	switch {
	case errors.Is(err, indexer.ErrBuildInProgress):
		return newMCPError(ErrorCodeBuildInProgress, "an index build is already running", nil)
	case errors.Is(err, types.ErrConfiguration):
		return newMCPError(ErrorCodeInvalidParams, op+" rejected parameters", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, types.ErrSourceRead):
		return newMCPError(ErrorCodeSourceUnavailable, "conversation source unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, types.ErrProvider):
		return newMCPError(ErrorCodeProviderFailure, op+" provider call failed", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, storage.ErrNotFound):
		return newMCPError(ErrorCodeNotIndexed, op+" target not found in the archive", map[string]interface{}{
			"error": err.Error(),
		})
	default:
		return newMCPError(ErrorCodeInternalError, op+" failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// requestArgs extracts the argument map, tolerating tools called with no
// arguments at all
func requestArgs(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// requiredString extracts a mandatory non-empty string parameter
func requiredString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// scopeArg extracts and validates an optional scope parameter
func scopeArg(args map[string]interface{}, key, fallback string) (types.Scope, error) {
	raw := getStringDefault(args, key, fallback)
	if raw == "" {
		return "", nil
	}
	scope := types.Scope(raw)
	if err := types.ValidateScope(scope); err != nil {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid scope", map[string]interface{}{
			"param":   key,
			"value":   raw,
			"allowed": []string{"pair", "turn"},
		})
	}
	return scope, nil
}

// formatJSON formats a response as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a numeric parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	if val, ok := args[key].(int); ok {
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional string array parameter
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok && str != "" {
			out = append(out, str)
		}
	}
	return out
}
