package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexConversationsTool returns the tool definition for index_conversations
func indexConversationsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_conversations",
		Description: "Index logged agent conversations from the configured source into the searchable archive",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"scope": map[string]interface{}{
					"type":        "string",
					"description": "Entry granularity: pair (user turn + assistant reply) or turn (every turn separately)",
					"enum":        []string{"pair", "turn"},
				},
				"max_composers": map[string]interface{}{
					"type":        "integer",
					"description": "Index at most this many conversations, in discovery order (0 = all)",
					"minimum":     0,
				},
				"max_turns_per_composer": map[string]interface{}{
					"type":        "integer",
					"description": "Keep only the earliest N entries of each conversation (0 = all)",
					"minimum":     0,
				},
				"workers": map[string]interface{}{
					"type":        "integer",
					"description": "Concurrent conversation workers",
					"default":     4,
					"minimum":     1,
				},
				"embed_inline": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, warm the embedding cache for new entries during the build",
				},
			},
		},
	}
}

// buildVectorsTool returns the tool definition for build_vectors
func buildVectorsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_vectors",
		Description: "Embed indexed entries into the vector collection incrementally (unchanged entries are skipped)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"composer_ids": map[string]interface{}{
					"type":        "array",
					"description": "Limit the build to these conversations (empty = all)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"scope": map[string]interface{}{
					"type":        "string",
					"description": "Limit the build to pair or turn entries (empty = both)",
					"enum":        []string{"pair", "turn"},
				},
			},
		},
	}
}

// searchConversationsTool returns the tool definition for search_conversations
func searchConversationsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_conversations",
		Description: "Search indexed conversations with sparse (lexical), dense (vector), or hybrid ranking",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Ranking mode: hybrid blends both signals; dense falls back to sparse when no vectors exist",
					"enum":        []string{"sparse", "dense", "hybrid"},
					"default":     "hybrid",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"minimum":     1,
					"maximum":     100,
				},
				"composer_id": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one conversation",
				},
				"scope": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to pair or turn entries",
					"enum":        []string{"pair", "turn"},
				},
				"sparse_weight": map[string]interface{}{
					"type":        "number",
					"description": "Sparse weight for hybrid blending (non-negative)",
					"minimum":     0.0,
				},
				"dense_weight": map[string]interface{}{
					"type":        "number",
					"description": "Dense weight for hybrid blending (non-negative)",
					"minimum":     0.0,
				},
				"use_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "Serve repeated queries from the response cache",
					"default":     true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// vectorSearchTool returns the tool definition for vector_search
func vectorSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "vector_search",
		Description: "Query the vector collection directly and return raw similarity matches",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Text to embed and match against stored vectors",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of matches (1-100)",
					"minimum":     1,
					"maximum":     100,
				},
				"composer_id": map[string]interface{}{
					"type":        "string",
					"description": "Restrict matches to one conversation",
				},
				"scope": map[string]interface{}{
					"type":        "string",
					"description": "Restrict matches to pair or turn entries",
					"enum":        []string{"pair", "turn"},
				},
				"min_similarity": map[string]interface{}{
					"type":        "number",
					"description": "Drop matches below this normalized similarity (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
			},
			Required: []string{"query"},
		},
	}
}

// listComposersTool returns the tool definition for list_composers
func listComposersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_composers",
		Description: "List indexed conversations with titles, repo hints, and turn counts",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of conversations to list (0 = all)",
					"minimum":     0,
				},
			},
		},
	}
}

// showConversationTool returns the tool definition for show_conversation
func showConversationTool() mcp.Tool {
	return mcp.Tool{
		Name:        "show_conversation",
		Description: "Show the indexed transcript of one conversation",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"composer_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to show",
				},
				"scope": map[string]interface{}{
					"type":        "string",
					"description": "Entry granularity to read",
					"enum":        []string{"pair", "turn"},
					"default":     "pair",
				},
			},
			Required: []string{"composer_id"},
		},
	}
}

// summarizeConversationTool returns the tool definition for summarize_conversation
func summarizeConversationTool() mcp.Tool {
	return mcp.Tool{
		Name:        "summarize_conversation",
		Description: "Summarize one indexed conversation via the LLM response cache (repeat calls are free)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"composer_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to summarize",
				},
			},
			Required: []string{"composer_id"},
		},
	}
}

// indexStatsTool returns the tool definition for index_stats
func indexStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_stats",
		Description: "Report entry counts, annotation distributions, and length statistics over the archive",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"top_composers": map[string]interface{}{
					"type":        "integer",
					"description": "How many conversations to list by entry count",
					"default":     10,
					"minimum":     0,
				},
				"include_source": map[string]interface{}{
					"type":        "boolean",
					"description": "Also scan the live conversation source for parse health and coalesce statistics",
					"default":     false,
				},
			},
		},
	}
}

// sampleEntriesTool returns the tool definition for sample_entries
func sampleEntriesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "sample_entries",
		Description: "Return a uniform random sample of indexed entries for inspection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"n": map[string]interface{}{
					"type":        "integer",
					"description": "Sample size (1-50)",
					"default":     5,
					"minimum":     1,
					"maximum":     50,
				},
			},
		},
	}
}

// cacheStatsTool returns the tool definition for cache_stats
func cacheStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cache_stats",
		Description: "Report hit/miss/store counters for the embedding and LLM response caches",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// clearCachesTool returns the tool definition for clear_caches
func clearCachesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_caches",
		Description: "Clear the embedding cache, LLM response cache, or query cache",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"target": map[string]interface{}{
					"type":        "string",
					"description": "Which cache to clear",
					"enum":        []string{"all", "embeddings", "llm", "queries"},
					"default":     "all",
				},
			},
		},
	}
}

// usageSummaryTool returns the tool definition for usage_summary
func usageSummaryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "usage_summary",
		Description: "Report provider call and token usage accumulated by this server process",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query archive statistics, vector collections, and index health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
