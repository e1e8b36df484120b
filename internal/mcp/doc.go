// Package mcp implements the Model Context Protocol (MCP) server for the
// conversation archive.
//
// The server exposes the full stack to AI coding assistants over stdio:
// indexing, vector builds, hybrid retrieval, summarization, and cache
// administration.
//
//	Indexing:    index_conversations, build_vectors
//	Retrieval:   search_conversations, vector_search
//	Reading:     list_composers, show_conversation, summarize_conversation
//	Inspection:  index_stats, sample_entries, get_status
//	Caches:      cache_stats, clear_caches, usage_summary
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout belongs to the protocol; anything the server wants a human to see
// goes to stderr.
//
// # Tool: index_conversations
//
// Pull the agent's logged conversations into the archive:
//
//	Request:
//	{
//	  "name": "index_conversations",
//	  "arguments": {"scope": "pair", "max_composers": 100, "embed_inline": true}
//	}
//
//	Response:
//	{
//	  "run_id": "2f6c...",
//	  "composers_indexed": 97,
//	  "composers_skipped": 3,
//	  "entries_created": 412,
//	  "entries_unchanged": 1380,
//	  "skip_reasons": ["a11f...: state database locked"],
//	  "duration_ms": 1840
//	}
//
// Skipped conversations never fail the build; their reasons come back in
// the response.
//
// # Tool: search_conversations
//
// Rank indexed entries by lexical overlap, vector similarity, or a
// weighted blend:
//
//	Request:
//	{
//	  "name": "search_conversations",
//	  "arguments": {"query": "redis connection pooling", "mode": "hybrid", "limit": 5}
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "entry_key": "a11f...:12:pair",
//	      "user_head": "why does the redis pool keep timing out",
//	      "sparse_score": 0.75,
//	      "dense_score": 0.83,
//	      "combined_score": 0.79
//	    }
//	  ],
//	  "search_mode": "hybrid",
//	  "duration_ms": 12
//	}
//
// When no vectors have been built yet, dense and hybrid searches degrade
// to sparse ranking and the response carries "dense_unavailable": true.
//
// # Tool: summarize_conversation
//
// Summaries run through the LLM response cache: the first call pays for a
// provider round trip, every repeat of the unchanged conversation is
// served from the cache with "cache_hit": true and the original token
// usage. The tool reports an error when no llm.api_key is configured; all
// other tools keep working without one.
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "goconvo": {
//	      "command": "/usr/local/bin/goconvo",
//	      "args": ["serve"],
//	      "env": {
//	        "OPENAI_API_KEY": "your-api-key"
//	      }
//	    }
//	  }
//	}
//
// # Error Handling
//
// Handlers return standard JSON-RPC error responses:
//
//	{
//	  "error": {
//	    "code": -32003,
//	    "message": "conversation not indexed",
//	    "data": {"composer_id": "a11f..."}
//	  }
//	}
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, filesystem, interrupted build)
//   - -32001: Conversation source unavailable
//   - -32002: Index build already in progress
//   - -32003: Conversation not indexed
//   - -32004: Query parameter is empty
//   - -32005: No LLM provider configured
//   - -32006: Embedding or LLM provider call failed
//
// Component failures map onto these codes by sentinel kind: configuration
// errors become invalid params, source read failures become -32001,
// provider failures become -32006.
package mcp
