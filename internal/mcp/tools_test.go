package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/goconvo-mcp/internal/indexer"
	"github.com/dshills/goconvo-mcp/internal/llmcache"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/internal/vectorstore"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// fixtureTurn is one message bubble in a cursor fixture. Role follows the
// agent's numeric convention: 1 is user, everything else assistant.
type fixtureTurn struct {
	role int
	text string
}

type fixtureConvo struct {
	id    string
	title string
	turns []fixtureTurn
}

// writeCursorFixture creates a minimal agent state database at path, in
// the key-value layout the cursor source reads
func writeCursorFixture(t *testing.T, path string, convos []fixtureConvo) {
	t.Helper()

	db, err := sql.Open(storage.DriverName, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	_, err = db.Exec(`CREATE TABLE cursorDiskKV (key TEXT PRIMARY KEY, value BLOB)`)
	require.NoError(t, err)

	for _, convo := range convos {
		headers := make([]map[string]interface{}, 0, len(convo.turns))
		for i, turn := range convo.turns {
			bubbleID := fmt.Sprintf("bubble-%03d", i)
			headers = append(headers, map[string]interface{}{
				"bubbleId": bubbleID,
				"type":     turn.role,
			})

			bubble, merr := json.Marshal(map[string]string{"text": turn.text})
			require.NoError(t, merr)
			_, err = db.Exec(`INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`,
				fmt.Sprintf("bubbleId:%s:%s", convo.id, bubbleID), bubble)
			require.NoError(t, err)
		}

		composer, merr := json.Marshal(map[string]interface{}{
			"title":                       convo.title,
			"fullConversationHeadersOnly": headers,
		})
		require.NoError(t, merr)
		_, err = db.Exec(`INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`,
			"composerData:"+convo.id, composer)
		require.NoError(t, err)
	}
}

// pairedConvo builds a fixture conversation of user/assistant pairs
func pairedConvo(id, title string, pairs ...[2]string) fixtureConvo {
	convo := fixtureConvo{id: id, title: title}
	for _, p := range pairs {
		convo.turns = append(convo.turns,
			fixtureTurn{role: 1, text: p[0]},
			fixtureTurn{role: 2, text: p[1]},
		)
	}
	return convo
}

// withStubLLM replaces the server's response cache with one backed by a
// stub provider, returning the stub for call counting
func withStubLLM(t *testing.T, s *Server, text string) *stubCaller {
	t.Helper()
	stub := &stubCaller{text: text}
	cache, err := llmcache.New(llmcache.Options{Caller: stub, Store: s.store, Tracer: s.tracer})
	require.NoError(t, err)
	s.llm = cache
	return stub
}

func TestHandleIndexConversationsMissingSource(t *testing.T) {
	s := testServer(t, nil) // Source.DBPath points at a file that was never written

	result, err := s.handleIndexConversations(context.Background(), toolCall("index_conversations", nil))
	assert.Nil(t, result)
	requireToolError(t, err, ErrorCodeSourceUnavailable)
}

func TestHandleIndexConversationsFromFixture(t *testing.T) {
	cfg := testConfig(t)
	writeCursorFixture(t, cfg.Source.DBPath, []fixtureConvo{
		pairedConvo("comp-alpha", "Postgres locking",
			[2]string{"How do I add an index without locking writes", "Use CREATE INDEX CONCURRENTLY so reads and writes continue"},
			[2]string{"Does that work for unique constraints too", "Build the unique index concurrently first, then attach it as a constraint"},
		),
		pairedConvo("comp-beta", "Channel patterns",
			[2]string{"When should a channel be buffered", "Buffer when the producer may briefly outpace the consumer"},
		),
	})
	s := testServer(t, cfg)

	result, err := s.handleIndexConversations(context.Background(), toolCall("index_conversations", map[string]interface{}{}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.EqualValues(t, 2, payload["composers_indexed"])
	assert.EqualValues(t, 3, payload["entries_created"])
	assert.EqualValues(t, 0, payload["records_skipped"])
	assert.Equal(t, "pair", payload["scope"])
	assert.NotEmpty(t, payload["run_id"])
	assert.NotContains(t, payload, "skip_reasons")

	// The archive now serves reads without touching the source again
	listResult, err := s.handleListComposers(context.Background(), toolCall("list_composers", nil))
	require.NoError(t, err)
	listPayload := resultJSON(t, listResult)
	assert.EqualValues(t, 2, listPayload["count"])
}

func TestHandleIndexConversationsTurnScope(t *testing.T) {
	cfg := testConfig(t)
	writeCursorFixture(t, cfg.Source.DBPath, []fixtureConvo{
		pairedConvo("comp-alpha", "Postgres locking",
			[2]string{"How do I add an index without locking writes", "Use CREATE INDEX CONCURRENTLY"},
			[2]string{"And for unique constraints", "Create the index first, then the constraint"},
		),
		pairedConvo("comp-beta", "Channel patterns",
			[2]string{"When should a channel be buffered", "When the producer briefly outpaces the consumer"},
		),
	})
	s := testServer(t, cfg)

	result, err := s.handleIndexConversations(context.Background(), toolCall("index_conversations", map[string]interface{}{
		"scope": "turn",
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.Equal(t, "turn", payload["scope"])
	assert.EqualValues(t, 6, payload["entries_created"]) // one entry per turn
}

func TestHandleIndexConversationsInvalidScope(t *testing.T) {
	s := testServer(t, nil)

	_, err := s.handleIndexConversations(context.Background(), toolCall("index_conversations", map[string]interface{}{
		"scope": "sentence",
	}))
	requireToolError(t, err, ErrorCodeInvalidParams)
}

func TestHandleBuildVectors(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s,
		convoRecord("conv-a", "First",
			[2]string{"How do transactions nest", "They do not, use savepoints"},
			[2]string{"What about advisory locks", "Advisory locks are cooperative and keyed by integers"},
		),
		convoRecord("conv-b", "Second",
			[2]string{"Explain context cancellation", "Cancellation propagates through the context tree"},
			[2]string{"And deadlines", "Deadlines cancel automatically at a fixed time"},
		),
	)

	result, err := s.handleBuildVectors(context.Background(), toolCall("build_vectors", nil))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.Equal(t, "conversations", payload["namespace"])
	assert.EqualValues(t, 4, payload["entries_considered"])
	assert.EqualValues(t, 4, payload["vectors_added"])
	assert.EqualValues(t, 0, payload["vectors_skipped"])

	// Unchanged entries skip on the second pass
	result, err = s.handleBuildVectors(context.Background(), toolCall("build_vectors", nil))
	require.NoError(t, err)
	payload = resultJSON(t, result)
	assert.EqualValues(t, 0, payload["vectors_added"])
	assert.EqualValues(t, 4, payload["vectors_skipped"])
}

func TestHandleBuildVectorsComposerFilter(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s,
		convoRecord("conv-a", "First", [2]string{"Question one", "Answer one"}, [2]string{"Question two", "Answer two"}),
		convoRecord("conv-b", "Second", [2]string{"Question three", "Answer three"}),
	)

	result, err := s.handleBuildVectors(context.Background(), toolCall("build_vectors", map[string]interface{}{
		"composer_ids": []interface{}{"conv-a"},
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.EqualValues(t, 2, payload["entries_considered"])
	assert.EqualValues(t, 2, payload["vectors_added"])
}

func TestHandleSearchConversationsSparse(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s,
		convoRecord("conv-postgres", "Postgres help",
			[2]string{"How do I tune postgres checkpoint intervals", "Raise checkpoint_timeout and max_wal_size together"},
		),
		convoRecord("conv-channels", "Go concurrency",
			[2]string{"When should a channel be buffered", "Buffer when the producer briefly outpaces the consumer"},
		),
	)

	result, err := s.handleSearchConversations(context.Background(), toolCall("search_conversations", map[string]interface{}{
		"query": "postgres checkpoint",
		"mode":  "sparse",
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.Equal(t, "sparse", payload["search_mode"])
	assert.Equal(t, false, payload["cache_hit"])

	results := payload["results"].([]interface{})
	require.NotEmpty(t, results)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "conv-postgres", first["composer_id"])
	assert.NotEmpty(t, first["entry_key"])
	assert.Greater(t, first["combined_score"].(float64), 0.0)
}

func TestHandleSearchConversationsCacheHit(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s, convoRecord("conv-a", "Only",
		[2]string{"How does garbage collection pace itself", "The pacer targets a heap growth ratio"},
	))

	args := map[string]interface{}{"query": "garbage collection pacer", "mode": "sparse"}

	result, err := s.handleSearchConversations(context.Background(), toolCall("search_conversations", args))
	require.NoError(t, err)
	assert.Equal(t, false, resultJSON(t, result)["cache_hit"])

	result, err = s.handleSearchConversations(context.Background(), toolCall("search_conversations", args))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, result)["cache_hit"])
}

func TestHandleSearchConversationsHybridWithoutVectors(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s, convoRecord("conv-a", "Only",
		[2]string{"How do I profile allocations", "Use the heap profile and look at alloc_space"},
	))

	// No vectors built yet: the index is empty but usable, so hybrid
	// falls through to sparse-only ranking without flagging degradation
	result, err := s.handleSearchConversations(context.Background(), toolCall("search_conversations", map[string]interface{}{
		"query": "profile allocations",
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.Equal(t, "hybrid", payload["search_mode"])
	assert.NotContains(t, payload, "dense_unavailable")
	assert.NotEmpty(t, payload["results"])
}

func TestHandleSearchConversationsRejects(t *testing.T) {
	s := testServer(t, nil)
	ctx := context.Background()

	_, err := s.handleSearchConversations(ctx, toolCall("search_conversations", nil))
	requireToolError(t, err, ErrorCodeEmptyQuery)

	_, err = s.handleSearchConversations(ctx, toolCall("search_conversations", map[string]interface{}{
		"query": "   ",
	}))
	requireToolError(t, err, ErrorCodeEmptyQuery)

	_, err = s.handleSearchConversations(ctx, toolCall("search_conversations", map[string]interface{}{
		"query": "ok", "mode": "fuzzy",
	}))
	requireToolError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleSearchConversations(ctx, toolCall("search_conversations", map[string]interface{}{
		"query": "ok", "limit": 500,
	}))
	requireToolError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleSearchConversations(ctx, toolCall("search_conversations", map[string]interface{}{
		"query": "ok", "sparse_weight": -0.5,
	}))
	requireToolError(t, err, ErrorCodeInvalidParams)
}

func TestHandleVectorSearch(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s,
		convoRecord("conv-postgres", "Postgres help",
			[2]string{"How do I add an index to a postgres table", "Use CREATE INDEX CONCURRENTLY to avoid locking"},
		),
		convoRecord("conv-channels", "Go concurrency",
			[2]string{"When should a channel be buffered", "Buffer when the producer outpaces the consumer"},
		),
	)
	_, err := s.builder.Build(context.Background(), vectorstore.BuildOptions{})
	require.NoError(t, err)

	result, err := s.handleVectorSearch(context.Background(), toolCall("vector_search", map[string]interface{}{
		"query": "postgres index locking",
		"k":     5,
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.Equal(t, "conversations", payload["namespace"])
	assert.EqualValues(t, s.provider.Dimension(), payload["dimension"])

	matches := payload["matches"].([]interface{})
	require.NotEmpty(t, matches)
	first := matches[0].(map[string]interface{})
	assert.Equal(t, "conv-postgres", first["composer_id"])
	assert.NotEmpty(t, first["entry_key"])
	assert.NotEmpty(t, first["user_head"])
}

func TestHandleVectorSearchMinSimilarity(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s, convoRecord("conv-postgres", "Postgres help",
		[2]string{"How do I add an index to a postgres table", "Use CREATE INDEX CONCURRENTLY"},
	))
	_, err := s.builder.Build(context.Background(), vectorstore.BuildOptions{})
	require.NoError(t, err)

	result, err := s.handleVectorSearch(context.Background(), toolCall("vector_search", map[string]interface{}{
		"query":          "zebra juggling walrus parade",
		"min_similarity": 0.99,
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 0, resultJSON(t, result)["count"])
}

func TestHandleVectorSearchRejects(t *testing.T) {
	s := testServer(t, nil)
	ctx := context.Background()

	_, err := s.handleVectorSearch(ctx, toolCall("vector_search", nil))
	requireToolError(t, err, ErrorCodeEmptyQuery)

	_, err = s.handleVectorSearch(ctx, toolCall("vector_search", map[string]interface{}{
		"query": "ok", "k": 0,
	}))
	requireToolError(t, err, ErrorCodeInvalidParams)
}

func TestHandleListComposers(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s,
		convoRecord("conv-a", "First", [2]string{"Q1", "A1"}),
		convoRecord("conv-b", "Second", [2]string{"Q2", "A2"}),
		convoRecord("conv-c", "Third", [2]string{"Q3", "A3"}),
	)

	result, err := s.handleListComposers(context.Background(), toolCall("list_composers", nil))
	require.NoError(t, err)
	payload := resultJSON(t, result)
	assert.EqualValues(t, 3, payload["count"])
	assert.EqualValues(t, 3, payload["total"])

	rows := payload["composers"].([]interface{})
	require.Len(t, rows, 3)
	row := rows[0].(map[string]interface{})
	assert.NotEmpty(t, row["composer_id"])
	assert.NotEmpty(t, row["title"])
	assert.NotEmpty(t, row["last_indexed_at"])

	// Limit truncates but total still reports the archive size
	result, err = s.handleListComposers(context.Background(), toolCall("list_composers", map[string]interface{}{
		"limit": 2,
	}))
	require.NoError(t, err)
	payload = resultJSON(t, result)
	assert.EqualValues(t, 2, payload["count"])
	assert.EqualValues(t, 3, payload["total"])
}

func TestHandleShowConversation(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s, convoRecord("conv-a", "Indexing chat",
		[2]string{"What does the index store", "Heads, annotations, and full text per pair"},
		[2]string{"Where do vectors live", "In a separate collection keyed by entry"},
	))

	result, err := s.handleShowConversation(context.Background(), toolCall("show_conversation", map[string]interface{}{
		"composer_id": "conv-a",
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.Equal(t, "conv-a", payload["composer_id"])
	assert.Equal(t, "Indexing chat", payload["title"])
	assert.Equal(t, "pair", payload["scope"])
	assert.EqualValues(t, 2, payload["entry_count"])

	turns := payload["turns"].([]interface{})
	require.Len(t, turns, 2)
	first := turns[0].(map[string]interface{})
	assert.Equal(t, "What does the index store", first["user_text"])
	assert.Equal(t, "Heads, annotations, and full text per pair", first["assistant_text"])
	assert.NotNil(t, first["annotations"])
}

func TestHandleShowConversationScopeMismatch(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s, convoRecord("conv-a", "Chat", [2]string{"Q", "A"}))

	// The archive holds only pair entries, so asking for turns is empty
	result, err := s.handleShowConversation(context.Background(), toolCall("show_conversation", map[string]interface{}{
		"composer_id": "conv-a",
		"scope":       "turn",
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 0, resultJSON(t, result)["entry_count"])
}

func TestHandleShowConversationErrors(t *testing.T) {
	s := testServer(t, nil)
	ctx := context.Background()

	_, err := s.handleShowConversation(ctx, toolCall("show_conversation", nil))
	requireToolError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleShowConversation(ctx, toolCall("show_conversation", map[string]interface{}{
		"composer_id": "never-indexed",
	}))
	requireToolError(t, err, ErrorCodeNotIndexed)
}

func TestHandleSummarizeConversationNoLLM(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s, convoRecord("conv-a", "Chat", [2]string{"Q", "A"}))

	_, err := s.handleSummarizeConversation(context.Background(), toolCall("summarize_conversation", map[string]interface{}{
		"composer_id": "conv-a",
	}))
	requireToolError(t, err, ErrorCodeLLMUnavailable)
}

func TestHandleSummarizeConversation(t *testing.T) {
	s := testServer(t, nil)
	seedArchive(t, s, convoRecord("conv-a", "Index design",
		[2]string{"Should entries be immutable", "Yes, rebuild on change and key by content hash"},
	))
	stub := withStubLLM(t, s, "Discussed immutable index entries keyed by content hash.")

	args := map[string]interface{}{"composer_id": "conv-a"}

	result, err := s.handleSummarizeConversation(context.Background(), toolCall("summarize_conversation", args))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.Equal(t, "conv-a", payload["composer_id"])
	assert.Equal(t, "Index design", payload["title"])
	assert.Equal(t, defaultOpenAIModel, payload["model"])
	assert.Equal(t, "Discussed immutable index entries keyed by content hash.", payload["summary"])
	assert.Equal(t, false, payload["cache_hit"])
	assert.NotEmpty(t, payload["cache_key"])

	usage := payload["usage"].(map[string]interface{})
	assert.EqualValues(t, 100, usage["prompt_tokens"])
	assert.EqualValues(t, 120, usage["total_tokens"])
	assert.Equal(t, 1, stub.calls)

	// Identical conversation text resolves from the cache
	result, err = s.handleSummarizeConversation(context.Background(), toolCall("summarize_conversation", args))
	require.NoError(t, err)
	payload = resultJSON(t, result)
	assert.Equal(t, true, payload["cache_hit"])
	assert.Equal(t, 1, stub.calls)
}

func TestHandleSummarizeConversationNotIndexed(t *testing.T) {
	s := testServer(t, nil)
	withStubLLM(t, s, "unused")

	_, err := s.handleSummarizeConversation(context.Background(), toolCall("summarize_conversation", map[string]interface{}{
		"composer_id": "ghost",
	}))
	requireToolError(t, err, ErrorCodeNotIndexed)
}

func TestTranscriptText(t *testing.T) {
	t.Run("pair entries labeled", func(t *testing.T) {
		entries := []*types.IndexEntry{
			{Scope: types.ScopePair, UserText: "What is FTS5", AssistantText: "The SQLite full text engine"},
			{Scope: types.ScopePair, UserText: "Is it fast", AssistantText: "Yes for this corpus size"},
		}
		text := transcriptText(entries)
		assert.Contains(t, text, "User: What is FTS5")
		assert.Contains(t, text, "Assistant: The SQLite full text engine")
		assert.Less(t, strings.Index(text, "What is FTS5"), strings.Index(text, "Is it fast"))
	})

	t.Run("turn entries used when no pairs exist", func(t *testing.T) {
		entries := []*types.IndexEntry{
			{Scope: types.ScopeTurn, UserText: "Only a question"},
			{Scope: types.ScopeTurn, AssistantText: "Only an answer"},
		}
		text := transcriptText(entries)
		assert.Contains(t, text, "User: Only a question")
		assert.Contains(t, text, "Assistant: Only an answer")
	})

	t.Run("pair entries exclude turn duplicates", func(t *testing.T) {
		entries := []*types.IndexEntry{
			{Scope: types.ScopePair, UserText: "pair text", AssistantText: "pair answer"},
			{Scope: types.ScopeTurn, UserText: "turn text"},
		}
		text := transcriptText(entries)
		assert.Contains(t, text, "pair text")
		assert.NotContains(t, text, "turn text")
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", transcriptText(nil))
		assert.Equal(t, "", transcriptText([]*types.IndexEntry{{Scope: types.ScopePair}}))
	})

	t.Run("long transcripts truncate", func(t *testing.T) {
		long := strings.Repeat("x", 2000)
		var entries []*types.IndexEntry
		for i := 0; i < 10; i++ {
			entries = append(entries, &types.IndexEntry{
				Scope: types.ScopePair, UserText: long, AssistantText: long,
			})
		}
		text := transcriptText(entries)
		assert.Contains(t, text, "[transcript truncated]")
		assert.LessOrEqual(t, len([]rune(text)), maxTranscriptRunes+len("[transcript truncated]\n"))
	})
}

func TestToolErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"build in progress", fmt.Errorf("busy: %w", indexer.ErrBuildInProgress), ErrorCodeBuildInProgress},
		{"configuration", fmt.Errorf("bad weights: %w", types.ErrConfiguration), ErrorCodeInvalidParams},
		{"source read", fmt.Errorf("no db: %w", types.ErrSourceRead), ErrorCodeSourceUnavailable},
		{"provider", fmt.Errorf("http 500: %w", types.ErrProvider), ErrorCodeProviderFailure},
		{"not found", fmt.Errorf("missing: %w", storage.ErrNotFound), ErrorCodeNotIndexed},
		{"unknown", fmt.Errorf("disk full"), ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireToolError(t, toolError("op", tt.err), tt.code)
		})
	}
}

func TestArgumentHelpers(t *testing.T) {
	args := map[string]interface{}{
		"float_num":  float64(7),
		"int_num":    3,
		"flag":       true,
		"name":       "value",
		"ids":        []interface{}{"a", "", 42, "b"},
		"weight_int": 2,
	}

	assert.Equal(t, 7, getIntDefault(args, "float_num", 0))
	assert.Equal(t, 3, getIntDefault(args, "int_num", 0))
	assert.Equal(t, 9, getIntDefault(args, "missing", 9))
	assert.Equal(t, true, getBoolDefault(args, "flag", false))
	assert.Equal(t, false, getBoolDefault(args, "missing", false))
	assert.Equal(t, "value", getStringDefault(args, "name", "d"))
	assert.Equal(t, "d", getStringDefault(args, "missing", "d"))
	assert.Equal(t, 2.0, getFloatDefault(args, "weight_int", 0))
	assert.Equal(t, 0.5, getFloatDefault(args, "missing", 0.5))
	assert.Equal(t, []string{"a", "b"}, getStringSlice(args, "ids"))
	assert.Nil(t, getStringSlice(args, "missing"))
}
