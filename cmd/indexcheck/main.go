package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dshills/goconvo-mcp/internal/embedcache"
	"github.com/dshills/goconvo-mcp/internal/embedder"
	"github.com/dshills/goconvo-mcp/internal/indexer"
	"github.com/dshills/goconvo-mcp/internal/searcher"
	"github.com/dshills/goconvo-mcp/internal/source"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/internal/vectorstore"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// sampleConversations is a tiny corpus exercising every pipeline stage:
// coalescing, annotation, embedding, and hybrid ranking.
func sampleConversations() []types.ConversationRecord {
	return []types.ConversationRecord{
		{
			ComposerID: "check-postgres",
			Title:      "Postgres index locking",
			Turns: []types.Turn{
				{Role: types.RoleUser, Text: "How do I add an index to a postgres table without locking writes?"},
				{Role: types.RoleAssistant, Text: "Use CREATE INDEX CONCURRENTLY."},
				{Role: types.RoleAssistant, Text: "It builds the index without taking an exclusive lock, at the cost of a slower build."},
			},
		},
		{
			ComposerID: "check-channels",
			Title:      "Buffered channels",
			Turns: []types.Turn{
				{Role: types.RoleUser, Text: "When should a channel be buffered?"},
				{Role: types.RoleAssistant, Text: "Buffer when the producer may briefly outpace the consumer:\n\n```go\nch := make(chan job, 16)\n```"},
			},
		},
		{
			ComposerID: "check-context",
			Title:      "Context cancellation",
			Turns: []types.Turn{
				{Role: types.RoleUser, Text: "How does context cancellation propagate?"},
				{Role: types.RoleAssistant, Text: "Cancelling a parent context cancels every context derived from it."},
			},
		},
	}
}

// rankedResults converts a search response into the public result type,
// validating that every hit carries a well-formed key, rank, and scores.
func rankedResults(resp *searcher.SearchResponse) ([]types.RetrievalResult, error) {
	ranked := make([]types.RetrievalResult, 0, len(resp.Results))
	for i := range resp.Results {
		r := &resp.Results[i]
		rr := types.RetrievalResult{
			EntryKey:      r.EntryKey,
			Rank:          i + 1,
			Combined:      r.CombinedScore,
			Sparse:        r.SparseScore,
			Dense:         r.DenseScore,
			ComposerID:    r.ComposerID,
			TurnIndex:     r.TurnIndex,
			Scope:         r.Scope,
			UserHead:      r.UserHead,
			AssistantHead: r.AssistantHead,
			Annotations:   &r.Annotations,
		}
		if err := rr.Validate(); err != nil {
			return nil, fmt.Errorf("result %d (%s): %w", i+1, r.EntryKey, err)
		}
		ranked = append(ranked, rr)
	}
	return ranked, nil
}

func main() {
	fmt.Println("Checking the conversation indexing pipeline...")
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	provider, err := embedder.New(embedder.Config{Provider: "local"})
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	defer provider.Close()

	cache, err := embedcache.New(provider, store, embedcache.Options{})
	if err != nil {
		log.Fatalf("Failed to create embedding cache: %v", err)
	}

	// Index the sample conversations at pair scope
	idx := indexer.NewWithEmbeddings(store, cache)
	stats, err := idx.Build(ctx, source.NewMemorySource(sampleConversations()...), &indexer.Config{
		Scope:   types.ScopePair,
		Workers: 2,
	})
	if err != nil {
		log.Fatalf("Failed to build index: %v", err)
	}

	fmt.Printf("\nIndexing Statistics:\n")
	fmt.Printf("  Composers Indexed: %d\n", stats.ComposersIndexed)
	fmt.Printf("  Entries Created: %d\n", stats.EntriesCreated)
	fmt.Printf("  Records Skipped: %d\n", stats.RecordsSkipped)
	fmt.Printf("  Duration: %v\n", stats.Duration)

	// Vectorize the archive
	index, err := vectorstore.NewSQLiteIndex(ctx, store, "conversations", provider.Model(), provider.Dimension())
	if err != nil {
		log.Fatalf("Failed to open vector index: %v", err)
	}
	defer index.Close()

	builder, err := vectorstore.NewBuilder(index, cache, store)
	if err != nil {
		log.Fatalf("Failed to create vector builder: %v", err)
	}
	buildStats, err := builder.Build(ctx, vectorstore.BuildOptions{})
	if err != nil {
		log.Fatalf("Failed to build vectors: %v", err)
	}

	fmt.Printf("\nVector Build:\n")
	fmt.Printf("  Entries Considered: %d\n", buildStats.EntriesConsidered)
	fmt.Printf("  Vectors Added: %d\n", buildStats.VectorsAdded)
	fmt.Printf("  Duration: %v\n", buildStats.Duration)

	// Run one hybrid search over the fresh archive
	search := searcher.New(store, index, cache)
	resp, err := search.Search(ctx, searcher.SearchRequest{
		Query: "postgres index locking",
		Mode:  searcher.SearchModeHybrid,
		Limit: 3,
	})
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	ranked, err := rankedResults(resp)
	if err != nil {
		log.Fatalf("Search produced an invalid result: %v", err)
	}

	fmt.Printf("\nHybrid Search (%q):\n", "postgres index locking")
	for _, r := range ranked {
		fmt.Printf("  %d. %s [sparse %.2f, dense %.2f] %s\n",
			r.Rank, r.ComposerID, r.Sparse, r.Dense, r.UserHead)
	}

	embedStats := cache.Stats()
	fmt.Printf("\nEmbedding Cache:\n")
	fmt.Printf("  Misses: %d\n", embedStats.Misses)
	fmt.Printf("  Stores: %d\n", embedStats.Stores)

	if len(ranked) > 0 && ranked[0].ComposerID == "check-postgres" {
		fmt.Println("\n✓ SUCCESS: indexed, vectorized, and retrieved the expected conversation")
		return
	}
	fmt.Println("\n✗ FAILURE: expected conversation did not rank first")
	os.Exit(1)
}
