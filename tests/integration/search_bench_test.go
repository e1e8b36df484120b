package integration

import (
	"context"
	"testing"

	"github.com/dshills/goconvo-mcp/internal/embedcache"
	"github.com/dshills/goconvo-mcp/internal/indexer"
	"github.com/dshills/goconvo-mcp/internal/searcher"
	"github.com/dshills/goconvo-mcp/internal/source"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/internal/vectorstore"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// setupSearchBench indexes a synthetic archive and builds its vector
// collection so every benchmark below searches the same corpus.
func setupSearchBench(b *testing.B) *searcher.Searcher {
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })

	src := source.NewMemorySource(benchCorpus(40, 4)...)
	if _, err := indexer.New(store).Build(context.Background(), src, &indexer.Config{Scope: types.ScopePair}); err != nil {
		b.Fatal(err)
	}

	mock := NewMockEmbedder(256)
	cache, err := embedcache.New(mock, store, embedcache.Options{})
	if err != nil {
		b.Fatal(err)
	}

	index, err := vectorstore.NewSQLiteIndex(context.Background(), store, "conversations", mock.Model(), mock.Dimension())
	if err != nil {
		b.Fatal(err)
	}

	builder, err := vectorstore.NewBuilder(index, cache, store)
	if err != nil {
		b.Fatal(err)
	}
	if _, err := builder.Build(context.Background(), vectorstore.BuildOptions{}); err != nil {
		b.Fatal(err)
	}

	return searcher.New(store, index, cache)
}

// BenchmarkSearchModes benchmarks each scoring mode over the same corpus
func BenchmarkSearchModes(b *testing.B) {
	srch := setupSearchBench(b)

	modes := []searcher.SearchMode{
		searcher.SearchModeSparse,
		searcher.SearchModeDense,
		searcher.SearchModeHybrid,
	}

	for _, mode := range modes {
		b.Run(string(mode), func(b *testing.B) {
			req := searcher.SearchRequest{
				Query: "postgres checkpoint tuning in production",
				Mode:  mode,
				Limit: 10,
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := srch.Search(context.Background(), req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkFilteredSearch benchmarks composer-scoped hybrid search
func BenchmarkFilteredSearch(b *testing.B) {
	srch := setupSearchBench(b)

	req := searcher.SearchRequest{
		Query:      "goroutine leak in the worker pool",
		Mode:       searcher.SearchModeHybrid,
		Limit:      10,
		ComposerID: "bench-composer-001",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := srch.Search(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCachedSearch benchmarks the query cache hit path. The priming
// call outside the loop stores the response; every timed call replays it.
func BenchmarkCachedSearch(b *testing.B) {
	srch := setupSearchBench(b)

	req := searcher.SearchRequest{
		Query:    "cache invalidation strategy",
		Mode:     searcher.SearchModeSparse,
		Limit:    10,
		UseCache: true,
	}
	if _, err := srch.Search(context.Background(), req); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := srch.Search(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
