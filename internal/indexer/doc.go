// Package indexer coordinates the end-to-end build pipeline for
// conversation archives.
//
// The indexer pulls conversation records from a source backend, chunks
// them into index entries, and persists them, managing concurrency and
// per-record error handling so one unreadable conversation never costs
// the whole run.
//
// # Basic Usage
//
//	idx := indexer.New(store)
//
//	stats, err := idx.Build(ctx, src, &indexer.Config{
//	    Scope:   types.ScopePair,
//	    Workers: 4,
//	})
//
//	fmt.Printf("Indexed %d composers in %v\n", stats.ComposersIndexed, stats.Duration)
//
// # Build Pipeline
//
// One build executes per composer:
//
//  1. Discovery: list composers from the source, apply MaxComposers in
//     discovery order
//  2. Fetch: read the composer's conversation record
//  3. Chunk: derive entries at the configured scope with heads and
//     annotations
//  4. Store: upsert the composer and its entries in one transaction,
//     prune rows past the kept range
//
// Composers are processed in parallel under an errgroup bounded by
// Config.Workers.
//
// # Incremental Rebuilds
//
// Entries carry the identity (composer, turn index, scope). Rebuilding
// from an unchanged source rewrites nothing:
//
//	// First build: every entry is new
//	stats1, _ := idx.Build(ctx, src, nil)
//	// entries_created: 412, entries_unchanged: 0
//
//	// Second build over the same source
//	stats2, _ := idx.Build(ctx, src, nil)
//	// entries_created: 0, entries_unchanged: 412
//
// A conversation whose text changed is rewritten in place; one that
// shrank has its trailing rows pruned.
//
// # Partial Failure
//
// Fetch and chunk failures are counted, never fatal:
//
//	stats, err := idx.Build(ctx, src, nil)
//	// err is nil even when some records were unreadable
//
//	for _, reason := range stats.SkipReasons {
//	    log.Println(reason) // "composer-id: <what went wrong>"
//	}
//
// Cancellation is the one early exit: the returned stats are marked
// Incomplete and entries already upserted stay in the database.
//
// # Concurrent Builds
//
// A non-blocking atomic lock guards the database. A Build call that
// finds another run in flight returns ErrBuildInProgress immediately
// instead of queueing.
//
// # Inline Embeddings
//
// With Config.GenerateEmbeddings and a cache wired via
// NewWithEmbeddings, each indexed entry's embed text is pushed through
// the embedding cache during the build, so a later vector build finds
// its vectors precomputed. Failures here only increment
// EmbeddingsFailed.
//
// # Snapshots
//
//	n, err := idx.ExportSnapshot(ctx, f)       // one JSON object per line
//	stats, err := idx.ImportSnapshot(ctx, f)   // upserts lines back
//
// Export orders lines by entry identity so diffs between snapshots are
// stable. Import drops and counts malformed lines instead of failing.
package indexer
