// Package storage provides SQLite-based persistence for indexed conversation data.
//
// The storage layer manages:
//   - Composer metadata (conversation threads)
//   - Index entries and content hashes
//   - Embedding collections and their vectors
//   - The persistent embedding cache
//   - The persistent LLM response cache
//   - Full-text search indexes
//
// # Database Schema
//
// Tables:
//   - composers: Conversation metadata (composer id, title, repo hint)
//   - entries: Retrieval units keyed by (composer_id, turn_index, scope)
//   - entries_fts: FTS5 full-text search index over entry heads
//   - collections: Embedding namespaces with model and dimension
//   - vectors: Embeddings per entry, one row per (collection, entry_key)
//   - embedding_cache: Provider results keyed by content fingerprint
//   - llm_cache: LLM responses keyed by request hash
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.goconvo/goconvo.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Store a composer
//	err = db.UpsertComposer(ctx, &storage.Composer{
//	    ComposerID: "4f2a...",
//	    Title:      "fix flaky websocket test",
//	    RepoHint:   "myservice",
//	})
//
// # Transactions
//
// Use transactions for atomic operations:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	// Multiple operations in transaction
//	_ = tx.UpsertComposer(ctx, composer)
//	for _, entry := range entries {
//	    _, _ = tx.UpsertEntry(ctx, entry)
//	}
//
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// # Upsert Semantics
//
// UpsertEntry keys on (composer_id, turn_index, scope) and reports what it did:
//
//	outcome, err := db.UpsertEntry(ctx, entry)
//	switch outcome {
//	case storage.OutcomeCreated:   // new row
//	case storage.OutcomeUpdated:   // content or annotations changed
//	case storage.OutcomeUnchanged: // stored row already identical, no write
//	}
//
// Re-running an index over an unchanged source therefore leaves the
// database byte-for-byte identical.
//
// # Vector Operations
//
// Vectors are grouped into collections. A collection fixes the embedding
// model and dimensionality; every vector row stored under it must match.
//
//	// Register a collection
//	err := db.UpsertCollection(ctx, &storage.Collection{
//	    Name:      "pairs_openai",
//	    Model:     "text-embedding-3-small",
//	    Dimension: 1536,
//	})
//
//	// Store a vector
//	err = db.UpsertVector(ctx, &storage.Vector{
//	    Collection: "pairs_openai",
//	    EntryKey:   entry.Key(),
//	    ComposerID: entry.ComposerID,
//	    Vector:     storage.SerializeVector(embedding),
//	    Dimension:  len(embedding),
//	})
//
//	// Similarity search (raw cosine, descending)
//	results, err := db.SearchVectors(ctx, "pairs_openai", queryVector, 10, nil)
//
// Vector search uses cosine similarity via sqlite-vec extension (CGO build)
// or pure Go implementation (purego build). Equal similarities order by
// entry key ascending in both paths.
//
// # Full-Text Search
//
// SearchEntries retrieves candidate entries ranked by BM25:
//
//	entries, err := db.SearchEntries(ctx, "websocket timeout", 200)
//
// Query tokens are quoted before matching, so FTS5 operators in user
// input are inert. FTS indexes are maintained by triggers on the
// entries table.
//
// # Incremental Vector Builds
//
// ListVectorHashes supports skipping unchanged entries:
//
//	stored, _ := db.ListVectorHashes(ctx, "pairs_openai")
//	for _, entry := range entries {
//	    if stored[entry.Key()] == entry.ContentHash() {
//	        continue // vector still current
//	    }
//	    // re-embed and upsert
//	}
//
// # Build Tags
//
// The storage package supports two build configurations:
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Includes sqlite-vec extension for fast vector operations
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - Pure Go vector operations (slower)
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
