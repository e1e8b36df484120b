// Package vectorstore maintains per-namespace vector indexes over the
// conversation archive and answers nearest-neighbor queries with normalized
// similarities.
//
// # Backends
//
// Two interchangeable Index implementations exist behind one interface:
//
//   - SQLiteIndex stores vectors in the archive database itself. It is the
//     default: one file, durable, and filterable with SQL.
//   - ChromemIndex stores vectors in a chromem-go collection for a pure
//     in-process index with no SQL involved.
//
// A namespace has a fixed dimensionality chosen at creation. Vectors of any
// other length are rejected with a configuration error before anything is
// written, so a bad batch never leaves a namespace half-updated.
//
// # Queries
//
// Query returns up to k matches ordered by similarity descending with ties
// broken by ascending entry key. Raw cosine similarity in [-1, 1] is mapped
// onto [0, 1], so scores compose directly with sparse scores during hybrid
// ranking.
//
// # Incremental builds
//
// Builder compares each entry's content hash against the hash stored with
// its vector and re-embeds only entries that are new or changed, deleting
// vectors whose entries disappeared from the archive:
//
//	builder, err := vectorstore.NewBuilder(index, cache, store)
//	if err != nil {
//	    return err
//	}
//	stats, err := builder.Build(ctx, vectorstore.BuildOptions{})
//
// Running Build twice over an unchanged archive embeds nothing the second
// time. Embedding goes through the embedding cache, so even a forced
// rebuild reuses previously computed vectors.
package vectorstore
