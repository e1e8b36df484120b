// Package embedcache caches embeddings across two tiers keyed by an exact
// fingerprint of (model, text).
//
// The memory tier is a bounded LRU; the optional persistent tier survives
// restarts in the embedding_cache table. A fingerprint reaches the provider
// at most once regardless of concurrency: concurrent requests for the same
// text coalesce onto a single in-flight computation, and batch requests
// group their uncached texts into provider calls of a configured size.
//
//	cache, err := embedcache.New(provider, store, embedcache.Options{})
//	if err != nil {
//	    return err
//	}
//
//	vectors, err := cache.EmbedBatch(ctx, texts)
//
// # Fingerprints
//
// Fingerprint(model, text) hashes the exact bytes of both parts. There is no
// whitespace or case normalization: "Deploy failed" and "deploy failed" are
// different cache entries. Changing the model invalidates nothing; it simply
// keys into a disjoint set of fingerprints.
//
// # Failure handling
//
// A provider failure stores nothing for the failed batch, so transient
// outages never poison the cache. Corrupt persistent rows (wrong blob size,
// model mismatch under the same fingerprint) are dropped and recomputed on
// the next request; only a failure to drop such a row surfaces as
// types.ErrCacheCorruption.
//
// # Counters
//
// Hits and misses count once per unique fingerprint per call. A request that
// waits on another goroutine's in-flight computation counts as a miss, since
// it was not served from a tier. Stores counts fingerprints this cache
// persisted.
package embedcache
