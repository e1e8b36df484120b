// Package llmcache memoizes LLM responses and traces every call.
//
// # Keying
//
// The cache key is a SHA-256 over the ordered request parts: operation,
// model, instructions, each input segment, and the canonicalized parameter
// map. Any change to any part yields a new key; job metadata is excluded
// so re-running the same request under a different job still hits.
//
// # Tiers
//
// Lookups walk a ristretto hot layer, then the configured persistent store.
// Two stores exist behind one interface: the archive SQLite database
// (default) and redis with optional TTL. A corrupt stored value reads as a
// miss, is counted, and gets overwritten by the recomputed response.
//
// # Failure handling
//
// A provider failure stores nothing in any tier and surfaces the provider
// error unchanged. A persist failure after a successful provider call does
// not fail the call; the response is returned and only future processes
// pay for the miss.
//
// # Tracing
//
// Every call appends exactly one JSONL trace record: hits, misses, and
// failures alike, with latency, token usage, and job metadata. RunSummary
// exposes the run counters for status reporting.
package llmcache
