// Package searcher implements hybrid conversation retrieval combining
// lexical token overlap and vector similarity.
//
// The searcher provides three search modes:
//   - Hybrid: Weighted blend of sparse + dense scores (recommended)
//   - Sparse: Lexical token overlap only (works offline)
//   - Dense: Vector similarity only
//
// # Basic Usage
//
//	s := searcher.New(store, index, embedCache)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "why did we switch to websocket transport",
//	    Limit: 10,
//	    Mode:  searcher.SearchModeHybrid,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("%s  combined=%.2f sparse=%.2f dense=%.2f\n",
//	        r.EntryKey, r.CombinedScore, r.SparseScore, r.DenseScore)
//	}
//
// # Scoring
//
// Sparse score is the fraction of distinct query tokens present in an
// entry's text or meta tokens, so it always lands in [0,1]. Annotation
// tags participate: the query token "deploy" matches an entry tagged
// "deploy" even when the conversation text never uses the word.
//
// Dense score is the vector index similarity, already normalized to
// [0,1] by the vectorstore package.
//
// Hybrid mode combines the two:
//
//	combined = (w_sparse*sparse + w_dense*dense) / (w_sparse + w_dense)
//
// Weights default to 0.5/0.5. Negative weights, or a pair that is zero
// on both sides, are rejected as a configuration error.
//
// Results are ordered by combined score descending, then dense score
// descending, then entry key ascending, so equal-scored entries rank
// deterministically.
//
// # Degradation
//
// Dense and hybrid requests do not fail when dense scoring is
// impossible. A nil vector index, a nil embedder, or an embedding or
// index error at query time all fall back to sparse-only ranking, with
// SearchResponse.DenseUnavailable set so callers can tell. Context
// cancellation is the one exception and is returned as an error.
//
// # Caching
//
// Responses are cached in an LRU keyed by a hash of the request
// parameters, with a per-request TTL (default 1 hour). Index builds call
// InvalidateCache to drop rankings computed from replaced data.
// Concurrent identical searches are coalesced into a single execution.
package searcher
