package searcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/internal/vectorstore"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// SearchMode determines which scoring signals a search uses.
type SearchMode string

const (
	SearchModeSparse SearchMode = "sparse" // lexical token overlap only
	SearchModeDense  SearchMode = "dense"  // vector similarity only
	SearchModeHybrid SearchMode = "hybrid" // weighted blend of both
)

const (
	// DefaultLimit is the result count used when a request does not set one.
	DefaultLimit = 10
	// MaxLimit caps the result count of any single search.
	MaxLimit = 100
	// DefaultCacheTTL is how long cached responses stay valid.
	DefaultCacheTTL = time.Hour
	// DefaultSparseWeight and DefaultDenseWeight give both signals equal say.
	DefaultSparseWeight = 0.5
	DefaultDenseWeight  = 0.5

	// queryCacheSize bounds the response cache entry count.
	queryCacheSize = 1000

	// candidateFactor over-fetches candidates relative to the requested
	// limit so post-filtering and score merging still fill the page.
	candidateFactor = 4
	maxCandidates   = 400
)

// Weights control the sparse/dense blend in hybrid mode. The pair is
// normalized by its sum when combining, so any valid weights keep the
// combined score in [0,1].
type Weights struct {
	Sparse float64 `json:"sparse"`
	Dense  float64 `json:"dense"`
}

// DefaultWeights returns the equal 0.5/0.5 blend.
func DefaultWeights() Weights {
	return Weights{Sparse: DefaultSparseWeight, Dense: DefaultDenseWeight}
}

func (w Weights) validate() error {
	if w.Sparse < 0 || w.Dense < 0 {
		return fmt.Errorf("%w: search weights must be non-negative (sparse=%g, dense=%g)",
			types.ErrConfiguration, w.Sparse, w.Dense)
	}
	if w.Sparse == 0 && w.Dense == 0 {
		return fmt.Errorf("%w: search weights must not both be zero", types.ErrConfiguration)
	}
	return nil
}

// QueryEmbedder produces the embedding for a query string. The embedding
// cache satisfies this, so repeated queries do not hit the provider.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchRequest contains parameters for a search operation.
type SearchRequest struct {
	Query      string      `json:"query"`
	Mode       SearchMode  `json:"mode,omitempty"`        // defaults to hybrid
	Limit      int         `json:"limit,omitempty"`       // defaults to 10, capped at 100
	ComposerID string      `json:"composer_id,omitempty"` // restrict to one conversation
	Scope      types.Scope `json:"scope,omitempty"`       // restrict to one entry scope
	Weights    *Weights    `json:"weights,omitempty"`     // nil means DefaultWeights

	UseCache bool          `json:"use_cache,omitempty"`
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`
}

// SearchResult is one ranked entry. All three scores are populated so
// callers can see how a result earned its position.
type SearchResult struct {
	EntryKey      string            `json:"entry_key"`
	ComposerID    string            `json:"composer_id"`
	TurnIndex     int               `json:"turn_index"`
	Scope         types.Scope       `json:"scope"`
	UserHead      string            `json:"user_head,omitempty"`
	AssistantHead string            `json:"assistant_head,omitempty"`
	Annotations   types.Annotations `json:"annotations"`
	SparseScore   float64           `json:"sparse_score"`
	DenseScore    float64           `json:"dense_score"`
	CombinedScore float64           `json:"combined_score"`
}

// SearchResponse contains ranked results and execution metadata.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
	SearchMode   SearchMode     `json:"search_mode"`
	Duration     time.Duration  `json:"duration"`
	CacheHit     bool           `json:"cache_hit"`

	// DenseUnavailable is set when a dense or hybrid request fell back to
	// sparse-only ranking because no vector index or embedder was usable.
	DenseUnavailable bool `json:"dense_unavailable,omitempty"`

	SparseCandidates int `json:"sparse_candidates"`
	DenseCandidates  int `json:"dense_candidates"`
}

// cacheEntry wraps a cached search response with its expiration time.
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher executes sparse, dense, and hybrid searches over the
// conversation index. The vector index and embedder are optional; without
// them dense and hybrid requests degrade to sparse ranking.
type Searcher struct {
	storage storage.Storage
	index   vectorstore.Index
	embed   QueryEmbedder

	queryCache *lru.Cache[[32]byte, cacheEntry]
	group      singleflight.Group
}

// New creates a Searcher. index and embed may be nil.
func New(store storage.Storage, index vectorstore.Index, embed QueryEmbedder) *Searcher {
	// Size is a positive constant, so construction cannot fail.
	cache, _ := lru.New[[32]byte, cacheEntry](queryCacheSize)
	return &Searcher{
		storage:    store,
		index:      index,
		embed:      embed,
		queryCache: cache,
	}
}

// Search performs a search based on the request parameters.
//
// Concurrent identical requests are coalesced into one execution; every
// caller receives its own copy of the shared response.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	key := computeQueryHash(req)
	if req.UseCache {
		if resp, ok := s.checkCache(key); ok {
			resp.CacheHit = true
			resp.Duration = time.Since(startTime)
			return resp, nil
		}
	}

	shared, err, _ := s.group.Do(hex.EncodeToString(key[:]), func() (any, error) {
		return s.runSearch(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	if req.UseCache {
		s.storeInCache(key, shared.(*SearchResponse), req.CacheTTL)
	}

	resp := copyResponse(shared.(*SearchResponse))
	resp.Duration = time.Since(startTime)
	return resp, nil
}

// InvalidateCache drops all cached responses. Index and vector builds
// call this so stale rankings do not outlive the data they were computed
// from.
func (s *Searcher) InvalidateCache() {
	s.queryCache.Purge()
}

// validateRequest fills defaults and rejects unusable parameters.
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fmt.Errorf("search query cannot be empty")
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}

	if req.CacheTTL <= 0 {
		req.CacheTTL = DefaultCacheTTL
	}

	if req.Weights == nil {
		w := DefaultWeights()
		req.Weights = &w
	} else if err := req.Weights.validate(); err != nil {
		return err
	}

	return nil
}

func (s *Searcher) runSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	switch req.Mode {
	case SearchModeSparse:
		return s.searchSparse(ctx, req)
	case SearchModeDense:
		return s.searchDense(ctx, req)
	case SearchModeHybrid:
		return s.searchHybrid(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
}

// scoredEntry accumulates per-entry scores during candidate merging.
type scoredEntry struct {
	entry  *types.IndexEntry
	sparse float64
	dense  float64
}

func (s *Searcher) searchSparse(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	tokens := queryTokens(req.Query)
	cands, err := s.sparseCandidates(ctx, req, tokens)
	if err != nil {
		return nil, err
	}

	resp := buildResponse(req, SearchModeSparse, cands, func(sp, _ float64) float64 { return sp })
	resp.SparseCandidates = len(cands)
	return resp, nil
}

func (s *Searcher) searchDense(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	dense, available, err := s.denseMatches(ctx, req)
	if err != nil {
		return nil, err
	}
	if !available {
		resp, err := s.searchSparse(ctx, req)
		if err != nil {
			return nil, err
		}
		resp.SearchMode = SearchModeDense
		resp.DenseUnavailable = true
		return resp, nil
	}

	tokens := queryTokens(req.Query)
	cands := s.hydrateDense(ctx, dense, tokens)

	resp := buildResponse(req, SearchModeDense, cands, func(_, d float64) float64 { return d })
	resp.DenseCandidates = len(dense)
	return resp, nil
}

func (s *Searcher) searchHybrid(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	tokens := queryTokens(req.Query)
	cands, err := s.sparseCandidates(ctx, req, tokens)
	if err != nil {
		return nil, err
	}
	sparseCount := len(cands)

	dense, available, err := s.denseMatches(ctx, req)
	if err != nil {
		return nil, err
	}
	if !available {
		resp := buildResponse(req, SearchModeHybrid, cands, func(sp, _ float64) float64 { return sp })
		resp.SparseCandidates = sparseCount
		resp.DenseUnavailable = true
		return resp, nil
	}

	// Merge dense hits into the sparse candidate set. Entries only the
	// vector index surfaced are hydrated from storage so their sparse
	// score comes from the same text as everyone else's.
	for key, sim := range dense {
		if c, ok := cands[key]; ok {
			c.dense = sim
			continue
		}
		entry := s.fetchEntry(ctx, key)
		if entry == nil {
			continue
		}
		cands[key] = &scoredEntry{entry: entry, sparse: sparseScore(entry, tokens), dense: sim}
	}

	ws, wd := req.Weights.Sparse, req.Weights.Dense
	sum := ws + wd
	resp := buildResponse(req, SearchModeHybrid, cands, func(sp, d float64) float64 {
		return (ws*sp + wd*d) / sum
	})
	resp.SparseCandidates = sparseCount
	resp.DenseCandidates = len(dense)
	return resp, nil
}

// sparseCandidates retrieves and scores lexical candidates. FTS supplies
// the candidate pool; when it yields nothing usable the index is scanned
// directly, which keeps tag-only and punctuation-heavy queries answerable.
func (s *Searcher) sparseCandidates(ctx context.Context, req SearchRequest, tokens []string) (map[string]*scoredEntry, error) {
	cands := make(map[string]*scoredEntry)

	entries, err := s.storage.SearchEntries(ctx, req.Query, candidatePool(req.Limit))
	if err == nil {
		scoreInto(cands, entries, req, tokens)
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if len(cands) == 0 {
		entries, err = s.scanEntries(ctx, req)
		if err != nil {
			return nil, err
		}
		scoreInto(cands, entries, req, tokens)
	}

	return cands, nil
}

func scoreInto(cands map[string]*scoredEntry, entries []*types.IndexEntry, req SearchRequest, tokens []string) {
	for _, entry := range entries {
		if !entryInScope(entry, req) {
			continue
		}
		score := sparseScore(entry, tokens)
		if score <= 0 {
			continue
		}
		cands[entry.Key()] = &scoredEntry{entry: entry, sparse: score}
	}
}

func (s *Searcher) scanEntries(ctx context.Context, req SearchRequest) ([]*types.IndexEntry, error) {
	if req.ComposerID != "" {
		return s.storage.ListEntries(ctx, req.ComposerID)
	}
	return s.storage.ListAllEntries(ctx)
}

// denseMatches embeds the query and runs the vector index. available is
// false when dense scoring cannot be used; only context cancellation is
// surfaced as an error, every other failure degrades.
func (s *Searcher) denseMatches(ctx context.Context, req SearchRequest) (map[string]float64, bool, error) {
	if s.index == nil || s.embed == nil {
		return nil, false, nil
	}

	vec, err := s.embed.Embed(ctx, req.Query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, nil
	}

	matches, err := s.index.Query(ctx, vec, candidatePool(req.Limit), queryFilters(req))
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, nil
	}

	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		scores[m.EntryKey] = m.Similarity
	}
	return scores, true, nil
}

func (s *Searcher) hydrateDense(ctx context.Context, dense map[string]float64, tokens []string) map[string]*scoredEntry {
	cands := make(map[string]*scoredEntry, len(dense))
	for key, sim := range dense {
		entry := s.fetchEntry(ctx, key)
		if entry == nil {
			continue
		}
		cands[key] = &scoredEntry{entry: entry, sparse: sparseScore(entry, tokens), dense: sim}
	}
	return cands
}

// fetchEntry resolves an entry key against storage. Keys the index still
// holds for entries that were since pruned resolve to nil and are
// skipped.
func (s *Searcher) fetchEntry(ctx context.Context, key string) *types.IndexEntry {
	composerID, turnIndex, scope, ok := vectorstore.ParseEntryKey(key)
	if !ok {
		return nil
	}
	entry, err := s.storage.GetEntry(ctx, composerID, turnIndex, scope)
	if err != nil {
		return nil
	}
	return entry
}

func buildResponse(req SearchRequest, mode SearchMode, cands map[string]*scoredEntry, combine func(sparse, dense float64) float64) *SearchResponse {
	results := make([]SearchResult, 0, len(cands))
	for key, c := range cands {
		results = append(results, SearchResult{
			EntryKey:      key,
			ComposerID:    c.entry.ComposerID,
			TurnIndex:     c.entry.TurnIndex,
			Scope:         c.entry.Scope,
			UserHead:      c.entry.UserHead,
			AssistantHead: c.entry.AssistantHead,
			Annotations:   copyAnnotations(c.entry.Annotations),
			SparseScore:   c.sparse,
			DenseScore:    c.dense,
			CombinedScore: combine(c.sparse, c.dense),
		})
	}

	sortResults(results)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		SearchMode:   mode,
	}
}

// sortResults orders by combined score descending, dense score
// descending, entry key ascending. The key tie-break keeps rankings
// deterministic.
func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		if results[i].DenseScore != results[j].DenseScore {
			return results[i].DenseScore > results[j].DenseScore
		}
		return results[i].EntryKey < results[j].EntryKey
	})
}

// sparseScore is the fraction of distinct query tokens found in the
// entry's text or meta tokens, in [0,1]. Annotation tags match because
// the haystack includes MetaBits output ("tag:deploy" contains "deploy").
func sparseScore(entry *types.IndexEntry, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}

	hay := entryHaystack(entry)
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(hay, tok) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

func entryHaystack(entry *types.IndexEntry) string {
	var b strings.Builder
	b.WriteString(entry.Text())
	for _, bit := range entry.Annotations.MetaBits() {
		b.WriteByte('\n')
		b.WriteString(bit)
	}
	return strings.ToLower(b.String())
}

// queryTokens splits a query into distinct lowercase tokens with edge
// punctuation stripped.
func queryTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'.,;:!?()[]{}`)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

func entryInScope(entry *types.IndexEntry, req SearchRequest) bool {
	if req.ComposerID != "" && entry.ComposerID != req.ComposerID {
		return false
	}
	if req.Scope != "" && entry.Scope != req.Scope {
		return false
	}
	return true
}

func queryFilters(req SearchRequest) *vectorstore.Filters {
	if req.ComposerID == "" && req.Scope == "" {
		return nil
	}
	return &vectorstore.Filters{ComposerID: req.ComposerID, Scope: req.Scope}
}

func candidatePool(limit int) int {
	pool := limit * candidateFactor
	if pool > maxCandidates {
		pool = maxCandidates
	}
	return pool
}

// computeQueryHash fingerprints everything that affects a response.
// Requests that resolve to the same parameters share a cache slot.
func computeQueryHash(req SearchRequest) [32]byte {
	w := DefaultWeights()
	if req.Weights != nil {
		w = *req.Weights
	}
	key := fmt.Sprintf("%s|%s|%d|%s|%s|%.6f|%.6f",
		req.Query, req.Mode, req.Limit, req.ComposerID, req.Scope, w.Sparse, w.Dense)
	return sha256.Sum256([]byte(key))
}

func (s *Searcher) checkCache(key [32]byte) (*SearchResponse, bool) {
	entry, ok := s.queryCache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		s.queryCache.Remove(key)
		return nil, false
	}
	return copyResponse(entry.response), true
}

func (s *Searcher) storeInCache(key [32]byte, resp *SearchResponse, ttl time.Duration) {
	s.queryCache.Add(key, cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(ttl),
	})
}

// copyResponse deep-copies a response so callers and the cache never
// share mutable state.
func copyResponse(resp *SearchResponse) *SearchResponse {
	out := *resp
	out.Results = make([]SearchResult, len(resp.Results))
	copy(out.Results, resp.Results)
	for i := range out.Results {
		out.Results[i].Annotations = copyAnnotations(out.Results[i].Annotations)
	}
	return &out
}

func copyAnnotations(a types.Annotations) types.Annotations {
	out := a
	if a.Tags != nil {
		out.Tags = append([]string(nil), a.Tags...)
	}
	return out
}
