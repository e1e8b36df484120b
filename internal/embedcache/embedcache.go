package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/goconvo-mcp/internal/embedder"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/internal/trace"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

const (
	// DefaultMemorySize bounds the in-memory tier
	DefaultMemorySize = 10000

	// DefaultBatchSize is how many uncached texts go to the provider per call
	DefaultBatchSize = 16
)

// Store is the persistent tier. *storage.SQLiteStorage satisfies it.
type Store interface {
	GetCachedEmbedding(ctx context.Context, fingerprint string) (*storage.CachedEmbedding, error)
	PutCachedEmbedding(ctx context.Context, embedding *storage.CachedEmbedding) error
	DeleteCachedEmbedding(ctx context.Context, fingerprint string) error
	CountCachedEmbeddings(ctx context.Context) (int, error)
	ClearEmbeddingCache(ctx context.Context) error
}

// Options configures a Cache
type Options struct {
	MemorySize int           // entries in the LRU tier, DefaultMemorySize when zero
	BatchSize  int           // provider batch size, DefaultBatchSize when zero
	Tracer     *trace.Tracer // optional sink for embed_batch events
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Stores        int64 `json:"stores"`
	Corruptions   int64 `json:"corruptions"`
	MemoryEntries int   `json:"memory_entries"`
}

// inflight tracks one fingerprint being computed so concurrent requests for
// the same text wait instead of issuing their own provider call
type inflight struct {
	done chan struct{}
	vec  []float32
	err  error
}

// Cache is a two-tier embedding cache keyed by exact fingerprint. The memory
// tier is an LRU; the optional store tier persists across runs. A fingerprint
// reaches the provider at most once, no matter how many concurrent callers
// ask for it.
type Cache struct {
	provider  embedder.Embedder
	store     Store // nil for memory-only operation
	memory    *lru.Cache[string, []float32]
	batchSize int
	tracer    *trace.Tracer

	mu      sync.Mutex
	pending map[string]*inflight

	hits        atomic.Int64
	misses      atomic.Int64
	stores      atomic.Int64
	corruptions atomic.Int64
}

// New creates a Cache around the given provider. Pass a nil store for
// memory-only caching.
func New(provider embedder.Embedder, store Store, opts Options) (*Cache, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required: %w", types.ErrConfiguration)
	}

	memorySize := opts.MemorySize
	if memorySize <= 0 {
		memorySize = DefaultMemorySize
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	memory, err := lru.New[string, []float32](memorySize)
	if err != nil {
		return nil, fmt.Errorf("memory tier: %w", err)
	}

	return &Cache{
		provider:  provider,
		store:     store,
		memory:    memory,
		batchSize: batchSize,
		tracer:    opts.Tracer,
		pending:   make(map[string]*inflight),
	}, nil
}

// Fingerprint derives the cache key for a (model, text) pair. The exact bytes
// of both parts participate; no normalization is applied, so texts differing
// in whitespace or case produce distinct keys.
func Fingerprint(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the cache key this cache would use for text
func (c *Cache) Fingerprint(text string) string {
	return Fingerprint(c.provider.Model(), text)
}

// Model returns the wrapped provider's model name
func (c *Cache) Model() string {
	return c.provider.Model()
}

// Dimension returns the wrapped provider's embedding dimension
func (c *Cache) Dimension() int {
	return c.provider.Dimension()
}

// Embed returns the embedding for one text, from cache when possible
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for texts in input order. Cached fingerprints
// are served without provider traffic; the rest go to the provider in batches
// of at most the configured batch size. A provider failure stores nothing for
// the failed batch.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	model := c.provider.Model()
	positions := make(map[string][]int, len(texts))
	textByFP := make(map[string]string, len(texts))
	unique := make([]string, 0, len(texts))
	for i, text := range texts {
		fp := Fingerprint(model, text)
		if _, seen := positions[fp]; !seen {
			unique = append(unique, fp)
			textByFP[fp] = text
		}
		positions[fp] = append(positions[fp], i)
	}

	batchHits := 0
	missing := make([]string, 0)
	for _, fp := range unique {
		vec, found, err := c.lookup(ctx, fp, model)
		if err != nil {
			return nil, err
		}
		if found {
			c.hits.Add(1)
			batchHits++
			fill(results, positions[fp], vec)
			continue
		}
		c.misses.Add(1)
		missing = append(missing, fp)
	}
	if len(missing) == 0 {
		c.logBatch(len(texts), batchHits, 0)
		return results, nil
	}

	owned, waiting := c.claim(missing)
	stored := 0
	if len(owned) > 0 {
		stored = c.computeOwned(ctx, owned, textByFP)
	}

	for _, fp := range missing {
		entry := owned[fp]
		if entry == nil {
			entry = waiting[fp]
		}
		select {
		case <-entry.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry.err != nil {
			return nil, entry.err
		}
		fill(results, positions[fp], entry.vec)
	}
	c.logBatch(len(texts), batchHits, stored)
	return results, nil
}

// logBatch emits one embed_batch trace event for a completed call
func (c *Cache) logBatch(size, hits, stored int) {
	_ = c.tracer.LogEvent("embed_batch", map[string]any{
		"size":   size,
		"hits":   hits,
		"stores": stored,
	})
}

// fill copies vec into each result slot so callers cannot alias each other
func fill(results [][]float32, indices []int, vec []float32) {
	for _, i := range indices {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		results[i] = cp
	}
}

// lookup consults the memory tier then the store tier. Corrupt store rows are
// dropped and reported as a miss so the vector gets recomputed.
func (c *Cache) lookup(ctx context.Context, fp, model string) ([]float32, bool, error) {
	if vec, ok := c.memory.Get(fp); ok {
		return vec, true, nil
	}
	if c.store == nil {
		return nil, false, nil
	}

	row, err := c.store.GetCachedEmbedding(ctx, fp)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding cache read: %w", err)
	}

	if row.Model != model || row.Dimension <= 0 || len(row.Vector) != row.Dimension*4 {
		c.corruptions.Add(1)
		if delErr := c.store.DeleteCachedEmbedding(ctx, fp); delErr != nil {
			return nil, false, fmt.Errorf("dropping corrupt embedding row %s: %w: %v", fp, types.ErrCacheCorruption, delErr)
		}
		return nil, false, nil
	}

	vec := storage.DeserializeVector(row.Vector)
	c.memory.Add(fp, vec)
	return vec, true, nil
}

// claim registers missing fingerprints as in flight. Fingerprints already in
// flight from another goroutine come back in waiting.
func (c *Cache) claim(fps []string) (owned, waiting map[string]*inflight) {
	owned = make(map[string]*inflight)
	waiting = make(map[string]*inflight)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fp := range fps {
		if entry, ok := c.pending[fp]; ok {
			waiting[fp] = entry
			continue
		}
		entry := &inflight{done: make(chan struct{})}
		c.pending[fp] = entry
		owned[fp] = entry
	}
	return owned, waiting
}

// computeOwned resolves owned fingerprints through the provider in batches
// and returns how many vectors were stored. Every owned entry is completed
// and deregistered before returning, success or not.
func (c *Cache) computeOwned(ctx context.Context, owned map[string]*inflight, textByFP map[string]string) int {
	fps := make([]string, 0, len(owned))
	for fp := range owned {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	defer func() {
		c.mu.Lock()
		for _, fp := range fps {
			delete(c.pending, fp)
		}
		c.mu.Unlock()
		for _, fp := range fps {
			close(owned[fp].done)
		}
	}()

	stored := 0
	for start := 0; start < len(fps); start += c.batchSize {
		end := start + c.batchSize
		if end > len(fps) {
			end = len(fps)
		}
		chunk := fps[start:end]

		texts := make([]string, len(chunk))
		for i, fp := range chunk {
			texts[i] = textByFP[fp]
		}

		resp, err := c.provider.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			// Nothing from the failed call is stored; remaining chunks
			// inherit the error rather than hitting a failing provider again
			for _, fp := range fps[start:] {
				owned[fp].err = err
			}
			return stored
		}

		for i, fp := range chunk {
			vec := resp.Embeddings[i].Vector
			owned[fp].vec = vec
			if c.persist(ctx, fp, vec) {
				stored++
			}
		}
	}
	return stored
}

// persist writes a freshly computed vector into both tiers and reports
// whether it counted as a store
func (c *Cache) persist(ctx context.Context, fp string, vec []float32) bool {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.memory.Add(fp, stored)

	if c.store != nil {
		err := c.store.PutCachedEmbedding(ctx, &storage.CachedEmbedding{
			Fingerprint: fp,
			Model:       c.provider.Model(),
			Dimension:   len(vec),
			Vector:      storage.SerializeVector(vec),
			CreatedAt:   time.Now(),
		})
		if err != nil {
			// The vector is still served from memory this run
			return false
		}
	}
	c.stores.Add(1)
	return true
}

// Stats returns current counter values
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stores:        c.stores.Load(),
		Corruptions:   c.corruptions.Load(),
		MemoryEntries: c.memory.Len(),
	}
}

// ResetStats zeroes all counters
func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.stores.Store(0)
	c.corruptions.Store(0)
}

// PersistentCount returns the number of rows in the store tier
func (c *Cache) PersistentCount(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	return c.store.CountCachedEmbeddings(ctx)
}

// Clear empties both tiers. Counters keep their values.
func (c *Cache) Clear(ctx context.Context) error {
	c.memory.Purge()
	if c.store == nil {
		return nil
	}
	return c.store.ClearEmbeddingCache(ctx)
}
