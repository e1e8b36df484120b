package llmcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/dshills/goconvo-mcp/internal/llm"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/internal/trace"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

const (
	// DefaultHotCostBytes bounds the in-memory tier
	DefaultHotCostBytes = 64 << 20

	// hotCounters sizes ristretto's admission frequency sketch
	hotCounters = 100_000
)

// Request is one cacheable LLM call. JobMeta travels into the trace record
// but never into the cache key.
type Request struct {
	llm.Request
	JobMeta map[string]string
}

// Result is the cache's answer: the response plus where it came from
type Result struct {
	Response llm.Response `json:"response"`
	Key      string       `json:"key"`
	CacheHit bool         `json:"cache_hit"`
}

// RunSummary reports cache effectiveness for the current process
type RunSummary struct {
	Hits          int64          `json:"hits"`
	Misses        int64          `json:"misses"`
	Stores        int64          `json:"stores"`
	ProviderCalls int64          `json:"provider_calls"`
	Corruptions   int64          `json:"corruptions"`
	Trace         trace.Counters `json:"trace"`
}

// Options wires a cache
type Options struct {
	// Caller executes misses. Required.
	Caller llm.Caller

	// Store is the persistent tier. Nil keeps responses in memory only.
	Store Store

	// Tracer receives one record per call. Nil disables tracing.
	Tracer *trace.Tracer

	// HotCostBytes overrides the memory tier budget when positive
	HotCostBytes int64
}

// Cache memoizes LLM responses under a request-content key. A hit skips the
// provider entirely; a provider failure writes nothing anywhere.
type Cache struct {
	caller llm.Caller
	store  Store
	tracer *trace.Tracer
	hot    *ristretto.Cache

	hits          atomic.Int64
	misses        atomic.Int64
	stores        atomic.Int64
	providerCalls atomic.Int64
	corruptions   atomic.Int64
}

// New builds a cache
func New(opts Options) (*Cache, error) {
	if opts.Caller == nil {
		return nil, fmt.Errorf("llm caller is required: %w", types.ErrConfiguration)
	}
	maxCost := opts.HotCostBytes
	if maxCost <= 0 {
		maxCost = DefaultHotCostBytes
	}

	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: hotCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("build hot cache: %w", err)
	}

	return &Cache{
		caller: opts.Caller,
		store:  opts.Store,
		tracer: opts.Tracer,
		hot:    hot,
	}, nil
}

// Key derives the cache key from everything that shapes the response: the
// operation, model, instructions, each input segment in order, and the
// canonicalized parameters. Two requests differing in any part get distinct
// keys.
func Key(req llm.Request) (string, error) {
	params, err := canonicalParams(req.Params)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, part := range []string{req.Op, req.Model, req.Instructions} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	for _, input := range req.Input {
		h.Write([]byte(input))
		h.Write([]byte{0})
	}
	h.Write(params)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalParams renders params deterministically. Map keys marshal in
// sorted order, so insertion order never shifts the key.
func canonicalParams(params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("canonicalize params: %w: %v", types.ErrConfiguration, err)
	}
	return out, nil
}

// Call answers from cache when possible, otherwise invokes the provider and
// caches the response. Every call appends one trace record, hit or miss or
// failure.
func (c *Cache) Call(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	key, err := Key(req.Request)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	if entry := c.lookup(ctx, key, req.Model); entry != nil {
		c.hits.Add(1)
		resp := entryResponse(entry)
		c.logCall(req, key, start, resp, true, false, nil)
		return &Result{Response: *resp, Key: key, CacheHit: true}, nil
	}
	c.misses.Add(1)

	c.providerCalls.Add(1)
	resp, err := c.caller.Call(ctx, req.Request)
	if err != nil {
		c.logCall(req, key, start, nil, false, false, err)
		return nil, err
	}

	entry := &storage.LLMEntry{
		Key:              key,
		Model:            req.Model,
		Response:         resp.Text,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CreatedAt:        time.Now().UTC(),
	}
	stored, persistErr := c.persist(ctx, entry)
	if stored {
		c.stores.Add(1)
	}

	c.logCall(req, key, start, resp, false, stored, persistErr)
	return &Result{Response: *resp, Key: key, CacheHit: false}, nil
}

// lookup walks hot then persistent tier. Corrupt rows count and read as
// misses; the recompute overwrites them.
func (c *Cache) lookup(ctx context.Context, key, model string) *storage.LLMEntry {
	if cached, ok := c.hot.Get(key); ok {
		if entry, ok := cached.(*storage.LLMEntry); ok && entryUsable(entry, model) {
			return entry
		}
	}

	if c.store == nil {
		return nil
	}
	entry, err := c.store.GetLLMEntry(ctx, key)
	switch {
	case err == nil:
		if !entryUsable(entry, model) {
			c.corruptions.Add(1)
			return nil
		}
		c.hotSet(entry)
		return entry
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case errors.Is(err, types.ErrCacheCorruption):
		c.corruptions.Add(1)
		return nil
	default:
		// Read failures degrade to provider calls rather than failing
		// the request
		return nil
	}
}

// entryUsable rejects rows that decoded but carry nothing servable
func entryUsable(entry *storage.LLMEntry, model string) bool {
	return entry != nil && entry.Response != "" && entry.Model == model
}

// persist writes the entry to both tiers. A persist failure does not fail
// the call: the response is already in hand, only the next process misses.
func (c *Cache) persist(ctx context.Context, entry *storage.LLMEntry) (bool, error) {
	c.hotSet(entry)
	if c.store == nil {
		return true, nil
	}
	if err := c.store.PutLLMEntry(ctx, entry); err != nil {
		return false, fmt.Errorf("persist response: %w", err)
	}
	return true, nil
}

// hotSet publishes synchronously so a hit is observable as soon as Call
// returns
func (c *Cache) hotSet(entry *storage.LLMEntry) {
	c.hot.Set(entry.Key, entry, int64(len(entry.Response)))
	c.hot.Wait()
}

func entryResponse(entry *storage.LLMEntry) *llm.Response {
	return &llm.Response{
		Text: entry.Response,
		Usage: llm.Usage{
			PromptTokens:     entry.PromptTokens,
			CompletionTokens: entry.CompletionTokens,
			TotalTokens:      entry.TotalTokens,
		},
	}
}

func (c *Cache) logCall(req Request, key string, start time.Time, resp *llm.Response, hit, stored bool, callErr error) {
	record := trace.Record{
		Endpoint:     req.Op,
		Model:        req.Model,
		Key:          key,
		Hit:          hit,
		Stored:       stored,
		LatencyMS:    time.Since(start).Milliseconds(),
		Context:      req.JobMeta,
		InputPreview: strings.Join(req.Input, "\n"),
	}
	if resp != nil {
		record.Usage = trace.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		record.OutputPreview = resp.Text
	}
	if callErr != nil {
		record.Error = callErr.Error()
	}
	_ = c.tracer.LogCall(record)
}

// Count returns how many responses the persistent tier holds
func (c *Cache) Count(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	return c.store.CountLLMEntries(ctx)
}

// Clear empties both tiers
func (c *Cache) Clear(ctx context.Context) error {
	c.hot.Clear()
	if c.store == nil {
		return nil
	}
	return c.store.ClearLLMCache(ctx)
}

// Summary snapshots the run counters
func (c *Cache) Summary() RunSummary {
	return RunSummary{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stores:        c.stores.Load(),
		ProviderCalls: c.providerCalls.Load(),
		Corruptions:   c.corruptions.Load(),
		Trace:         c.tracer.Counters(),
	}
}

// Close releases the hot cache. The store, caller and tracer belong to the
// caller.
func (c *Cache) Close() error {
	c.hot.Close()
	return nil
}
