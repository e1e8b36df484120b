package embedcache

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/goconvo-mcp/internal/embedder"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/internal/trace"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// fakeProvider counts invocations per text and can be told to fail
type fakeProvider struct {
	model     string
	dim       int
	delay     time.Duration
	failing   atomic.Bool // fail every call while set
	failAfter int32       // fail calls numbered above this; 0 disables

	batchCalls atomic.Int32
	textCounts sync.Map // text -> *atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{model: "fake-model", dim: 8}
}

func (f *fakeProvider) vectorFor(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = float32((seed+uint32(i))%97) / 97.0
	}
	return vec
}

func (f *fakeProvider) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	n := f.batchCalls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failing.Load() || (f.failAfter > 0 && n > f.failAfter) {
		return nil, fmt.Errorf("fake provider down: %w", types.ErrProvider)
	}

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		counter, _ := f.textCounts.LoadOrStore(text, &atomic.Int32{})
		counter.(*atomic.Int32).Add(1)
		embeddings[i] = &embedder.Embedding{
			Vector:    f.vectorFor(text),
			Dimension: f.dim,
			Provider:  "fake",
			Model:     f.model,
		}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "fake", Model: f.model}, nil
}

func (f *fakeProvider) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := f.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (f *fakeProvider) timesEmbedded(text string) int32 {
	counter, ok := f.textCounts.Load(text)
	if !ok {
		return 0
	}
	return counter.(*atomic.Int32).Load()
}

func (f *fakeProvider) Dimension() int   { return f.dim }
func (f *fakeProvider) Provider() string { return "fake" }
func (f *fakeProvider) Model() string    { return f.model }
func (f *fakeProvider) Close() error     { return nil }

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNew(t *testing.T) {
	provider := newFakeProvider()

	cache, err := New(provider, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, cache.batchSize)
	assert.Equal(t, "fake-model", cache.Model())
	assert.Equal(t, 8, cache.Dimension())
}

func TestNew_NilProvider(t *testing.T) {
	_, err := New(nil, nil, Options{})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("model-a", "hello")

	assert.Equal(t, fp, Fingerprint("model-a", "hello"))
	assert.NotEqual(t, fp, Fingerprint("model-b", "hello"))
	assert.NotEqual(t, fp, Fingerprint("model-a", "Hello"))
	assert.NotEqual(t, fp, Fingerprint("model-a", "hello "))
	assert.NotEqual(t, Fingerprint("m", "a b"), Fingerprint("m", "a  b"))
	assert.Len(t, fp, 64)
}

func TestEmbed_MissThenHit(t *testing.T) {
	provider := newFakeProvider()
	cache, err := New(provider, nil, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	first, err := cache.Embed(ctx, "how do I rotate the api key")
	require.NoError(t, err)
	second, err := cache.Embed(ctx, "how do I rotate the api key")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), provider.timesEmbedded("how do I rotate the api key"))

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Stores)
	assert.Equal(t, 1, stats.MemoryEntries)
}

func TestEmbedBatch_Order(t *testing.T) {
	provider := newFakeProvider()
	cache, err := New(provider, nil, Options{})
	require.NoError(t, err)

	texts := []string{"zebra question", "apple question", "mango question"}
	vecs, err := cache.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for i, text := range texts {
		assert.Equal(t, provider.vectorFor(text), vecs[i], "result %d out of order", i)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	provider := newFakeProvider()
	cache, err := New(provider, nil, Options{})
	require.NoError(t, err)

	vecs, err := cache.EmbedBatch(context.Background(), []string{})
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, int32(0), provider.batchCalls.Load())
}

func TestEmbedBatch_DuplicatesComputedOnce(t *testing.T) {
	provider := newFakeProvider()
	cache, err := New(provider, nil, Options{})
	require.NoError(t, err)

	vecs, err := cache.EmbedBatch(context.Background(), []string{"same", "other", "same"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), provider.timesEmbedded("same"))
	assert.Equal(t, vecs[0], vecs[2])

	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(0), stats.Hits)
}

func TestEmbedBatch_SplitsProviderBatches(t *testing.T) {
	provider := newFakeProvider()
	cache, err := New(provider, nil, Options{BatchSize: 2})
	require.NoError(t, err)

	texts := []string{"t1", "t2", "t3", "t4", "t5"}
	_, err = cache.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	assert.Equal(t, int32(3), provider.batchCalls.Load())
	for _, text := range texts {
		assert.Equal(t, int32(1), provider.timesEmbedded(text))
	}
}

func TestConcurrentRequestsCoalesce(t *testing.T) {
	provider := newFakeProvider()
	provider.delay = 20 * time.Millisecond
	cache, err := New(provider, nil, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = cache.Embed(ctx, "contended text")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "goroutine %d", i)
	}
	assert.Equal(t, int32(1), provider.timesEmbedded("contended text"))
}

func TestProviderFailureStoresNothing(t *testing.T) {
	store := setupStore(t)
	provider := newFakeProvider()
	provider.failing.Store(true)

	cache, err := New(provider, store, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cache.Embed(ctx, "doomed text")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProvider)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Stores)
	assert.Equal(t, 0, stats.MemoryEntries)

	count, err := cache.PersistentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// A healed provider serves the same text on the next request
	provider.failing.Store(false)
	vec, err := cache.Embed(ctx, "doomed text")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestPartialBatchFailureKeepsCompletedChunks(t *testing.T) {
	store := setupStore(t)
	provider := newFakeProvider()
	provider.failAfter = 1 // first chunk succeeds, second fails

	cache, err := New(provider, store, Options{BatchSize: 2})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cache.EmbedBatch(ctx, []string{"a", "b", "c", "d"})
	require.Error(t, err)

	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.Stores)

	count, err := cache.PersistentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPersistentTierSurvivesRestart(t *testing.T) {
	store := setupStore(t)
	provider := newFakeProvider()
	ctx := context.Background()

	warm, err := New(provider, store, Options{})
	require.NoError(t, err)
	_, err = warm.Embed(ctx, "persisted question")
	require.NoError(t, err)

	// Fresh memory tier, same store and provider
	cold, err := New(provider, store, Options{})
	require.NoError(t, err)
	vec, err := cold.Embed(ctx, "persisted question")
	require.NoError(t, err)

	assert.Equal(t, provider.vectorFor("persisted question"), vec)
	assert.Equal(t, int32(1), provider.timesEmbedded("persisted question"))

	stats := cold.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestCorruptRowDroppedAndRecomputed(t *testing.T) {
	store := setupStore(t)
	provider := newFakeProvider()
	cache, err := New(provider, store, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	fp := cache.Fingerprint("mangled row")

	// Blob length disagrees with the recorded dimension
	err = store.PutCachedEmbedding(ctx, &storage.CachedEmbedding{
		Fingerprint: fp,
		Model:       provider.Model(),
		Dimension:   8,
		Vector:      []byte{1, 2, 3},
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)

	vec, err := cache.Embed(ctx, "mangled row")
	require.NoError(t, err)
	assert.Equal(t, provider.vectorFor("mangled row"), vec)
	assert.Equal(t, int32(1), provider.timesEmbedded("mangled row"))

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Corruptions)

	// The rewritten row is consistent
	row, err := store.GetCachedEmbedding(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, 8, row.Dimension)
	assert.Len(t, row.Vector, 8*4)
}

func TestModelMismatchRowTreatedAsCorrupt(t *testing.T) {
	store := setupStore(t)
	provider := newFakeProvider()
	cache, err := New(provider, store, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	fp := cache.Fingerprint("crossed wires")

	err = store.PutCachedEmbedding(ctx, &storage.CachedEmbedding{
		Fingerprint: fp,
		Model:       "some-other-model",
		Dimension:   8,
		Vector:      storage.SerializeVector(make([]float32, 8)),
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)

	_, err = cache.Embed(ctx, "crossed wires")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cache.Stats().Corruptions)
}

func TestClear(t *testing.T) {
	store := setupStore(t)
	provider := newFakeProvider()
	cache, err := New(provider, store, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cache.EmbedBatch(ctx, []string{"one", "two"})
	require.NoError(t, err)

	require.NoError(t, cache.Clear(ctx))

	assert.Equal(t, 0, cache.Stats().MemoryEntries)
	count, err := cache.PersistentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Cleared entries require recomputation
	_, err = cache.Embed(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.timesEmbedded("one"))
}

func TestResetStats(t *testing.T) {
	provider := newFakeProvider()
	cache, err := New(provider, nil, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cache.Embed(ctx, "text")
	require.NoError(t, err)
	_, err = cache.Embed(ctx, "text")
	require.NoError(t, err)

	cache.ResetStats()
	stats := cache.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(0), stats.Stores)
	// Entries stay cached across a counter reset
	assert.Equal(t, 1, stats.MemoryEntries)
}

func TestEmbedBatchTraceEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	tracer, err := trace.New(trace.Options{Path: path})
	require.NoError(t, err)

	provider := newFakeProvider()
	cache, err := New(provider, nil, Options{Tracer: tracer})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cache.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	_, err = cache.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.NoError(t, tracer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	events := make([]map[string]any, len(lines))
	for i, line := range lines {
		require.NoError(t, json.Unmarshal([]byte(line), &events[i]))
		assert.Equal(t, "embed_batch", events[i]["event"])
	}

	cold := events[0]["data"].(map[string]any)
	assert.Equal(t, float64(2), cold["size"])
	assert.Equal(t, float64(0), cold["hits"])
	assert.Equal(t, float64(2), cold["stores"])

	warm := events[1]["data"].(map[string]any)
	assert.Equal(t, float64(2), warm["size"])
	assert.Equal(t, float64(2), warm["hits"])
	assert.Equal(t, float64(0), warm["stores"])
}

func TestMemoryOnlyOperation(t *testing.T) {
	provider := newFakeProvider()
	cache, err := New(provider, nil, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cache.Embed(ctx, "no store attached")
	require.NoError(t, err)

	count, err := cache.PersistentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, cache.Clear(ctx))
}
