package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/goconvo-mcp/internal/chunker"
	"github.com/dshills/goconvo-mcp/internal/embedcache"
	"github.com/dshills/goconvo-mcp/internal/source"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// DefaultWorkers bounds concurrent composer processing when the config
// does not say otherwise
const DefaultWorkers = 4

// ErrBuildInProgress is returned when a build is requested while another
// build holds the index lock
var ErrBuildInProgress = errors.New("index build already in progress")

// Indexer coordinates the build pipeline: fetch -> chunk -> upsert
type Indexer struct {
	storage storage.Storage
	chunker *chunker.Chunker
	embed   *embedcache.Cache // nil disables inline embedding generation

	lock IndexLock
}

// Config contains configuration for one build run. The zero value gets
// usable defaults applied.
type Config struct {
	Scope               types.Scope // entry granularity, pair when empty
	Workers             int         // concurrent composer workers (default: DefaultWorkers)
	MaxComposers        int         // cap on composers processed, discovery order, 0 = all
	MaxTurnsPerComposer int         // keep only the earliest N entries per composer, 0 = all
	GenerateEmbeddings  bool        // warm the embedding cache for indexed entries
}

// Stats contains statistics about one build run
type Stats struct {
	RunID               string        `json:"run_id"`
	Scope               types.Scope   `json:"scope"`
	ComposersIndexed    int           `json:"composers_indexed"`
	ComposersSkipped    int           `json:"composers_skipped"`
	EntriesCreated      int           `json:"entries_created"`
	EntriesUpdated      int           `json:"entries_updated"`
	EntriesUnchanged    int           `json:"entries_unchanged"`
	EntriesPruned       int           `json:"entries_pruned"`
	RecordsSkipped      int           `json:"records_skipped"`
	SkipReasons         []string      `json:"skip_reasons,omitempty"`
	EmbeddingsGenerated int           `json:"embeddings_generated"`
	EmbeddingsFailed    int           `json:"embeddings_failed"`
	Duration            time.Duration `json:"duration"`
	Incomplete          bool          `json:"incomplete"`
}

// New creates a new Indexer instance
func New(store storage.Storage) *Indexer {
	return &Indexer{
		storage: store,
		chunker: chunker.New(),
	}
}

// NewWithEmbeddings creates an Indexer that warms the given embedding
// cache while it indexes, so a later vector build finds the entries
// precomputed
func NewWithEmbeddings(store storage.Storage, embed *embedcache.Cache) *Indexer {
	idx := New(store)
	idx.embed = embed
	return idx
}

// buildCounters collects per-worker tallies during a run. Counter fields
// are updated atomically, the reasons slice under the mutex.
type buildCounters struct {
	composersIndexed    int32
	composersSkipped    int32
	entriesCreated      int32
	entriesUpdated      int32
	entriesUnchanged    int32
	entriesPruned       int32
	recordsSkipped      int32
	embeddingsGenerated int32
	embeddingsFailed    int32

	mu      sync.Mutex
	reasons []string
}

// skip records one record that contributed nothing to the index
func (c *buildCounters) skip(composerID, reason string) {
	atomic.AddInt32(&c.recordsSkipped, 1)
	atomic.AddInt32(&c.composersSkipped, 1)
	c.mu.Lock()
	c.reasons = append(c.reasons, composerID+": "+reason)
	c.mu.Unlock()
}

// Build runs one full index pass over the source. A record that cannot
// be fetched or chunked is counted and skipped with a reason; the build
// keeps going. Only cancellation stops a run early, in which case the
// returned stats are marked incomplete and entries already upserted are
// retained.
func (idx *Indexer) Build(ctx context.Context, src source.Source, config *Config) (*Stats, error) {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if !idx.lock.TryAcquire() {
		return nil, ErrBuildInProgress
	}
	defer idx.lock.Release()

	startTime := time.Now()
	runID := uuid.NewString()

	composers, err := src.ListComposers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing composers: %w", err)
	}
	if cfg.MaxComposers > 0 && len(composers) > cfg.MaxComposers {
		composers = composers[:cfg.MaxComposers]
	}

	counts := &buildCounters{}

	g, gctx := errgroup.WithContext(ctx)
	semaphore := make(chan struct{}, cfg.Workers)

	for i := range composers {
		info := composers[i]
		g.Go(func() error {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			return idx.buildComposer(gctx, src, info, &cfg, counts)
		})
	}

	groupErr := g.Wait()

	sort.Strings(counts.reasons)
	stats := &Stats{
		RunID:               runID,
		Scope:               cfg.Scope,
		ComposersIndexed:    int(counts.composersIndexed),
		ComposersSkipped:    int(counts.composersSkipped),
		EntriesCreated:      int(counts.entriesCreated),
		EntriesUpdated:      int(counts.entriesUpdated),
		EntriesUnchanged:    int(counts.entriesUnchanged),
		EntriesPruned:       int(counts.entriesPruned),
		RecordsSkipped:      int(counts.recordsSkipped),
		SkipReasons:         counts.reasons,
		EmbeddingsGenerated: int(counts.embeddingsGenerated),
		EmbeddingsFailed:    int(counts.embeddingsFailed),
		Duration:            time.Since(startTime),
	}

	if groupErr != nil {
		stats.Incomplete = true
		return stats, groupErr
	}
	return stats, nil
}

// buildComposer fetches, chunks, and persists one conversation. Errors
// other than cancellation become counted skips so one bad record cannot
// abort the run.
func (idx *Indexer) buildComposer(ctx context.Context, src source.Source, info types.ComposerInfo, cfg *Config, counts *buildCounters) error {
	record, err := src.FetchRecords(ctx, info.ComposerID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		counts.skip(info.ComposerID, err.Error())
		return nil
	}

	entries, err := idx.chunker.Chunk(record, cfg.Scope)
	if err != nil {
		counts.skip(info.ComposerID, err.Error())
		return nil
	}
	if len(entries) == 0 {
		counts.skip(info.ComposerID, "no indexable turns")
		return nil
	}
	if cfg.MaxTurnsPerComposer > 0 && len(entries) > cfg.MaxTurnsPerComposer {
		entries = entries[:cfg.MaxTurnsPerComposer]
	}

	created, updated, unchanged, pruned, err := idx.persistComposer(ctx, info, record, entries, cfg.Scope)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		counts.skip(info.ComposerID, err.Error())
		return nil
	}

	atomic.AddInt32(&counts.composersIndexed, 1)
	atomic.AddInt32(&counts.entriesCreated, int32(created))
	atomic.AddInt32(&counts.entriesUpdated, int32(updated))
	atomic.AddInt32(&counts.entriesUnchanged, int32(unchanged))
	atomic.AddInt32(&counts.entriesPruned, int32(pruned))

	if cfg.GenerateEmbeddings && idx.embed != nil {
		generated, failed := idx.warmEmbeddings(ctx, entries)
		atomic.AddInt32(&counts.embeddingsGenerated, int32(generated))
		atomic.AddInt32(&counts.embeddingsFailed, int32(failed))
	}
	return nil
}

// persistComposer writes one composer row and its entries in a single
// transaction, then prunes stored entries past the kept range so rebuilds
// of shrunken or capped conversations leave no stale rows behind
func (idx *Indexer) persistComposer(ctx context.Context, info types.ComposerInfo, record *types.ConversationRecord, entries []*types.IndexEntry, scope types.Scope) (created, updated, unchanged, pruned int, err error) {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	title := record.Title
	if title == "" {
		title = info.Title
	}
	repoHint := record.RepoHint
	if repoHint == "" {
		repoHint = info.RepoHint
	}
	composer := &storage.Composer{
		ComposerID:    record.ComposerID,
		Title:         title,
		RepoHint:      repoHint,
		TurnCount:     len(record.Turns),
		LastIndexedAt: time.Now().UTC(),
	}
	if err := tx.UpsertComposer(ctx, composer); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("upserting composer: %w", err)
	}

	for _, entry := range entries {
		outcome, err := tx.UpsertEntry(ctx, entry)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("upserting entry %s: %w", entry.Key(), err)
		}
		switch outcome {
		case storage.OutcomeCreated:
			created++
		case storage.OutcomeUpdated:
			updated++
		default:
			unchanged++
		}
	}

	pruned, err = tx.DeleteEntriesFrom(ctx, record.ComposerID, scope, len(entries))
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("pruning entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("committing composer %s: %w", record.ComposerID, err)
	}
	return created, updated, unchanged, pruned, nil
}

// warmEmbeddings pushes the entries' embed text through the cache. A
// batch failure is counted, never fatal; the cache stores nothing for a
// failed batch so a later build retries cleanly.
func (idx *Indexer) warmEmbeddings(ctx context.Context, entries []*types.IndexEntry) (generated, failed int) {
	texts := make([]string, 0, len(entries))
	for _, entry := range entries {
		if text := chunker.EmbedText(entry); text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return 0, 0
	}
	if _, err := idx.embed.EmbedBatch(ctx, texts); err != nil {
		return 0, len(texts)
	}
	return len(texts), 0
}

func (c *Config) applyDefaults() {
	if c.Scope == "" {
		c.Scope = types.ScopePair
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
}

func (c *Config) validate() error {
	if err := types.ValidateScope(c.Scope); err != nil {
		return fmt.Errorf("scope must be pair or turn: %w", types.ErrConfiguration)
	}
	if c.MaxComposers < 0 {
		return fmt.Errorf("max composers must be >= 0: %w", types.ErrConfiguration)
	}
	if c.MaxTurnsPerComposer < 0 {
		return fmt.Errorf("max turns per composer must be >= 0: %w", types.ErrConfiguration)
	}
	return nil
}
