package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/goconvo-mcp/internal/chunker"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

const (
	// DefaultEmbedChunk bounds how many texts one embedding request carries
	DefaultEmbedChunk = 256

	// DefaultUpsertChunk bounds how many vectors one index write carries
	DefaultUpsertChunk = 64
)

// EntrySource lists indexed entries. The archive storage satisfies it.
type EntrySource interface {
	ListEntries(ctx context.Context, composerID string) ([]*types.IndexEntry, error)
	ListAllEntries(ctx context.Context) ([]*types.IndexEntry, error)
}

// EmbedBatcher turns texts into vectors. The embedding cache satisfies it,
// which keeps repeat builds from paying for provider calls.
type EmbedBatcher interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// BuildOptions narrows a build to part of the archive
type BuildOptions struct {
	// ComposerIDs limits the build to these conversations. Empty means
	// every conversation.
	ComposerIDs []string

	// Scope limits the build to pair or turn entries. Empty means both.
	Scope types.Scope

	// EmbedChunk and UpsertChunk override the batching defaults when
	// positive
	EmbedChunk  int
	UpsertChunk int
}

// BuildStats reports what one build pass did
type BuildStats struct {
	EntriesConsidered int           `json:"entries_considered"`
	VectorsAdded      int           `json:"vectors_added"`
	VectorsUpdated    int           `json:"vectors_updated"`
	VectorsSkipped    int           `json:"vectors_skipped"`
	VectorsDeleted    int           `json:"vectors_deleted"`
	Duration          time.Duration `json:"duration"`
}

// Builder maintains an index incrementally. Each pass embeds only entries
// whose content hash differs from the stored vector's hash and prunes
// vectors whose entries no longer exist.
type Builder struct {
	index   Index
	embed   EmbedBatcher
	entries EntrySource
}

// NewBuilder wires a builder. The embedder's dimension must match the
// index's, otherwise every upsert would fail.
func NewBuilder(index Index, embed EmbedBatcher, entries EntrySource) (*Builder, error) {
	if index == nil {
		return nil, fmt.Errorf("index is required: %w", types.ErrConfiguration)
	}
	if embed == nil {
		return nil, fmt.Errorf("embedder is required: %w", types.ErrConfiguration)
	}
	if entries == nil {
		return nil, fmt.Errorf("entry source is required: %w", types.ErrConfiguration)
	}
	if embed.Dimension() != index.Dimension() {
		return nil, fmt.Errorf("embedder produces %d-dimensional vectors, index %s requires %d: %w",
			embed.Dimension(), index.Namespace(), index.Dimension(), types.ErrConfiguration)
	}
	return &Builder{index: index, embed: embed, entries: entries}, nil
}

// Build runs one incremental pass and reports what changed. A second pass
// over an unchanged archive embeds nothing and deletes nothing.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (*BuildStats, error) {
	start := time.Now()
	stats := &BuildStats{}

	entries, err := b.listEntries(ctx, opts)
	if err != nil {
		return stats, err
	}

	existing, err := b.index.Hashes(ctx)
	if err != nil {
		return stats, err
	}

	// Decide per entry: unchanged, changed, or new
	wanted := make(map[string]bool, len(entries))
	var changed []*types.IndexEntry
	for _, entry := range entries {
		key := entry.Key()
		wanted[key] = true
		stats.EntriesConsidered++

		hash := entry.ContentHash()
		prev, seen := existing[key]
		switch {
		case seen && prev == hash:
			stats.VectorsSkipped++
		case seen:
			stats.VectorsUpdated++
			changed = append(changed, entry)
		default:
			stats.VectorsAdded++
			changed = append(changed, entry)
		}
	}

	embedChunk := opts.EmbedChunk
	if embedChunk <= 0 {
		embedChunk = DefaultEmbedChunk
	}
	upsertChunk := opts.UpsertChunk
	if upsertChunk <= 0 {
		upsertChunk = DefaultUpsertChunk
	}

	for startIdx := 0; startIdx < len(changed); startIdx += embedChunk {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		end := startIdx + embedChunk
		if end > len(changed) {
			end = len(changed)
		}
		batch := changed[startIdx:end]

		texts := make([]string, len(batch))
		for i, entry := range batch {
			texts[i] = chunker.EmbedText(entry)
		}
		vectors, err := b.embed.EmbedBatch(ctx, texts)
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, fmt.Errorf("embed %d entries: %w", len(batch), err)
		}

		items := make([]Item, len(batch))
		for i, entry := range batch {
			items[i] = Item{
				EntryKey:    entry.Key(),
				ComposerID:  entry.ComposerID,
				TurnIndex:   entry.TurnIndex,
				Scope:       entry.Scope,
				Vector:      vectors[i],
				ContentHash: entry.ContentHash(),
			}
		}
		for from := 0; from < len(items); from += upsertChunk {
			to := from + upsertChunk
			if to > len(items) {
				to = len(items)
			}
			if err := b.index.Upsert(ctx, items[from:to]); err != nil {
				stats.Duration = time.Since(start)
				return stats, err
			}
		}
	}

	// Prune vectors whose entries are gone. Only keys inside the build's
	// composer and scope filter are candidates: a partial build must not
	// treat everything outside its slice as deleted.
	var stale []string
	for key := range existing {
		if wanted[key] {
			continue
		}
		if !keyInBuildScope(key, opts) {
			continue
		}
		stale = append(stale, key)
	}
	if len(stale) > 0 {
		if err := b.index.Delete(ctx, stale); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		stats.VectorsDeleted = len(stale)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func (b *Builder) listEntries(ctx context.Context, opts BuildOptions) ([]*types.IndexEntry, error) {
	var entries []*types.IndexEntry
	if len(opts.ComposerIDs) == 0 {
		all, err := b.entries.ListAllEntries(ctx)
		if err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		entries = all
	} else {
		for _, composerID := range opts.ComposerIDs {
			some, err := b.entries.ListEntries(ctx, composerID)
			if err != nil {
				return nil, fmt.Errorf("list entries for %s: %w", composerID, err)
			}
			entries = append(entries, some...)
		}
	}

	if opts.Scope == "" {
		return entries, nil
	}
	filtered := make([]*types.IndexEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Scope == opts.Scope {
			filtered = append(filtered, entry)
		}
	}
	return filtered, nil
}

// keyInBuildScope reports whether a stored vector key falls inside the
// composer and scope filters of this build
func keyInBuildScope(key string, opts BuildOptions) bool {
	composerID, _, scope, ok := ParseEntryKey(key)
	if !ok {
		// Unparseable keys never match a current entry, prune them
		return true
	}
	if opts.Scope != "" && scope != opts.Scope {
		return false
	}
	if len(opts.ComposerIDs) == 0 {
		return true
	}
	for _, id := range opts.ComposerIDs {
		if id == composerID {
			return true
		}
	}
	return false
}
