package vectorstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// ChromemIndex keeps vectors in a chromem-go collection. It is the pure
// in-process alternative to the SQLite backend: no SQL involved, queries
// run over an in-memory document set.
//
// Content hashes are tracked in memory alongside the collection. When a
// persistent chromem database is reopened, Hashes starts empty and the next
// build re-upserts every entry; upserts are idempotent and embeddings come
// from the embedding cache, so the rebuild costs no provider calls.
type ChromemIndex struct {
	db        *chromem.DB
	col       *chromem.Collection
	namespace string
	model     string
	dimension int

	mu     sync.RWMutex
	hashes map[string][32]byte
}

// NewChromemIndex opens or creates the namespace's collection in db. The
// caller owns db and chooses whether it is in-memory or persistent.
func NewChromemIndex(db *chromem.DB, namespace, model string, dimension int) (*ChromemIndex, error) {
	if db == nil {
		return nil, fmt.Errorf("chromem database is required: %w", types.ErrConfiguration)
	}
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := validateDimension(dimension); err != nil {
		return nil, err
	}

	// Embeddings are always supplied by the caller, so no embedding func
	col, err := db.GetOrCreateCollection(namespace, map[string]string{
		"model":     model,
		"dimension": strconv.Itoa(dimension),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", namespace, err)
	}

	return &ChromemIndex{
		db:        db,
		col:       col,
		namespace: namespace,
		model:     model,
		dimension: dimension,
		hashes:    make(map[string][32]byte),
	}, nil
}

// Upsert validates every vector before the first document write, so a
// dimension mismatch anywhere in the batch leaves the collection untouched
func (c *ChromemIndex) Upsert(ctx context.Context, items []Item) error {
	if err := validateItems(items, c.dimension); err != nil {
		return err
	}

	for _, item := range items {
		doc := chromem.Document{
			ID:        item.EntryKey,
			Content:   item.EntryKey,
			Embedding: item.Vector,
			Metadata: map[string]string{
				"composer_id":  item.ComposerID,
				"turn_index":   strconv.Itoa(item.TurnIndex),
				"scope":        string(item.Scope),
				"content_hash": hex.EncodeToString(item.ContentHash[:]),
			},
		}
		if err := c.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %s: %w", item.EntryKey, err)
		}

		c.mu.Lock()
		c.hashes[item.EntryKey] = item.ContentHash
		c.mu.Unlock()
	}
	return nil
}

// Delete removes documents by entry key. Unknown keys are ignored.
func (c *ChromemIndex) Delete(ctx context.Context, entryKeys []string) error {
	if len(entryKeys) == 0 {
		return nil
	}

	if err := c.col.Delete(ctx, nil, nil, entryKeys...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}

	c.mu.Lock()
	for _, key := range entryKeys {
		delete(c.hashes, key)
	}
	c.mu.Unlock()
	return nil
}

// Query searches the collection. chromem rejects result counts larger than
// the document count, so k is clamped before the call.
func (c *ChromemIndex) Query(ctx context.Context, vector []float32, k int, filters *Filters) ([]Match, error) {
	if err := validateQuery(vector, k, c.dimension); err != nil {
		return nil, err
	}

	count := c.col.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	var where map[string]string
	if filters != nil && (filters.ComposerID != "" || filters.Scope != "") {
		where = make(map[string]string)
		if filters.ComposerID != "" {
			where["composer_id"] = filters.ComposerID
		}
		if filters.Scope != "" {
			where["scope"] = string(filters.Scope)
		}
	}

	results, err := c.col.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", c.namespace, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		sim := normalizeSimilarity(float64(r.Similarity))
		if filters != nil && sim < filters.MinSimilarity {
			continue
		}
		matches = append(matches, Match{EntryKey: r.ID, Similarity: sim})
	}
	sortMatches(matches)
	return matches, nil
}

// Hashes returns a copy of the tracked entry key to content hash map
func (c *ChromemIndex) Hashes(ctx context.Context) (map[string][32]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][32]byte, len(c.hashes))
	for k, v := range c.hashes {
		out[k] = v
	}
	return out, nil
}

// Count returns the number of stored documents
func (c *ChromemIndex) Count(ctx context.Context) (int, error) {
	return c.col.Count(), nil
}

// Dimension returns the fixed vector length
func (c *ChromemIndex) Dimension() int { return c.dimension }

// Namespace returns the collection name
func (c *ChromemIndex) Namespace() string { return c.namespace }

// Close is a no-op. The chromem database belongs to the caller.
func (c *ChromemIndex) Close() error { return nil }
