package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// SQLiteIndex keeps vectors in the archive database, one collection row per
// namespace. It is the default backend: vectors live next to the entries
// they index and survive restarts with no extra files.
type SQLiteIndex struct {
	store     storage.Storage
	namespace string
	model     string
	dimension int
}

// NewSQLiteIndex opens or creates the namespace's collection. An existing
// collection with a different dimension or embedding model is rejected,
// since mixing vectors from different models makes similarities meaningless.
func NewSQLiteIndex(ctx context.Context, store storage.Storage, namespace, model string, dimension int) (*SQLiteIndex, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required: %w", types.ErrConfiguration)
	}
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := validateDimension(dimension); err != nil {
		return nil, err
	}

	existing, err := store.GetCollection(ctx, namespace)
	switch {
	case err == nil:
		if existing.Dimension != dimension {
			return nil, fmt.Errorf("collection %s holds %d-dimensional vectors, requested %d: %w",
				namespace, existing.Dimension, dimension, types.ErrConfiguration)
		}
		if existing.Model != model {
			return nil, fmt.Errorf("collection %s was built with model %s, requested %s: %w",
				namespace, existing.Model, model, types.ErrConfiguration)
		}
	case errors.Is(err, storage.ErrNotFound):
		if err := store.UpsertCollection(ctx, &storage.Collection{
			Name:      namespace,
			Model:     model,
			Dimension: dimension,
		}); err != nil {
			return nil, fmt.Errorf("create collection %s: %w", namespace, err)
		}
	default:
		return nil, fmt.Errorf("load collection %s: %w", namespace, err)
	}

	return &SQLiteIndex{
		store:     store,
		namespace: namespace,
		model:     model,
		dimension: dimension,
	}, nil
}

// Upsert writes items inside one transaction. Every vector is validated
// before the transaction starts, so a dimension mismatch anywhere in the
// batch leaves the store exactly as it was.
func (s *SQLiteIndex) Upsert(ctx context.Context, items []Item) error {
	if err := validateItems(items, s.dimension); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin vector upsert: %w", err)
	}

	for _, item := range items {
		vec := &storage.Vector{
			Collection:  s.namespace,
			EntryKey:    item.EntryKey,
			ComposerID:  item.ComposerID,
			TurnIndex:   item.TurnIndex,
			Scope:       string(item.Scope),
			Vector:      storage.SerializeVector(item.Vector),
			Dimension:   s.dimension,
			ContentHash: item.ContentHash,
		}
		if err := tx.UpsertVector(ctx, vec); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert vector %s: %w", item.EntryKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vector upsert: %w", err)
	}
	return nil
}

// Delete removes the given entry keys in one transaction
func (s *SQLiteIndex) Delete(ctx context.Context, entryKeys []string) error {
	if len(entryKeys) == 0 {
		return nil
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin vector delete: %w", err)
	}

	for _, key := range entryKeys {
		if err := tx.DeleteVector(ctx, s.namespace, key); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete vector %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vector delete: %w", err)
	}
	return nil
}

// Query searches the collection and normalizes raw cosine similarity onto
// [0, 1]. MinSimilarity filtering happens here, on the normalized value.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, k int, filters *Filters) ([]Match, error) {
	if err := validateQuery(vector, k, s.dimension); err != nil {
		return nil, err
	}

	var storeFilters *storage.VectorFilters
	if filters != nil && (filters.ComposerID != "" || filters.Scope != "") {
		storeFilters = &storage.VectorFilters{
			ComposerID: filters.ComposerID,
			Scope:      string(filters.Scope),
		}
	}

	results, err := s.store.SearchVectors(ctx, s.namespace, vector, k, storeFilters)
	if err != nil {
		return nil, fmt.Errorf("search collection %s: %w", s.namespace, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		sim := normalizeSimilarity(r.Similarity)
		if filters != nil && sim < filters.MinSimilarity {
			continue
		}
		matches = append(matches, Match{EntryKey: r.EntryKey, Similarity: sim})
	}
	sortMatches(matches)
	return matches, nil
}

// Hashes returns the content hash of every stored vector
func (s *SQLiteIndex) Hashes(ctx context.Context) (map[string][32]byte, error) {
	hashes, err := s.store.ListVectorHashes(ctx, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("list vector hashes for %s: %w", s.namespace, err)
	}
	return hashes, nil
}

// Count returns the number of stored vectors
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	count, err := s.store.CountVectors(ctx, s.namespace)
	if err != nil {
		return 0, fmt.Errorf("count vectors in %s: %w", s.namespace, err)
	}
	return count, nil
}

// Dimension returns the fixed vector length
func (s *SQLiteIndex) Dimension() int { return s.dimension }

// Namespace returns the collection name
func (s *SQLiteIndex) Namespace() string { return s.namespace }

// Close is a no-op. The underlying storage handle belongs to the caller.
func (s *SQLiteIndex) Close() error { return nil }
