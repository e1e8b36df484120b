package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// searchVectors performs vector similarity search using cosine similarity
func searchVectors(ctx context.Context, db *sql.DB, collection string, queryVector []float32, limit int, filters *VectorFilters) ([]VectorResult, error) {
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorsOptimized(ctx, db, collection, queryVector, limit, filters)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorsFallback(ctx, db, collection, queryVector, limit, filters)
}

// searchVectorsOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorsOptimized(ctx context.Context, db *sql.DB, collection string, queryVector []float32, limit int, filters *VectorFilters) ([]VectorResult, error) {
	// Serialize query vector for sqlite-vec
	queryVectorBlob := serializeVector(queryVector)

	// Build SQL query that computes similarity at database layer.
	// vec_distance_cosine returns distance, 1 - distance is cosine similarity.
	query := `
		SELECT
			entry_key,
			1.0 - vec_distance_cosine(vector, ?) as similarity
		FROM vectors
		WHERE collection = ?
	`
	args := []interface{}{queryVectorBlob, collection}

	// Apply filters in SQL WHERE clause
	query, args = applyVectorFilters(query, args, filters)

	// Apply minimum relevance filter in SQL if specified
	if filters != nil && filters.MinRelevance > 0 {
		query += " AND (1.0 - vec_distance_cosine(vector, ?)) >= ?"
		args = append(args, queryVectorBlob, filters.MinRelevance)
	}

	// Equal similarities resolve by entry key for stable ordering
	query += " ORDER BY similarity DESC, entry_key ASC LIMIT ?"
	args = append(args, limit)

	// Handle edge case: negative or zero limit
	if limit <= 0 {
		return []VectorResult{}, nil
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// Collect results - no sorting needed as SQL handles it
	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var result VectorResult
		if err := rows.Scan(&result.EntryKey, &result.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// searchVectorsFallback performs vector search using Go-based cosine similarity computation.
// This is used when sqlite-vec extension is not available (purego builds).
func searchVectorsFallback(ctx context.Context, db *sql.DB, collection string, queryVector []float32, limit int, filters *VectorFilters) ([]VectorResult, error) {
	// Build query with filters
	query := `
		SELECT entry_key, vector
		FROM vectors
		WHERE collection = ?
	`
	args := []interface{}{collection}

	// Apply filters
	query, args = applyVectorFilters(query, args, filters)

	// Execute query to get all candidate embeddings
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// Compute similarity scores and rank in Go
	candidates, err := computeSimilarityScores(rows, queryVector, filters)
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending, entry key ascending on ties
	sortCandidates(candidates)

	// Return top K
	return buildVectorResults(candidates, limit), nil
}

// applyVectorFilters adds WHERE clause filters for vector search
func applyVectorFilters(query string, args []interface{}, filters *VectorFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if filters.ComposerID != "" {
		query += " AND composer_id = ?"
		args = append(args, filters.ComposerID)
	}

	if filters.Scope != "" {
		query += " AND scope = ?"
		args = append(args, filters.Scope)
	}

	return query, args
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, filters *VectorFilters) ([]candidate, error) {
	candidates := make([]candidate, 0, 1000)

	for rows.Next() {
		var entryKey string
		var vectorBlob []byte
		if err := rows.Scan(&entryKey, &vectorBlob); err != nil {
			return nil, err
		}

		// Deserialize vector
		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		// Compute cosine similarity
		similarity := cosineSimilarity(queryVector, vector)

		// Apply minimum relevance filter
		if filters != nil && filters.MinRelevance > 0 && similarity < filters.MinRelevance {
			continue
		}

		candidates = append(candidates, candidate{entryKey: entryKey, score: similarity})
	}

	return candidates, rows.Err()
}

// buildVectorResults creates VectorResult slice from candidates
func buildVectorResults(candidates []candidate, limit int) []VectorResult {
	// Handle negative or zero limit - return all candidates
	if limit <= 0 {
		limit = len(candidates)
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{
			EntryKey:   candidates[i].entryKey,
			Similarity: candidates[i].score,
		}
	}
	return results
}

// candidate represents an entry with its similarity score
type candidate struct {
	entryKey string
	score    float64
}

// sortCandidates sorts candidates by score descending, entry key ascending on ties
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entryKey < candidates[j].entryKey
	})
}

// searchEntriesFTS retrieves candidate entries via FTS5, best BM25 rank first
func searchEntriesFTS(ctx context.Context, db *sql.DB, query string, limit int) ([]*types.IndexEntry, error) {
	match := buildFTSQuery(query)
	if match == "" {
		return []*types.IndexEntry{}, nil
	}

	// Note: In FTS5, 'rank' is a built-in virtual column representing BM25 relevance score.
	// It should be accessed without table qualification when used in ORDER BY.
	// Lower rank values indicate better matches (negative values in FTS5).
	sqlQuery := `
		SELECT e.id, e.composer_id, e.turn_index, e.scope, e.user_text, e.assistant_text,
		       e.user_head, e.assistant_head, e.annotations, e.content_hash, e.created_at, e.updated_at
		FROM entries_fts fts
		JOIN entries e ON e.id = fts.rowid
		WHERE fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, sqlQuery, match, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*types.IndexEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// buildFTSQuery turns a free-form query into an OR of quoted tokens.
// Quoting keeps FTS5 operators and punctuation inert.
func buildFTSQuery(query string) string {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.ReplaceAll(tok, `"`, `""`)
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector is an exported helper for vector persistence
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for vector persistence
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for similarity scoring
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
