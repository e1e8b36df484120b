package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Composer operations

// upsertComposerWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertComposerWithQuerier(ctx context.Context, q querier, composer *Composer) error {
	query := `
		INSERT INTO composers (composer_id, title, repo_hint, turn_count, last_indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(composer_id) DO UPDATE SET
			title = excluded.title,
			repo_hint = excluded.repo_hint,
			turn_count = excluded.turn_count,
			last_indexed_at = excluded.last_indexed_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		composer.ComposerID, composer.Title, composer.RepoHint,
		composer.TurnCount, now, now, now).Scan(&composer.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert composer: %w", err)
	}

	composer.LastIndexedAt = now
	composer.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertComposer(ctx context.Context, composer *Composer) error {
	return s.upsertComposerWithQuerier(ctx, s.querier(), composer)
}

// getComposerWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getComposerWithQuerier(ctx context.Context, q querier, composerID string) (*Composer, error) {
	query := `
		SELECT id, composer_id, title, repo_hint, turn_count, last_indexed_at, created_at, updated_at
		FROM composers
		WHERE composer_id = ?
	`
	var composer Composer
	var lastIndexedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, composerID).Scan(
		&composer.ID, &composer.ComposerID, &composer.Title, &composer.RepoHint,
		&composer.TurnCount, &lastIndexedAt, &composer.CreatedAt, &composer.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastIndexedAt.Valid {
		composer.LastIndexedAt = lastIndexedAt.Time
	}
	return &composer, nil
}

func (s *SQLiteStorage) GetComposer(ctx context.Context, composerID string) (*Composer, error) {
	return s.getComposerWithQuerier(ctx, s.querier(), composerID)
}

// listComposersWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listComposersWithQuerier(ctx context.Context, q querier) ([]*Composer, error) {
	query := `
		SELECT id, composer_id, title, repo_hint, turn_count, last_indexed_at, created_at, updated_at
		FROM composers
		ORDER BY composer_id
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	composers := make([]*Composer, 0)
	for rows.Next() {
		var composer Composer
		var lastIndexedAt sql.NullTime
		err := rows.Scan(
			&composer.ID, &composer.ComposerID, &composer.Title, &composer.RepoHint,
			&composer.TurnCount, &lastIndexedAt, &composer.CreatedAt, &composer.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if lastIndexedAt.Valid {
			composer.LastIndexedAt = lastIndexedAt.Time
		}
		composers = append(composers, &composer)
	}
	return composers, rows.Err()
}

func (s *SQLiteStorage) ListComposers(ctx context.Context) ([]*Composer, error) {
	return s.listComposersWithQuerier(ctx, s.querier())
}

// deleteComposerWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteComposerWithQuerier(ctx context.Context, q querier, composerID string) error {
	query := `DELETE FROM composers WHERE composer_id = ?`
	_, err := q.ExecContext(ctx, query, composerID)
	return err
}

func (s *SQLiteStorage) DeleteComposer(ctx context.Context, composerID string) error {
	return s.deleteComposerWithQuerier(ctx, s.querier(), composerID)
}

// Entry operations

const entryColumns = `id, composer_id, turn_index, scope, user_text, assistant_text,
       user_head, assistant_head, annotations, content_hash, created_at, updated_at`

// scanEntry reads one entry row into an IndexEntry
func scanEntry(sc rowScanner) (*types.IndexEntry, error) {
	var entry types.IndexEntry
	var scope string
	var annJSON string
	var hash []byte

	err := sc.Scan(
		&entry.ID, &entry.ComposerID, &entry.TurnIndex, &scope,
		&entry.UserText, &entry.AssistantText, &entry.UserHead, &entry.AssistantHead,
		&annJSON, &hash, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Scope = types.Scope(scope)
	if err := json.Unmarshal([]byte(annJSON), &entry.Annotations); err != nil {
		return nil, fmt.Errorf("failed to decode annotations for entry %d: %w", entry.ID, err)
	}
	return &entry, nil
}

// upsertEntryWithQuerier is the internal implementation that uses a querier.
// Identical content and annotations leave the stored row untouched.
func (s *SQLiteStorage) upsertEntryWithQuerier(ctx context.Context, q querier, entry *types.IndexEntry) (UpsertOutcome, error) {
	annJSON, err := json.Marshal(entry.Annotations)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("failed to encode annotations: %w", err)
	}
	metaText := strings.Join(entry.Annotations.MetaBits(), " ")
	hash := entry.ContentHash()

	var existingID int64
	var existingHash []byte
	var existingAnn string
	err = q.QueryRowContext(ctx,
		`SELECT id, content_hash, annotations FROM entries WHERE composer_id = ? AND turn_index = ? AND scope = ?`,
		entry.ComposerID, entry.TurnIndex, string(entry.Scope),
	).Scan(&existingID, &existingHash, &existingAnn)

	if err == sql.ErrNoRows {
		now := time.Now()
		insert := `
			INSERT INTO entries (
				composer_id, turn_index, scope, user_text, assistant_text,
				user_head, assistant_head, meta_text, annotations, content_hash,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`
		err := q.QueryRowContext(ctx, insert,
			entry.ComposerID, entry.TurnIndex, string(entry.Scope),
			entry.UserText, entry.AssistantText, entry.UserHead, entry.AssistantHead,
			metaText, string(annJSON), hash[:], now, now,
		).Scan(&entry.ID)
		if err != nil {
			return OutcomeUnchanged, fmt.Errorf("failed to insert entry: %w", err)
		}
		entry.CreatedAt = now
		entry.UpdatedAt = now
		return OutcomeCreated, nil
	}
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("failed to read entry: %w", err)
	}

	entry.ID = existingID
	if bytes.Equal(existingHash, hash[:]) && existingAnn == string(annJSON) {
		return OutcomeUnchanged, nil
	}

	now := time.Now()
	update := `
		UPDATE entries
		SET user_text = ?, assistant_text = ?, user_head = ?, assistant_head = ?,
		    meta_text = ?, annotations = ?, content_hash = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = q.ExecContext(ctx, update,
		entry.UserText, entry.AssistantText, entry.UserHead, entry.AssistantHead,
		metaText, string(annJSON), hash[:], now, existingID)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("failed to update entry: %w", err)
	}
	entry.UpdatedAt = now
	return OutcomeUpdated, nil
}

func (s *SQLiteStorage) UpsertEntry(ctx context.Context, entry *types.IndexEntry) (UpsertOutcome, error) {
	return s.upsertEntryWithQuerier(ctx, s.querier(), entry)
}

// getEntryWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getEntryWithQuerier(ctx context.Context, q querier, composerID string, turnIndex int, scope types.Scope) (*types.IndexEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		WHERE composer_id = ? AND turn_index = ? AND scope = ?
	`
	entry, err := scanEntry(q.QueryRowContext(ctx, query, composerID, turnIndex, string(scope)))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *SQLiteStorage) GetEntry(ctx context.Context, composerID string, turnIndex int, scope types.Scope) (*types.IndexEntry, error) {
	return s.getEntryWithQuerier(ctx, s.querier(), composerID, turnIndex, scope)
}

// listEntriesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listEntriesWithQuerier(ctx context.Context, q querier, composerID string) ([]*types.IndexEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		WHERE composer_id = ?
		ORDER BY turn_index, scope
	`
	rows, err := q.QueryContext(ctx, query, composerID)
	if err != nil {
		return nil, err
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

func (s *SQLiteStorage) ListEntries(ctx context.Context, composerID string) ([]*types.IndexEntry, error) {
	return s.listEntriesWithQuerier(ctx, s.querier(), composerID)
}

// listAllEntriesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listAllEntriesWithQuerier(ctx context.Context, q querier) ([]*types.IndexEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM entries
		ORDER BY composer_id, turn_index, scope
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
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

func (s *SQLiteStorage) ListAllEntries(ctx context.Context) ([]*types.IndexEntry, error) {
	return s.listAllEntriesWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) CountEntries(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&count)
	return count, err
}

// deleteEntriesFromWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteEntriesFromWithQuerier(ctx context.Context, q querier, composerID string, scope types.Scope, fromTurnIndex int) (int, error) {
	query := `DELETE FROM entries WHERE composer_id = ? AND scope = ? AND turn_index >= ?`
	result, err := q.ExecContext(ctx, query, composerID, string(scope), fromTurnIndex)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}

func (s *SQLiteStorage) DeleteEntriesFrom(ctx context.Context, composerID string, scope types.Scope, fromTurnIndex int) (int, error) {
	return s.deleteEntriesFromWithQuerier(ctx, s.querier(), composerID, scope, fromTurnIndex)
}

func (s *SQLiteStorage) SearchEntries(ctx context.Context, query string, limit int) ([]*types.IndexEntry, error) {
	// Implementation moved to separate file for clarity
	return searchEntriesFTS(ctx, s.db, query, limit)
}

// Collection operations

// upsertCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertCollectionWithQuerier(ctx context.Context, q querier, collection *Collection) error {
	query := `
		INSERT INTO collections (name, model, dimension, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			model = excluded.model,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query, collection.Name, collection.Model, collection.Dimension, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert collection: %w", err)
	}
	collection.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertCollection(ctx context.Context, collection *Collection) error {
	return s.upsertCollectionWithQuerier(ctx, s.querier(), collection)
}

// getCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getCollectionWithQuerier(ctx context.Context, q querier, name string) (*Collection, error) {
	query := `
		SELECT name, model, dimension, created_at, updated_at
		FROM collections
		WHERE name = ?
	`
	var collection Collection
	err := q.QueryRowContext(ctx, query, name).Scan(
		&collection.Name, &collection.Model, &collection.Dimension,
		&collection.CreatedAt, &collection.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

func (s *SQLiteStorage) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return s.getCollectionWithQuerier(ctx, s.querier(), name)
}

func (s *SQLiteStorage) ListCollections(ctx context.Context) ([]*Collection, error) {
	query := `
		SELECT name, model, dimension, created_at, updated_at
		FROM collections
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	collections := make([]*Collection, 0)
	for rows.Next() {
		var collection Collection
		err := rows.Scan(
			&collection.Name, &collection.Model, &collection.Dimension,
			&collection.CreatedAt, &collection.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		collections = append(collections, &collection)
	}
	return collections, rows.Err()
}

// deleteCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteCollectionWithQuerier(ctx context.Context, q querier, name string) error {
	query := `DELETE FROM collections WHERE name = ?`
	_, err := q.ExecContext(ctx, query, name)
	return err
}

func (s *SQLiteStorage) DeleteCollection(ctx context.Context, name string) error {
	return s.deleteCollectionWithQuerier(ctx, s.querier(), name)
}

// Vector operations

// upsertVectorWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertVectorWithQuerier(ctx context.Context, q querier, vector *Vector) error {
	query := `
		INSERT INTO vectors (
			collection, entry_key, composer_id, turn_index, scope,
			vector, dimension, content_hash, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, entry_key) DO UPDATE SET
			composer_id = excluded.composer_id,
			turn_index = excluded.turn_index,
			scope = excluded.scope,
			vector = excluded.vector,
			dimension = excluded.dimension,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		vector.Collection, vector.EntryKey, vector.ComposerID, vector.TurnIndex, vector.Scope,
		vector.Vector, vector.Dimension, vector.ContentHash[:], now, now,
	).Scan(&vector.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	vector.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertVector(ctx context.Context, vector *Vector) error {
	return s.upsertVectorWithQuerier(ctx, s.querier(), vector)
}

// getVectorWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getVectorWithQuerier(ctx context.Context, q querier, collection, entryKey string) (*Vector, error) {
	query := `
		SELECT id, collection, entry_key, composer_id, turn_index, scope,
		       vector, dimension, content_hash, created_at, updated_at
		FROM vectors
		WHERE collection = ? AND entry_key = ?
	`
	var vector Vector
	var hash []byte
	err := q.QueryRowContext(ctx, query, collection, entryKey).Scan(
		&vector.ID, &vector.Collection, &vector.EntryKey, &vector.ComposerID,
		&vector.TurnIndex, &vector.Scope, &vector.Vector, &vector.Dimension,
		&hash, &vector.CreatedAt, &vector.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copy(vector.ContentHash[:], hash)
	return &vector, nil
}

func (s *SQLiteStorage) GetVector(ctx context.Context, collection, entryKey string) (*Vector, error) {
	return s.getVectorWithQuerier(ctx, s.querier(), collection, entryKey)
}

// ListVectorHashes returns entry_key -> content_hash for incremental rebuilds
func (s *SQLiteStorage) ListVectorHashes(ctx context.Context, collection string) (map[string][32]byte, error) {
	query := `SELECT entry_key, content_hash FROM vectors WHERE collection = ?`
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string][32]byte)
	for rows.Next() {
		var entryKey string
		var hash []byte
		if err := rows.Scan(&entryKey, &hash); err != nil {
			return nil, err
		}
		var fixed [32]byte
		copy(fixed[:], hash)
		hashes[entryKey] = fixed
	}
	return hashes, rows.Err()
}

func (s *SQLiteStorage) CountVectors(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors WHERE collection = ?", collection).Scan(&count)
	return count, err
}

func (s *SQLiteStorage) SearchVectors(ctx context.Context, collection string, queryVector []float32, limit int, filters *VectorFilters) ([]VectorResult, error) {
	return searchVectors(ctx, s.db, collection, queryVector, limit, filters)
}

// deleteVectorWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteVectorWithQuerier(ctx context.Context, q querier, collection, entryKey string) error {
	query := `DELETE FROM vectors WHERE collection = ? AND entry_key = ?`
	_, err := q.ExecContext(ctx, query, collection, entryKey)
	return err
}

func (s *SQLiteStorage) DeleteVector(ctx context.Context, collection, entryKey string) error {
	return s.deleteVectorWithQuerier(ctx, s.querier(), collection, entryKey)
}

// deleteVectorsByCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteVectorsByCollectionWithQuerier(ctx context.Context, q querier, collection string) error {
	query := `DELETE FROM vectors WHERE collection = ?`
	_, err := q.ExecContext(ctx, query, collection)
	return err
}

func (s *SQLiteStorage) DeleteVectorsByCollection(ctx context.Context, collection string) error {
	return s.deleteVectorsByCollectionWithQuerier(ctx, s.querier(), collection)
}

// Embedding cache operations

func (s *SQLiteStorage) GetCachedEmbedding(ctx context.Context, fingerprint string) (*CachedEmbedding, error) {
	query := `
		SELECT fingerprint, model, dimension, vector, created_at
		FROM embedding_cache
		WHERE fingerprint = ?
	`
	var embedding CachedEmbedding
	err := s.db.QueryRowContext(ctx, query, fingerprint).Scan(
		&embedding.Fingerprint, &embedding.Model, &embedding.Dimension,
		&embedding.Vector, &embedding.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &embedding, nil
}

// putCachedEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) putCachedEmbeddingWithQuerier(ctx context.Context, q querier, embedding *CachedEmbedding) error {
	query := `
		INSERT INTO embedding_cache (fingerprint, model, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			model = excluded.model,
			dimension = excluded.dimension,
			vector = excluded.vector
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		embedding.Fingerprint, embedding.Model, embedding.Dimension, embedding.Vector, now)
	if err != nil {
		return fmt.Errorf("failed to store cached embedding: %w", err)
	}
	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) PutCachedEmbedding(ctx context.Context, embedding *CachedEmbedding) error {
	return s.putCachedEmbeddingWithQuerier(ctx, s.querier(), embedding)
}

func (s *SQLiteStorage) DeleteCachedEmbedding(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM embedding_cache WHERE fingerprint = ?", fingerprint)
	return err
}

func (s *SQLiteStorage) CountCachedEmbeddings(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&count)
	return count, err
}

func (s *SQLiteStorage) ClearEmbeddingCache(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM embedding_cache")
	return err
}

// LLM response cache operations

func (s *SQLiteStorage) GetLLMEntry(ctx context.Context, key string) (*LLMEntry, error) {
	query := `
		SELECT cache_key, model, response, prompt_tokens, completion_tokens, total_tokens, created_at
		FROM llm_cache
		WHERE cache_key = ?
	`
	var entry LLMEntry
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&entry.Key, &entry.Model, &entry.Response,
		&entry.PromptTokens, &entry.CompletionTokens, &entry.TotalTokens,
		&entry.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// putLLMEntryWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) putLLMEntryWithQuerier(ctx context.Context, q querier, entry *LLMEntry) error {
	query := `
		INSERT INTO llm_cache (cache_key, model, response, prompt_tokens, completion_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			model = excluded.model,
			response = excluded.response,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			total_tokens = excluded.total_tokens
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		entry.Key, entry.Model, entry.Response,
		entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens, now)
	if err != nil {
		return fmt.Errorf("failed to store LLM cache entry: %w", err)
	}
	entry.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) PutLLMEntry(ctx context.Context, entry *LLMEntry) error {
	return s.putLLMEntryWithQuerier(ctx, s.querier(), entry)
}

func (s *SQLiteStorage) CountLLMEntries(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM llm_cache").Scan(&count)
	return count, err
}

func (s *SQLiteStorage) ClearLLMCache(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM llm_cache")
	return err
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*IndexStatus, error) {
	status := &IndexStatus{}

	// Count composers
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM composers").Scan(&status.ComposersCount)
	if err != nil {
		return nil, err
	}

	// Count entries total and per scope
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&status.EntriesCount)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE scope = ?", string(types.ScopePair)).Scan(&status.PairEntries)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE scope = ?", string(types.ScopeTurn)).Scan(&status.TurnEntries)
	if err != nil {
		return nil, err
	}

	// Collection summaries
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, c.model, c.dimension, COUNT(v.id)
		FROM collections c
		LEFT JOIN vectors v ON v.collection = c.name
		GROUP BY c.name
		ORDER BY c.name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	totalVectors := 0
	for rows.Next() {
		var cs CollectionStatus
		if err := rows.Scan(&cs.Name, &cs.Model, &cs.Dimension, &cs.Vectors); err != nil {
			return nil, err
		}
		totalVectors += cs.Vectors
		status.Collections = append(status.Collections, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Cache row counts
	if status.EmbeddingRows, err = s.CountCachedEmbeddings(ctx); err != nil {
		return nil, err
	}
	if status.LLMRows, err = s.CountLLMEntries(ctx); err != nil {
		return nil, err
	}

	// Latest index run
	var lastIndexedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, "SELECT MAX(last_indexed_at) FROM composers").Scan(&lastIndexedAt)
	if err != nil {
		return nil, err
	}
	if lastIndexedAt.Valid {
		status.LastIndexedAt = lastIndexedAt.Time
	}

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	// Check health status
	status.Health = HealthStatus{
		DatabaseAccessible: true,
		VectorsAvailable:   totalVectors > 0,
		FTSIndexBuilt:      true, // FTS index is created with migrations
	}

	return status, nil
}

// Transaction implementations

// Delegate read-only operations to storage (they can use DB or Tx)
// Write operations should use the internal helper that uses querier()

func (t *sqliteTx) UpsertComposer(ctx context.Context, composer *Composer) error {
	return t.storage.upsertComposerWithQuerier(ctx, t.querier(), composer)
}

func (t *sqliteTx) GetComposer(ctx context.Context, composerID string) (*Composer, error) {
	return t.storage.getComposerWithQuerier(ctx, t.querier(), composerID)
}

func (t *sqliteTx) ListComposers(ctx context.Context) ([]*Composer, error) {
	return t.storage.listComposersWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DeleteComposer(ctx context.Context, composerID string) error {
	return t.storage.deleteComposerWithQuerier(ctx, t.querier(), composerID)
}

func (t *sqliteTx) UpsertEntry(ctx context.Context, entry *types.IndexEntry) (UpsertOutcome, error) {
	return t.storage.upsertEntryWithQuerier(ctx, t.querier(), entry)
}

func (t *sqliteTx) GetEntry(ctx context.Context, composerID string, turnIndex int, scope types.Scope) (*types.IndexEntry, error) {
	return t.storage.getEntryWithQuerier(ctx, t.querier(), composerID, turnIndex, scope)
}

func (t *sqliteTx) ListEntries(ctx context.Context, composerID string) ([]*types.IndexEntry, error) {
	return t.storage.listEntriesWithQuerier(ctx, t.querier(), composerID)
}

func (t *sqliteTx) ListAllEntries(ctx context.Context) ([]*types.IndexEntry, error) {
	return t.storage.listAllEntriesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) CountEntries(ctx context.Context) (int, error) {
	return t.storage.CountEntries(ctx)
}

func (t *sqliteTx) DeleteEntriesFrom(ctx context.Context, composerID string, scope types.Scope, fromTurnIndex int) (int, error) {
	return t.storage.deleteEntriesFromWithQuerier(ctx, t.querier(), composerID, scope, fromTurnIndex)
}

func (t *sqliteTx) SearchEntries(ctx context.Context, query string, limit int) ([]*types.IndexEntry, error) {
	return t.storage.SearchEntries(ctx, query, limit)
}

func (t *sqliteTx) UpsertCollection(ctx context.Context, collection *Collection) error {
	return t.storage.upsertCollectionWithQuerier(ctx, t.querier(), collection)
}

func (t *sqliteTx) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return t.storage.getCollectionWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) ListCollections(ctx context.Context) ([]*Collection, error) {
	return t.storage.ListCollections(ctx)
}

func (t *sqliteTx) DeleteCollection(ctx context.Context, name string) error {
	return t.storage.deleteCollectionWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) UpsertVector(ctx context.Context, vector *Vector) error {
	return t.storage.upsertVectorWithQuerier(ctx, t.querier(), vector)
}

func (t *sqliteTx) GetVector(ctx context.Context, collection, entryKey string) (*Vector, error) {
	return t.storage.getVectorWithQuerier(ctx, t.querier(), collection, entryKey)
}

func (t *sqliteTx) ListVectorHashes(ctx context.Context, collection string) (map[string][32]byte, error) {
	return t.storage.ListVectorHashes(ctx, collection)
}

func (t *sqliteTx) CountVectors(ctx context.Context, collection string) (int, error) {
	return t.storage.CountVectors(ctx, collection)
}

func (t *sqliteTx) SearchVectors(ctx context.Context, collection string, queryVector []float32, limit int, filters *VectorFilters) ([]VectorResult, error) {
	return t.storage.SearchVectors(ctx, collection, queryVector, limit, filters)
}

func (t *sqliteTx) DeleteVector(ctx context.Context, collection, entryKey string) error {
	return t.storage.deleteVectorWithQuerier(ctx, t.querier(), collection, entryKey)
}

func (t *sqliteTx) DeleteVectorsByCollection(ctx context.Context, collection string) error {
	return t.storage.deleteVectorsByCollectionWithQuerier(ctx, t.querier(), collection)
}

func (t *sqliteTx) GetCachedEmbedding(ctx context.Context, fingerprint string) (*CachedEmbedding, error) {
	return t.storage.GetCachedEmbedding(ctx, fingerprint)
}

func (t *sqliteTx) PutCachedEmbedding(ctx context.Context, embedding *CachedEmbedding) error {
	return t.storage.putCachedEmbeddingWithQuerier(ctx, t.querier(), embedding)
}

func (t *sqliteTx) DeleteCachedEmbedding(ctx context.Context, fingerprint string) error {
	return t.storage.DeleteCachedEmbedding(ctx, fingerprint)
}

func (t *sqliteTx) CountCachedEmbeddings(ctx context.Context) (int, error) {
	return t.storage.CountCachedEmbeddings(ctx)
}

func (t *sqliteTx) ClearEmbeddingCache(ctx context.Context) error {
	return t.storage.ClearEmbeddingCache(ctx)
}

func (t *sqliteTx) GetLLMEntry(ctx context.Context, key string) (*LLMEntry, error) {
	return t.storage.GetLLMEntry(ctx, key)
}

func (t *sqliteTx) PutLLMEntry(ctx context.Context, entry *LLMEntry) error {
	return t.storage.putLLMEntryWithQuerier(ctx, t.querier(), entry)
}

func (t *sqliteTx) CountLLMEntries(ctx context.Context) (int, error) {
	return t.storage.CountLLMEntries(ctx)
}

func (t *sqliteTx) ClearLLMCache(ctx context.Context) error {
	return t.storage.ClearLLMCache(ctx)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return t.storage.GetStatus(ctx)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
