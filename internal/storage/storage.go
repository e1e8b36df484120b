package storage

import (
	"context"
	"time"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying indexed conversation data
type Storage interface {
	// Composer operations
	UpsertComposer(ctx context.Context, composer *Composer) error
	GetComposer(ctx context.Context, composerID string) (*Composer, error)
	ListComposers(ctx context.Context) ([]*Composer, error)
	DeleteComposer(ctx context.Context, composerID string) error

	// Entry operations
	UpsertEntry(ctx context.Context, entry *types.IndexEntry) (UpsertOutcome, error)
	GetEntry(ctx context.Context, composerID string, turnIndex int, scope types.Scope) (*types.IndexEntry, error)
	ListEntries(ctx context.Context, composerID string) ([]*types.IndexEntry, error)
	ListAllEntries(ctx context.Context) ([]*types.IndexEntry, error)
	CountEntries(ctx context.Context) (int, error)
	DeleteEntriesFrom(ctx context.Context, composerID string, scope types.Scope, fromTurnIndex int) (deletedCount int, err error)
	SearchEntries(ctx context.Context, query string, limit int) ([]*types.IndexEntry, error)

	// Collection operations
	UpsertCollection(ctx context.Context, collection *Collection) error
	GetCollection(ctx context.Context, name string) (*Collection, error)
	ListCollections(ctx context.Context) ([]*Collection, error)
	DeleteCollection(ctx context.Context, name string) error

	// Vector operations
	UpsertVector(ctx context.Context, vector *Vector) error
	GetVector(ctx context.Context, collection, entryKey string) (*Vector, error)
	ListVectorHashes(ctx context.Context, collection string) (map[string][32]byte, error)
	CountVectors(ctx context.Context, collection string) (int, error)
	SearchVectors(ctx context.Context, collection string, queryVector []float32, limit int, filters *VectorFilters) ([]VectorResult, error)
	DeleteVector(ctx context.Context, collection, entryKey string) error
	DeleteVectorsByCollection(ctx context.Context, collection string) error

	// Embedding cache operations
	GetCachedEmbedding(ctx context.Context, fingerprint string) (*CachedEmbedding, error)
	PutCachedEmbedding(ctx context.Context, embedding *CachedEmbedding) error
	DeleteCachedEmbedding(ctx context.Context, fingerprint string) error
	CountCachedEmbeddings(ctx context.Context) (int, error)
	ClearEmbeddingCache(ctx context.Context) error

	// LLM response cache operations
	GetLLMEntry(ctx context.Context, key string) (*LLMEntry, error)
	PutLLMEntry(ctx context.Context, entry *LLMEntry) error
	CountLLMEntries(ctx context.Context) (int, error)
	ClearLLMCache(ctx context.Context) error

	// Status operations
	GetStatus(ctx context.Context) (*IndexStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// UpsertOutcome reports whether an entry upsert wrote a new row, rewrote an
// existing one, or found the stored row already identical
type UpsertOutcome int

const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeCreated
	OutcomeUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Composer represents one indexed conversation thread
type Composer struct {
	ID            int64
	ComposerID    string
	Title         string
	RepoHint      string
	TurnCount     int
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Collection registers an embedding namespace with its model and dimensionality.
// Every vector stored under the collection must match Dimension.
type Collection struct {
	Name      string
	Model     string
	Dimension int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Vector represents a stored embedding for one index entry
type Vector struct {
	ID          int64
	Collection  string
	EntryKey    string
	ComposerID  string
	TurnIndex   int
	Scope       string
	Vector      []byte // Serialized float32 array
	Dimension   int
	ContentHash [32]byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CachedEmbedding is a persisted embedding cache row keyed by fingerprint
type CachedEmbedding struct {
	Fingerprint string
	Model       string
	Dimension   int
	Vector      []byte // Serialized float32 array
	CreatedAt   time.Time
}

// LLMEntry is a persisted LLM response cache row keyed by request hash.
// The json tags define the value format of the redis backing store.
type LLMEntry struct {
	Key              string    `json:"key"`
	Model            string    `json:"model"`
	Response         string    `json:"response"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// VectorFilters contains filters for narrowing vector search results
type VectorFilters struct {
	ComposerID   string  // Restrict to one conversation
	Scope        string  // Restrict to pair or turn entries
	MinRelevance float64 // Minimum cosine similarity
}

// VectorResult represents a result from vector similarity search.
// Similarity is raw cosine in [-1, 1].
type VectorResult struct {
	EntryKey   string
	Similarity float64
}

// IndexStatus contains statistics about the indexed archive
type IndexStatus struct {
	ComposersCount int
	EntriesCount   int
	PairEntries    int
	TurnEntries    int
	Collections    []CollectionStatus
	EmbeddingRows  int
	LLMRows        int
	IndexSizeMB    float64
	LastIndexedAt  time.Time
	Health         HealthStatus
}

// CollectionStatus summarizes one embedding collection
type CollectionStatus struct {
	Name      string
	Model     string
	Dimension int
	Vectors   int
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible bool
	VectorsAvailable   bool
	FTSIndexBuilt      bool
}
