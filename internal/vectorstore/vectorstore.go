package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// namespacePattern constrains namespace names to characters every backend
// accepts as an identifier
var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Item is one entry's vector plus the identity needed for filtering and
// incremental rebuilds
type Item struct {
	EntryKey    string
	ComposerID  string
	TurnIndex   int
	Scope       types.Scope
	Vector      []float32
	ContentHash [32]byte
}

// Match is one query result. Similarity is normalized to [0, 1].
type Match struct {
	EntryKey   string
	Similarity float64
}

// Filters narrows a query
type Filters struct {
	ComposerID    string      // restrict to one conversation
	Scope         types.Scope // restrict to one entry scope
	MinSimilarity float64     // drop matches below this normalized similarity
}

// Index is one vector namespace with a fixed dimensionality. Implementations
// must reject vectors of any other length without modifying stored data.
type Index interface {
	// Upsert adds or replaces items by entry key. Validation of every
	// item happens before the first write.
	Upsert(ctx context.Context, items []Item) error

	// Delete removes items by entry key. Missing keys are ignored.
	Delete(ctx context.Context, entryKeys []string) error

	// Query returns up to k matches ordered by similarity descending,
	// ties broken by ascending entry key. Fewer than k stored vectors
	// yield all of them.
	Query(ctx context.Context, vector []float32, k int, filters *Filters) ([]Match, error)

	// Hashes returns entry key -> content hash for incremental rebuilds
	Hashes(ctx context.Context) (map[string][32]byte, error)

	// Count returns the number of stored vectors
	Count(ctx context.Context) (int, error)

	// Dimension returns the fixed vector length for this namespace
	Dimension() int

	// Namespace returns the namespace name
	Namespace() string

	// Close releases backend resources. It never closes shared handles
	// owned by the caller.
	Close() error
}

// ValidateNamespace rejects names that are empty or contain characters
// outside [A-Za-z0-9_]
func ValidateNamespace(namespace string) error {
	if !namespacePattern.MatchString(namespace) {
		return fmt.Errorf("invalid namespace %q: %w", namespace, types.ErrConfiguration)
	}
	return nil
}

// validateDimension rejects non-positive dimensions
func validateDimension(dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d: %w", dimension, types.ErrConfiguration)
	}
	return nil
}

// validateItems checks every vector length up front so a failed batch leaves
// the store untouched
func validateItems(items []Item, dimension int) error {
	for _, item := range items {
		if len(item.Vector) != dimension {
			return fmt.Errorf("vector for %s has dimension %d, namespace requires %d: %w",
				item.EntryKey, len(item.Vector), dimension, types.ErrConfiguration)
		}
	}
	return nil
}

// validateQuery checks the query vector and result count
func validateQuery(vector []float32, k, dimension int) error {
	if k <= 0 {
		return fmt.Errorf("result count %d must be positive: %w", k, types.ErrConfiguration)
	}
	if len(vector) != dimension {
		return fmt.Errorf("query vector has dimension %d, namespace requires %d: %w",
			len(vector), dimension, types.ErrConfiguration)
	}
	return nil
}

// normalizeSimilarity maps raw cosine similarity from [-1, 1] onto [0, 1],
// clamping float drift at the edges
func normalizeSimilarity(cosine float64) float64 {
	s := (cosine + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// sortMatches orders by similarity descending, entry key ascending on ties
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].EntryKey < matches[j].EntryKey
	})
}

// ParseEntryKey splits "composer:turn:scope" from the right, so composer ids
// containing colons still parse.
func ParseEntryKey(key string) (composerID string, turnIndex int, scope types.Scope, ok bool) {
	scopeSep := strings.LastIndex(key, ":")
	if scopeSep <= 0 {
		return "", 0, "", false
	}
	turnSep := strings.LastIndex(key[:scopeSep], ":")
	if turnSep <= 0 {
		return "", 0, "", false
	}

	turn, err := strconv.Atoi(key[turnSep+1 : scopeSep])
	if err != nil {
		return "", 0, "", false
	}
	return key[:turnSep], turn, types.Scope(key[scopeSep+1:]), true
}
