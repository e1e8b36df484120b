package types

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// Scope selects the granularity an index entry was built at
type Scope string

const (
	// ScopePair groups a user turn with its following assistant run
	ScopePair Scope = "pair"
	// ScopeTurn indexes every coalesced turn on its own
	ScopeTurn Scope = "turn"
)

// LengthBucket classifies combined entry text length
type LengthBucket string

const (
	LengthShort  LengthBucket = "short"
	LengthMedium LengthBucket = "medium"
	LengthLong   LengthBucket = "long"
)

// Polarity is a coarse sentiment signal over one side of a pair
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// QualityBucket grades structural quality of assistant output
type QualityBucket string

const (
	QualityLow    QualityBucket = "low"
	QualityMedium QualityBucket = "medium"
	QualityHigh   QualityBucket = "high"
)

// Annotations are cheap heuristic signals attached to an entry at build
// time. They feed search filtering, sparse-score tag matching, and index
// statistics. Stored as JSON alongside the entry.
type Annotations struct {
	LengthBucket       LengthBucket  `json:"length_bucket"`
	HasCode            bool          `json:"has_code"`
	HasLinks           bool          `json:"has_links"`
	UserLen            int           `json:"user_len"`
	AssistantLen       int           `json:"assistant_len"`
	UserPolarity       Polarity      `json:"user_polarity"`
	AssistantPolarity  Polarity      `json:"assistant_polarity"`
	UnfinishedThread   bool          `json:"unfinished_thread"`
	HasUsefulOutput    bool          `json:"has_useful_output"`
	ContainsPreference bool          `json:"contains_preference"`
	ContainsDesign     bool          `json:"contains_design"`
	ContainsLearning   bool          `json:"contains_learning"`
	AssistantClarity   QualityBucket `json:"assistant_clarity"`
	AssistantContext   QualityBucket `json:"assistant_context"`
	Tags               []string      `json:"tags,omitempty"`
}

// MetaBits renders the boolean flags and tags as searchable text tokens.
// The tokens participate in sparse matching and are appended to the text
// that gets embedded, so annotation signals influence both retrieval
// modes.
func (a *Annotations) MetaBits() []string {
	var bits []string
	if a.ContainsDesign {
		bits = append(bits, "contains_design")
	}
	if a.ContainsPreference {
		bits = append(bits, "contains_preference")
	}
	if a.ContainsLearning {
		bits = append(bits, "contains_learning")
	}
	if a.UnfinishedThread {
		bits = append(bits, "unfinished_thread")
	}
	if a.HasUsefulOutput {
		bits = append(bits, "has_useful_output")
	}
	for _, t := range a.Tags {
		if t != "" {
			bits = append(bits, "tag:"+t)
		}
	}
	return bits
}

// IndexEntry is one deduplicated retrieval unit produced from a
// conversation. Identity is (ComposerID, TurnIndex, Scope); rebuilding
// from an unchanged source upserts by identity instead of appending.
type IndexEntry struct {
	// Identification
	ID         int64
	ComposerID string
	TurnIndex  int
	Scope      Scope

	// Content
	UserText      string
	AssistantText string
	UserHead      string
	AssistantHead string

	// Metadata
	Annotations Annotations
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key renders the stable string identity "composer:turn:scope". It is the
// deterministic tie-break id in ranking and the document id in vector
// collections, so ordering survives rebuilds and backend swaps.
func (e *IndexEntry) Key() string {
	return fmt.Sprintf("%s:%d:%s", e.ComposerID, e.TurnIndex, e.Scope)
}

// Text returns the combined searchable text of the entry
func (e *IndexEntry) Text() string {
	if e.UserText == "" {
		return e.AssistantText
	}
	if e.AssistantText == "" {
		return e.UserText
	}
	return e.UserText + "\n" + e.AssistantText
}

// ContentHash computes the SHA-256 hash of the combined text. Incremental
// vector builds compare it against the hash stored with the vector row to
// decide whether re-embedding is needed.
func (e *IndexEntry) ContentHash() [32]byte {
	return sha256.Sum256([]byte(e.Text()))
}

// ValidateScope checks the scope is a known value
func ValidateScope(s Scope) error {
	switch s {
	case ScopePair, ScopeTurn:
		return nil
	default:
		return errors.New("scope must be pair or turn")
	}
}

// Validate performs comprehensive validation of the entry
func (e *IndexEntry) Validate() error {
	if e.ComposerID == "" {
		return errors.New("composer ID is required")
	}
	if e.TurnIndex < 0 {
		return errors.New("turn index must be >= 0")
	}
	if err := ValidateScope(e.Scope); err != nil {
		return err
	}
	if e.Text() == "" {
		return ErrEmptyContent
	}
	return nil
}
