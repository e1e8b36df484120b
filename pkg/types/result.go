package types

// RetrievalResult is a single ranked search hit with its score breakdown
type RetrievalResult struct {
	// Identification
	EntryKey string
	Rank     int // Position in result set (1-based)

	// Scoring, all normalized to [0,1]
	Combined float64 // ws*sparse + wd*dense in hybrid mode
	Sparse   float64 // lexical token-overlap score
	Dense    float64 // vector similarity score

	// Metadata
	ComposerID    string
	TurnIndex     int
	Scope         Scope
	UserHead      string
	AssistantHead string
	Annotations   *Annotations // nil when not loaded
}

// Validate checks if the retrieval result is valid
func (rr *RetrievalResult) Validate() error {
	if rr.EntryKey == "" {
		return ErrInvalidEntryKey
	}

	if rr.Rank < 1 {
		return ErrInvalidRank
	}

	if rr.Combined < 0 || rr.Combined > 1 {
		return ErrInvalidRelevanceScore
	}
	if rr.Sparse < 0 || rr.Sparse > 1 {
		return ErrInvalidRelevanceScore
	}
	if rr.Dense < 0 || rr.Dense > 1 {
		return ErrInvalidRelevanceScore
	}

	return nil
}
