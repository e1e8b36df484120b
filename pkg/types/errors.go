package types

import "errors"

// Error kinds shared across the pipeline. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers classify with errors.Is while the
// message retains operation context.
var (
	// ErrSourceRead marks a malformed or unavailable raw conversation
	// record. Isolated to that record: batch builds count and continue.
	ErrSourceRead = errors.New("source read failed")

	// ErrProvider marks a failed embedding or model call (timeout, quota,
	// malformed response) after the retry policy is exhausted. No cache
	// entry is ever written for a failed call.
	ErrProvider = errors.New("provider call failed")

	// ErrConfiguration marks an invalid setup: vector dimension mismatch,
	// unsafe collection name, invalid parameter combination. Fatal to the
	// operation, never retried.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCacheCorruption marks a stored cache or vector entry that cannot
	// be decoded. The offending entry is dropped and the operation
	// continues.
	ErrCacheCorruption = errors.New("cache entry corrupt")
)

// Domain errors for type validation
var (
	ErrInvalidEntryKey       = errors.New("invalid entry key")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrEmptyContent          = errors.New("content cannot be empty")
)
