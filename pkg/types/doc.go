// Package types provides shared type definitions for the GoConvo MCP server.
//
// This package defines domain types used across multiple components of
// GoConvo, including conversation records, index entries, annotations, and
// retrieval results, plus the error kinds shared across the pipeline.
//
// # Core Types
//
// ConversationRecord is an ordered sequence of turns belonging to one
// composer/session, produced by a source backend:
//
//	record := &types.ConversationRecord{
//	    ComposerID: "3f2a...",
//	    Title:      "fix flaky websocket test",
//	    Turns: []types.Turn{
//	        {Role: types.RoleUser, Text: "why does this test flake?"},
//	        {Role: types.RoleAssistant, Text: "The dial races the server..."},
//	    },
//	}
//
// IndexEntry is one deduplicated retrieval unit built from a conversation.
// Identity is (ComposerID, TurnIndex, Scope); rebuilds upsert by identity:
//
//	entry := &types.IndexEntry{
//	    ComposerID: "3f2a...",
//	    TurnIndex:  0,
//	    Scope:      types.ScopePair,
//	    UserText:   "why does this test flake?",
//	}
//	key := entry.Key() // "3f2a...:0:pair"
//
// # Error Kinds
//
// Four sentinel errors classify failures across components. Wrap them with
// fmt.Errorf and classify with errors.Is:
//
//	if err != nil {
//	    return fmt.Errorf("fetch composer %s: %w", id, types.ErrSourceRead)
//	}
//
//	if errors.Is(err, types.ErrProvider) {
//	    // retries exhausted, surface to caller
//	}
//
// ErrSourceRead is isolated to one record; ErrProvider is terminal after
// backoff; ErrConfiguration is fatal to the operation and never retried;
// ErrCacheCorruption drops the offending entry and continues.
//
// # Retrieval Results
//
// RetrievalResult combines entry metadata with a score breakdown:
//
//	result := &types.RetrievalResult{
//	    EntryKey: "3f2a...:0:pair",
//	    Rank:     1,
//	    Combined: 0.81,
//	    Sparse:   0.75,
//	    Dense:    0.87,
//	}
//
// All scores are normalized to [0, 1], with higher values indicating better
// matches.
package types
