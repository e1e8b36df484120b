package source

import (
	"context"
	"fmt"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// MemorySource serves a fixed set of conversation records from memory.
// Used by tests and the indexcheck utility. Safe for concurrent reads
// once constructed.
type MemorySource struct {
	order   []string
	records map[string]*types.ConversationRecord
}

// NewMemorySource builds a source over the given records, preserving
// their order for ListComposers
func NewMemorySource(records ...types.ConversationRecord) *MemorySource {
	s := &MemorySource{
		records: make(map[string]*types.ConversationRecord, len(records)),
	}
	for i := range records {
		rec := records[i]
		rec.Turns = CoalesceTurns(rec.Turns)
		if _, seen := s.records[rec.ComposerID]; !seen {
			s.order = append(s.order, rec.ComposerID)
		}
		s.records[rec.ComposerID] = &rec
	}
	return s
}

// ListComposers returns the records' metadata in construction order
func (s *MemorySource) ListComposers(ctx context.Context) ([]types.ComposerInfo, error) {
	infos := make([]types.ComposerInfo, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		infos = append(infos, types.ComposerInfo{
			ComposerID: rec.ComposerID,
			Title:      rec.Title,
			RepoHint:   rec.RepoHint,
			TurnCount:  len(rec.Turns),
		})
	}
	return infos, nil
}

// FetchRecords returns the stored record for composerID
func (s *MemorySource) FetchRecords(ctx context.Context, composerID string) (*types.ConversationRecord, error) {
	rec, ok := s.records[composerID]
	if !ok {
		return nil, fmt.Errorf("composer %s not found: %w", composerID, types.ErrSourceRead)
	}
	return rec, nil
}

// Close is a no-op for the in-memory source
func (s *MemorySource) Close() error {
	return nil
}
