package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dshills/goconvo-mcp/internal/chunker"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// maxSnapshotLine bounds one JSONL line during import; long assistant
// turns routinely exceed bufio's default token size
const maxSnapshotLine = 16 << 20

// snapshotRecord is the JSONL wire form of one index entry. Timestamps
// are storage-managed and deliberately absent: a snapshot carries
// content, not row state.
type snapshotRecord struct {
	ComposerID    string            `json:"composer_id"`
	TurnIndex     int               `json:"turn_index"`
	Scope         types.Scope       `json:"scope"`
	UserText      string            `json:"user_text,omitempty"`
	AssistantText string            `json:"assistant_text,omitempty"`
	UserHead      string            `json:"user_head,omitempty"`
	AssistantHead string            `json:"assistant_head,omitempty"`
	Annotations   types.Annotations `json:"annotations"`
}

// toEntry converts a decoded line back into an index entry, recomputing
// heads when the line omits them
func (r *snapshotRecord) toEntry() *types.IndexEntry {
	entry := &types.IndexEntry{
		ComposerID:    r.ComposerID,
		TurnIndex:     r.TurnIndex,
		Scope:         r.Scope,
		UserText:      r.UserText,
		AssistantText: r.AssistantText,
		UserHead:      r.UserHead,
		AssistantHead: r.AssistantHead,
		Annotations:   r.Annotations,
	}
	if entry.UserHead == "" && entry.UserText != "" {
		entry.UserHead = chunker.Head(entry.UserText, chunker.UserHeadLen)
	}
	if entry.AssistantHead == "" && entry.AssistantText != "" {
		entry.AssistantHead = chunker.Head(entry.AssistantText, chunker.AssistantHeadLen)
	}
	return entry
}

// ImportStats reports the outcome of one snapshot import
type ImportStats struct {
	Imported  int      `json:"imported"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Malformed int      `json:"malformed"`
	Reasons   []string `json:"reasons,omitempty"`
}

func (s *ImportStats) malformed(lineNo int, reason string) {
	s.Malformed++
	s.Reasons = append(s.Reasons, fmt.Sprintf("line %d: %s", lineNo, reason))
}

// ExportSnapshot writes every stored entry as one JSON object per line,
// ordered by identity (composer, turn, scope), and returns the number of
// lines written
func (idx *Indexer) ExportSnapshot(ctx context.Context, w io.Writer) (int, error) {
	entries, err := idx.storage.ListAllEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ComposerID != entries[j].ComposerID {
			return entries[i].ComposerID < entries[j].ComposerID
		}
		if entries[i].TurnIndex != entries[j].TurnIndex {
			return entries[i].TurnIndex < entries[j].TurnIndex
		}
		return entries[i].Scope < entries[j].Scope
	})

	enc := json.NewEncoder(w)
	for written, entry := range entries {
		rec := snapshotRecord{
			ComposerID:    entry.ComposerID,
			TurnIndex:     entry.TurnIndex,
			Scope:         entry.Scope,
			UserText:      entry.UserText,
			AssistantText: entry.AssistantText,
			UserHead:      entry.UserHead,
			AssistantHead: entry.AssistantHead,
			Annotations:   entry.Annotations,
		}
		if err := enc.Encode(&rec); err != nil {
			return written, fmt.Errorf("writing snapshot line: %w", err)
		}
	}
	return len(entries), nil
}

// ImportSnapshot upserts entries from a JSONL snapshot in one
// transaction. A line that fails to decode or validate is counted with a
// reason and dropped; the import keeps going. Storage failures abort and
// roll back the whole import.
func (idx *Indexer) ImportSnapshot(ctx context.Context, r io.Reader) (*ImportStats, error) {
	stats := &ImportStats{}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSnapshotLine)

	seen := map[string]bool{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec snapshotRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.malformed(lineNo, "invalid JSON: "+err.Error())
			continue
		}
		entry := rec.toEntry()
		if err := entry.Validate(); err != nil {
			stats.malformed(lineNo, err.Error())
			continue
		}

		// Entries reference their composer row; a snapshot imported into
		// a fresh archive needs stub composers to land on
		if !seen[entry.ComposerID] {
			if err := ensureComposer(ctx, tx, entry.ComposerID); err != nil {
				return nil, err
			}
			seen[entry.ComposerID] = true
		}

		outcome, err := tx.UpsertEntry(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("upserting entry %s: %w", entry.Key(), err)
		}
		stats.Imported++
		switch outcome {
		case storage.OutcomeCreated:
			stats.Created++
		case storage.OutcomeUpdated:
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing import: %w", err)
	}
	return stats, nil
}

// ensureComposer inserts a stub row when the archive holds no composer
// with this id. The stub carries no title or turn count; the next index
// run over the live source fills those in.
func ensureComposer(ctx context.Context, tx storage.Tx, composerID string) error {
	_, err := tx.GetComposer(ctx, composerID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("checking composer %s: %w", composerID, err)
	}
	return tx.UpsertComposer(ctx, &storage.Composer{
		ComposerID:    composerID,
		LastIndexedAt: time.Now().UTC(),
	})
}
