package mcp

import (
	"context"
	"math/rand"
	"sort"

	"github.com/dshills/goconvo-mcp/internal/chunker"
	"github.com/dshills/goconvo-mcp/internal/source"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// indexStatsReport aggregates distributions over every indexed entry. It is
// computed on demand rather than maintained incrementally: the archive is
// small enough to scan and a scan can never drift from the truth.
type indexStatsReport struct {
	EntriesTotal int `json:"entries_total"`
	PairEntries  int `json:"pair_entries"`
	TurnEntries  int `json:"turn_entries"`
	Composers    int `json:"composers"`

	TopComposers []composerEntryCount `json:"top_composers,omitempty"`

	LengthBuckets     map[string]int `json:"length_buckets"`
	HasCode           int            `json:"has_code"`
	HasLinks          int            `json:"has_links"`
	UserPolarity      map[string]int `json:"user_polarity"`
	AssistantPolarity map[string]int `json:"assistant_polarity"`
	TagCounts         map[string]int `json:"tag_counts,omitempty"`

	EmptyUserHeads      int `json:"empty_user_heads"`
	EmptyAssistantHeads int `json:"empty_assistant_heads"`

	AvgUserLen      float64 `json:"avg_user_len"`
	AvgAssistantLen float64 `json:"avg_assistant_len"`
}

// composerEntryCount is one row of the per-conversation leaderboard
type composerEntryCount struct {
	ComposerID string `json:"composer_id"`
	Entries    int    `json:"entries"`
}

// computeIndexStats scans the archive once and aggregates annotation and
// length distributions. topN bounds the per-composer leaderboard.
func computeIndexStats(ctx context.Context, store storage.Storage, topN int) (*indexStatsReport, error) {
	entries, err := store.ListAllEntries(ctx)
	if err != nil {
		return nil, err
	}
	composers, err := store.ListComposers(ctx)
	if err != nil {
		return nil, err
	}

	report := &indexStatsReport{
		EntriesTotal:      len(entries),
		Composers:         len(composers),
		LengthBuckets:     map[string]int{},
		UserPolarity:      map[string]int{},
		AssistantPolarity: map[string]int{},
		TagCounts:         map[string]int{},
	}

	byComposer := map[string]int{}
	var userLenSum, assistantLenSum int

	for _, entry := range entries {
		byComposer[entry.ComposerID]++

		switch entry.Scope {
		case types.ScopePair:
			report.PairEntries++
		case types.ScopeTurn:
			report.TurnEntries++
		}

		ann := entry.Annotations
		if ann.LengthBucket != "" {
			report.LengthBuckets[string(ann.LengthBucket)]++
		}
		if ann.HasCode {
			report.HasCode++
		}
		if ann.HasLinks {
			report.HasLinks++
		}
		if ann.UserPolarity != "" {
			report.UserPolarity[string(ann.UserPolarity)]++
		}
		if ann.AssistantPolarity != "" {
			report.AssistantPolarity[string(ann.AssistantPolarity)]++
		}
		for _, tag := range ann.Tags {
			report.TagCounts[tag]++
		}

		if entry.UserHead == "" {
			report.EmptyUserHeads++
		}
		if entry.AssistantHead == "" {
			report.EmptyAssistantHeads++
		}
		userLenSum += ann.UserLen
		assistantLenSum += ann.AssistantLen
	}

	if len(entries) > 0 {
		report.AvgUserLen = float64(userLenSum) / float64(len(entries))
		report.AvgAssistantLen = float64(assistantLenSum) / float64(len(entries))
	}
	report.TopComposers = topComposers(byComposer, topN)

	return report, nil
}

// topComposers ranks conversations by entry count descending, composer id
// ascending on ties
func topComposers(counts map[string]int, topN int) []composerEntryCount {
	if topN <= 0 || len(counts) == 0 {
		return nil
	}
	ranked := make([]composerEntryCount, 0, len(counts))
	for id, n := range counts {
		ranked = append(ranked, composerEntryCount{ComposerID: id, Entries: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Entries != ranked[j].Entries {
			return ranked[i].Entries > ranked[j].Entries
		}
		return ranked[i].ComposerID < ranked[j].ComposerID
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// sourceStatsReport describes the health of the live conversation source:
// how many sessions the agent database advertises, how many actually load,
// and how much the turn stream shrinks under coalescing.
type sourceStatsReport struct {
	Composers     int `json:"composers"`
	Fetched       int `json:"fetched"`
	FetchFailures int `json:"fetch_failures"`
	EmptyRecords  int `json:"empty_records"`
	ChunkFailures int `json:"chunk_failures"`

	// HeaderTurns is the turn count the session headers claim;
	// CoalescedTurns is what fetching and coalescing actually produced.
	HeaderTurns    int     `json:"header_turns"`
	CoalescedTurns int     `json:"coalesced_turns"`
	CoalesceRatio  float64 `json:"coalesce_ratio"`

	Pairs           int     `json:"pairs"`
	UnansweredPairs int     `json:"unanswered_pairs"`
	UnansweredRate  float64 `json:"unanswered_rate"`
}

// computeSourceStats walks every session in the source. Fetch and chunk
// failures are counted, not fatal; only cancellation aborts the scan.
func computeSourceStats(ctx context.Context, src source.Source) (*sourceStatsReport, error) {
	infos, err := src.ListComposers(ctx)
	if err != nil {
		return nil, err
	}

	report := &sourceStatsReport{Composers: len(infos)}
	ch := chunker.New()

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.HeaderTurns += info.TurnCount

		record, err := src.FetchRecords(ctx, info.ComposerID)
		if err != nil {
			report.FetchFailures++
			continue
		}
		report.Fetched++

		if record.IsEmpty() {
			report.EmptyRecords++
			continue
		}
		report.CoalescedTurns += len(record.Turns)

		entries, err := ch.Chunk(record, types.ScopePair)
		if err != nil {
			report.ChunkFailures++
			continue
		}
		for _, entry := range entries {
			report.Pairs++
			if entry.AssistantText == "" {
				report.UnansweredPairs++
			}
		}
	}

	if report.HeaderTurns > 0 {
		report.CoalesceRatio = float64(report.CoalescedTurns) / float64(report.HeaderTurns)
	}
	if report.Pairs > 0 {
		report.UnansweredRate = float64(report.UnansweredPairs) / float64(report.Pairs)
	}
	return report, nil
}

// sampleEntries draws up to n entries uniformly without replacement using
// reservoir sampling, so the draw stays uniform however large the archive
// grows.
func sampleEntries(entries []*types.IndexEntry, n int, rng *rand.Rand) []*types.IndexEntry {
	if n <= 0 {
		return nil
	}
	reservoir := make([]*types.IndexEntry, 0, n)
	for i, entry := range entries {
		if i < n {
			reservoir = append(reservoir, entry)
			continue
		}
		j := rng.Intn(i + 1)
		if j < n {
			reservoir[j] = entry
		}
	}
	return reservoir
}
