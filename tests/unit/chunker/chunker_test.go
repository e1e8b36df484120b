package chunker_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dshills/goconvo-mcp/internal/chunker"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// reviewConversation is a realistic session: questions, coalesced
// assistant runs, code, links, and a stated preference.
func reviewConversation() *types.ConversationRecord {
	return &types.ConversationRecord{
		ComposerID: "review-session",
		Title:      "Reviewing the retry layer",
		Turns: []types.Turn{
			{Role: types.RoleUser, Text: "Can you look at the retry wrapper in the embedding client? It hammers the provider on 429s."},
			{Role: types.RoleAssistant, Text: "The wrapper retries immediately with no backoff. Exponential backoff with jitter fixes the hammering:\n\n```go\ndelay := base << attempt\ndelay += rand.N(delay / 2)\n```"},
			{Role: types.RoleAssistant, Text: "The provider's rate-limit guidance is at https://platform.openai.com/docs/guides/rate-limits if you want the exact headers to honor."},
			{Role: types.RoleUser, Text: "We prefer honoring Retry-After over computed backoff when the header is present."},
			{Role: types.RoleAssistant, Text: "Reasonable. Header wins when set, computed backoff is the fallback."},
			{Role: types.RoleUser, Text: "One more thing: how should the retry budget interact with the overall request deadline?"},
			{Role: types.RoleAssistant, Text: "Derive the per-attempt timeout from the remaining context deadline. A retry that cannot finish before the deadline should not start."},
		},
	}
}

func TestChunk_PairEntries(t *testing.T) {
	record := reviewConversation()

	c := chunker.New()
	entries, err := c.Chunk(record, types.ScopePair)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	if len(entries) == 0 {
		t.Fatal("no entries created")
	}

	// Verify each entry has required fields
	var zeroHash [32]byte
	for i, entry := range entries {
		t.Run(entry.Key(), func(t *testing.T) {
			if entry.Text() == "" {
				t.Errorf("entry[%d]: Text is empty", i)
			}

			if entry.TurnIndex != i {
				t.Errorf("entry[%d]: TurnIndex = %d, want %d", i, entry.TurnIndex, i)
			}

			if entry.Scope != types.ScopePair {
				t.Errorf("entry[%d]: Scope = %q, want %q", i, entry.Scope, types.ScopePair)
			}

			wantKey := fmt.Sprintf("%s:%d:%s", record.ComposerID, i, types.ScopePair)
			if entry.Key() != wantKey {
				t.Errorf("entry[%d]: Key = %q, want %q", i, entry.Key(), wantKey)
			}

			if entry.UserText != "" && entry.UserHead == "" {
				t.Errorf("entry[%d]: UserHead empty despite user text", i)
			}
			if entry.AssistantText != "" && entry.AssistantHead == "" {
				t.Errorf("entry[%d]: AssistantHead empty despite assistant text", i)
			}

			if got := utf8.RuneCountInString(entry.UserHead); got > chunker.UserHeadLen {
				t.Errorf("entry[%d]: UserHead is %d runes, cap is %d", i, got, chunker.UserHeadLen)
			}
			if got := utf8.RuneCountInString(entry.AssistantHead); got > chunker.AssistantHeadLen {
				t.Errorf("entry[%d]: AssistantHead is %d runes, cap is %d", i, got, chunker.AssistantHeadLen)
			}

			if entry.ContentHash() == zeroHash {
				t.Errorf("entry[%d]: ContentHash not computed", i)
			}

			if entry.Annotations.LengthBucket == "" {
				t.Errorf("entry[%d]: LengthBucket not set", i)
			}
			if entry.Annotations.UserLen != len(entry.UserText) {
				t.Errorf("entry[%d]: UserLen = %d, want %d", i, entry.Annotations.UserLen, len(entry.UserText))
			}
			if entry.Annotations.AssistantLen != len(entry.AssistantText) {
				t.Errorf("entry[%d]: AssistantLen = %d, want %d",
					i, entry.Annotations.AssistantLen, len(entry.AssistantText))
			}
		})
	}
}

func TestChunk_AnnotationSignals(t *testing.T) {
	c := chunker.New()
	entries, err := c.Chunk(reviewConversation(), types.ScopePair)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	// Count how many entries carry each signal
	counts := make(map[string]int)
	for _, entry := range entries {
		a := entry.Annotations
		if a.HasCode {
			counts["has_code"]++
		}
		if a.HasLinks {
			counts["has_links"]++
		}
		if a.HasUsefulOutput {
			counts["has_useful_output"]++
		}
		if a.ContainsPreference {
			counts["contains_preference"]++
		}
		if a.ContainsDesign {
			counts["contains_design"]++
		}
	}

	// Expected: the fixture plants at least one of each
	expectedMinCounts := map[string]int{
		"has_code":            1, // fenced backoff snippet
		"has_links":           1, // rate-limit docs URL
		"has_useful_output":   1, // code in an assistant run
		"contains_preference": 1, // "We prefer honoring Retry-After"
		"contains_design":     1, // "embedding client" vocabulary
	}

	for signal, minCount := range expectedMinCounts {
		if counts[signal] < minCount {
			t.Errorf("signal %s count = %d, want >= %d", signal, counts[signal], minCount)
		}
	}
}

func TestChunk_TurnScopeSides(t *testing.T) {
	record := reviewConversation()

	c := chunker.New()
	entries, err := c.Chunk(record, types.ScopeTurn)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	if len(entries) != len(record.Turns) {
		t.Fatalf("turn entries = %d, want %d (one per non-blank turn)", len(entries), len(record.Turns))
	}

	for i, entry := range entries {
		if entry.TurnIndex != i {
			t.Errorf("entry[%d]: TurnIndex = %d, want %d", i, entry.TurnIndex, i)
		}

		// Exactly one side of a turn-scoped entry carries text
		hasUser := entry.UserText != ""
		hasAssistant := entry.AssistantText != ""
		if hasUser == hasAssistant {
			t.Errorf("entry[%d]: user=%v assistant=%v, want exactly one side", i, hasUser, hasAssistant)
		}
	}
}

func TestChunk_HeadRuneTruncation(t *testing.T) {
	longFirstLine := strings.Repeat("事象の水平線を越えた ", 40) + "\nsecond line is dropped"
	record := &types.ConversationRecord{
		ComposerID: "multibyte-session",
		Turns: []types.Turn{
			{Role: types.RoleUser, Text: longFirstLine},
			{Role: types.RoleAssistant, Text: "Short answer."},
		},
	}

	c := chunker.New()
	entries, err := c.Chunk(record, types.ScopePair)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	head := entries[0].UserHead
	if strings.Contains(head, "\n") {
		t.Error("head crossed onto the second line")
	}
	if got := utf8.RuneCountInString(head); got != chunker.UserHeadLen {
		t.Errorf("head is %d runes, want exactly %d", got, chunker.UserHeadLen)
	}
	if !utf8.ValidString(head) {
		t.Error("truncation split a multibyte rune")
	}
}

func TestChunk_ContentHashTracksEdits(t *testing.T) {
	c := chunker.New()

	before, err := c.Chunk(reviewConversation(), types.ScopePair)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	edited := reviewConversation()
	edited.Turns[1].Text += "\n\nAddendum: cap the backoff at thirty seconds."
	after, err := c.Chunk(edited, types.ScopePair)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	if len(before) != len(after) {
		t.Fatalf("entry count changed: %d -> %d", len(before), len(after))
	}

	// The edited pair re-hashes, untouched pairs do not
	if before[0].ContentHash() == after[0].ContentHash() {
		t.Error("hash of the edited entry did not change")
	}
	if before[1].ContentHash() != after[1].ContentHash() {
		t.Error("hash of an untouched entry changed")
	}
}

func TestChunk_DegenerateRecords(t *testing.T) {
	c := chunker.New()

	t.Run("NoTurns", func(t *testing.T) {
		record := &types.ConversationRecord{ComposerID: "empty-session"}
		for _, scope := range []types.Scope{types.ScopePair, types.ScopeTurn} {
			entries, err := c.Chunk(record, scope)
			if err != nil {
				t.Fatalf("Chunk(%s) error = %v", scope, err)
			}
			if len(entries) != 0 {
				t.Errorf("Chunk(%s) = %d entries, want 0", scope, len(entries))
			}
		}
	})

	t.Run("BlankTurnsSkippedAtTurnScope", func(t *testing.T) {
		record := &types.ConversationRecord{
			ComposerID: "blank-session",
			Turns: []types.Turn{
				{Role: types.RoleUser, Text: "   "},
				{Role: types.RoleAssistant, Text: "A real answer."},
			},
		}
		entries, err := c.Chunk(record, types.ScopeTurn)
		if err != nil {
			t.Fatalf("Chunk() error = %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("entries = %d, want 1 (blank turn skipped)", len(entries))
		}
		if entries[0].AssistantText != "A real answer." {
			t.Errorf("surviving entry text = %q", entries[0].AssistantText)
		}
	})

	t.Run("MissingComposerID", func(t *testing.T) {
		record := &types.ConversationRecord{
			Turns: []types.Turn{{Role: types.RoleUser, Text: "hello"}},
		}
		if _, err := c.Chunk(record, types.ScopePair); err == nil {
			t.Error("expected validation error for missing composer ID")
		}
	})
}
