package integration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/goconvo-mcp/internal/source"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// Shape of the shared corpus in testdata/fixtures/conversations.json. The
// counts are fixed by the fixture file; tests assert against them directly.
const (
	fixtureComposers   = 4
	fixturePairEntries = 6
	fixtureTurnEntries = 12
)

// fixtureConversation mirrors one record of the JSON corpus
type fixtureConversation struct {
	ComposerID string `json:"composer_id"`
	Title      string `json:"title"`
	RepoHint   string `json:"repo_hint"`
	Turns      []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"turns"`
}

// loadConversationFixtures reads the shared conversation corpus used by
// every integration suite
func loadConversationFixtures(tb testing.TB) []types.ConversationRecord {
	tb.Helper()

	wd, err := os.Getwd()
	if err != nil {
		tb.Fatalf("resolving working directory: %v", err)
	}
	path := filepath.Join(filepath.Dir(wd), "testdata", "fixtures", "conversations.json")

	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("reading conversation fixtures: %v", err)
	}

	var fixtures []fixtureConversation
	if err := json.Unmarshal(data, &fixtures); err != nil {
		tb.Fatalf("decoding conversation fixtures: %v", err)
	}

	records := make([]types.ConversationRecord, 0, len(fixtures))
	for _, f := range fixtures {
		rec := types.ConversationRecord{
			ComposerID: f.ComposerID,
			Title:      f.Title,
			RepoHint:   f.RepoHint,
		}
		for _, turn := range f.Turns {
			rec.Turns = append(rec.Turns, types.Turn{Role: types.Role(turn.Role), Text: turn.Text})
		}
		records = append(records, rec)
	}
	return records
}

// fixtureSource wraps the corpus in an in-memory source backend
func fixtureSource(tb testing.TB) *source.MemorySource {
	tb.Helper()
	return source.NewMemorySource(loadConversationFixtures(tb)...)
}
