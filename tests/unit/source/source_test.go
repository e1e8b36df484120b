package source_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/goconvo-mcp/internal/source"
	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// writeAgentDB generates an agent state database with the given number of
// composers. Every composer has six bubbles: a question, a two-fragment
// assistant reply, a follow-up, an answer stored under the content field,
// and one empty bubble that should be dropped.
func writeAgentDB(tb testing.TB, composers int) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "state.vscdb")
	db, err := sql.Open(storage.DriverName, path)
	if err != nil {
		tb.Fatalf("opening state db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE cursorDiskKV (key TEXT PRIMARY KEY, value BLOB)`); err != nil {
		tb.Fatalf("creating kv table: %v", err)
	}

	insert := func(key, value string) {
		if _, err := db.Exec(`INSERT INTO cursorDiskKV (key, value) VALUES (?, ?)`, key, value); err != nil {
			tb.Fatalf("inserting %s: %v", key, err)
		}
	}

	for i := 0; i < composers; i++ {
		id := fmt.Sprintf("conv-%03d", i)
		insert("composerData:"+id, fmt.Sprintf(`{"title":"Session %d",`+
			`"fullConversationHeadersOnly":[`+
			`{"bubbleId":"b0","type":1},`+
			`{"bubbleId":"b1","type":2},`+
			`{"bubbleId":"b2","type":2},`+
			`{"bubbleId":"b3","type":1},`+
			`{"bubbleId":"b4","type":2},`+
			`{"bubbleId":"b5","type":2}]}`, i))

		insert(fmt.Sprintf("bubbleId:%s:b0", id), fmt.Sprintf(`{"text":"Question %d: why does the cache miss rate spike after deploys?"}`, i))
		insert(fmt.Sprintf("bubbleId:%s:b1", id), `{"text":"The deploy restarts every node at once, so the cache starts cold."}`)
		insert(fmt.Sprintf("bubbleId:%s:b2", id), `{"text":"Rolling restarts keep the warm nodes serving while the rest refill."}`)
		insert(fmt.Sprintf("bubbleId:%s:b3", id), `{"text":"Is there a way to pre-warm instead?"}`)
		insert(fmt.Sprintf("bubbleId:%s:b4", id), `{"content":"Replay the top keys from the access log before taking traffic."}`)
		insert(fmt.Sprintf("bubbleId:%s:b5", id), `{"text":""}`)
	}

	return path
}

func TestNewBackendSelection(t *testing.T) {
	path := writeAgentDB(t, 2)

	t.Run("ExplicitCursor", func(t *testing.T) {
		src, err := source.New(source.Config{Agent: "cursor", DBPath: path})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer src.Close()

		infos, err := src.ListComposers(context.Background())
		if err != nil {
			t.Fatalf("ListComposers() error = %v", err)
		}
		if len(infos) != 2 {
			t.Errorf("composers = %d, want 2", len(infos))
		}
	})

	t.Run("DefaultAgent", func(t *testing.T) {
		src, err := source.New(source.Config{DBPath: path})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer src.Close()

		if _, err := src.ListComposers(context.Background()); err != nil {
			t.Errorf("default agent should read the cursor database: %v", err)
		}
	})

	t.Run("UnknownAgent", func(t *testing.T) {
		_, err := source.New(source.Config{Agent: "teletype", DBPath: path})
		if err == nil {
			t.Fatal("expected error for unknown agent")
		}
		if !errors.Is(err, types.ErrConfiguration) {
			t.Errorf("error = %v, want ErrConfiguration", err)
		}
	})
}

func TestCursorCorpusReadPath(t *testing.T) {
	const composers = 25
	path := writeAgentDB(t, composers)

	src, err := source.NewCursorSource(path)
	if err != nil {
		t.Fatalf("NewCursorSource() error = %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	infos, err := src.ListComposers(ctx)
	if err != nil {
		t.Fatalf("ListComposers() error = %v", err)
	}
	if len(infos) != composers {
		t.Fatalf("composers = %d, want %d", len(infos), composers)
	}

	// Discovery order is key-ascending; turn counts reflect raw headers
	for i, info := range infos {
		if i > 0 && infos[i-1].ComposerID >= info.ComposerID {
			t.Errorf("composer order broken at %d: %s >= %s", i, infos[i-1].ComposerID, info.ComposerID)
		}
		if info.TurnCount != 6 {
			t.Errorf("%s: TurnCount = %d, want 6 raw headers", info.ComposerID, info.TurnCount)
		}
	}

	totalTurns := 0
	for _, info := range infos {
		record, err := src.FetchRecords(ctx, info.ComposerID)
		if err != nil {
			t.Fatalf("FetchRecords(%s) error = %v", info.ComposerID, err)
		}

		if err := record.Validate(); err != nil {
			t.Errorf("%s: invalid record: %v", info.ComposerID, err)
		}
		if record.IsEmpty() {
			t.Errorf("%s: record is empty", info.ComposerID)
		}

		// Empty bubble dropped, consecutive assistant fragments coalesced
		if len(record.Turns) != 4 {
			t.Fatalf("%s: turns = %d, want 4", info.ComposerID, len(record.Turns))
		}
		wantRoles := []types.Role{types.RoleUser, types.RoleAssistant, types.RoleUser, types.RoleAssistant}
		for j, want := range wantRoles {
			if record.Turns[j].Role != want {
				t.Errorf("%s: turn %d role = %s, want %s", info.ComposerID, j, record.Turns[j].Role, want)
			}
		}
		if !strings.Contains(record.Turns[1].Text, "\n\n") {
			t.Errorf("%s: assistant fragments were not joined", info.ComposerID)
		}

		totalTurns += len(record.Turns)
	}

	if totalTurns != composers*4 {
		t.Errorf("total turns = %d, want %d", totalTurns, composers*4)
	}
}

func TestCursorContentFieldFallback(t *testing.T) {
	path := writeAgentDB(t, 1)

	src, err := source.NewCursorSource(path)
	if err != nil {
		t.Fatalf("NewCursorSource() error = %v", err)
	}
	defer src.Close()

	record, err := src.FetchRecords(context.Background(), "conv-000")
	if err != nil {
		t.Fatalf("FetchRecords() error = %v", err)
	}

	// The final answer is stored under "content" rather than "text"
	last := record.Turns[len(record.Turns)-1]
	if last.Text != "Replay the top keys from the access log before taking traffic." {
		t.Errorf("content-field bubble text = %q", last.Text)
	}
}
