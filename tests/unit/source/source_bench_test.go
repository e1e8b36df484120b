package source_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/dshills/goconvo-mcp/internal/source"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

func BenchmarkListComposers(b *testing.B) {
	path := writeAgentDB(b, 50)
	src, err := source.NewCursorSource(path)
	if err != nil {
		b.Fatal(err)
	}
	defer src.Close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		infos, err := src.ListComposers(ctx)
		if err != nil {
			b.Fatal(err)
		}
		if len(infos) == 0 {
			b.Fatal("no composers")
		}
	}
}

func BenchmarkFetchRecords(b *testing.B) {
	path := writeAgentDB(b, 1)
	src, err := source.NewCursorSource(path)
	if err != nil {
		b.Fatal(err)
	}
	defer src.Close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		record, err := src.FetchRecords(ctx, "conv-000")
		if err != nil {
			b.Fatal(err)
		}
		if len(record.Turns) == 0 {
			b.Fatal("no turns")
		}
	}
}

func BenchmarkFullReadPath(b *testing.B) {
	// List then fetch every conversation, the read pattern of one index run
	path := writeAgentDB(b, 50)
	src, err := source.NewCursorSource(path)
	if err != nil {
		b.Fatal(err)
	}
	defer src.Close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		infos, err := src.ListComposers(ctx)
		if err != nil {
			b.Fatal(err)
		}
		for _, info := range infos {
			if _, err := src.FetchRecords(ctx, info.ComposerID); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkCoalesceTurns(b *testing.B) {
	turns := make([]types.Turn, 0, 200)
	for i := 0; i < 200; i++ {
		role := types.RoleAssistant
		if i%5 == 0 {
			role = types.RoleUser
		}
		turns = append(turns, types.Turn{
			Role: role,
			Text: fmt.Sprintf("fragment %d of a long streamed reply", i),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := source.CoalesceTurns(turns)
		if len(out) == 0 {
			b.Fatal("no turns")
		}
	}
}
