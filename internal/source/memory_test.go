package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

func TestMemorySourceListComposers(t *testing.T) {
	src := NewMemorySource(
		types.ConversationRecord{ComposerID: "z-last", Title: "Z", Turns: []types.Turn{
			{Role: types.RoleUser, Text: "q"},
			{Role: types.RoleAssistant, Text: "a"},
		}},
		types.ConversationRecord{ComposerID: "a-first", Title: "A", RepoHint: "acme/widgets"},
	)

	infos, err := src.ListComposers(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)

	// Construction order, not lexicographic
	assert.Equal(t, "z-last", infos[0].ComposerID)
	assert.Equal(t, 2, infos[0].TurnCount)
	assert.Equal(t, "a-first", infos[1].ComposerID)
	assert.Equal(t, "acme/widgets", infos[1].RepoHint)
}

func TestMemorySourceFetchRecords(t *testing.T) {
	src := NewMemorySource(types.ConversationRecord{
		ComposerID: "conv-1",
		Title:      "One",
		Turns: []types.Turn{
			{Role: types.RoleUser, Text: "question"},
			{Role: types.RoleAssistant, Text: "first part"},
			{Role: types.RoleAssistant, Text: "second part"},
		},
	})

	record, err := src.FetchRecords(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "One", record.Title)

	// Records coalesce on construction, matching what a disk-backed
	// source would deliver
	require.Len(t, record.Turns, 2)
	assert.Equal(t, "first part\n\nsecond part", record.Turns[1].Text)

	_, err = src.FetchRecords(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrSourceRead)
}

func TestMemorySourceDuplicateIDs(t *testing.T) {
	src := NewMemorySource(
		types.ConversationRecord{ComposerID: "dup", Title: "First"},
		types.ConversationRecord{ComposerID: "other", Title: "Other"},
		types.ConversationRecord{ComposerID: "dup", Title: "Second"},
	)

	infos, err := src.ListComposers(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)

	// The last record wins but keeps its original list position
	assert.Equal(t, "dup", infos[0].ComposerID)
	assert.Equal(t, "Second", infos[0].Title)
}
