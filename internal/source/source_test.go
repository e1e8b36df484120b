package source

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

func TestNewSelectsBackend(t *testing.T) {
	t.Run("unknown agent", func(t *testing.T) {
		_, err := New(Config{Agent: "copilot"})
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("cursor with explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.vscdb")
		src, err := New(Config{Agent: "cursor", DBPath: path})
		require.NoError(t, err)
		defer func() { _ = src.Close() }()

		cursor, ok := src.(*CursorSource)
		require.True(t, ok)
		assert.Equal(t, path, cursor.Path())
	})

	t.Run("empty agent defaults to cursor", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.vscdb")
		src, err := New(Config{DBPath: path})
		require.NoError(t, err)
		defer func() { _ = src.Close() }()
		assert.IsType(t, &CursorSource{}, src)
	})
}

func TestCoalesceTurns(t *testing.T) {
	t.Run("merges consecutive assistant turns", func(t *testing.T) {
		turns := CoalesceTurns([]types.Turn{
			{Role: types.RoleUser, Text: "question"},
			{Role: types.RoleAssistant, Text: "part one"},
			{Role: types.RoleAssistant, Text: "part two"},
			{Role: types.RoleUser, Text: "followup"},
			{Role: types.RoleAssistant, Text: "answer"},
		})

		require.Len(t, turns, 4)
		assert.Equal(t, "part one\n\npart two", turns[1].Text)
		assert.Equal(t, "followup", turns[2].Text)
	})

	t.Run("consecutive user turns stay separate", func(t *testing.T) {
		turns := CoalesceTurns([]types.Turn{
			{Role: types.RoleUser, Text: "first"},
			{Role: types.RoleUser, Text: "second"},
		})
		require.Len(t, turns, 2)
	})

	t.Run("drops empty and whitespace turns", func(t *testing.T) {
		turns := CoalesceTurns([]types.Turn{
			{Role: types.RoleUser, Text: "   "},
			{Role: types.RoleAssistant, Text: ""},
			{Role: types.RoleUser, Text: "kept"},
		})
		require.Len(t, turns, 1)
		assert.Equal(t, "kept", turns[0].Text)
	})

	t.Run("assistant runs merge across dropped empties", func(t *testing.T) {
		turns := CoalesceTurns([]types.Turn{
			{Role: types.RoleAssistant, Text: "one"},
			{Role: types.RoleAssistant, Text: "  "},
			{Role: types.RoleAssistant, Text: "two"},
		})
		require.Len(t, turns, 1)
		assert.Equal(t, "one\n\ntwo", turns[0].Text)
	})

	t.Run("trims turn text", func(t *testing.T) {
		turns := CoalesceTurns([]types.Turn{
			{Role: types.RoleUser, Text: "  padded  "},
		})
		require.Len(t, turns, 1)
		assert.Equal(t, "padded", turns[0].Text)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, CoalesceTurns(nil))
	})
}

func TestDefaultCursorDBPath(t *testing.T) {
	path := DefaultCursorDBPath()
	assert.NotEmpty(t, path)
	assert.True(t, strings.HasSuffix(path, "state.vscdb"))
}
