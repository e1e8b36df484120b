package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

const (
	// cursorKVTable is Cursor's key-value storage table
	cursorKVTable = "cursorDiskKV"

	// composerKeyPrefix prefixes conversation session records
	composerKeyPrefix = "composerData:"
)

// CursorSource reads Cursor's state.vscdb key-value store. Composer
// records live under "composerData:<uuid>" keys; individual message
// bubbles under "bubbleId:<composerID>:<bubbleID>". The database is
// opened read-only so a running agent is never disturbed.
type CursorSource struct {
	db   *sql.DB
	path string
}

// NewCursorSource opens the state database at path in read-only mode
func NewCursorSource(path string) (*CursorSource, error) {
	db, err := sql.Open(storage.DriverName, "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}

	// The agent may hold the write lock; a single reader avoids
	// contention on its busy timeout.
	db.SetMaxOpenConns(1)

	return &CursorSource{db: db, path: path}, nil
}

// Path returns the state database location this source reads from
func (s *CursorSource) Path() string {
	return s.path
}

// Close closes the underlying database handle
func (s *CursorSource) Close() error {
	return s.db.Close()
}

// ListComposers scans composerData keys and returns session metadata in
// key-ascending order. A composer whose value cannot be parsed is listed
// with empty metadata rather than dropped; FetchRecords reports the
// detailed failure.
func (s *CursorSource) ListComposers(ctx context.Context) ([]types.ComposerInfo, error) {
	keys, err := s.kvKeys(ctx, composerKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list composers: %w: %v", types.ErrSourceRead, err)
	}

	infos := make([]types.ComposerInfo, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, composerKeyPrefix)
		info := types.ComposerInfo{ComposerID: id}

		if val, err := s.kvValue(ctx, key); err == nil && gjson.ValidBytes(val) {
			parsed := gjson.ParseBytes(val)
			info.Title = composerTitle(parsed)
			info.RepoHint = extractRepoHint(parsed)
			info.TurnCount = len(parsed.Get("fullConversationHeadersOnly").Array())
		}

		infos = append(infos, info)
	}
	return infos, nil
}

// FetchRecords loads and reconstructs one conversation. Bubble order
// follows the composer's header list; missing bubbles are skipped, and
// consecutive assistant bubbles coalesce into single turns.
func (s *CursorSource) FetchRecords(ctx context.Context, composerID string) (*types.ConversationRecord, error) {
	val, err := s.kvValue(ctx, composerKeyPrefix+composerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("composer %s not found: %w", composerID, types.ErrSourceRead)
		}
		return nil, fmt.Errorf("composer %s: %w: %v", composerID, types.ErrSourceRead, err)
	}
	if !gjson.ValidBytes(val) {
		return nil, fmt.Errorf("composer %s: malformed record: %w", composerID, types.ErrSourceRead)
	}

	parsed := gjson.ParseBytes(val)
	record := &types.ConversationRecord{
		ComposerID: composerID,
		Title:      composerTitle(parsed),
		RepoHint:   extractRepoHint(parsed),
	}

	var turns []types.Turn
	for _, header := range parsed.Get("fullConversationHeadersOnly").Array() {
		bubbleID := header.Get("bubbleId").String()
		if bubbleID == "" {
			continue
		}

		bubble, err := s.kvValue(ctx, "bubbleId:"+composerID+":"+bubbleID)
		if err != nil {
			// Bubbles referenced by headers are sometimes pruned by
			// the agent; the conversation is still usable without them.
			continue
		}

		text := bubbleText(bubble)
		if text == "" {
			continue
		}

		turns = append(turns, types.Turn{Role: bubbleRole(header.Get("type").Int()), Text: text})
	}

	record.Turns = CoalesceTurns(turns)
	return record, nil
}

// kvKeys returns all keys with the given prefix in ascending order
func (s *CursorSource) kvKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM `+cursorKVTable+` WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// kvValue returns the raw value stored under key
func (s *CursorSource) kvValue(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM `+cursorKVTable+` WHERE key = ?`, key).Scan(&val)
	if err != nil {
		return nil, err
	}
	return val, nil
}

// bubbleRole maps Cursor's numeric bubble type to a turn role. Type 1 is
// a user message; everything else is treated as assistant output.
func bubbleRole(bubbleType int64) types.Role {
	if bubbleType == 1 {
		return types.RoleUser
	}
	return types.RoleAssistant
}

// bubbleText extracts the message text from a bubble record, falling back
// to the alternate field name some agent versions use
func bubbleText(bubble []byte) string {
	if !gjson.ValidBytes(bubble) {
		return ""
	}
	if text := gjson.GetBytes(bubble, "text").String(); text != "" {
		return text
	}
	return gjson.GetBytes(bubble, "content").String()
}

// composerTitle returns the session title under its known field names
func composerTitle(composer gjson.Result) string {
	for _, field := range []string{"title", "name", "id"} {
		if v := composer.Get(field).String(); v != "" {
			return v
		}
	}
	return ""
}

// repoHintKeys are substrings of JSON keys whose values may identify the
// workspace or repository a conversation happened in
var repoHintKeys = []string{"repo", "repository", "git", "workspace", "root", "cwd", "path", "url"}

// extractRepoHint scans a composer record for workspace/repository
// identifiers and reduces the best candidate to a short hint: git remotes
// yield the repository name, filesystem paths their last two segments.
func extractRepoHint(composer gjson.Result) string {
	var candidates []string
	walkStrings(composer, "", func(key, val string) {
		lower := strings.ToLower(key)
		for _, pat := range repoHintKeys {
			if strings.Contains(lower, pat) {
				candidates = append(candidates, val)
				return
			}
		}
	})
	if len(candidates) == 0 {
		return ""
	}

	// Git remotes outrank paths outrank plain strings; shorter wins within
	// a class.
	class := func(s string) int {
		lower := strings.ToLower(s)
		if strings.Contains(lower, "github.com") || strings.HasSuffix(lower, ".git") {
			return 2
		}
		if strings.ContainsAny(s, "/\\") {
			return 1
		}
		return 0
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := class(candidates[i]), class(candidates[j])
		if ci != cj {
			return ci > cj
		}
		return len(candidates[i]) < len(candidates[j])
	})

	for _, cand := range candidates {
		val := strings.TrimSpace(cand)
		if strings.Contains(strings.ToLower(val), "github.com") {
			parts := strings.Split(strings.TrimRight(val, "/"), "/")
			name := parts[len(parts)-1]
			return strings.TrimSuffix(name, ".git")
		}
		if strings.ContainsAny(val, "/\\") {
			sep := "/"
			if !strings.Contains(val, "/") {
				sep = "\\"
			}
			var parts []string
			for _, p := range strings.Split(val, sep) {
				if p != "" {
					parts = append(parts, p)
				}
			}
			if len(parts) >= 2 {
				return parts[len(parts)-2] + "/" + parts[len(parts)-1]
			}
			if len(parts) == 1 {
				return parts[0]
			}
		}
	}
	return candidates[0]
}

// walkStrings visits every string value in a JSON tree with its key
func walkStrings(node gjson.Result, key string, visit func(key, val string)) {
	switch {
	case node.IsObject() || node.IsArray():
		node.ForEach(func(k, v gjson.Result) bool {
			walkStrings(v, k.String(), visit)
			return true
		})
	case node.Type == gjson.String:
		if node.String() != "" {
			visit(key, node.String())
		}
	}
}
