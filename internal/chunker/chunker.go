package chunker

import (
	"strings"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

const (
	// UserHeadLen caps the user head at this many runes
	UserHeadLen = 160

	// AssistantHeadLen caps the assistant head at this many runes
	AssistantHeadLen = 200

	// MaxEmbedTextLen caps the text sent to embedding providers
	MaxEmbedTextLen = 1200
)

// Chunker converts conversation records into index entries at a chosen
// scope. Pure and deterministic: identical records yield identical
// entries regardless of call order.
type Chunker struct{}

// New creates a new Chunker instance
func New() *Chunker {
	return &Chunker{}
}

// Chunk builds the index entries for one conversation record. Scope pair
// groups each user turn with its following assistant run; scope turn
// indexes every coalesced turn on its own. Turn indexes are sequential
// from 0 in both scopes.
func (c *Chunker) Chunk(record *types.ConversationRecord, scope types.Scope) ([]*types.IndexEntry, error) {
	if err := types.ValidateScope(scope); err != nil {
		return nil, err
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	switch scope {
	case types.ScopeTurn:
		return c.chunkTurns(record), nil
	default:
		return c.chunkPairs(record), nil
	}
}

// chunkPairs pairs each user turn with the assistant run that follows it.
// An assistant run with no preceding user turn becomes a pair with empty
// user text.
func (c *Chunker) chunkPairs(record *types.ConversationRecord) []*types.IndexEntry {
	entries := make([]*types.IndexEntry, 0, len(record.Turns))
	var current *types.IndexEntry

	flush := func() {
		if current != nil && current.Text() != "" {
			current.TurnIndex = len(entries)
			entries = append(entries, current)
		}
		current = nil
	}

	for i := range record.Turns {
		turn := &record.Turns[i]
		switch turn.Role {
		case types.RoleUser:
			flush()
			current = &types.IndexEntry{
				ComposerID: record.ComposerID,
				Scope:      types.ScopePair,
				UserText:   turn.Text,
			}
		case types.RoleAssistant:
			if current == nil {
				current = &types.IndexEntry{
					ComposerID: record.ComposerID,
					Scope:      types.ScopePair,
				}
			}
			if current.AssistantText == "" {
				current.AssistantText = turn.Text
			} else {
				current.AssistantText += "\n\n" + turn.Text
			}
		}
	}
	flush()

	c.finish(entries)
	return entries
}

// chunkTurns emits one entry per coalesced turn
func (c *Chunker) chunkTurns(record *types.ConversationRecord) []*types.IndexEntry {
	entries := make([]*types.IndexEntry, 0, len(record.Turns))
	for i := range record.Turns {
		turn := &record.Turns[i]
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		entry := &types.IndexEntry{
			ComposerID: record.ComposerID,
			TurnIndex:  len(entries),
			Scope:      types.ScopeTurn,
		}
		if turn.Role == types.RoleUser {
			entry.UserText = turn.Text
		} else {
			entry.AssistantText = turn.Text
		}
		entries = append(entries, entry)
	}

	c.finish(entries)
	return entries
}

// finish fills heads and annotations on freshly built entries
func (c *Chunker) finish(entries []*types.IndexEntry) {
	for _, e := range entries {
		e.UserHead = Head(e.UserText, UserHeadLen)
		e.AssistantHead = Head(e.AssistantText, AssistantHeadLen)
		e.Annotations = Annotate(e.UserText, e.AssistantText)
	}
}

// Head returns the first line of text truncated to maxRunes runes
func Head(text string, maxRunes int) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)

	runes := []rune(line)
	if len(runes) > maxRunes {
		return string(runes[:maxRunes])
	}
	return line
}

// EmbedText composes the text an entry is embedded under: both heads plus
// the annotation meta bits, capped at MaxEmbedTextLen runes. Embedding
// heads instead of full turns keeps vectors comparable across wildly
// different turn lengths.
func EmbedText(entry *types.IndexEntry) string {
	text := entry.UserHead + "\n" + entry.AssistantHead
	if bits := entry.Annotations.MetaBits(); len(bits) > 0 {
		text += "\n" + strings.Join(bits, " ")
	}
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) > MaxEmbedTextLen {
		return string(runes[:MaxEmbedTextLen])
	}
	return text
}
