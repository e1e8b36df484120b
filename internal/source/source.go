package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/goconvo-mcp/pkg/types"
)

// Default agent backend when none is configured
const DefaultAgent = "cursor"

// Source provides read access to one agent's logged conversations. The
// on-disk format is owned by the agent; implementations expose only the
// two capabilities the pipeline needs.
type Source interface {
	// ListComposers returns the available conversation sessions in a
	// stable discovery order
	ListComposers(ctx context.Context) ([]types.ComposerInfo, error)

	// FetchRecords returns the full conversation for one composer ID
	FetchRecords(ctx context.Context, composerID string) (*types.ConversationRecord, error)

	// Close releases any underlying resources
	Close() error
}

// Config selects and locates a source backend. The agent is chosen by
// explicit configuration, never by probing.
type Config struct {
	// Agent identifies the backend ("cursor"). Empty means DefaultAgent.
	Agent string

	// DBPath overrides the agent's default state database location
	DBPath string
}

// New creates the configured source backend
func New(cfg Config) (Source, error) {
	agent := cfg.Agent
	if agent == "" {
		agent = DefaultAgent
	}

	switch agent {
	case "cursor":
		path := cfg.DBPath
		if path == "" {
			path = DefaultCursorDBPath()
		}
		return NewCursorSource(path)
	default:
		return nil, fmt.Errorf("unknown agent %q: %w", agent, types.ErrConfiguration)
	}
}

// CoalesceTurns merges consecutive assistant turns into one (joined with a
// blank line) and drops empty turns. Agent logs split assistant output
// across many bubbles; retrieval wants one run per reply.
func CoalesceTurns(turns []types.Turn) []types.Turn {
	out := make([]types.Turn, 0, len(turns))
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if t.Role == types.RoleAssistant && len(out) > 0 && out[len(out)-1].Role == types.RoleAssistant {
			out[len(out)-1].Text = out[len(out)-1].Text + "\n\n" + text
			continue
		}
		out = append(out, types.Turn{Role: t.Role, Text: text})
	}
	return out
}
