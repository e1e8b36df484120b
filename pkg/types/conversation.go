package types

import "errors"

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message unit within a conversation. Consecutive assistant
// turns are coalesced by the source backend before they reach the core,
// so a well-formed conversation alternates user/assistant.
type Turn struct {
	Role Role
	Text string
}

// ComposerInfo is the lightweight listing view of a conversation session
type ComposerInfo struct {
	ComposerID string
	Title      string
	RepoHint   string // best-effort workspace/repo origin, may be empty
	TurnCount  int
}

// ConversationRecord is an ordered sequence of turns belonging to one
// composer/session. Records are owned by the source backend and immutable
// once fetched; the core only reads them.
type ConversationRecord struct {
	ComposerID string
	Title      string
	RepoHint   string
	Turns      []Turn
}

// Validate checks the record is usable for index building
func (cr *ConversationRecord) Validate() error {
	if cr.ComposerID == "" {
		return errors.New("composer ID is required")
	}
	for i := range cr.Turns {
		switch cr.Turns[i].Role {
		case RoleUser, RoleAssistant:
		default:
			return errors.New("turn role must be user or assistant")
		}
	}
	return nil
}

// IsEmpty reports whether the record carries no usable text
func (cr *ConversationRecord) IsEmpty() bool {
	for i := range cr.Turns {
		if cr.Turns[i].Text != "" {
			return false
		}
	}
	return true
}
