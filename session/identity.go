// Package session persists finalized turns to the session backend and
// tracks the identity of the conversation they belong to.
//
// Information Hiding:
// - Backend transport hidden behind the Backend interface
// - The rename-once rule and the fresh/resumed distinction live entirely
//   inside Identity

package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/richinex/skein/timeline"
)

// Turn is one durable conversation entry. Timeline and Metadata form the
// opaque payload attached to assistant turns.
type Turn struct {
	Role          string           `json:"role"`
	AgentCategory string           `json:"agent_category,omitempty"`
	Content       string           `json:"content"`
	Timeline      []timeline.Event `json:"timeline,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// Backend is the session collaborator the writer talks to.
type Backend interface {
	// Create allocates a session for the given agent category.
	Create(ctx context.Context, agentCategory string) (string, error)
	// PostTurn appends one turn to a session.
	PostTurn(ctx context.Context, sessionID string, turn Turn) error
	// Rename sets the session's display title.
	Rename(ctx context.Context, sessionID, title string) error
	// ListTurns pages through a session's stored turns.
	ListTurns(ctx context.Context, sessionID string, limit, offset int) ([]Turn, error)
}

// Identity tracks which session the current conversation persists into.
// DraftID is client-generated and replaced whenever the session is cleared;
// PersistedID is server-assigned and set once.
type Identity struct {
	DraftID     string
	PersistedID string
	renamed     bool
	fresh       bool
}

// NewIdentity creates an identity for a not-yet-persisted conversation.
func NewIdentity() *Identity {
	return &Identity{DraftID: uuid.NewString()}
}

// Resume creates an identity for a session switched into from history.
// Such sessions are never renamed again.
func Resume(persistedID string) *Identity {
	return &Identity{DraftID: uuid.NewString(), PersistedID: persistedID, renamed: true}
}

// Clear resets the identity to a fresh draft.
func (id *Identity) Clear() {
	id.DraftID = uuid.NewString()
	id.PersistedID = ""
	id.renamed = false
	id.fresh = false
}

// bind records the server-assigned id for a session the current cycle just
// created, making it eligible for the one-time rename.
func (id *Identity) bind(persistedID string) {
	id.PersistedID = persistedID
	id.fresh = true
}

// claimRename reports whether a rename attempt may happen now, and latches
// so no second attempt ever occurs for this session.
func (id *Identity) claimRename() bool {
	if id.renamed || !id.fresh {
		return false
	}
	id.renamed = true
	return true
}
