// Package storage provides SQLite session storage for the development
// backend.
//
// Information Hiding:
// - SQLite connection management hidden behind the SessionStore interface
// - Schema, turn indexing, and payload serialization encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"

	"github.com/richinex/skein/timeline"
)

// SessionRecord is one stored session.
type SessionRecord struct {
	ID            string
	AgentCategory string
	Title         string
	CreatedAt     string
	UpdatedAt     string
}

// TurnRecord is one stored conversation turn. Timeline and Metadata are
// the durable payload attached to assistant turns; Index is assigned by
// the store on append.
type TurnRecord struct {
	SessionID     string
	Index         int
	Role          string
	AgentCategory string
	Content       string
	Timeline      []timeline.Event
	Metadata      map[string]any
}

// SessionStore persists sessions and their turns.
type SessionStore interface {
	// CreateSession allocates a new session with a generated id.
	CreateSession(ctx context.Context, agentCategory string) (SessionRecord, error)

	// AppendTurn appends a turn, assigning the next turn index.
	AppendTurn(ctx context.Context, sessionID string, turn TurnRecord) (TurnRecord, error)

	// RenameSession sets the session title.
	RenameSession(ctx context.Context, sessionID, title string) error

	// ListTurns returns turns in index order. A limit of zero or less means
	// no limit.
	ListTurns(ctx context.Context, sessionID string, limit, offset int) ([]TurnRecord, error)

	// ListSessions returns sessions ordered by most recent activity.
	ListSessions(ctx context.Context) ([]SessionRecord, error)

	// Exists checks whether a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)

	// DeleteSession removes a session and its turns.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases the underlying database.
	Close() error
}
