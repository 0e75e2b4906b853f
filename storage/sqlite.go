package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/skein/timeline"
)

// SqliteStore implements SessionStore using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			agent_category TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			agent_category TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			timeline TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE,
			UNIQUE(session_id, turn_index)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session
		ON turns(session_id, turn_index);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateSession allocates a new session with a generated id.
func (s *SqliteStore) CreateSession(ctx context.Context, agentCategory string) (SessionRecord, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (session_id, agent_category) VALUES (?, ?)",
		id, agentCategory)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to create session: %w", err)
	}

	return s.getSession(ctx, id)
}

// AppendTurn appends a turn to a session, assigning the next turn index
// inside one transaction so concurrent appends never collide.
func (s *SqliteStore) AppendTurn(ctx context.Context, sessionID string, turn TurnRecord) (TurnRecord, error) {
	timelineJSON, err := timeline.MarshalEvents(turn.Timeline)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("failed to encode timeline: %w", err)
	}
	metadataJSON, err := marshalMetadata(turn.Metadata)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ?", sessionID).Scan(&exists)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return TurnRecord{}, fmt.Errorf("session %s not found", sessionID)
	}

	var next int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(turn_index), -1) + 1 FROM turns WHERE session_id = ?",
		sessionID).Scan(&next)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("failed to compute turn index: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (session_id, turn_index, role, agent_category, content, timeline, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, next, turn.Role, turn.AgentCategory, turn.Content,
		string(timelineJSON), string(metadataJSON))
	if err != nil {
		return TurnRecord{}, fmt.Errorf("failed to insert turn: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = datetime('now') WHERE session_id = ?",
		sessionID)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TurnRecord{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	turn.SessionID = sessionID
	turn.Index = next
	return turn, nil
}

// RenameSession sets the session title.
func (s *SqliteStore) RenameSession(ctx context.Context, sessionID, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET title = ?, updated_at = datetime('now') WHERE session_id = ?",
		title, sessionID)
	if err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rename result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// ListTurns returns turns in index order.
func (s *SqliteStore) ListTurns(ctx context.Context, sessionID string, limit, offset int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_index, role, agent_category, content, timeline, metadata
		FROM turns
		WHERE session_id = ?
		ORDER BY turn_index ASC
		LIMIT ? OFFSET ?`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []TurnRecord{} // Start with empty slice, not nil
	for rows.Next() {
		var turn TurnRecord
		var timelineJSON, metadataJSON string
		if err := rows.Scan(&turn.Index, &turn.Role, &turn.AgentCategory,
			&turn.Content, &timelineJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.SessionID = sessionID
		if turn.Timeline, err = timeline.UnmarshalEvents([]byte(timelineJSON)); err != nil {
			return nil, fmt.Errorf("invalid timeline payload in database: %w", err)
		}
		if turn.Metadata, err = unmarshalMetadata([]byte(metadataJSON)); err != nil {
			return nil, fmt.Errorf("invalid metadata payload in database: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return turns, nil
}

// ListSessions returns sessions ordered by most recent activity.
func (s *SqliteStore) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, agent_category, title, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRecord{} // Start with empty slice, not nil
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.AgentCategory, &rec.Title,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Exists checks if a session exists.
func (s *SqliteStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ?",
		sessionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}

	return count > 0, nil
}

// DeleteSession removes a session and its turns.
func (s *SqliteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) getSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	var rec SessionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, agent_category, title, created_at, updated_at
		FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&rec.ID, &rec.AgentCategory, &rec.Title, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to load session: %w", err)
	}
	return rec, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}

func unmarshalMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return metadata, nil
}

// Verify SqliteStore implements the store interface
var _ SessionStore = (*SqliteStore)(nil)
