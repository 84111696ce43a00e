package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/reflectlabs/clarify/internal/patterns"
)

// schema is applied on open. The application's migration layer owns the
// canonical schema; this bootstrap keeps fresh databases usable.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	entry_count   INTEGER NOT NULL DEFAULT 0,
	session_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS goals (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users(id),
	description TEXT NOT NULL,
	active      INTEGER NOT NULL DEFAULT 1,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES users(id),
	title         TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	consolidated INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_unconsolidated
	ON messages(session_id, created_at) WHERE consolidated = 0;

CREATE TABLE IF NOT EXISTS entries (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	tone       TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS patterns (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	session_id TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	content    TEXT NOT NULL,
	strength   INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patterns_user_strength
	ON patterns(user_id, strength DESC);
`

// SQLite is the Store implementation backed by an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and bootstraps) a SQLite-backed store at path, creating
// the parent directory if needed.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetUser returns the user's profile summary.
func (s *SQLite) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, entry_count, session_count FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Name, &u.EntryCount, &u.SessionCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// ListActiveGoals returns up to limit active goals, newest first.
func (s *SQLite) ListActiveGoals(ctx context.Context, userID string, limit int) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, description, active, created_at FROM goals WHERE user_id = ? AND active = 1 ORDER BY created_at DESC LIMIT ?",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying goals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		var g Goal
		var createdAt int64
		if err := rows.Scan(&g.ID, &g.UserID, &g.Description, &g.Active, &createdAt); err != nil {
			return nil, err
		}
		g.CreatedAt = time.Unix(createdAt, 0)
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// ListSessions returns all of the user's sessions, most recent first.
func (s *SQLite) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, message_count, updated_at FROM sessions WHERE user_id = ? ORDER BY updated_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var updatedAt int64
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.MessageCount, &updatedAt); err != nil {
			return nil, err
		}
		sess.UpdatedAt = time.Unix(updatedAt, 0)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListRecentEntries returns up to limit entries, newest first.
func (s *SQLite) ListRecentEntries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, tone, created_at FROM entries WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Tone, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListUnconsolidated returns up to limit unconsolidated messages across the
// given sessions, oldest first. Oldest-first ordering guarantees the
// longest-waiting material is consolidated before newer messages.
func (s *SQLite) ListUnconsolidated(ctx context.Context, sessionIDs []string, limit int) ([]Message, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(sessionIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		"SELECT id, session_id, role, content, consolidated, created_at FROM messages WHERE session_id IN (%s) AND consolidated = 0 ORDER BY created_at ASC LIMIT ?",
		placeholders,
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unconsolidated messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Consolidated, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkConsolidated flips the consolidated flag on the given messages in one
// batch. Re-marking an already-consolidated message is harmless.
func (s *SQLite) MarkConsolidated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE messages SET consolidated = 1 WHERE id IN (%s)", placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("marking messages consolidated: %w", err)
	}
	return nil
}

// SavePattern inserts a new pattern row.
func (s *SQLite) SavePattern(ctx context.Context, p *patterns.Pattern) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO patterns (id, user_id, session_id, type, content, strength, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.UserID, p.SessionID, string(p.Type), p.Content, p.Strength, p.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting pattern: %w", err)
	}
	return nil
}

// ListTopPatterns returns up to limit patterns with strength >= minStrength,
// strongest first.
func (s *SQLite) ListTopPatterns(ctx context.Context, userID string, minStrength, limit int) ([]*patterns.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, session_id, type, content, strength, created_at FROM patterns WHERE user_id = ? AND strength >= ? ORDER BY strength DESC, created_at DESC LIMIT ?",
		userID, minStrength, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}
	defer rows.Close()

	var result []*patterns.Pattern
	for rows.Next() {
		var p patterns.Pattern
		var typ string
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.SessionID, &typ, &p.Content, &p.Strength, &createdAt); err != nil {
			return nil, err
		}
		p.Type = patterns.Type(typ)
		p.CreatedAt = time.Unix(createdAt, 0)
		result = append(result, &p)
	}
	return result, rows.Err()
}

// Write helpers used by the surrounding application (and the CLI) to record
// profile data and conversation turns.

// CreateUser inserts a user row.
func (s *SQLite) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, name, entry_count, session_count) VALUES (?, ?, ?, ?)",
		u.ID, u.Name, u.EntryCount, u.SessionCount,
	)
	return err
}

// CreateGoal inserts a goal row.
func (s *SQLite) CreateGoal(ctx context.Context, g *Goal) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO goals (id, user_id, description, active, created_at) VALUES (?, ?, ?, ?, ?)",
		g.ID, g.UserID, g.Description, g.Active, g.CreatedAt.Unix(),
	)
	return err
}

// CreateSession inserts a session row.
func (s *SQLite) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, title, message_count, updated_at) VALUES (?, ?, ?, ?, ?)",
		sess.ID, sess.UserID, sess.Title, sess.MessageCount, sess.UpdatedAt.Unix(),
	)
	return err
}

// AppendMessage inserts a message row and bumps the session counters.
func (s *SQLite) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, session_id, role, content, consolidated, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		m.ID, m.SessionID, m.Role, m.Content, m.Consolidated, m.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE id = ?",
		m.CreatedAt.Unix(), m.SessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session counters: %w", err)
	}

	return tx.Commit()
}

// CreateEntry inserts an entry row.
func (s *SQLite) CreateEntry(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO entries (id, user_id, tone, created_at) VALUES (?, ?, ?, ?)",
		e.ID, e.UserID, e.Tone, e.CreatedAt.Unix(),
	)
	return err
}

var _ Store = (*SQLite)(nil)
