// Package store provides the data-store boundary for the Clarify pipeline.
//
// The pipeline reads users, goals, sessions, messages, and entries through
// narrow interfaces and writes exactly two things: new pattern rows and the
// consolidated flag on message rows. The SQLite implementation is the store
// the product ships with; tests substitute in-memory mocks against the same
// interfaces.
package store

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

// User is the profile summary surfaced in context windows. Owned by the
// surrounding application; read-only here.
type User struct {
	ID           string
	Name         string
	EntryCount   int
	SessionCount int
}

// Goal is an active intention the user has recorded. Read-only here.
type Goal struct {
	ID          string
	UserID      string
	Description string
	Active      bool
	CreatedAt   time.Time
}

// Session is one Clarify conversation. Read-only here.
type Session struct {
	ID           string
	UserID       string
	Title        string
	MessageCount int
	UpdatedAt    time.Time
}

// Message is one conversation turn. The consolidation orchestrator is the
// only writer, and only of the Consolidated flag.
type Message struct {
	ID           string
	SessionID    string
	Role         string
	Content      string
	Consolidated bool
	CreatedAt    time.Time
}

// Entry is a journal entry summary. Read-only here.
type Entry struct {
	ID        string
	UserID    string
	Tone      string
	CreatedAt time.Time
}
