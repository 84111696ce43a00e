package store

import (
	"context"

	"github.com/reflectlabs/clarify/internal/patterns"
)

// Reader provides the read-only views the context builder consumes.
type Reader interface {
	// GetUser returns the user's profile summary, or ErrNotFound.
	GetUser(ctx context.Context, id string) (*User, error)

	// ListActiveGoals returns up to limit active goals, newest first.
	ListActiveGoals(ctx context.Context, userID string, limit int) ([]Goal, error)

	// ListSessions returns all of the user's sessions, most recently
	// updated first.
	ListSessions(ctx context.Context, userID string) ([]Session, error)

	// ListRecentEntries returns up to limit entries, newest first.
	ListRecentEntries(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// MessageStore provides the message reads and the one message write the
// consolidation orchestrator needs.
type MessageStore interface {
	// ListUnconsolidated returns up to limit messages across the given
	// sessions where the consolidated flag is unset, oldest first.
	ListUnconsolidated(ctx context.Context, sessionIDs []string, limit int) ([]Message, error)

	// MarkConsolidated sets the consolidated flag on the given messages in
	// one batch. An empty id list is a no-op and returns nil.
	MarkConsolidated(ctx context.Context, ids []string) error
}

// PatternStore persists and surfaces patterns. Patterns are the one entity
// this subsystem is the authoritative writer of.
type PatternStore interface {
	// SavePattern inserts a new pattern row. Patterns are never updated.
	SavePattern(ctx context.Context, p *patterns.Pattern) error

	// ListTopPatterns returns up to limit patterns with strength >=
	// minStrength, ordered strength-descending.
	ListTopPatterns(ctx context.Context, userID string, minStrength, limit int) ([]*patterns.Pattern, error)
}

// Store composes every boundary the pipeline touches.
type Store interface {
	Reader
	MessageStore
	PatternStore
}
