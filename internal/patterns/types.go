// Package patterns extracts durable behavioral patterns from raw
// conversation text.
//
// A pattern is a distilled observation about a user (a recurring theme, a
// tension, a latent goal, an identity signal) produced by a cheap model call
// over a batch of the user's own messages. Patterns are immutable once
// created; re-extraction produces new patterns rather than updating old
// ones.
package patterns

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors for pattern validation.
var (
	ErrInvalidType     = errors.New("pattern type must be one of the known types")
	ErrInvalidStrength = errors.New("pattern strength must be an integer between 1 and 10")
	ErrEmptyContent    = errors.New("pattern content cannot be empty")
	ErrEmptyUserID     = errors.New("user ID cannot be empty")
)

// Type classifies a pattern. The set is closed.
type Type string

const (
	// TypeRecurringTheme is a topic the user keeps returning to.
	TypeRecurringTheme Type = "recurring_theme"

	// TypeTension is a conflict or friction the user is navigating.
	TypeTension Type = "tension"

	// TypePotentialGoal is a goal the user circles but has not named.
	TypePotentialGoal Type = "potential_goal"

	// TypeIdentitySignal is a statement about who the user is or wants to be.
	TypeIdentitySignal Type = "identity_signal"
)

// Valid reports whether t is one of the closed set.
func (t Type) Valid() bool {
	switch t {
	case TypeRecurringTheme, TypeTension, TypePotentialGoal, TypeIdentitySignal:
		return true
	}
	return false
}

// Strength bounds and the content cap. Content is capped to bound the token
// cost of surfacing patterns in future context windows.
const (
	MinStrength   = 1
	MaxStrength   = 10
	MaxContentLen = 500
)

// Pattern is a durable observation about a user, optionally traceable to the
// session it was derived from. Never mutated after creation.
type Pattern struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Type      Type      `json:"type"`
	Content   string    `json:"content"`
	Strength  int       `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates a validated pattern with a generated ID. Content longer than
// MaxContentLen is truncated.
func New(userID, sessionID string, typ Type, content string, strength int) (*Pattern, error) {
	if len(content) > MaxContentLen {
		content = content[:MaxContentLen]
	}

	p := &Pattern{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Type:      typ,
		Content:   content,
		Strength:  strength,
		CreatedAt: time.Now(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the pattern invariants.
func (p *Pattern) Validate() error {
	if p.UserID == "" {
		return ErrEmptyUserID
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}
	if p.Content == "" {
		return ErrEmptyContent
	}
	if len(p.Content) > MaxContentLen {
		return fmt.Errorf("content exceeds %d characters", MaxContentLen)
	}
	if p.Strength < MinStrength || p.Strength > MaxStrength {
		return fmt.Errorf("%w: %d", ErrInvalidStrength, p.Strength)
	}
	return nil
}

// Message is the extractor's view of a conversation message.
type Message struct {
	Role    string
	Content string
}

// RoleUser marks messages authored by the user. Assistant turns carry no
// user-signal and are discarded before extraction.
const RoleUser = "user"
