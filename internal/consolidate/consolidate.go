// Package consolidate compacts raw conversation history into durable
// patterns.
//
// A consolidation pass gathers a user's not-yet-processed messages across
// all sessions, runs the pattern extractor per session group, persists the
// resulting patterns, and finally marks the processed messages in one batch
// update. Marking last gives the pass at-least-once semantics: a crash mid
// extraction leaves the messages unconsolidated and safely retryable, never
// silently lost.
//
// The pass is invoked from scheduled/background contexts, so it reports
// failures in its Result instead of returning an error.
package consolidate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reflectlabs/clarify/internal/patterns"
	"github.com/reflectlabs/clarify/internal/store"
)

// DefaultBatchSize caps the messages fetched per pass. The cap bounds
// per-invocation cost; oldest-first ordering guarantees eventual fairness
// across sessions.
const DefaultBatchSize = 50

// Store is the narrow store surface a consolidation pass touches.
type Store interface {
	ListSessions(ctx context.Context, userID string) ([]store.Session, error)
	ListUnconsolidated(ctx context.Context, sessionIDs []string, limit int) ([]store.Message, error)
	SavePattern(ctx context.Context, p *patterns.Pattern) error
	MarkConsolidated(ctx context.Context, ids []string) error
}

// Extractor produces patterns from one session's messages.
type Extractor interface {
	Extract(ctx context.Context, userID, sessionID string, messages []patterns.Message) ([]*patterns.Pattern, error)
}

// Result reports the outcome of one consolidation pass.
type Result struct {
	PatternsExtracted int    `json:"patterns_extracted"`
	MessagesProcessed int    `json:"messages_processed"`
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
}

// Consolidator runs consolidation passes.
//
// Two overlapping passes for the same user are not guarded against: both may
// read the same unconsolidated messages and both will write patterns. The
// deployment runs a single scheduler per user, and the final flag update is
// idempotent, so overlap costs duplicate patterns but never loses messages.
type Consolidator struct {
	store     Store
	extractor Extractor
	batchSize int
	logger    *zap.Logger
}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithBatchSize overrides the per-pass message cap.
func WithBatchSize(n int) Option {
	return func(c *Consolidator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// New creates a Consolidator.
func New(st Store, extractor Extractor, logger *zap.Logger, opts ...Option) (*Consolidator, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Consolidator{
		store:     st,
		extractor: extractor,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Consolidate runs one pass for the user.
//
// A user with no sessions or no unconsolidated messages is a successful
// no-op with zero counts and zero writes. A failure to persist an
// individual pattern is logged and skipped; it does not block sibling
// patterns or the final flag update.
func (c *Consolidator) Consolidate(ctx context.Context, userID string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("consolidation pass panicked",
				zap.String("user_id", userID),
				zap.Any("panic", r))
			res = Result{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	sessions, err := c.store.ListSessions(ctx, userID)
	if err != nil {
		return c.fail(userID, fmt.Errorf("listing sessions: %w", err))
	}
	if len(sessions) == 0 {
		return Result{Success: true}
	}

	sessionIDs := make([]string, len(sessions))
	for i, s := range sessions {
		sessionIDs[i] = s.ID
	}

	messages, err := c.store.ListUnconsolidated(ctx, sessionIDs, c.batchSize)
	if err != nil {
		return c.fail(userID, fmt.Errorf("listing unconsolidated messages: %w", err))
	}
	if len(messages) == 0 {
		return Result{Success: true}
	}

	c.logger.Info("consolidation pass started",
		zap.String("user_id", userID),
		zap.Int("sessions", len(sessions)),
		zap.Int("messages", len(messages)))

	// Group by session, preserving the oldest-first fetch order within and
	// across groups.
	groups := make(map[string][]store.Message)
	var groupOrder []string
	for _, m := range messages {
		if _, seen := groups[m.SessionID]; !seen {
			groupOrder = append(groupOrder, m.SessionID)
		}
		groups[m.SessionID] = append(groups[m.SessionID], m)
	}

	saved := 0
	for _, sessionID := range groupOrder {
		group := groups[sessionID]

		batch := make([]patterns.Message, len(group))
		for i, m := range group {
			batch[i] = patterns.Message{Role: m.Role, Content: m.Content}
		}

		extracted, err := c.extractor.Extract(ctx, userID, sessionID, batch)
		if err != nil {
			// Nothing is marked, so every fetched message stays retryable.
			return c.fail(userID, fmt.Errorf("extracting session %s: %w", sessionID, err))
		}

		for _, p := range extracted {
			if err := c.store.SavePattern(ctx, p); err != nil {
				c.logger.Warn("failed to save pattern, skipping",
					zap.String("user_id", userID),
					zap.String("session_id", sessionID),
					zap.String("pattern_type", string(p.Type)),
					zap.Error(err))
				continue
			}
			saved++
		}
	}

	// Single batch update, only after every group was extracted.
	messageIDs := make([]string, len(messages))
	for i, m := range messages {
		messageIDs[i] = m.ID
	}
	if err := c.store.MarkConsolidated(ctx, messageIDs); err != nil {
		res = c.fail(userID, fmt.Errorf("marking messages consolidated: %w", err))
		res.PatternsExtracted = saved
		return res
	}

	c.logger.Info("consolidation pass completed",
		zap.String("user_id", userID),
		zap.Int("patterns_extracted", saved),
		zap.Int("messages_processed", len(messages)))

	return Result{
		PatternsExtracted: saved,
		MessagesProcessed: len(messages),
		Success:           true,
	}
}

func (c *Consolidator) fail(userID string, err error) Result {
	c.logger.Error("consolidation pass failed",
		zap.String("user_id", userID),
		zap.Error(err))
	return Result{Error: err.Error()}
}
