// Package clarify assembles the supplementary context injected at the start
// of a conversation turn.
//
// The builder gathers prioritized fragments about a user (identity, active
// goals, stored patterns, other recent sessions, recent entries), estimates
// each fragment's token cost, and packs them into a fixed token budget.
// High-priority fragments degrade to a truncated prefix instead of
// disappearing; low-priority fragments that do not fit are dropped.
//
// Every data fetch is independent and best-effort. A failed or empty fetch
// removes one fragment from the result, never the whole turn: an empty
// context means a plain conversation, not an error.
package clarify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/reflectlabs/clarify/internal/patterns"
	"github.com/reflectlabs/clarify/internal/store"
	"github.com/reflectlabs/clarify/internal/tokens"
)

// Defaults for fragment bounds.
const (
	DefaultMaxContextTokens   = 2000
	DefaultMaxGoals           = 3
	DefaultMaxPatterns        = 5
	DefaultMinPatternStrength = 5
	DefaultMaxSessions        = 3
	DefaultMaxEntries         = 5

	goalTruncateLen = 100

	// High-priority fragments stop truncating into the remaining budget
	// once usage crosses this share of it. Past that point a truncated
	// prefix is too short to carry signal.
	truncateCutoff = 0.9
)

// Fragment priorities, lower is more important.
const (
	priorityIdentity = 1
	priorityGoals    = 2
	priorityPatterns = 2
	prioritySessions = 3
	priorityEntries  = 4
)

// fragment is one candidate block of context. Fragments live only for the
// duration of a single BuildContext call.
type fragment struct {
	priority int
	label    string
	text     string
	tokens   int
}

// Config bounds what the builder fetches and how much it emits.
type Config struct {
	MaxContextTokens   int
	MaxGoals           int
	MaxPatterns        int
	MinPatternStrength int
	MaxSessions        int
	MaxEntries         int
}

// DefaultConfig returns the standard builder bounds.
func DefaultConfig() Config {
	return Config{
		MaxContextTokens:   DefaultMaxContextTokens,
		MaxGoals:           DefaultMaxGoals,
		MaxPatterns:        DefaultMaxPatterns,
		MinPatternStrength: DefaultMinPatternStrength,
		MaxSessions:        DefaultMaxSessions,
		MaxEntries:         DefaultMaxEntries,
	}
}

func (c Config) withDefaults() Config {
	// MaxContextTokens is deliberately left alone: zero is a valid budget
	// meaning "no supplementary context".
	d := DefaultConfig()
	if c.MaxGoals <= 0 {
		c.MaxGoals = d.MaxGoals
	}
	if c.MaxPatterns <= 0 {
		c.MaxPatterns = d.MaxPatterns
	}
	if c.MinPatternStrength <= 0 {
		c.MinPatternStrength = d.MinPatternStrength
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	return c
}

// Store is the read surface the builder needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListActiveGoals(ctx context.Context, userID string, limit int) ([]store.Goal, error)
	ListTopPatterns(ctx context.Context, userID string, minStrength, limit int) ([]*patterns.Pattern, error)
	ListSessions(ctx context.Context, userID string) ([]store.Session, error)
	ListRecentEntries(ctx context.Context, userID string, limit int) ([]store.Entry, error)
}

// Builder assembles context strings.
type Builder struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewBuilder creates a Builder. A zero-valued field in cfg takes its
// default, except MaxContextTokens where an explicit zero means no budget.
func NewBuilder(st Store, cfg Config, logger *zap.Logger) (*Builder, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{store: st, cfg: cfg.withDefaults(), logger: logger}, nil
}

// BuildContext gathers and packs fragments for the user, excluding
// currentSessionID from the recent-sessions fragment. It returns an empty
// string when nothing fits or nothing is available.
func (b *Builder) BuildContext(ctx context.Context, userID, currentSessionID string) string {
	if b.cfg.MaxContextTokens <= 0 {
		return ""
	}

	// The five fetches have no ordering dependency, so issue them
	// concurrently into fixed slots. A failed fetch leaves a nil slot.
	slots := make([]*fragment, 5)
	var wg sync.WaitGroup

	fetch := func(slot int, label string, fn func() (*fragment, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			frag, err := fn()
			if err != nil {
				b.logger.Warn("context fragment fetch failed",
					zap.String("user_id", userID),
					zap.String("fragment", label),
					zap.Error(err))
				return
			}
			slots[slot] = frag
		}()
	}

	fetch(0, "identity", func() (*fragment, error) { return b.identityFragment(ctx, userID) })
	fetch(1, "goals", func() (*fragment, error) { return b.goalsFragment(ctx, userID) })
	fetch(2, "patterns", func() (*fragment, error) { return b.patternsFragment(ctx, userID) })
	fetch(3, "sessions", func() (*fragment, error) { return b.sessionsFragment(ctx, userID, currentSessionID) })
	fetch(4, "entries", func() (*fragment, error) { return b.entriesFragment(ctx, userID) })

	wg.Wait()

	fragments := make([]*fragment, 0, len(slots))
	for _, frag := range slots {
		if frag != nil {
			fragments = append(fragments, frag)
		}
	}

	return b.assemble(userID, fragments)
}

// assemble packs fragments into the token budget, highest priority first.
func (b *Builder) assemble(userID string, fragments []*fragment) string {
	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].priority < fragments[j].priority
	})

	budget := b.cfg.MaxContextTokens
	cutoff := int(float64(budget) * truncateCutoff)

	var blocks []string
	used := 0
	for _, frag := range fragments {
		if used+frag.tokens <= budget {
			blocks = append(blocks, frag.text)
			used += frag.tokens
			continue
		}
		if frag.priority <= 2 && used < cutoff {
			remaining := budget - used
			truncated := truncateToTokens(frag.text, remaining)
			if truncated == "" {
				continue
			}
			blocks = append(blocks, truncated)
			used = budget
			continue
		}
		b.logger.Debug("context fragment dropped over budget",
			zap.String("user_id", userID),
			zap.String("fragment", frag.label),
			zap.Int("tokens", frag.tokens),
			zap.Int("remaining", budget-used))
	}

	return strings.Join(blocks, "\n\n")
}

func (b *Builder) identityFragment(ctx context.Context, userID string) (*fragment, error) {
	u, err := b.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("User: %s (%d journal entries, %d sessions)",
		u.Name, u.EntryCount, u.SessionCount)
	return newFragment(priorityIdentity, "identity", text), nil
}

func (b *Builder) goalsFragment(ctx context.Context, userID string) (*fragment, error) {
	goals, err := b.store.ListActiveGoals(ctx, userID, b.cfg.MaxGoals)
	if err != nil {
		return nil, err
	}
	if len(goals) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	sb.WriteString("Active goals:")
	for _, g := range goals {
		desc := g.Description
		if len(desc) > goalTruncateLen {
			desc = desc[:goalTruncateLen] + "..."
		}
		sb.WriteString("\n- ")
		sb.WriteString(desc)
	}
	return newFragment(priorityGoals, "goals", sb.String()), nil
}

func (b *Builder) patternsFragment(ctx context.Context, userID string) (*fragment, error) {
	pats, err := b.store.ListTopPatterns(ctx, userID, b.cfg.MinPatternStrength, b.cfg.MaxPatterns)
	if err != nil {
		return nil, err
	}
	if len(pats) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	sb.WriteString("Observed patterns:")
	for _, p := range pats {
		sb.WriteString(fmt.Sprintf("\n- [%s, strength %d] %s", p.Type, p.Strength, p.Content))
	}
	return newFragment(priorityPatterns, "patterns", sb.String()), nil
}

func (b *Builder) sessionsFragment(ctx context.Context, userID, currentSessionID string) (*fragment, error) {
	sessions, err := b.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	n := 0
	for _, s := range sessions {
		if s.ID == currentSessionID {
			continue
		}
		if n == 0 {
			sb.WriteString("Other recent sessions:")
		}
		sb.WriteString(fmt.Sprintf("\n- %s (%d messages)", s.Title, s.MessageCount))
		n++
		if n >= b.cfg.MaxSessions {
			break
		}
	}
	if n == 0 {
		return nil, nil
	}
	return newFragment(prioritySessions, "sessions", sb.String()), nil
}

func (b *Builder) entriesFragment(ctx context.Context, userID string) (*fragment, error) {
	entries, err := b.store.ListRecentEntries(ctx, userID, b.cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	tones := make(map[string]struct{})
	for _, e := range entries {
		if e.Tone != "" {
			tones[e.Tone] = struct{}{}
		}
	}
	text := fmt.Sprintf("Recent journaling: %d entries, %d distinct tones", len(entries), len(tones))
	return newFragment(priorityEntries, "entries", text), nil
}

func newFragment(priority int, label, text string) *fragment {
	return &fragment{
		priority: priority,
		label:    label,
		text:     text,
		tokens:   tokens.Estimate(text),
	}
}

// truncateToTokens cuts text to roughly maxTokens worth of characters and
// appends an ellipsis. Returns an empty string when no room remains.
func truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}
	if maxChars <= 3 {
		return ""
	}
	return text[:maxChars-3] + "..."
}
