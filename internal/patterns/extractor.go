package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/reflectlabs/clarify/internal/llm"
	"github.com/reflectlabs/clarify/internal/retry"
)

// DefaultMinUserMessages is the minimum number of user messages required
// before a model call is made. Extraction on too little material is
// unreliable and wasteful.
const DefaultMinUserMessages = 3

// extractMaxTokens caps the extraction completion. A handful of patterns
// fits comfortably.
const extractMaxTokens = 1024

// extractSystemPrompt is the fixed instruction for pattern extraction.
const extractSystemPrompt = `You analyze a user's journaling conversation and extract durable behavioral patterns.

Identify up to 5 patterns from the user's messages. Each pattern has:
- "type": one of "recurring_theme", "tension", "potential_goal", "identity_signal"
- "content": a concise observation in plain language (max 500 characters)
- "strength": an integer from 1 (faint signal) to 10 (unmistakable)

Pattern types:
- recurring_theme: a topic or concern the user keeps returning to
- tension: a conflict or friction the user is navigating
- potential_goal: a goal the user circles but has not explicitly named
- identity_signal: a statement about who the user is or wants to be

Skip small talk, one-off mentions, and anything about the assistant.

Respond ONLY with a JSON array of pattern objects, no other text. Respond with [] if no durable patterns are present.`

// messageDelimiter separates user messages in the extraction prompt.
const messageDelimiter = "\n---\n"

// Extractor turns batches of conversation messages into patterns via a
// cheap model call. Model calls are wrapped by the retry engine; malformed
// model output degrades to zero patterns rather than an error.
type Extractor struct {
	client      llm.Client
	minMessages int
	retryCfg    retry.Config
	logger      *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithMinUserMessages overrides the minimum user-message threshold.
func WithMinUserMessages(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.minMessages = n
		}
	}
}

// WithRetryConfig overrides the model-call retry schedule.
func WithRetryConfig(cfg retry.Config) ExtractorOption {
	return func(e *Extractor) {
		e.retryCfg = cfg
	}
}

// NewExtractor creates a pattern extractor.
func NewExtractor(client llm.Client, logger *zap.Logger, opts ...ExtractorOption) (*Extractor, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Extractor{
		client:      client,
		minMessages: DefaultMinUserMessages,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract produces patterns for a user from one session's messages.
//
// Messages are filtered to role "user"; below the minimum threshold no
// model call is made and no patterns are returned. A model response that is
// not a parseable JSON array yields zero patterns, not an error. Individual
// candidates that are ill-shaped (unknown type, strength outside [1,10] or
// non-integer, missing fields) are dropped without failing the batch.
//
// Returns an error only when the model call itself fails after retries.
func (e *Extractor) Extract(ctx context.Context, userID, sessionID string, messages []Message) ([]*Pattern, error) {
	var userContents []string
	for _, m := range messages {
		if m.Role == RoleUser && m.Content != "" {
			userContents = append(userContents, m.Content)
		}
	}

	if len(userContents) < e.minMessages {
		e.logger.Debug("too few user messages for extraction",
			zap.String("session_id", sessionID),
			zap.Int("user_messages", len(userContents)),
			zap.Int("min_required", e.minMessages))
		return nil, nil
	}

	prompt := strings.Join(userContents, messageDelimiter)

	var raw string
	err := retry.DoModel(ctx, e.logger, e.retryCfg, func(ctx context.Context) error {
		var callErr error
		raw, callErr = e.client.Complete(ctx, llm.CompletionRequest{
			System:      extractSystemPrompt,
			Prompt:      prompt,
			MaxTokens:   extractMaxTokens,
			Temperature: 0.3,
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("pattern extraction call: %w", err)
	}

	extracted := e.parsePatterns(userID, sessionID, raw)

	e.logger.Info("patterns extracted",
		zap.String("session_id", sessionID),
		zap.Int("user_messages", len(userContents)),
		zap.Int("patterns", len(extracted)))

	return extracted, nil
}

// candidate mirrors the expected model output shape. Strength is decoded as
// a float so non-integer values can be detected and dropped rather than
// failing the batch.
type candidate struct {
	Type     Type    `json:"type"`
	Content  string  `json:"content"`
	Strength float64 `json:"strength"`
}

// parsePatterns parses the model response into validated patterns. An
// unparseable response or a non-array yields nil; individual bad candidates
// are dropped.
func (e *Extractor) parsePatterns(userID, sessionID, raw string) []*Pattern {
	cleaned := stripCodeFences(raw)

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &elements); err != nil {
		e.logger.Warn("model output is not a JSON array, dropping batch",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil
	}

	var result []*Pattern
	for _, elem := range elements {
		var c candidate
		if err := json.Unmarshal(elem, &c); err != nil {
			e.logger.Debug("dropping malformed pattern candidate",
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}
		if c.Strength != math.Trunc(c.Strength) {
			e.logger.Debug("dropping pattern with non-integer strength",
				zap.String("session_id", sessionID),
				zap.Float64("strength", c.Strength))
			continue
		}

		p, err := New(userID, sessionID, c.Type, c.Content, int(c.Strength))
		if err != nil {
			e.logger.Debug("dropping invalid pattern candidate",
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}
		result = append(result, p)
	}

	return result
}

// stripCodeFences removes markdown code fences that models sometimes wrap
// JSON output in.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
