package consolidate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflectlabs/clarify/internal/patterns"
	"github.com/reflectlabs/clarify/internal/store"
)

type mockStore struct {
	sessions    []store.Session
	sessionsErr error

	unconsolidated    []store.Message
	unconsolidatedErr error
	listedLimit       int

	savedPatterns []*patterns.Pattern
	saveErrFor    map[string]error

	markedIDs []string
	markCalls int
	markErr   error
}

func (m *mockStore) ListSessions(_ context.Context, _ string) ([]store.Session, error) {
	return m.sessions, m.sessionsErr
}

func (m *mockStore) ListUnconsolidated(_ context.Context, _ []string, limit int) ([]store.Message, error) {
	m.listedLimit = limit
	return m.unconsolidated, m.unconsolidatedErr
}

func (m *mockStore) SavePattern(_ context.Context, p *patterns.Pattern) error {
	if err, ok := m.saveErrFor[p.Content]; ok {
		return err
	}
	m.savedPatterns = append(m.savedPatterns, p)
	return nil
}

func (m *mockStore) MarkConsolidated(_ context.Context, ids []string) error {
	m.markCalls++
	if m.markErr != nil {
		return m.markErr
	}
	m.markedIDs = append(m.markedIDs, ids...)
	return nil
}

type mockExtractor struct {
	perSession map[string][]*patterns.Pattern
	err        error
	calls      []extractCall
}

type extractCall struct {
	sessionID string
	messages  []patterns.Message
}

func (m *mockExtractor) Extract(_ context.Context, _, sessionID string, messages []patterns.Message) ([]*patterns.Pattern, error) {
	m.calls = append(m.calls, extractCall{sessionID: sessionID, messages: messages})
	if m.err != nil {
		return nil, m.err
	}
	return m.perSession[sessionID], nil
}

func mustPattern(t *testing.T, content string) *patterns.Pattern {
	t.Helper()
	p, err := patterns.New("user-1", "sess-1", patterns.TypeRecurringTheme, content, 7)
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	t.Run("rejects nil store", func(t *testing.T) {
		_, err := New(nil, &mockExtractor{}, nil)
		assert.Error(t, err)
	})

	t.Run("rejects nil extractor", func(t *testing.T) {
		_, err := New(&mockStore{}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("applies batch size option", func(t *testing.T) {
		c, err := New(&mockStore{}, &mockExtractor{}, nil, WithBatchSize(10))
		require.NoError(t, err)
		assert.Equal(t, 10, c.batchSize)
	})

	t.Run("ignores non-positive batch size", func(t *testing.T) {
		c, err := New(&mockStore{}, &mockExtractor{}, nil, WithBatchSize(0))
		require.NoError(t, err)
		assert.Equal(t, DefaultBatchSize, c.batchSize)
	})
}

func TestConsolidateNoSessions(t *testing.T) {
	st := &mockStore{}
	c, err := New(st, &mockExtractor{}, nil)
	require.NoError(t, err)

	res := c.Consolidate(context.Background(), "user-1")

	assert.True(t, res.Success)
	assert.Zero(t, res.PatternsExtracted)
	assert.Zero(t, res.MessagesProcessed)
	assert.Empty(t, res.Error)
	assert.Zero(t, st.markCalls)
}

func TestConsolidateNoUnconsolidatedMessages(t *testing.T) {
	st := &mockStore{
		sessions: []store.Session{{ID: "sess-1", UserID: "user-1"}},
	}
	c, err := New(st, &mockExtractor{}, nil)
	require.NoError(t, err)

	res := c.Consolidate(context.Background(), "user-1")

	assert.True(t, res.Success)
	assert.Zero(t, res.MessagesProcessed)
	assert.Zero(t, st.markCalls)
	assert.Equal(t, DefaultBatchSize, st.listedLimit)
}

func TestConsolidateGroupsBySession(t *testing.T) {
	st := &mockStore{
		sessions: []store.Session{
			{ID: "sess-1", UserID: "user-1"},
			{ID: "sess-2", UserID: "user-1"},
		},
		unconsolidated: []store.Message{
			{ID: "m1", SessionID: "sess-1", Role: "user", Content: "first"},
			{ID: "m2", SessionID: "sess-2", Role: "user", Content: "second"},
			{ID: "m3", SessionID: "sess-1", Role: "assistant", Content: "third"},
		},
	}
	ex := &mockExtractor{
		perSession: map[string][]*patterns.Pattern{
			"sess-1": {mustPattern(t, "writes at night")},
			"sess-2": {mustPattern(t, "career doubts"), mustPattern(t, "wants to run")},
		},
	}
	c, err := New(st, ex, nil)
	require.NoError(t, err)

	res := c.Consolidate(context.Background(), "user-1")

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.PatternsExtracted)
	assert.Equal(t, 3, res.MessagesProcessed)

	require.Len(t, ex.calls, 2)
	assert.Equal(t, "sess-1", ex.calls[0].sessionID)
	assert.Equal(t, []patterns.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "third"},
	}, ex.calls[0].messages)
	assert.Equal(t, "sess-2", ex.calls[1].sessionID)

	assert.Equal(t, 1, st.markCalls)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, st.markedIDs)
}

func TestConsolidateIdempotentSecondRun(t *testing.T) {
	st := &mockStore{
		sessions: []store.Session{{ID: "sess-1", UserID: "user-1"}},
		unconsolidated: []store.Message{
			{ID: "m1", SessionID: "sess-1", Role: "user", Content: "hello"},
		},
	}
	ex := &mockExtractor{
		perSession: map[string][]*patterns.Pattern{
			"sess-1": {mustPattern(t, "morning clarity")},
		},
	}
	c, err := New(st, ex, nil)
	require.NoError(t, err)

	first := c.Consolidate(context.Background(), "user-1")
	require.True(t, first.Success)
	assert.Equal(t, 1, first.MessagesProcessed)

	// Everything is marked now, so the second pass sees nothing.
	st.unconsolidated = nil
	second := c.Consolidate(context.Background(), "user-1")

	assert.True(t, second.Success)
	assert.Zero(t, second.MessagesProcessed)
	assert.Equal(t, 1, st.markCalls)
	assert.Len(t, st.savedPatterns, 1)
}

func TestConsolidatePartialSaveFailure(t *testing.T) {
	st := &mockStore{
		sessions: []store.Session{{ID: "sess-1", UserID: "user-1"}},
		unconsolidated: []store.Message{
			{ID: "m1", SessionID: "sess-1", Role: "user", Content: "hello"},
		},
		saveErrFor: map[string]error{"doomed": errors.New("disk full")},
	}
	ex := &mockExtractor{
		perSession: map[string][]*patterns.Pattern{
			"sess-1": {mustPattern(t, "doomed"), mustPattern(t, "survivor")},
		},
	}
	c, err := New(st, ex, nil)
	require.NoError(t, err)

	res := c.Consolidate(context.Background(), "user-1")

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.PatternsExtracted)
	assert.Equal(t, 1, res.MessagesProcessed)
	require.Len(t, st.savedPatterns, 1)
	assert.Equal(t, "survivor", st.savedPatterns[0].Content)
	assert.Equal(t, 1, st.markCalls)
}

func TestConsolidateExtractorErrorLeavesMessagesUnmarked(t *testing.T) {
	st := &mockStore{
		sessions: []store.Session{{ID: "sess-1", UserID: "user-1"}},
		unconsolidated: []store.Message{
			{ID: "m1", SessionID: "sess-1", Role: "user", Content: "hello"},
		},
	}
	ex := &mockExtractor{err: errors.New("model unavailable")}
	c, err := New(st, ex, nil)
	require.NoError(t, err)

	res := c.Consolidate(context.Background(), "user-1")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "model unavailable")
	assert.Zero(t, st.markCalls)
	assert.Empty(t, st.savedPatterns)
}

func TestConsolidateMarkFailure(t *testing.T) {
	st := &mockStore{
		sessions: []store.Session{{ID: "sess-1", UserID: "user-1"}},
		unconsolidated: []store.Message{
			{ID: "m1", SessionID: "sess-1", Role: "user", Content: "hello"},
		},
		markErr: errors.New("db locked"),
	}
	ex := &mockExtractor{
		perSession: map[string][]*patterns.Pattern{
			"sess-1": {mustPattern(t, "saved anyway")},
		},
	}
	c, err := New(st, ex, nil)
	require.NoError(t, err)

	res := c.Consolidate(context.Background(), "user-1")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "db locked")
	assert.Equal(t, 1, res.PatternsExtracted)
}

func TestConsolidateListErrors(t *testing.T) {
	t.Run("session listing fails", func(t *testing.T) {
		st := &mockStore{sessionsErr: errors.New("connection reset")}
		c, err := New(st, &mockExtractor{}, nil)
		require.NoError(t, err)

		res := c.Consolidate(context.Background(), "user-1")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "listing sessions")
	})

	t.Run("message listing fails", func(t *testing.T) {
		st := &mockStore{
			sessions:          []store.Session{{ID: "sess-1"}},
			unconsolidatedErr: errors.New("connection reset"),
		}
		c, err := New(st, &mockExtractor{}, nil)
		require.NoError(t, err)

		res := c.Consolidate(context.Background(), "user-1")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "listing unconsolidated messages")
	})
}

func TestConsolidateRecoversPanic(t *testing.T) {
	st := &mockStore{
		sessions: []store.Session{{ID: "sess-1", UserID: "user-1"}},
		unconsolidated: []store.Message{
			{ID: "m1", SessionID: "sess-1", Role: "user", Content: "hello"},
		},
	}
	c, err := New(st, panicExtractor{}, nil)
	require.NoError(t, err)

	res := c.Consolidate(context.Background(), "user-1")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panic")
	assert.Zero(t, st.markCalls)
}

type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, string, string, []patterns.Message) ([]*patterns.Pattern, error) {
	panic("unexpected nil dereference")
}
