package patterns

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reflectlabs/clarify/internal/llm"
)

// mockClient is an in-memory llm.Client returning a canned response.
type mockClient struct {
	response string
	err      error
	calls    int
}

func (m *mockClient) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func userMessages(contents ...string) []Message {
	msgs := make([]Message, 0, len(contents))
	for _, c := range contents {
		msgs = append(msgs, Message{Role: RoleUser, Content: c})
	}
	return msgs
}

func newTestExtractor(t *testing.T, client llm.Client, opts ...ExtractorOption) *Extractor {
	t.Helper()
	e, err := NewExtractor(client, zap.NewNop(), opts...)
	require.NoError(t, err)
	return e
}

func TestNewExtractor_NilClient(t *testing.T) {
	_, err := NewExtractor(nil, zap.NewNop())
	assert.Error(t, err)
}

func TestExtract_BelowThresholdNoModelCall(t *testing.T) {
	client := &mockClient{response: `[]`}
	e := newTestExtractor(t, client)

	got, err := e.Extract(context.Background(), "u1", "s1", userMessages("one", "two"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, client.calls, "no model call below the threshold")
}

func TestExtract_AssistantMessagesIgnored(t *testing.T) {
	client := &mockClient{response: `[]`}
	e := newTestExtractor(t, client)

	msgs := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "assistant", Content: "c"},
		{Role: RoleUser, Content: "d"},
	}
	_, err := e.Extract(context.Background(), "u1", "s1", msgs)
	require.NoError(t, err)
	assert.Zero(t, client.calls, "assistant turns must not count toward the threshold")
}

func TestExtract_ValidResponse(t *testing.T) {
	client := &mockClient{response: `[
		{"type":"recurring_theme","content":"keeps coming back to career change","strength":8},
		{"type":"tension","content":"stability versus ambition","strength":6}
	]`}
	e := newTestExtractor(t, client)

	got, err := e.Extract(context.Background(), "u1", "s1", userMessages("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, TypeRecurringTheme, got[0].Type)
	assert.Equal(t, 8, got[0].Strength)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "s1", got[0].SessionID)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, TypeTension, got[1].Type)
	assert.Equal(t, 1, client.calls)
}

func TestExtract_CodeFencedResponse(t *testing.T) {
	client := &mockClient{response: "```json\n[{\"type\":\"potential_goal\",\"content\":\"wants to write more\",\"strength\":5}]\n```"}
	e := newTestExtractor(t, client)

	got, err := e.Extract(context.Background(), "u1", "s1", userMessages("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, TypePotentialGoal, got[0].Type)
}

func TestExtract_UnparseableResponseYieldsEmpty(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "I found some interesting patterns!"},
		{"json object not array", `{"type":"tension","content":"x","strength":5}`},
		{"truncated array", `[{"type":"tension","content":"x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExtractor(t, &mockClient{response: tt.response})
			got, err := e.Extract(context.Background(), "u1", "s1", userMessages("a", "b", "c"))
			require.NoError(t, err, "bad model output must not surface as an error")
			assert.Empty(t, got)
		})
	}
}

func TestExtract_DropsInvalidCandidates(t *testing.T) {
	client := &mockClient{response: `[
		{"type":"recurring_theme","content":"valid","strength":7},
		{"type":"mood_swing","content":"unknown type","strength":5},
		{"type":"tension","content":"zero strength","strength":0},
		{"type":"tension","content":"over max","strength":11},
		{"type":"tension","content":"fractional","strength":7.5},
		{"type":"tension","content":"","strength":5},
		{"content":"missing type","strength":5},
		"not an object"
	]`}
	e := newTestExtractor(t, client)

	got, err := e.Extract(context.Background(), "u1", "s1", userMessages("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, got, 1, "only the well-formed candidate survives")
	assert.Equal(t, "valid", got[0].Content)
}

func TestExtract_TruncatesLongContent(t *testing.T) {
	long := strings.Repeat("x", 900)
	client := &mockClient{response: `[{"type":"tension","content":"` + long + `","strength":5}]`}
	e := newTestExtractor(t, client)

	got, err := e.Extract(context.Background(), "u1", "s1", userMessages("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Content, MaxContentLen)
}

func TestExtract_ModelErrorSurfaces(t *testing.T) {
	client := &mockClient{err: &llm.APIError{StatusCode: 401, Message: "bad key"}}
	e := newTestExtractor(t, client)

	_, err := e.Extract(context.Background(), "u1", "s1", userMessages("a", "b", "c"))
	require.Error(t, err)

	var apiErr *llm.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, client.calls, "401 is permanent, no retries")
}

func TestExtract_ConfigurableThreshold(t *testing.T) {
	client := &mockClient{response: `[]`}
	e := newTestExtractor(t, client, WithMinUserMessages(1))

	_, err := e.Extract(context.Background(), "u1", "s1", userMessages("just one"))
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestPatternValidate(t *testing.T) {
	valid := func() *Pattern {
		return &Pattern{
			ID:       "p1",
			UserID:   "u1",
			Type:     TypeRecurringTheme,
			Content:  "something",
			Strength: 5,
		}
	}

	assert.NoError(t, valid().Validate())

	p := valid()
	p.UserID = ""
	assert.ErrorIs(t, p.Validate(), ErrEmptyUserID)

	p = valid()
	p.Type = "mystery"
	assert.ErrorIs(t, p.Validate(), ErrInvalidType)

	p = valid()
	p.Content = ""
	assert.ErrorIs(t, p.Validate(), ErrEmptyContent)

	p = valid()
	p.Strength = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidStrength)

	p = valid()
	p.Strength = 11
	assert.ErrorIs(t, p.Validate(), ErrInvalidStrength)
}

func TestNew_Truncates(t *testing.T) {
	p, err := New("u1", "s1", TypeTension, strings.Repeat("a", 600), 5)
	require.NoError(t, err)
	assert.Len(t, p.Content, MaxContentLen)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())
}
