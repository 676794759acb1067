package session

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTitle(t *testing.T) {
	long := strings.Repeat("x", 60)

	tests := []struct {
		name     string
		messages []Message
		want     string
	}{
		{name: "no messages", messages: nil, want: DefaultTitle},
		{name: "only assistant", messages: []Message{{Role: RoleAssistant, Content: "hello"}}, want: DefaultTitle},
		{name: "short user message", messages: []Message{{Role: RoleUser, Content: "hi"}}, want: "hi"},
		{name: "exactly fifty", messages: []Message{{Role: RoleUser, Content: long[:50]}}, want: long[:50]},
		{name: "truncated", messages: []Message{{Role: RoleUser, Content: long}}, want: long[:50] + "..."},
		{
			name: "first user wins",
			messages: []Message{
				{Role: RoleAssistant, Content: "welcome"},
				{Role: RoleUser, Content: "Explain React hooks"},
				{Role: RoleUser, Content: "second"},
			},
			want: "Explain React hooks",
		},
		{name: "multibyte counted as runes", messages: []Message{{Role: RoleUser, Content: strings.Repeat("é", 51)}}, want: strings.Repeat("é", 50) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.messages))
		})
	}
}

func TestNewIDs(t *testing.T) {
	chatPattern := regexp.MustCompile(`^chat-\d+-[0-9a-z]{9}$`)
	msgPattern := regexp.MustCompile(`^msg-\d+-[0-9a-z]{9}$`)

	assert.Regexp(t, chatPattern, NewChatID())
	assert.Regexp(t, msgPattern, NewMessageID())
}

func TestNewMessageIDUnique(t *testing.T) {
	const n = 100000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := NewMessageID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s after %d ids", id, i)
		seen[id] = struct{}{}
	}
}

func TestNewSession(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	s := New(now)

	assert.Equal(t, DefaultTitle, s.Title)
	assert.Empty(t, s.Messages)
	assert.NotNil(t, s.Messages)
	assert.Equal(t, int64(1700000000000), s.CreatedAt)
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)
	assert.True(t, strings.HasPrefix(s.ID, "chat-"))
}

func TestCloneDoesNotAlias(t *testing.T) {
	s := ChatSession{ID: "chat-1", Messages: []Message{{ID: "m1", Content: "a"}}}
	c := s.Clone()
	c.Messages[0].Content = "b"

	assert.Equal(t, "a", s.Messages[0].Content)
}

func TestJSONLayout(t *testing.T) {
	s := ChatSession{
		ID:    "chat-1",
		Title: "hi",
		Messages: []Message{
			{ID: "m1", Content: "hi", Role: RoleUser, Timestamp: 1},
			{ID: "m2", Content: "yo", Role: RoleAssistant, Timestamp: 2, IsStreaming: true},
		},
		CreatedAt: 1,
		UpdatedAt: 2,
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "createdAt")
	assert.Contains(t, raw, "updatedAt")

	msgs := raw["messages"].([]any)
	assert.NotContains(t, msgs[0].(map[string]any), "isStreaming")
	assert.Equal(t, true, msgs[1].(map[string]any)["isStreaming"])
}

func TestExtractArtifacts(t *testing.T) {
	content := "# Title\n\n```jsx\nconst a = 1;\n```\n\ntext\n\n```\nplain\n```\n"

	artifacts := ExtractArtifacts(content)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "jsx", artifacts[0].Language)
	assert.Equal(t, "const a = 1;", artifacts[0].Content)
	assert.Equal(t, "text", artifacts[1].Language)
	assert.Equal(t, "plain", artifacts[1].Content)

	assert.Empty(t, ExtractArtifacts("no code here"))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

	assert.Equal(t, "now", RelativeTime(Millis(now.Add(-30*time.Second)), now))
	assert.Equal(t, "5m ago", RelativeTime(Millis(now.Add(-5*time.Minute)), now))
	assert.Equal(t, "3h ago", RelativeTime(Millis(now.Add(-3*time.Hour)), now))
	assert.Equal(t, "2025-03-07", RelativeTime(Millis(now.Add(-72*time.Hour)), now))
}
