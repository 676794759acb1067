package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatStream/internal/session"
)

func openScopes(t *testing.T) map[string]Scope {
	t.Helper()

	sqliteScope, err := NewSQLiteScope(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	fileScope, err := NewFileScope(t.TempDir())
	require.NoError(t, err)

	scopes := map[string]Scope{
		BackendMemory: NewMemoryScope(),
		BackendFile:   fileScope,
		BackendSQLite: sqliteScope,
	}
	t.Cleanup(func() {
		for _, s := range scopes {
			s.Close()
		}
	})
	return scopes
}

func TestScopeGetPut(t *testing.T) {
	ctx := context.Background()

	for name, scope := range openScopes(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := scope.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, scope.Put(ctx, "k", []byte(`[1]`)))
			require.NoError(t, scope.Put(ctx, "k", []byte(`[2]`)))

			v, ok, err := scope.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[2]`, string(v))
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("redis", "")
	assert.Error(t, err)
}

func TestFileScopeRejectsPathKeys(t *testing.T) {
	scope, err := NewFileScope(t.TempDir())
	require.NoError(t, err)

	err = scope.Put(context.Background(), "../escape", []byte("x"))
	assert.Error(t, err)
}

func sampleSession(id string) session.ChatSession {
	return session.ChatSession{
		ID:        id,
		Title:     session.DefaultTitle,
		Messages:  []session.Message{},
		CreatedAt: 1,
		UpdatedAt: 1,
	}
}

func ids(sessions []session.ChatSession) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

func TestAdapterOperations(t *testing.T) {
	ctx := context.Background()

	for name, scope := range openScopes(t) {
		t.Run(name, func(t *testing.T) {
			a := NewAdapter(scope, "", nil)

			assert.Empty(t, a.LoadAll(ctx))

			require.NoError(t, a.SaveAll(ctx, []session.ChatSession{sampleSession("a"), sampleSession("b")}))
			assert.Equal(t, []string{"a", "b"}, ids(a.LoadAll(ctx)))

			updated := sampleSession("a")
			updated.Title = "renamed"
			require.NoError(t, a.Upsert(ctx, updated))
			require.NoError(t, a.Upsert(ctx, sampleSession("c")))

			loaded := a.LoadAll(ctx)
			assert.Equal(t, []string{"a", "b", "c"}, ids(loaded))
			assert.Equal(t, "renamed", loaded[0].Title)

			require.NoError(t, a.Remove(ctx, "b"))
			require.NoError(t, a.Remove(ctx, "missing"))
			assert.Equal(t, []string{"a", "c"}, ids(a.LoadAll(ctx)))

			require.NoError(t, a.Clear(ctx))
			assert.Empty(t, a.LoadAll(ctx))

			raw, ok, err := scope.Get(ctx, DefaultKey)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "[]", string(raw))
		})
	}
}

func TestAdapterMalformedDataIsEmpty(t *testing.T) {
	ctx := context.Background()
	scope := NewMemoryScope()
	require.NoError(t, scope.Put(ctx, DefaultKey, []byte("{not json")))

	a := NewAdapter(scope, DefaultKey, nil)
	sessions := a.LoadAll(ctx)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)

	require.NoError(t, a.Upsert(ctx, sampleSession("x")))
	assert.Equal(t, []string{"x"}, ids(a.LoadAll(ctx)))
}

func TestAdapterRoundTripsMessages(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewMemoryScope(), "", nil)

	s := sampleSession("chat-1")
	s.Messages = []session.Message{
		{ID: "m1", Role: session.RoleUser, Content: "Explain React hooks", Timestamp: 10},
		{ID: "m1-response", Role: session.RoleAssistant, Content: "# React", Timestamp: 11},
	}
	require.NoError(t, a.Upsert(ctx, s))

	loaded := a.LoadAll(ctx)
	require.Len(t, loaded, 1)
	assert.Equal(t, s, loaded[0])
}

func TestSQLiteScopePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chat.db")

	scope, err := NewSQLiteScope(path)
	require.NoError(t, err)
	require.NoError(t, NewAdapter(scope, "", nil).SaveAll(ctx, []session.ChatSession{sampleSession("keep")}))
	require.NoError(t, scope.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	reopened, err := NewSQLiteScope(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"keep"}, ids(NewAdapter(reopened, "", nil).LoadAll(ctx)))
}
