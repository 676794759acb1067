package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatStream/internal/chatbot"
	"ChatStream/internal/rpc"
	"ChatStream/internal/search"
	"ChatStream/internal/storage"
	"ChatStream/internal/store"
	"ChatStream/internal/stream"
)

const reply = "# Title\n\nSome text."

func newTestServer(t *testing.T) (*httptest.Server, *chatbot.ChatBot) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(storage.NewAdapter(storage.NewMemoryScope(), "", logger), store.WithLogger(logger))
	sim := stream.New(
		stream.WithSource(stream.Fixed(reply)),
		stream.WithPacing(stream.InstantPacing()),
		stream.WithSplitter(stream.Words),
		stream.WithLogger(logger),
	)
	svc := search.NewService(search.NewDirectory(1000), time.Minute, time.Minute, logger)
	cb := chatbot.NewChatBot(st, sim, svc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	srv := New(ctx, cb, nil, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		cancel()
		cb.Close()
		st.Close()
	})
	return ts, cb
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHealthAndSessions(t *testing.T) {
	ts, cb := newTestServer(t)
	cb.NewSession(context.Background())

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["sessions"])

	var snap store.Snapshot
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/sessions", &snap))
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, snap.Sessions[0].ID, snap.ActiveID)
}

func TestSearchRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	var people rpc.PeopleResult
	getJSON(t, ts.URL+"/api/search/people?q=jack", &people)
	require.Len(t, people.Results, 10)
	assert.Equal(t, "user_9", people.Results[0].ID)
	assert.Equal(t, "Jack Thomas (jack.thomas@example.com)", people.Results[0].DisplayName)

	var empty rpc.PeopleResult
	getJSON(t, ts.URL+"/api/search/people", &empty)
	assert.Empty(t, empty.Results)

	var suggestions rpc.SuggestionsResult
	getJSON(t, ts.URL+"/api/search/suggestions?q=async", &suggestions)
	assert.Equal(t, []string{"Understanding async/await"}, suggestions.Results)

	var defaults rpc.SuggestionsResult
	getJSON(t, ts.URL+"/api/search/suggestions", &defaults)
	assert.Equal(t, search.Defaults(), defaults.Results)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// waitForState reads notifications until cond holds for a state snapshot
func waitForState(t *testing.T, c *rpc.Client, cond func(store.Snapshot) bool) store.Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-c.Notifications():
			require.True(t, ok, "connection closed")
			if n.Method != rpc.NotificationStateChanged {
				continue
			}
			var snap store.Snapshot
			require.NoError(t, json.Unmarshal(n.Params, &snap))
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for state")
		}
	}
}

func TestWebSocketPromptFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	ctx := context.Background()

	c, err := rpc.Dial(ctx, wsURL(ts), nil)
	require.NoError(t, err)
	defer c.Close()

	waitForState(t, c, func(s store.Snapshot) bool { return len(s.Sessions) == 0 })

	var created rpc.SessionResult
	require.NoError(t, c.Call(ctx, rpc.MethodSessionCreate, nil, &created))
	assert.Equal(t, "New Chat", created.Session.Title)

	var accepted rpc.AcceptedResult
	require.NoError(t, c.Call(ctx, rpc.MethodPromptSubmit, rpc.PromptParams{Text: "Explain React hooks"}, &accepted))
	assert.Equal(t, created.Session.ID, accepted.SessionID)
	assert.Equal(t, accepted.Prompt.ID+"-response", accepted.ResponseID)

	final := waitForState(t, c, func(s store.Snapshot) bool {
		active, ok := s.Active()
		if !ok || len(active.Messages) != 2 {
			return false
		}
		last := active.Messages[1]
		return !last.IsStreaming && last.Content == reply && !s.Loading
	})
	active, _ := final.Active()
	assert.Equal(t, "Explain React hooks", active.Title)

	var list store.Snapshot
	require.NoError(t, c.Call(ctx, rpc.MethodSessionList, nil, &list))
	require.Len(t, list.Sessions, 1)

	var regen rpc.AcceptedResult
	require.NoError(t, c.Call(ctx, rpc.MethodMessageRegenerate, rpc.RegenerateParams{MessageID: accepted.ResponseID}, &regen))
	assert.NotEqual(t, accepted.ResponseID, regen.ResponseID)
	waitForState(t, c, func(s store.Snapshot) bool {
		active, ok := s.Active()
		return ok && len(active.Messages) == 2 && active.Messages[1].ID == regen.ResponseID && !active.Messages[1].IsStreaming
	})

	var stopped rpc.StoppedResult
	require.NoError(t, c.Call(ctx, rpc.MethodGenerationStop, rpc.StopParams{}, &stopped))
}

func TestWebSocketErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	ctx := context.Background()

	c, err := rpc.Dial(ctx, wsURL(ts), nil)
	require.NoError(t, err)
	defer c.Close()

	var rpcErr *rpc.Error

	err = c.Call(ctx, rpc.MethodPromptSubmit, rpc.PromptParams{Text: "hi"}, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, rpc.CodeNoActiveSession, rpcErr.Code)

	require.NoError(t, c.Call(ctx, rpc.MethodSessionCreate, nil, nil))

	err = c.Call(ctx, rpc.MethodPromptSubmit, rpc.PromptParams{Text: "   "}, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, rpc.CodeEmptyPrompt, rpcErr.Code)

	err = c.Call(ctx, rpc.MethodSessionSelect, rpc.SessionParams{ID: "chat-missing"}, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, rpc.CodeNotFound, rpcErr.Code)

	err = c.Call(ctx, rpc.MethodSessionSelect, "not an object", nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)

	err = c.Call(ctx, "session.rename", nil, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, rpc.CodeMethodNotFound, rpcErr.Code)

	var people rpc.PeopleResult
	require.NoError(t, c.Call(ctx, rpc.MethodSearchPeople, rpc.SearchParams{Query: "diana"}, &people))
	assert.Len(t, people.Results, 10)

	var suggestions rpc.SuggestionsResult
	require.NoError(t, c.Call(ctx, rpc.MethodSearchSuggestions, rpc.SearchParams{Query: ""}, &suggestions))
	assert.Empty(t, suggestions.Results)
}

func TestWebSocketMalformedMessage(t *testing.T) {
	ts, _ := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer ws.Close()

	// initial state notification
	var first map[string]any
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, rpc.NotificationStateChanged, first["method"])

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var resp rpc.Response
	require.NoError(t, ws.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeParseError, resp.Error.Code)

	require.NoError(t, ws.WriteJSON(rpc.Request{JSONRPC: rpc.Version, ID: 3, Method: rpc.MethodSessionClear}))
	for {
		var msg map[string]json.RawMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if _, isResponse := msg["id"]; isResponse {
			assert.JSONEq(t, `{"ok":true}`, string(msg["result"]))
			break
		}
	}
}

func TestPublishDropsStaleSnapshots(t *testing.T) {
	s := &Server{latest: make(chan store.Snapshot, 1)}

	s.publish(store.Snapshot{Version: 2, ActiveID: "chat-new"})
	s.publish(store.Snapshot{Version: 1, ActiveID: "chat-old"})

	got := <-s.latest
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, "chat-new", got.ActiveID)

	s.publish(store.Snapshot{Version: 3, ActiveID: "chat-newer"})
	assert.Equal(t, "chat-newer", (<-s.latest).ActiveID)
}
