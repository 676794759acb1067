package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"ChatStream/internal/session"
)

// DefaultKey is the scope key holding the session collection
const DefaultKey = "chat_sessions"

// Adapter persists the ordered session collection as one JSON array under a
// single scope key. Read-modify-write operations are serialized in-process;
// writers in other processes still race with last-write-wins.
type Adapter struct {
	scope  Scope
	key    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewAdapter creates an adapter over scope. An empty key selects DefaultKey.
func NewAdapter(scope Scope, key string, logger *slog.Logger) *Adapter {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{scope: scope, key: key, logger: logger}
}

// LoadAll returns the stored collection. Missing or unreadable data yields an empty slice.
func (a *Adapter) LoadAll(ctx context.Context) []session.ChatSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(ctx)
}

// SaveAll overwrites the stored collection
func (a *Adapter) SaveAll(ctx context.Context, sessions []session.ChatSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.save(ctx, sessions)
}

// Upsert replaces the session with the same id or appends it
func (a *Adapter) Upsert(ctx context.Context, s session.ChatSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sessions := a.load(ctx)
	replaced := false
	for i := range sessions {
		if sessions[i].ID == s.ID {
			sessions[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, s)
	}
	return a.save(ctx, sessions)
}

// Remove deletes the session with the given id, if stored
func (a *Adapter) Remove(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sessions := a.load(ctx)
	kept := sessions[:0]
	for _, s := range sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	return a.save(ctx, kept)
}

// Clear stores an empty collection
func (a *Adapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.save(ctx, nil)
}

func (a *Adapter) load(ctx context.Context) []session.ChatSession {
	data, ok, err := a.scope.Get(ctx, a.key)
	if err != nil {
		a.logger.Warn("failed to read sessions, treating as empty", "key", a.key, "error", err)
		return []session.ChatSession{}
	}
	if !ok || len(data) == 0 {
		return []session.ChatSession{}
	}

	var sessions []session.ChatSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		a.logger.Warn("malformed session data, treating as empty", "key", a.key, "error", err)
		return []session.ChatSession{}
	}
	if sessions == nil {
		sessions = []session.ChatSession{}
	}
	return sessions
}

func (a *Adapter) save(ctx context.Context, sessions []session.ChatSession) error {
	if sessions == nil {
		sessions = []session.ChatSession{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}
	if err := a.scope.Put(ctx, a.key, data); err != nil {
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	return nil
}
