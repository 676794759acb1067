package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ChatStream/internal/search"
	"ChatStream/internal/session"
	"ChatStream/internal/store"
	"ChatStream/internal/stream"
)

var (
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionBusy     = store.ErrSessionBusy
)

// ChatBot drives the session store and the streaming simulator on behalf of a
// presentation layer
type ChatBot struct {
	store  *store.Store
	sim    *stream.Simulator
	search *search.Service
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(st *store.Store, sim *stream.Simulator, svc *search.Service, logger *slog.Logger) *ChatBot {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatBot{
		store:   st,
		sim:     sim,
		search:  svc,
		logger:  logger,
		tracer:  otel.Tracer("chatstream/chatbot"),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Generation is an accepted reply that is being revealed
type Generation struct {
	SessionID  string
	ResponseID string
	Prompt     session.Message

	done  chan struct{}
	reply session.Message
	err   error
}

// Done is closed when the reply is finished
func (g *Generation) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the reply is finished and returns its final message
func (g *Generation) Wait() (session.Message, error) {
	<-g.done
	return g.reply, g.err
}

// Snapshot returns the current state
func (cb *ChatBot) Snapshot() store.Snapshot {
	return cb.store.Snapshot()
}

// Subscribe registers fn for state changes
func (cb *ChatBot) Subscribe(fn func(store.Snapshot)) (unsubscribe func()) {
	return cb.store.Subscribe(fn)
}

// NewSession starts a new chat and selects it
func (cb *ChatBot) NewSession(ctx context.Context) session.ChatSession {
	return cb.store.CreateSession(ctx)
}

// SelectSession makes id the active chat
func (cb *ChatBot) SelectSession(id string) error {
	return cb.store.SelectSession(id)
}

// DeleteSession stops any reply in progress for id and deletes it
func (cb *ChatBot) DeleteSession(ctx context.Context, id string) error {
	cb.Stop(id)
	return cb.store.DeleteSession(ctx, id)
}

// ClearAll stops every reply in progress and deletes every chat
func (cb *ChatBot) ClearAll(ctx context.Context) {
	cb.stopAll()
	cb.store.ClearAll(ctx)
}

// People searches the people directory
func (cb *ChatBot) People(ctx context.Context, query string) ([]search.Person, error) {
	return cb.search.People(ctx, query)
}

// Suggestions searches prompt suggestions
func (cb *ChatBot) Suggestions(ctx context.Context, query string) ([]string, error) {
	return cb.search.Suggestions(ctx, query)
}

// SubmitPrompt sends text to the active chat and blocks until the reply is
// finished. onIncrement, when set, receives every revealed increment.
func (cb *ChatBot) SubmitPrompt(ctx context.Context, text string, onIncrement func(session.Message)) (session.Message, error) {
	g, err := cb.StartPrompt(ctx, text, onIncrement)
	if err != nil {
		return session.Message{}, err
	}
	return g.Wait()
}

// StartPrompt appends text to the active chat and starts revealing the reply.
// It returns once the prompt is accepted.
func (cb *ChatBot) StartPrompt(ctx context.Context, text string, onIncrement func(session.Message)) (*Generation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPrompt
	}

	active, ok := cb.store.Active()
	if !ok {
		return nil, ErrNoActiveSession
	}
	if err := cb.store.BeginLoading(active.ID); err != nil {
		return nil, err
	}

	// the active copy predates the user message, so this holds only for a fresh chat
	untitled := active.Title == session.DefaultTitle && len(active.Messages) == 0

	user, err := cb.store.AppendUserMessage(ctx, active.ID, text)
	if err != nil {
		cb.store.EndLoading(active.ID)
		return nil, fmt.Errorf("failed to append prompt: %w", err)
	}

	g := &Generation{
		SessionID:  active.ID,
		ResponseID: user.ID + "-response",
		Prompt:     user,
		done:       make(chan struct{}),
	}
	title := ""
	if untitled {
		title = session.DeriveTitle([]session.Message{user})
	}
	cb.start(ctx, g, title, onIncrement)

	cb.logger.Info("prompt submitted", "session_id", active.ID, "message_id", user.ID)
	return g, nil
}

// Regenerate replaces the assistant reply messageID of the active chat, and
// everything after it, with a fresh reply to the preceding prompt. It blocks
// until the new reply is finished.
func (cb *ChatBot) Regenerate(ctx context.Context, messageID string, onIncrement func(session.Message)) (session.Message, error) {
	g, err := cb.StartRegenerate(ctx, messageID, onIncrement)
	if err != nil {
		return session.Message{}, err
	}
	return g.Wait()
}

// StartRegenerate truncates the active chat at messageID and starts revealing
// a new reply. It returns once the regeneration is accepted.
func (cb *ChatBot) StartRegenerate(ctx context.Context, messageID string, onIncrement func(session.Message)) (*Generation, error) {
	active, ok := cb.store.Active()
	if !ok {
		return nil, ErrNoActiveSession
	}
	if err := cb.store.BeginLoading(active.ID); err != nil {
		return nil, err
	}

	prompt, err := cb.store.TruncateForRegeneration(ctx, active.ID, messageID)
	if err != nil {
		cb.store.EndLoading(active.ID)
		return nil, fmt.Errorf("failed to regenerate %s: %w", messageID, err)
	}

	g := &Generation{
		SessionID:  active.ID,
		ResponseID: session.NewMessageID(),
		Prompt:     prompt,
		done:       make(chan struct{}),
	}
	cb.start(ctx, g, "", onIncrement)

	cb.logger.Info("regenerating reply", "session_id", active.ID, "replaced", messageID)
	return g, nil
}

// Stop cancels the reply in progress for sessionID. The revealed part is kept
// as a finished message. It reports whether a reply was in progress.
func (cb *ChatBot) Stop(sessionID string) bool {
	cb.mu.Lock()
	cancel, ok := cb.cancels[sessionID]
	cb.mu.Unlock()
	if ok {
		cancel()
		cb.logger.Info("stopping generation", "session_id", sessionID)
	}
	return ok
}

func (cb *ChatBot) stopAll() {
	cb.mu.Lock()
	for _, cancel := range cb.cancels {
		cancel()
	}
	cb.mu.Unlock()
}

// Close stops every reply in progress and waits for them to finish
func (cb *ChatBot) Close() {
	cb.stopAll()
	cb.wg.Wait()
}

func (cb *ChatBot) start(ctx context.Context, g *Generation, title string, onIncrement func(session.Message)) {
	gctx, cancel := context.WithCancel(ctx)

	cb.mu.Lock()
	cb.cancels[g.SessionID] = cancel
	cb.mu.Unlock()

	cb.wg.Add(1)
	go func() {
		defer cb.wg.Done()
		defer close(g.done)
		defer cb.store.EndLoading(g.SessionID)
		defer func() {
			cb.mu.Lock()
			delete(cb.cancels, g.SessionID)
			cb.mu.Unlock()
			cancel()
		}()

		g.reply, g.err = cb.reveal(gctx, g, title, onIncrement)
	}()
}

// reveal writes every increment of the reply into the store
func (cb *ChatBot) reveal(ctx context.Context, g *Generation, title string, onIncrement func(session.Message)) (session.Message, error) {
	ctx, span := cb.tracer.Start(ctx, "chatbot.reveal", trace.WithAttributes(
		attribute.String("session.id", g.SessionID),
		attribute.String("response.id", g.ResponseID),
	))
	defer span.End()

	var last session.Message
	first := true
	for msg, err := range cb.sim.Generate(ctx, g.ResponseID, g.Prompt.Content) {
		if msg.ID != "" {
			if werr := cb.store.ReplaceTailWithAssistantMessage(ctx, g.SessionID, msg); werr != nil {
				cb.logger.Warn("session vanished during generation", "session_id", g.SessionID, "error", werr)
				return last, werr
			}
			if first {
				cb.applyTitle(ctx, g.SessionID, title)
			}
			first = false
			last = msg
			if onIncrement != nil {
				onIncrement(msg)
			}
		}

		if err != nil {
			// a reply that ends before its first increment still titles the chat
			if first {
				cb.applyTitle(ctx, g.SessionID, title)
			}
			if errors.Is(err, stream.ErrGenerationCanceled) {
				cb.logger.Info("generation stopped", "session_id", g.SessionID, "revealed", len(last.Content))
			} else {
				cb.logger.Error("generation failed", "session_id", g.SessionID, "error", err)
				span.RecordError(err)
			}
			return last, err
		}
	}

	cb.logger.Info("reply complete", "session_id", g.SessionID, "response_id", g.ResponseID, "length", len(last.Content))
	return last, nil
}

func (cb *ChatBot) applyTitle(ctx context.Context, sessionID, title string) {
	if title == "" {
		return
	}
	if _, err := cb.store.ApplyDerivedTitle(ctx, sessionID, title); err != nil {
		cb.logger.Warn("failed to apply title", "session_id", sessionID, "error", err)
	}
}
