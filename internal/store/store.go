package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ChatStream/internal/session"
)

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrEmptyContent           = errors.New("message content is empty")
	ErrMessageNotFound        = errors.New("message not found")
	ErrNotAssistantMessage    = errors.New("message is not an assistant reply")
	ErrNoPrecedingUserMessage = errors.New("no user message precedes the reply")
	ErrSessionBusy            = errors.New("session is already generating a reply")
)

// Persister is the durable side of the store
type Persister interface {
	LoadAll(ctx context.Context) []session.ChatSession
	SaveAll(ctx context.Context, sessions []session.ChatSession) error
	Upsert(ctx context.Context, s session.ChatSession) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Snapshot is a consistent copy of the store state
type Snapshot struct {
	Version  uint64                `json:"version"`
	Sessions []session.ChatSession `json:"sessions"`
	ActiveID string                `json:"activeId,omitempty"`
	Loading  bool                  `json:"loading"`
}

// Active returns the active session of the snapshot
func (s Snapshot) Active() (session.ChatSession, bool) {
	for _, cs := range s.Sessions {
		if cs.ID == s.ActiveID {
			return cs, true
		}
	}
	return session.ChatSession{}, false
}

type writeOp struct {
	name    string
	fn      func(ctx context.Context) error
	ctx     context.Context
	barrier chan struct{}
}

// Store is the in-memory source of truth for chat sessions. Every mutation is
// applied synchronously and then queued for persistence on a single writer, so
// writes reach the Persister in mutation order.
type Store struct {
	mu       sync.Mutex
	sessions []session.ChatSession
	activeID string
	loading  map[string]bool
	subs     map[int]func(Snapshot)
	nextSub  int
	version  uint64
	closed   bool

	// notifyMu orders deliveries so subscribers see versions in sequence
	notifyMu sync.Mutex

	persist   Persister
	writes    chan writeOp
	done      chan struct{}
	closeOnce sync.Once

	logger        *slog.Logger
	now           func() time.Time
	tracer        trace.Tracer
	mutations     metric.Int64Counter
	persistErrors metric.Int64Counter
	queueSize     int
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTracer sets the tracer used for mutation spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) { s.tracer = tracer }
}

// WithMeter sets the meter used for mutation counters
func WithMeter(meter metric.Meter) Option {
	return func(s *Store) { s.initMetrics(meter) }
}

// WithQueueSize sets the capacity of the persistence queue
func WithQueueSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// New creates an empty store writing through persist
func New(persist Persister, opts ...Option) *Store {
	s := &Store{
		sessions:  []session.ChatSession{},
		loading:   make(map[string]bool),
		subs:      make(map[int]func(Snapshot)),
		persist:   persist,
		done:      make(chan struct{}),
		logger:    slog.Default(),
		now:       time.Now,
		tracer:    otel.Tracer("chatstream/store"),
		queueSize: 256,
	}
	s.initMetrics(otel.Meter("chatstream/store"))

	for _, opt := range opts {
		opt(s)
	}

	s.writes = make(chan writeOp, s.queueSize)
	go s.writer()
	return s
}

func (s *Store) initMetrics(meter metric.Meter) {
	var err error
	s.mutations, err = meter.Int64Counter(
		"chatstream.store.mutations",
		metric.WithDescription("Session store mutations by operation"),
	)
	if err != nil {
		slog.Warn("failed to create counter", "name", "chatstream.store.mutations", "error", err)
	}
	s.persistErrors, err = meter.Int64Counter(
		"chatstream.store.persist_errors",
		metric.WithDescription("Failed writes to session storage"),
	)
	if err != nil {
		slog.Warn("failed to create counter", "name", "chatstream.store.persist_errors", "error", err)
	}
}

// writer applies queued persistence operations in order
func (s *Store) writer() {
	defer close(s.done)
	for op := range s.writes {
		if op.barrier != nil {
			close(op.barrier)
			continue
		}
		if err := op.fn(op.ctx); err != nil {
			s.logger.Error("failed to persist sessions", "op", op.name, "error", err)
			if s.persistErrors != nil {
				s.persistErrors.Add(op.ctx, 1, metric.WithAttributes(attribute.String("op", op.name)))
			}
		}
	}
}

// enqueue must be called with s.mu held so queue order matches mutation order
func (s *Store) enqueue(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if s.closed {
		s.logger.Warn("store closed, dropping write", "op", name)
		return
	}
	s.writes <- writeOp{name: name, fn: fn, ctx: context.WithoutCancel(ctx)}
}

func (s *Store) record(ctx context.Context, op string) {
	if s.mutations != nil {
		s.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// Flush blocks until every write queued before the call has been applied
func (s *Store) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.writes <- writeOp{barrier: barrier}
	s.mu.Unlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes and stops the writer
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.writes)
		s.mu.Unlock()
		<-s.done
	})
}

// Subscribe registers fn to receive a snapshot after every mutation.
// Snapshots arrive in Version order. fn must not mutate the store.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// notify must be called without s.mu held
func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.version++
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Version:  s.version,
		Sessions: session.CloneAll(s.sessions),
		ActiveID: s.activeID,
		Loading:  s.activeID != "" && s.loading[s.activeID],
	}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// touch bumps UpdatedAt without ever moving it backwards
func (s *Store) touch(cs *session.ChatSession) {
	ts := session.Millis(s.now())
	if ts > cs.UpdatedAt {
		cs.UpdatedAt = ts
	}
}

// Load replaces the in-memory state with the persisted collection and
// activates its first session
func (s *Store) Load(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "store.load")
	defer span.End()

	loaded := s.persist.LoadAll(ctx)

	s.mu.Lock()
	s.sessions = loaded
	s.activeID = ""
	if len(loaded) > 0 {
		s.activeID = loaded[0].ID
	}
	s.loading = make(map[string]bool)
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("sessions", len(loaded)))
	s.logger.Info("loaded sessions", "count", len(loaded))
	s.notify()
}

// Sessions returns a copy of the ordered session collection
func (s *Store) Sessions() []session.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.CloneAll(s.sessions)
}

// Session returns a copy of the session with the given id
func (s *Store) Session(id string) (session.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return session.ChatSession{}, false
	}
	return s.sessions[i].Clone(), true
}

// ActiveID returns the active session id, empty when none is selected
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns a copy of the active session
func (s *Store) Active() (session.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(s.activeID)
	if i < 0 {
		return session.ChatSession{}, false
	}
	return s.sessions[i].Clone(), true
}

// Snapshot returns a consistent copy of the whole state
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CreateSession prepends a new empty session and makes it active
func (s *Store) CreateSession(ctx context.Context) session.ChatSession {
	ctx, span := s.tracer.Start(ctx, "store.create_session")
	defer span.End()

	s.mu.Lock()
	cs := session.New(s.now())
	s.sessions = append([]session.ChatSession{cs}, s.sessions...)
	s.activeID = cs.ID
	all := session.CloneAll(s.sessions)
	s.enqueue(ctx, "create_session", func(ctx context.Context) error {
		return s.persist.SaveAll(ctx, all)
	})
	s.mu.Unlock()

	span.SetAttributes(attribute.String("session.id", cs.ID))
	s.record(ctx, "create_session")
	s.logger.Info("created new session", "session_id", cs.ID)
	s.notify()
	return cs.Clone()
}

// SelectSession makes the session with the given id active
func (s *Store) SelectSession(id string) error {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.activeID = id
	s.mu.Unlock()

	s.notify()
	return nil
}

// DeleteSession removes a session. Deleting the active session activates the
// new first session, or clears the selection when none remain.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "store.delete_session", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	delete(s.loading, id)
	if s.activeID == id {
		s.activeID = ""
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		}
	}
	s.enqueue(ctx, "delete_session", func(ctx context.Context) error {
		return s.persist.Remove(ctx, id)
	})
	s.mu.Unlock()

	s.record(ctx, "delete_session")
	s.logger.Info("deleted session", "session_id", id)
	s.notify()
	return nil
}

// ClearAll removes every session
func (s *Store) ClearAll(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "store.clear_all")
	defer span.End()

	s.mu.Lock()
	n := len(s.sessions)
	s.sessions = []session.ChatSession{}
	s.activeID = ""
	s.loading = make(map[string]bool)
	s.enqueue(ctx, "clear_all", s.persist.Clear)
	s.mu.Unlock()

	s.record(ctx, "clear_all")
	s.logger.Info("cleared all sessions", "count", n)
	s.notify()
}

// AppendUserMessage adds a user message to the session
func (s *Store) AppendUserMessage(ctx context.Context, sessionID, content string) (session.Message, error) {
	if strings.TrimSpace(content) == "" {
		return session.Message{}, ErrEmptyContent
	}

	ctx, span := s.tracer.Start(ctx, "store.append_user_message", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	s.mu.Lock()
	i := s.indexLocked(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return session.Message{}, ErrSessionNotFound
	}
	msg := session.Message{
		ID:        session.NewMessageID(),
		Content:   content,
		Role:      session.RoleUser,
		Timestamp: session.Millis(s.now()),
	}
	cs := &s.sessions[i]
	cs.Messages = append(cs.Messages, msg)
	s.touch(cs)
	saved := cs.Clone()
	s.enqueue(ctx, "append_user_message", func(ctx context.Context) error {
		return s.persist.Upsert(ctx, saved)
	})
	s.mu.Unlock()

	s.record(ctx, "append_user_message")
	s.notify()
	return msg, nil
}

// ReplaceTailWithAssistantMessage writes one increment of a streamed reply.
// The tail is replaced when it carries msg.ID and appended otherwise. Only the
// final increment (IsStreaming false) is persisted.
func (s *Store) ReplaceTailWithAssistantMessage(ctx context.Context, sessionID string, msg session.Message) error {
	s.mu.Lock()
	i := s.indexLocked(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	cs := &s.sessions[i]
	if n := len(cs.Messages); n > 0 && cs.Messages[n-1].ID == msg.ID {
		cs.Messages[n-1] = msg
	} else {
		cs.Messages = append(cs.Messages, msg)
	}
	s.touch(cs)
	if !msg.IsStreaming {
		saved := cs.Clone()
		s.enqueue(ctx, "assistant_message", func(ctx context.Context) error {
			return s.persist.Upsert(ctx, saved)
		})
	}
	s.mu.Unlock()

	if !msg.IsStreaming {
		s.record(ctx, "assistant_message")
	}
	s.notify()
	return nil
}

// ApplyDerivedTitle sets the title while it still holds the placeholder and
// persists the session. It reports whether the title changed.
func (s *Store) ApplyDerivedTitle(ctx context.Context, sessionID, title string) (bool, error) {
	s.mu.Lock()
	i := s.indexLocked(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return false, ErrSessionNotFound
	}
	cs := &s.sessions[i]
	if cs.Title != session.DefaultTitle {
		s.mu.Unlock()
		return false, nil
	}
	cs.Title = title
	saved := cs.Clone()
	s.enqueue(ctx, "apply_title", func(ctx context.Context) error {
		return s.persist.Upsert(ctx, saved)
	})
	s.mu.Unlock()

	s.record(ctx, "apply_title")
	s.notify()
	return true, nil
}

// TruncateForRegeneration drops the assistant reply messageID and everything
// after it. The reply must directly follow a user message, which is returned.
func (s *Store) TruncateForRegeneration(ctx context.Context, sessionID, messageID string) (session.Message, error) {
	ctx, span := s.tracer.Start(ctx, "store.truncate_for_regeneration", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("message.id", messageID),
	))
	defer span.End()

	s.mu.Lock()
	i := s.indexLocked(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return session.Message{}, ErrSessionNotFound
	}
	cs := &s.sessions[i]
	idx := cs.IndexOf(messageID)
	switch {
	case idx < 0:
		s.mu.Unlock()
		return session.Message{}, ErrMessageNotFound
	case cs.Messages[idx].Role != session.RoleAssistant:
		s.mu.Unlock()
		return session.Message{}, ErrNotAssistantMessage
	case idx == 0 || cs.Messages[idx-1].Role != session.RoleUser:
		s.mu.Unlock()
		return session.Message{}, ErrNoPrecedingUserMessage
	}

	prompt := cs.Messages[idx-1]
	cs.Messages = cs.Messages[:idx:idx]
	s.touch(cs)
	saved := cs.Clone()
	s.enqueue(ctx, "truncate_for_regeneration", func(ctx context.Context) error {
		return s.persist.Upsert(ctx, saved)
	})
	s.mu.Unlock()

	s.record(ctx, "truncate_for_regeneration")
	s.notify()
	return prompt, nil
}

// BeginLoading marks the session as generating. A session generates at most
// one reply at a time.
func (s *Store) BeginLoading(sessionID string) error {
	s.mu.Lock()
	if s.indexLocked(sessionID) < 0 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.loading[sessionID] {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.loading[sessionID] = true
	s.mu.Unlock()

	s.notify()
	return nil
}

// EndLoading clears the generating mark
func (s *Store) EndLoading(sessionID string) {
	s.mu.Lock()
	delete(s.loading, sessionID)
	s.mu.Unlock()

	s.notify()
}

// Loading reports whether the active session is generating
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID != "" && s.loading[s.activeID]
}

// IsLoading reports whether the given session is generating
func (s *Store) IsLoading(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[sessionID]
}
