package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ChatStream/internal/chatbot"
	"ChatStream/internal/rpc"
	"ChatStream/internal/search"
	"ChatStream/internal/store"
)

// Server exposes a ChatBot over HTTP and JSON-RPC on WebSocket
type Server struct {
	cb       *chatbot.ChatBot
	hub      *rpc.Hub
	logger   *slog.Logger
	tracer   trace.Tracer
	requests metric.Int64Counter
	upgrader websocket.Upgrader

	// generations outlive the request that started them
	base     context.Context
	nextPeer atomic.Int64

	latestMu    sync.Mutex
	latest      chan store.Snapshot
	published   uint64
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// New creates a server and starts broadcasting state changes to WebSocket
// peers. ctx bounds every generation started through the server.
func New(ctx context.Context, cb *chatbot.ChatBot, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cb:     cb,
		hub:    rpc.NewHub(logger),
		logger: logger,
		tracer: otel.Tracer("chatstream/server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		base:   ctx,
		latest: make(chan store.Snapshot, 1),
		done:   make(chan struct{}),
	}

	var err error
	s.requests, err = otel.Meter("chatstream/server").Int64Counter(
		"chatstream.rpc.requests",
		metric.WithDescription("JSON-RPC requests by method"),
	)
	if err != nil {
		logger.Warn("failed to create counter", "name", "chatstream.rpc.requests", "error", err)
	}

	s.unsubscribe = cb.Subscribe(s.publish)
	s.wg.Add(1)
	go s.broadcastLoop()
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// publish keeps only the newest snapshot; slow peers see coalesced updates
func (s *Server) publish(snap store.Snapshot) {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()
	if snap.Version <= s.published {
		return
	}
	s.published = snap.Version
	select {
	case <-s.latest:
	default:
	}
	s.latest <- snap
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case snap := <-s.latest:
			if s.hub.Count() == 0 {
				continue
			}
			if err := s.hub.Broadcast(rpc.NotificationStateChanged, snap); err != nil {
				s.logger.Error("failed to broadcast state", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.sessions)
		r.Get("/search/people", s.searchPeople)
		r.Get("/search/suggestions", s.searchSuggestions)
	})
	r.Get("/ws", s.serveWS)
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// Close stops broadcasting and disconnects every peer
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.done)
		s.wg.Wait()
		s.hub.Close()
	})
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	snap := s.cb.Snapshot()
	JSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(snap.Sessions),
		"peers":    s.hub.Count(),
	})
}

func (s *Server) sessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.cb.Snapshot())
}

func (s *Server) searchPeople(w http.ResponseWriter, r *http.Request) {
	people, err := s.cb.People(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Error("people search failed", "error", err)
		Error(w, http.StatusInternalServerError, "search failed")
		return
	}
	JSON(w, http.StatusOK, rpc.PeopleResult{Results: people})
}

// searchSuggestions offers the default prompts when nothing is typed yet
func (s *Server) searchSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		JSON(w, http.StatusOK, rpc.SuggestionsResult{Results: search.Defaults()})
		return
	}
	results, err := s.cb.Suggestions(r.Context(), q)
	if err != nil {
		s.logger.Error("suggestion search failed", "error", err)
		Error(w, http.StatusInternalServerError, "search failed")
		return
	}
	JSON(w, http.StatusOK, rpc.SuggestionsResult{Results: results})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	name := fmt.Sprintf("peer-%d", s.nextPeer.Add(1))
	conn := rpc.NewConn(name, ws, s.logger)
	s.hub.Register(conn)
	s.logger.Info("peer connected", "peer", name, "remote", r.RemoteAddr)
	defer func() {
		s.hub.Unregister(name)
		conn.Close()
		s.logger.Info("peer disconnected", "peer", name)
	}()

	if n, err := rpc.NewNotification(rpc.NotificationStateChanged, s.cb.Snapshot()); err == nil {
		if err := conn.Notify(n); err != nil {
			return
		}
	}

	ctx := r.Context()
	for {
		req, err := conn.ReadRequest()
		var rpcErr *rpc.Error
		switch {
		case errors.As(err, &rpcErr):
			if err := conn.Reply(rpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message)); err != nil {
				return
			}
			continue
		case err != nil:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "peer", name, "error", err)
			}
			return
		}

		if err := conn.Reply(s.handle(ctx, req)); err != nil {
			s.logger.Warn("failed to reply", "peer", name, "method", req.Method, "error", err)
			return
		}
	}
}
