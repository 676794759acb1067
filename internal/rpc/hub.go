package rpc

import (
	"fmt"
	"log/slog"
	"sync"
)

// Peer represents a connected client that accepts notifications
type Peer interface {
	// Notify sends a notification to the peer
	Notify(n Notification) error

	// Close disconnects the peer
	Close() error

	// Name returns the peer identifier
	Name() string
}

// Hub manages the connected peers
type Hub struct {
	peers  map[string]Peer
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewHub creates a new hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		peers:  make(map[string]Peer),
		logger: logger,
	}
}

// Register adds a peer to the hub
func (h *Hub) Register(peer Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[peer.Name()] = peer
}

// Unregister removes a peer without closing it
func (h *Hub) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, name)
}

// Get retrieves a peer by name
func (h *Hub) Get(name string) (Peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peer, ok := h.peers[name]
	return peer, ok
}

// All returns all registered peers
func (h *Hub) All() []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := make([]Peer, 0, len(h.peers))
	for _, peer := range h.peers {
		peers = append(peers, peer)
	}
	return peers
}

// Broadcast sends a notification to every peer. Peers that fail to receive it
// are dropped.
func (h *Hub) Broadcast(method string, params any) error {
	n, err := NewNotification(method, params)
	if err != nil {
		return err
	}

	for _, peer := range h.All() {
		if err := peer.Notify(n); err != nil {
			h.logger.Warn("failed to notify peer, dropping it", "peer", peer.Name(), "method", method, "error", err)
			h.Unregister(peer.Name())
			peer.Close()
		}
	}
	return nil
}

// Close closes all registered peers
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, peer := range h.peers {
		if err := peer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close peer %s: %w", name, err)
		}
	}
	h.peers = make(map[string]Peer)
	return firstErr
}

// Count returns the number of registered peers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}
