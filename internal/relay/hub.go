// Package relay implements the signaling relay: it owns the WebSocket
// endpoint, knows which user is behind which connection, and forwards call
// signals between them. It never inspects SDP or candidate payloads.
package relay

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// sender is the outbound half of one client connection.
type sender interface {
	TrySend([]byte) error
	Close()
}

// Hub is a threadsafe registry of connected users and call groups.
// Call groups mirror the per-call channel groups of the protocol: every
// participant of a call is a member of the group keyed by its call ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]sender
	calls   map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]sender),
		calls:   make(map[string]map[string]struct{}),
	}
}

// Register binds a username to its connection, replacing any previous
// connection for the same user.
func (h *Hub) Register(username string, conn sender) {
	h.mu.Lock()
	prev, had := h.clients[username]
	h.clients[username] = conn
	h.mu.Unlock()
	if had {
		prev.Close()
	}
	log.Info().Str("module", "relay.hub").Str("user", username).Msg("client registered")
}

// Unregister drops the user, but only if conn is still the bound
// connection; a reconnect may already have replaced it.
func (h *Hub) Unregister(username string, conn sender) {
	h.mu.Lock()
	if cur, ok := h.clients[username]; ok && cur == conn {
		delete(h.clients, username)
	}
	for callID, members := range h.calls {
		delete(members, username)
		if len(members) == 0 {
			delete(h.calls, callID)
		}
	}
	h.mu.Unlock()
	log.Info().Str("module", "relay.hub").Str("user", username).Msg("client unregistered")
}

func (h *Hub) Client(username string) (sender, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[username]
	return c, ok
}

// JoinCall adds a user to a call group, creating it on first join.
func (h *Hub) JoinCall(callID, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.calls[callID]
	if !ok {
		members = make(map[string]struct{})
		h.calls[callID] = members
	}
	members[username] = struct{}{}
}

// LeaveCall removes a user from a call group; the group is dropped when it
// empties. No-op for unknown calls.
func (h *Hub) LeaveCall(callID, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.calls[callID]
	if !ok {
		return
	}
	delete(members, username)
	if len(members) == 0 {
		delete(h.calls, callID)
	}
}

func (h *Hub) InCall(callID, username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.calls[callID]
	if !ok {
		return false
	}
	_, ok = members[username]
	return ok
}

// CallMembers returns the current participants of a call group.
func (h *Hub) CallMembers(callID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.calls[callID]))
	for u := range h.calls[callID] {
		out = append(out, u)
	}
	return out
}
