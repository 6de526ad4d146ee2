package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub is the registry of live connections. It indexes clients by principal
// and groups them by conversation key for fan-out. One Hub is created in main
// and shared by every connection.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
	groups  map[string]map[*Client]struct{}

	locks  *KeyedMutex
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		byUser:  make(map[string]map[*Client]struct{}),
		groups:  make(map[string]map[*Client]struct{}),
		locks:   NewKeyedMutex(),
		logger:  logger.With("component", "hub"),
	}
}

// Run blocks until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close("server shutting down")
	}
	h.logger.Info("hub stopped", "closed", len(clients))
}

// Lock serialises mutations of one conversation. Hold it across persist and
// fan-out so every member sees broadcasts in commit order.
func (h *Hub) Lock(conversationKey string) (unlock func()) {
	return h.locks.Lock(conversationKey)
}

// Register adds an authenticated client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}
}

// Unregister removes c from the user index and from every group it joined,
// then closes its send buffer. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)

	if conns, ok := h.byUser[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	for key := range c.rooms {
		if members, ok := h.groups[key]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.groups, key)
			}
		}
	}
	c.rooms = nil
	close(c.send)
}

// Join adds c to the broadcast group of conversationKey. It reports false if
// c is no longer registered.
func (h *Hub) Join(c *Client, conversationKey string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	if h.groups[conversationKey] == nil {
		h.groups[conversationKey] = make(map[*Client]struct{})
	}
	h.groups[conversationKey][c] = struct{}{}
	c.rooms[conversationKey] = struct{}{}
	return true
}

// Broadcast sends the same payload to every member of the group.
func (h *Hub) Broadcast(conversationKey string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal broadcast", "room", conversationKey, "error", err)
		return
	}
	h.BroadcastFunc(conversationKey, func(string) []byte { return data })
}

// BroadcastFunc renders a payload per member principal, for events whose
// visibility depends on the viewer. render must not block.
func (h *Hub) BroadcastFunc(conversationKey string, render func(userID string) []byte) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.groups[conversationKey] {
		if data := render(c.userID); data != nil && !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(slow)
}

// SendToUser delivers payload to every connection of userID, joined or not.
func (h *Hub) SendToUser(userID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal user message", "user_id", userID, "error", err)
		return
	}
	h.mu.RLock()
	var slow []*Client
	for c := range h.byUser[userID] {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(slow)
}

// SendTo delivers payload to a single connection.
func (h *Hub) SendTo(c *Client, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal reply", "conn_id", c.id, "error", err)
		return
	}
	h.mu.RLock()
	_, live := h.clients[c]
	ok := !live || c.enqueue(data)
	h.mu.RUnlock()
	if !ok {
		h.dropSlow([]*Client{c})
	}
}

// GroupSize reports the number of connections joined to conversationKey.
func (h *Hub) GroupSize(conversationKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[conversationKey])
}

// ConnectionCount reports the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// dropSlow disconnects clients whose send buffer overflowed. A client that
// missed a broadcast is never sent later ones, so what it did receive has no
// gaps. The close handshake runs off the caller's goroutine, which may hold a
// conversation lock.
func (h *Hub) dropSlow(clients []*Client) {
	for _, c := range clients {
		h.logger.Warn("send buffer full, disconnecting", "conn_id", c.id, "user_id", c.userID)
		h.Unregister(c)
		go c.close("send buffer overflow")
	}
}
