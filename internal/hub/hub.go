package hub

import (
	"sync"

	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/metrics"
)

// Client is one registered connection. Send is drained by the connection's
// writer goroutine; the hub never closes it.
type Client struct {
	ID     string
	UserID string
	Send   chan []byte
}

func NewClient(id, userID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{ID: id, UserID: userID, Send: make(chan []byte, buffer)}
}

// Hub fans events out to per-thread groups of live connections on this
// instance. Delivery is best effort: a full send buffer drops the event for
// that connection.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client  // thread id -> conn id -> client
	joined  map[string]map[string]struct{} // conn id -> thread ids
}

func New() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Register adds a connection. It returns false if the id is already taken.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; ok {
		return false
	}
	h.clients[c.ID] = c
	h.joined[c.ID] = make(map[string]struct{})
	metrics.Connections.Inc()
	return true
}

// Unregister removes the connection from every group it joined.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	for threadID := range h.joined[connID] {
		h.removeLocked(threadID, connID)
	}
	delete(h.joined, connID)
	delete(h.clients, connID)
	metrics.Connections.Dec()
}

// Join adds a registered connection to a thread group. Unknown connections
// are ignored and false is returned.
func (h *Hub) Join(connID, threadID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	g := h.groups[threadID]
	if g == nil {
		g = make(map[string]*Client)
		h.groups[threadID] = g
	}
	g[connID] = c
	h.joined[connID][threadID] = struct{}{}
	return true
}

func (h *Hub) Leave(connID, threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(threadID, connID)
	if j := h.joined[connID]; j != nil {
		delete(j, threadID)
	}
}

func (h *Hub) removeLocked(threadID, connID string) {
	g := h.groups[threadID]
	if g == nil {
		return
	}
	delete(g, connID)
	if len(g) == 0 {
		delete(h.groups, threadID)
	}
}

// Broadcast sends payload to every member of the thread group except
// exclude and returns the number of connections that accepted it.
func (h *Hub) Broadcast(threadID string, payload []byte, exclude string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for id, c := range h.groups[threadID] {
		if id == exclude {
			continue
		}
		if deliver(c, payload) {
			n++
		}
	}
	return n
}

// Publish encodes ev and broadcasts it to the thread group.
func (h *Hub) Publish(threadID string, ev events.Event, exclude string) (int, error) {
	frame, err := events.Marshal(ev)
	if err != nil {
		return 0, err
	}
	return h.Broadcast(threadID, frame, exclude), nil
}

// BroadcastAll sends payload to every registered connection.
func (h *Hub) BroadcastAll(payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if deliver(c, payload) {
			n++
		}
	}
	return n
}

// SendTo delivers payload to one connection.
func (h *Hub) SendTo(connID string, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return ok && deliver(c, payload)
}

// OwnedBy reports whether connID is registered to userID.
func (h *Hub) OwnedBy(connID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return ok && userID != "" && c.UserID == userID
}

func (h *Hub) InGroup(connID, threadID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.groups[threadID][connID]
	return ok
}

func (h *Hub) GroupSize(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[threadID])
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func deliver(c *Client, payload []byte) bool {
	select {
	case c.Send <- payload:
		return true
	default:
		// slow consumer
		metrics.BroadcastDropped.Inc()
		return false
	}
}
