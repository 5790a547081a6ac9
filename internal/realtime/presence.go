// Package realtime tracks connected clients and fans conversation
// events out to them over WebSockets. Delivery is best effort; offline
// participants catch up through their unread counters.
package realtime

import (
	"sync"

	"github.com/chirino/chat-service/internal/security"
)

// Event is the envelope sent to clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Event types pushed to clients.
const (
	EventMessageCreated = "message.created"
	EventTypingUpdate   = "typing.update"
	EventMessageRead    = "message.read"
)

// Conn is one client channel. Implementations must not block in
// WriteEvent; a full or closed channel returns an error and the caller
// drops the connection.
type Conn interface {
	WriteEvent(ev Event) error
	Close() error
}

// Presence maps user IDs to their open channels. A user may hold
// several (multiple devices); the map is mutated only on connect and
// disconnect and is never persisted.
type Presence struct {
	mu    sync.RWMutex
	conns map[string]map[Conn]struct{}
}

func NewPresence() *Presence {
	return &Presence{conns: map[string]map[Conn]struct{}{}}
}

// Register adds a channel for the user.
func (p *Presence) Register(userID string, c Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.conns[userID]
	if !ok {
		set = map[Conn]struct{}{}
		p.conns[userID] = set
	}
	set[c] = struct{}{}
	if security.ConnectedClients != nil {
		security.ConnectedClients.Inc()
	}
}

// Deregister removes a channel for the user. Removing a channel that
// was never registered is a no-op.
func (p *Presence) Deregister(userID string, c Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.conns[userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(p.conns, userID)
	}
	if security.ConnectedClients != nil {
		security.ConnectedClients.Dec()
	}
}

// ConnsFor returns a snapshot of the user's open channels.
func (p *Presence) ConnsFor(userID string) []Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.conns[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
