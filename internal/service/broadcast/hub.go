// Package broadcast fans wall events out to every connected viewer session.
//
// Delivery is best effort: each open session gets an event at most once,
// sessions that cannot keep up are dropped, and nobody replays history.
// Viewers heal gaps by periodically pulling the latest messages.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrHubClosed   = errors.New("hub closed")
	ErrBacklogFull = errors.New("broadcast backlog full")
)

// Session kinds.
const (
	KindWebSocket = "websocket"
	KindSSE       = "sse"
)

// Session is one connected viewer.
type Session struct {
	ID   string
	Kind string
	send chan []byte
}

// Send yields encoded events for the session. It is closed when the hub
// drops the session or shuts down.
func (s *Session) Send() <-chan []byte {
	return s.send
}

// Hub maintains the set of open sessions. The set is only mutated by the Run
// goroutine; Count reads it under the lock.
type Hub struct {
	sessions   map[*Session]struct{}
	register   chan *Session
	unregister chan *Session
	broadcast  chan Event
	mu         sync.RWMutex

	sessionBuffer int
	log           *slog.Logger
	done          chan struct{}
}

// NewHub sizes the broadcast queue and every session's send buffer.
func NewHub(log *slog.Logger, queueSize, sessionBuffer int) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if sessionBuffer <= 0 {
		sessionBuffer = 16
	}
	return &Hub{
		sessions:      make(map[*Session]struct{}),
		register:      make(chan *Session),
		unregister:    make(chan *Session),
		broadcast:     make(chan Event, queueSize),
		sessionBuffer: sessionBuffer,
		log:           log,
		done:          make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every session.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case session := <-h.register:
			h.mu.Lock()
			h.sessions[session] = struct{}{}
			total := len(h.sessions)
			h.mu.Unlock()
			h.log.Debug("[hub] viewer connected", "session", session.ID, "kind", session.Kind, "viewers", total)

		case session := <-h.unregister:
			h.drop(session)

		case evt := <-h.broadcast:
			h.deliver(evt)
		}
	}
}

func (h *Hub) deliver(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("[hub] failed to encode event", "type", evt.Type, "error", err)
		return
	}

	h.mu.RLock()
	slow := make([]*Session, 0)
	for session := range h.sessions {
		select {
		case session.send <- payload:
		default:
			slow = append(slow, session)
		}
	}
	h.mu.RUnlock()

	for _, session := range slow {
		h.log.Warn("[hub] dropping slow viewer", "session", session.ID)
		h.drop(session)
	}
}

func (h *Hub) drop(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[session]; ok {
		delete(h.sessions, session)
		close(session.send)
		h.log.Debug("[hub] viewer disconnected", "session", session.ID, "viewers", len(h.sessions))
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for session := range h.sessions {
		delete(h.sessions, session)
		close(session.send)
	}
	h.mu.Unlock()
	close(h.done)
}

// Register adds a new session of the given kind.
func (h *Hub) Register(kind string) (*Session, error) {
	session := &Session{
		ID:   uuid.NewString(),
		Kind: kind,
		send: make(chan []byte, h.sessionBuffer),
	}
	select {
	case h.register <- session:
		return session, nil
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// Unregister removes the session. Unknown or already dropped sessions are ignored.
func (h *Hub) Unregister(session *Session) {
	select {
	case h.unregister <- session:
	case <-h.done:
	}
}

// Broadcast queues evt for every open session without blocking.
func (h *Hub) Broadcast(evt Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.broadcast <- evt:
		return nil
	default:
		return ErrBacklogFull
	}
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
