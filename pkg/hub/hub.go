// Package hub provides a thread-safe websocket broadcast hub using
// the channel-based fan-out pattern. Each dashboard stream (state,
// camera, LLM output) gets its own hub with a connection policy tuned
// to its traffic.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message is one broadcast unit. Binary selects the websocket frame
// type: JPEG frames go out as binary, everything else as JSON text.
type Message struct {
	Binary bool
	Data   []byte
}

// Policy tunes per-connection websocket handling for a stream kind.
type Policy struct {
	ReadLimit  int64         // max inbound frame size
	WriteWait  time.Duration // budget for one outbound write
	PongWait   time.Duration // read deadline between pongs
	PingPeriod time.Duration // keepalive cadence, must be < PongWait
}

// JSONPolicy suits the state and LLM streams: small text frames with
// a tight keepalive so a dead dashboard tab is noticed quickly.
func JSONPolicy() Policy {
	return Policy{
		ReadLimit:  4 * 1024,
		WriteWait:  5 * time.Second,
		PongWait:   30 * time.Second,
		PingPeriod: 25 * time.Second,
	}
}

// FramePolicy suits the camera stream: large binary writes get a
// longer budget, and the keepalive is relaxed because the frame flow
// itself exercises the connection.
func FramePolicy() Policy {
	return Policy{
		ReadLimit:  4 * 1024,
		WriteWait:  15 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 50 * time.Second,
	}
}

// Hub maintains the set of active clients and broadcasts messages to
// them. One goroutine owns the client set; registration, removal and
// fan-out all flow through its channels.
type Hub struct {
	name   string
	policy Policy
	logger *slog.Logger

	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu       sync.RWMutex
	count    int
	running  bool
	stopOnce sync.Once
}

// New creates a new Hub with the given connection policy.
func New(name string, policy Policy, logger *slog.Logger) *Hub {
	return &Hub{
		name:       name,
		policy:     policy,
		logger:     logger.With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. Call in a goroutine; returns after
// Stop.
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			h.logger.Debug("client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.setCount(len(h.clients))
			h.logger.Debug("client disconnected", "remaining", len(h.clients))

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, its buffer is full. Drop it.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow client")
				}
			}
			h.setCount(len(h.clients))

		case <-h.done:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.setCount(0)
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts down the hub and disconnects all clients. Safe to call
// more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast sends a message to all connected clients. Messages are
// dropped rather than blocking when the fan-out queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(Message{Data: data})
	return nil
}

// BroadcastBinary broadcasts binary data (e.g., camera frames).
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(Message{Binary: true, Data: data})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// IsRunning returns whether the hub loop is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}
