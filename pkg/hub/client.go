package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

// clientBuffer is the per-client send queue; a client that falls this
// far behind the broadcaster is dropped by the hub.
const clientBuffer = 256

// Client is one websocket subscriber attached to a hub. Connection
// handling follows the hub's policy.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	policy Policy
}

// NewClient registers a connection with the hub. Call Run to start
// pumping.
func NewClient(h *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan Message, clientBuffer),
		policy: h.policy,
	}
	h.register <- c
	return c
}

// Run pumps the connection and blocks inside the websocket handler
// until it drops.
func (c *Client) Run() {
	go c.write()
	c.read()
}

// read drains inbound traffic. Subscribers never send application
// data upstream; the read loop exists to spot disconnects and to
// answer the keepalive pings via the pong handler.
func (c *Client) read() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.policy.ReadLimit)
	c.resetReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.resetReadDeadline()
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) resetReadDeadline() {
	c.conn.SetReadDeadline(time.Now().Add(c.policy.PongWait))
}

// write owns every write to the connection: queued broadcasts plus
// the keepalive pings that feed the peer's read deadline.
func (c *Client) write() {
	ticker := time.NewTicker(c.policy.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.policy.WriteWait))
			if !ok {
				// Hub closed the channel: shutting down or this
				// client was dropped as too slow.
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			kind := websocket.TextMessage
			if msg.Binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.policy.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
