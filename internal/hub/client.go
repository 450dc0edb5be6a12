package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is one live WebSocket connection tagged with the user identity it
// represents. It is ephemeral: created on connect, destroyed on disconnect,
// never persisted.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	hub *Hub
	cfg Config
}

// NewClient wraps an accepted connection for the given user.
func NewClient(id, userID string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, hub.cfg.SendBuffer),
		hub:    hub,
		cfg:    hub.cfg,
	}
}

// ReadPump consumes inbound frames and hands them to handler. It owns the
// connection teardown: when the read side fails for any reason the client is
// dropped from the hub, so presence cleanup never relies on the client
// sending an explicit leave.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.hub.Drop(c)
		c.Conn.Close()
	}()

	if c.cfg.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.ID).Msg("websocket read failed")
			}
			break
		}
		handler(c, message)
	}
}

// WritePump drains the send queue onto the wire and keeps the connection
// alive with pings. It exits when the queue is closed by the hub or a write
// fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
