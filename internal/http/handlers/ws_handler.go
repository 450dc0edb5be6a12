// WebSocket HTTP handler.
//
// This file upgrades GET /ws requests into hub-managed sessions. A connected
// client drives its subscriptions with small JSON control frames:
//
//	{"action": "subscribe",   "room": "general"}
//	{"action": "unsubscribe", "room": "general"}
//	{"action": "ping"}
//
// Room names are resolved to their canonical slug before subscribing, so a
// client may subscribe by UUID or slug interchangeably. Server events are
// delivered as {"event": "...", "data": {...}} envelopes; see the hub
// package for the envelope contract.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/averline/roomchat/internal/hub"
)

// controlFrame is a client-to-server subscription instruction.
type controlFrame struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// ackFrame is the server's reply to a control frame.
type ackFrame struct {
	Event string `json:"event"`
	Room  string `json:"room,omitempty"`
	Error string `json:"error,omitempty"`
}

// WSHandler upgrades HTTP connections and bridges them into the hub.
type WSHandler struct {
	Hub   *hub.Hub
	Rooms RoomService

	upgrader websocket.Upgrader
}

// NewWSHandler constructs a WSHandler bound to the given hub and room
// directory. CheckOrigin accepts all origins; the CORS middleware is the
// browser-facing guard.
func NewWSHandler(h *hub.Hub, rooms RoomService) *WSHandler {
	return &WSHandler{
		Hub:   h,
		Rooms: rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Connect godoc
// @ID          wsConnect
// @Summary     Open a realtime session
// @Description Upgrades the connection to WebSocket and registers it with the
// @Description broadcast hub. Identity comes from the user_id query parameter
// @Description or the X-User-ID header.
// @Tags        Realtime
//
// @Param       user_id  query  string  false "User ID owning this session"  example(user123)
//
// @Success     101  {string} string "Switching Protocols"
// @Failure     400  {object} handlers.ErrorResponse "Upgrade failed"
// @Router      /ws [get]
func (h *WSHandler) Connect(c *gin.Context) {
	uid := c.Query("user_id")
	if uid == "" {
		uid = userID(c)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its own response.
		log.Warn().Err(err).Str("user_id", uid).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.NewString(), uid, h.Hub, conn)
	h.Hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleFrame)
}

// handleFrame processes one inbound control frame from a connected client.
// Malformed frames are answered with an error event rather than dropping
// the connection.
func (h *WSHandler) handleFrame(client *hub.Client, raw []byte) {
	var frame controlFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.ack(client, ackFrame{Event: "error", Error: "malformed frame"})
		return
	}

	switch frame.Action {
	case "ping":
		h.ack(client, ackFrame{Event: "pong"})

	case "subscribe":
		slug, err := h.canonicalSlug(client, frame.Room)
		if err != nil {
			return
		}
		h.Hub.Subscribe(client, slug)
		h.ack(client, ackFrame{Event: "subscribed", Room: slug})

	case "unsubscribe":
		slug, err := h.canonicalSlug(client, frame.Room)
		if err != nil {
			return
		}
		h.Hub.Unsubscribe(client, slug)
		h.ack(client, ackFrame{Event: "unsubscribed", Room: slug})

	default:
		h.ack(client, ackFrame{Event: "error", Error: "unknown action"})
	}
}

// canonicalSlug resolves a client-supplied room name (UUID or slug) to the
// canonical slug the hub keys broadcasts on. An error ack is sent to the
// client on failure.
func (h *WSHandler) canonicalSlug(client *hub.Client, identifier string) (string, error) {
	if identifier == "" {
		h.ack(client, ackFrame{Event: "error", Error: "room required"})
		return "", errors.New("room required")
	}
	// Frames are processed on the read pump, outside any request scope.
	room, err := h.Rooms.Resolve(context.Background(), identifier)
	if err != nil {
		h.ack(client, ackFrame{Event: "error", Room: identifier, Error: "room not found"})
		return "", err
	}
	return room.Slug, nil
}

// ack queues a control acknowledgement on the client's send buffer. Delivery
// goes through the hub so an already-evicted client (closed send queue) is
// skipped instead of panicking the read pump; a full buffer drops the frame.
func (h *WSHandler) ack(client *hub.Client, frame ackFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	h.Hub.Deliver(client, b)
}
