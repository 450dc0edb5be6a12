// Package hub owns all in-process presence state: which client sessions are
// connected, which rooms each one subscribes to, and the fan-out of persisted
// messages to those sessions. It is the only shared mutable structure in the
// messaging core; everything else lives in the store.
//
// Presence is per-process. A multi-instance deployment needs an external
// shared presence store, which this package deliberately does not implement.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Envelope is the frame shape written to subscribed sessions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// roomEvent is an internal fan-out request handled by the Run loop.
type roomEvent struct {
	Room    string
	Payload []byte
	Exclude string // client ID to skip, "" for none
}

var (
	hubClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_connected_clients",
		Help: "Current number of connected WebSocket clients.",
	})
	hubBroadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_broadcasts_total",
		Help: "Total number of room broadcast operations.",
	}, []string{"event"})
	hubDroppedSends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_sends_total",
		Help: "Deliveries dropped because a client send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(hubClients, hubBroadcasts, hubDroppedSends)
}

// Hub tracks connected clients and their room subscriptions, and fans events
// out to them. Register/unregister/broadcast are serialized through the Run
// loop; subscription maps are additionally guarded by mu because Subscribe
// and ConnectedUserIDs are called from connection-handling goroutines.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // client ID -> client
	rooms   map[string]map[string]*Client // room slug -> client ID -> client

	register   chan *Client
	unregister chan *Client
	broadcast  chan roomEvent

	cfg Config
}

// Config bounds the per-connection resources of the hub.
type Config struct {
	SendBuffer     int // per-client outbound queue length
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
}

// New constructs a Hub. Call Run on a dedicated goroutine before use.
func New(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan roomEvent, 256),
		cfg:        cfg,
	}
}

// Run processes register/unregister/broadcast requests until the channels
// close. It is the single owner of client lifecycle transitions, which keeps
// close(client.Send) ordered against deliveries to that channel.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			hubClients.Inc()
			log.Debug().Str("client_id", client.ID).Str("user_id", client.UserID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for slug, members := range h.rooms {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.rooms, slug)
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
				// Tear down the transport too, so a client evicted for a
				// saturated buffer has its pumps unwound instead of a live
				// read pump feeding frames for a dead session.
				if client.Conn != nil {
					client.Conn.Close()
				}
				hubClients.Dec()
			}
			h.mu.Unlock()
			log.Debug().Str("client_id", client.ID).Msg("client unregistered")

		case ev := <-h.broadcast:
			h.mu.RLock()
			for id, client := range h.rooms[ev.Room] {
				if id == ev.Exclude {
					continue
				}
				select {
				case client.Send <- ev.Payload:
				default:
					// Dead or saturated session: drop it rather than
					// stall fan-out to the rest of the room.
					hubDroppedSends.Inc()
					go h.Drop(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub. Called once per accepted connection.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Drop removes a client from every room and closes its send queue. Invoked
// from the read pump on transport-level disconnect, so cleanup never depends
// on the client sending an explicit leave.
func (h *Hub) Drop(client *Client) {
	h.unregister <- client
}

// Subscribe adds the client to a room's connected set. Idempotent. A client
// that has already been unregistered is refused: its send queue is closed,
// and re-inserting it into a room would crash the next fan-out.
func (h *Hub) Subscribe(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		log.Debug().Str("client_id", client.ID).Str("room", room).Msg("subscribe refused for unregistered client")
		return
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[client.ID] = client
	log.Info().Str("client_id", client.ID).Str("user_id", client.UserID).Str("room", room).Msg("subscribed")
}

// Unsubscribe removes the client from one room, leaving its other
// subscriptions intact.
func (h *Hub) Unsubscribe(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	log.Info().Str("client_id", client.ID).Str("room", room).Msg("unsubscribed")
}

// Broadcast delivers an event to every session currently subscribed to room.
// Delivery is fire-and-forget per session; a slow or dead session is dropped,
// never waited on. The error reports marshalling failure only.
func (h *Hub) Broadcast(room, event string, payload any) error {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}
	hubBroadcasts.WithLabelValues(event).Inc()
	h.broadcast <- roomEvent{Room: room, Payload: data}
	return nil
}

// Deliver queues one payload on a single client's send buffer. The client
// must still be registered; unregistration closes Send, and sending on it
// afterwards would panic. A full buffer drops the payload. Reports whether
// the payload was queued.
func (h *Hub) Deliver(client *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- payload:
		return true
	default:
		hubDroppedSends.Inc()
		return false
	}
}

// ConnectedUserIDs returns the set of user identities with at least one live
// session subscribed to room. The result is a copy taken under the lock, so
// callers never observe a torn membership set.
func (h *Hub) ConnectedUserIDs(room string) map[string]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]struct{}, len(h.rooms[room]))
	for _, client := range h.rooms[room] {
		out[client.UserID] = struct{}{}
	}
	return out
}

// SubscriberCount reports how many sessions are subscribed to room.
func (h *Hub) SubscriberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
