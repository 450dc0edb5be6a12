package domain

import "time"

// EventMessageNew is the event name used when fanning out a freshly
// persisted message to connected room sessions.
const EventMessageNew = "message:new"

// EventSender is the denormalized author embedded in an outbound event.
type EventSender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageEvent is the wire shape broadcast to connected sessions and returned
// to the sender on a successful send. The stable ID lets clients reconcile a
// locally-echoed message with the server-confirmed one.
type MessageEvent struct {
	ID            string      `json:"id"`
	Room          string      `json:"room"`
	Sender        EventSender `json:"sender"`
	Text          string      `json:"text"`
	AttachmentURL string      `json:"attachment_url,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
