// Package services – MessageService
//
// This file implements MessageService, the use-case coordinator for sending
// a message: validate, resolve the room, upload the attachment if present,
// persist, broadcast to connected sessions, and hand offline notification
// dispatch to a detached task. Persistence is the single durability commit
// point; everything after it is best-effort and invisible to the sender.
//
// It also serves reverse-chronological paginated history with senders
// denormalized at read time.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// room/sender identifiers and pagination parameters where applicable.
package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averline/roomchat/internal/domain"
	"github.com/averline/roomchat/internal/repo"
)

// HistoryPageSize is the fixed page size of the history contract.
const HistoryPageSize = 20

// RoomResolver resolves a room identifier (primary key or slug) to the
// canonical room record.
type RoomResolver interface {
	Resolve(ctx context.Context, identifier string) (*domain.Room, error)
}

// AttachmentUploader stores a binary payload and returns its public URL.
type AttachmentUploader interface {
	Upload(ctx context.Context, payload []byte, contentType string) (string, error)
}

// Broadcaster fans an event out to every session subscribed to a room.
type Broadcaster interface {
	Broadcast(room, event string, payload any) error
}

// OfflineNotifier pushes a message to room members who are not connected.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, room *domain.Room, excludeSenderID string, msg domain.MessageEvent) DispatchReport
}

// SendRequest is the inbound tuple handed to Send by an already-
// authenticated caller.
type SendRequest struct {
	RoomIdentifier string
	SenderID       string
	Text           string
	Attachment     []byte // raw image bytes, nil when absent
	ContentType    string // attachment MIME type
}

// MessageService coordinates message persistence, fan-out, and dispatch.
type MessageService struct {
	DB       *gorm.DB
	Rooms    RoomResolver
	Uploader AttachmentUploader
	Hub      Broadcaster
	Notifier OfflineNotifier

	// MaxTextRunes caps the message body length; 0 disables the check.
	MaxTextRunes int
	// DispatchTimeout bounds the detached offline-notification task.
	DispatchTimeout time.Duration
}

// Send runs the send state machine for one inbound message and returns the
// canonical outbound event. Once the insert succeeds the message is durable
// and is returned to the sender regardless of broadcast or push outcomes.
func (s *MessageService) Send(ctx context.Context, req SendRequest) (*domain.MessageEvent, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("room.identifier", req.RoomIdentifier),
			attribute.String("sender.id", req.SenderID),
			attribute.Bool("has_attachment", len(req.Attachment) > 0),
		),
	)
	defer span.End()

	// 1. Validate. No side effects on rejection.
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Attachment) == 0 {
		return nil, ErrEmptyMessage
	}
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(text) > s.MaxTextRunes {
		return nil, ErrTextTooLong
	}

	// 2. Resolve room; fail fast before anything downstream.
	room, err := s.Rooms.Resolve(ctx, req.RoomIdentifier)
	if err != nil {
		return nil, err
	}

	sender, err := repo.GetUser(ctx, s.DB, req.SenderID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	// Past this point the send is committed to completing: a sender
	// disconnect must not abort the upload or the store write, so the rest
	// of the pipeline runs detached from the request's cancellation. The
	// uploader's own timeout still bounds the upload.
	ctx = context.WithoutCancel(ctx)

	// 3. Upload before persistence so a broken URL can never be committed.
	var attachmentURL string
	if len(req.Attachment) > 0 {
		attachmentURL, err = s.Uploader.Upload(ctx, req.Attachment, req.ContentType)
		if err != nil {
			return nil, err
		}
	}

	// 4. Persist. The single durability commit point.
	msg, err := repo.InsertMessage(ctx, s.DB, room.ID, sender.ID, text, attachmentURL)
	if err != nil {
		return nil, err
	}

	ev := domain.MessageEvent{
		ID:            msg.ID,
		Room:          room.Slug,
		Sender:        domain.EventSender{ID: sender.ID, Name: sender.Name},
		Text:          msg.Text,
		AttachmentURL: msg.AttachmentURL,
		CreatedAt:     msg.CreatedAt,
	}

	// 5. Fan out to connected sessions. Per-session failure is the hub's
	// problem; it never rolls back the persisted message.
	if err := s.Hub.Broadcast(room.Slug, domain.EventMessageNew, ev); err != nil {
		log.Error().Err(err).Str("room", room.Slug).Str("message_id", ev.ID).Msg("broadcast failed")
	}

	// 6. Offline dispatch, detached from the request/response cycle. Uses a
	// fresh root context so a client disconnect cannot cancel it.
	if s.Notifier != nil {
		notifyCtx := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
		timeout := s.DispatchTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		go func() {
			nctx, cancel := context.WithTimeout(notifyCtx, timeout)
			defer cancel()
			s.Notifier.NotifyOffline(nctx, room, sender.ID, ev)
		}()
	}

	return &ev, nil
}

// History returns one page of room history. Pages are newest-first (page 1
// holds the latest messages) while messages within a page are oldest-first,
// so a client can prepend pages and read top to bottom. page <= 0 is treated
// as 1; the page size is fixed at HistoryPageSize.
func (s *MessageService) History(ctx context.Context, roomIdentifier string, page int) ([]domain.MessageEvent, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("room.identifier", roomIdentifier),
			attribute.Int("page", page),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}

	room, err := s.Rooms.Resolve(ctx, roomIdentifier)
	if err != nil {
		return nil, 0, err
	}

	total, err := repo.CountMessages(ctx, s.DB, room.ID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.MessageEvent{}, 0, nil
	}

	offset := (page - 1) * HistoryPageSize
	msgs, err := repo.ListMessagesPage(ctx, s.DB, room.ID, offset, HistoryPageSize)
	if err != nil {
		return nil, 0, err
	}

	// Join sender display data at read time; it is never stored on the row.
	senderIDs := make([]string, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	senders, err := repo.GetUsers(ctx, s.DB, senderIDs)
	if err != nil {
		return nil, 0, err
	}

	// The store hands back newest-first; reverse so the page itself reads
	// chronologically.
	out := make([]domain.MessageEvent, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		sender := domain.EventSender{ID: m.SenderID}
		if u, ok := senders[m.SenderID]; ok {
			sender.Name = u.Name
		}
		out = append(out, domain.MessageEvent{
			ID:            m.ID,
			Room:          room.Slug,
			Sender:        sender,
			Text:          m.Text,
			AttachmentURL: m.AttachmentURL,
			CreatedAt:     m.CreatedAt,
		})
	}
	return out, total, nil
}
