// Message HTTP handlers.
//
// This file exposes REST endpoints for room messages:
//   - POST /rooms/{room}/messages   (send a message, optionally with an image)
//   - GET  /rooms/{room}/messages   (paginated history, fixed page size)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Sending accepts either multipart/form-data (a "text" field plus an
// optional "image" file part) or a plain JSON body {"text": "..."}.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, room, key), the handler returns the recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/averline/roomchat/internal/domain"
	"github.com/averline/roomchat/internal/repo"
	"github.com/averline/roomchat/internal/services"
	"github.com/averline/roomchat/internal/utils"
)

// maxAttachmentBytes caps the in-band image payload read from a multipart
// part. The router's body limit is the outer guard; this keeps a single
// part from consuming the whole allowance.
const maxAttachmentBytes = 5 << 20

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a text-only message.
//
// Text is normalized by the handler (line endings and excessive blank lines)
// before being passed to the service layer. The service also enforces a
// maximum rune count, which can be configured in MessageService.
type PostMessageRequest struct {
	// Text is the message body. Required unless an image part is present.
	Text string `json:"text" example:"Anyone up for coffee?"`
}

// PostMessageResponse is the JSON envelope for a newly accepted message.
type PostMessageResponse struct {
	// Message is the canonical event that was broadcast to the room.
	Message *domain.MessageEvent `json:"message"`
}

// ListMessagesResponse contains a page of room history and pagination
// metadata. Messages within the page run oldest-first; page 1 holds the
// newest messages.
type ListMessagesResponse struct {
	Messages   []domain.MessageEvent `json:"messages"`
	Pagination Pagination            `json:"pagination"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeText normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxTextRunes inspects the concrete MessageService for a configured
// body-length limit. If unavailable, it returns a conservative fallback.
func discoverMaxTextRunes(msgSvc MessageService) int {
	const fallback = 4000
	if ms, ok := msgSvc.(*services.MessageService); ok {
		if ms.MaxTextRunes > 0 {
			return ms.MaxTextRunes
		}
	}
	return fallback
}

// readImagePart reads the optional "image" multipart file into memory and
// returns its bytes with the declared content type. Returns (nil, "", nil)
// when no image part was sent.
func readImagePart(c *gin.Context) ([]byte, string, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, "", nil
		}
		return nil, "", err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	payload, err := io.ReadAll(io.LimitReader(f, maxAttachmentBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(payload) > maxAttachmentBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxAttachmentBytes)
	}
	return payload, partContentType(fh), nil
}

// partContentType returns the Content-Type declared on a multipart file
// header, defaulting to application/octet-stream.
func partContentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message to a room
// @Description Persists the message, broadcasts it to connected room sessions,
// @Description and queues push notifications for offline members.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID        header    string  true  "Sender user ID"  example(user123)
// @Param       Idempotency-Key  header    string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       room             path      string  true  "Room ID (UUID) or slug"  example(general)
// @Param       text             formData  string  false "Message body"
// @Param       image            formData  file    false "Image attachment"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Accepted message event"
// @Failure     400  {object}  handlers.ErrorResponse        "Empty or oversized message"
// @Failure     404  {object}  handlers.ErrorResponse        "Room not found"
// @Failure     502  {object}  handlers.ErrorResponse        "Attachment upload failed"
// @Failure     500  {object}  handlers.ErrorResponse        "Persistence error"
// @Router      /rooms/{room}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	roomIdent := c.Param("room")
	currentUser := userID(c)

	// Accept multipart (text + optional image) or a JSON {text} body.
	var (
		text        string
		attachment  []byte
		contentType string
	)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		var err error
		attachment, contentType, err = readImagePart(c)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		text = c.PostForm("text")
	} else {
		var req PostMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeEmptyMessage, "text required")
			return
		}
		text = req.Text
	}

	// Sanitize + early size cap to fail fast at the edge.
	text = sanitizeText(text)
	maxRunes := discoverMaxTextRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("text too long: max %d runes", maxRunes))
		return
	}
	if text == "" && len(attachment) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeEmptyMessage, "message must have text or an image")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middlewareGetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			if ev := h.replayEvent(c, svc.DB, currentUser, roomIdent, idemKey); ev != nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, PostMessageResponse{Message: ev})
				return
			}
		}
	}

	ev, err := h.msgSvc.Send(ctx, services.SendRequest{
		RoomIdentifier: roomIdent,
		SenderID:       currentUser,
		Text:           text,
		Attachment:     attachment,
		ContentType:    contentType,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeEmptyMessage, "message must have text or an image")
		case errors.Is(err, services.ErrTextTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("text too long: max %d runes", maxRunes))
		case errors.Is(err, services.ErrRoomNotFound):
			fail(c, http.StatusNotFound, ErrCodeRoomNotFound, "room not found")
		case errors.Is(err, services.ErrUserNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "sender not found")
		case errors.Is(err, services.ErrUploadFailed):
			fail(c, http.StatusBadGateway, ErrCodeUploadFailed, "attachment upload failed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodePersistFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, roomIdent, idemKey, ev.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, PostMessageResponse{Message: ev})
}

// replayEvent looks up a previously recorded result for (user, room, key)
// and rebuilds the outbound event from the stored message. Returns nil when
// no valid replay exists; failures fall through to normal processing.
func (h *Handlers) replayEvent(c *gin.Context, db *gorm.DB, userID, roomIdent, key string) *domain.MessageEvent {
	ctx := c.Request.Context()

	rec, err := repo.GetIdempotency(ctx, db, userID, roomIdent, key, time.Now().UTC())
	if err != nil || rec == nil {
		return nil
	}
	msg, err := repo.GetMessage(ctx, db, rec.MessageID)
	if err != nil {
		return nil
	}
	room, err := repo.FindRoomByID(ctx, db, msg.RoomID)
	if err != nil {
		return nil
	}

	sender := domain.EventSender{ID: msg.SenderID}
	if u, err := repo.GetUser(ctx, db, msg.SenderID); err == nil {
		sender.Name = u.Name
	}
	return &domain.MessageEvent{
		ID:            msg.ID,
		Room:          room.Slug,
		Sender:        sender,
		Text:          msg.Text,
		AttachmentURL: msg.AttachmentURL,
		CreatedAt:     msg.CreatedAt,
	}
}

// GetHistory godoc
// @ID          getHistory
// @Summary     List room history (paginated)
// @Description Returns one fixed-size page of room history. Page 1 holds the
// @Description newest messages; messages within a page run oldest-first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
//
// @Param       room           path   string  true  "Room ID (UUID) or slug"     example(general)
// @Param       page           query  int     false "Page number"                minimum(1) default(1)
// @Param       If-None-Match  header string  false "Return 304 if ETag matches" example(W/\"abc123\")
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Room not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /rooms/{room}/messages [get]
func (h *Handlers) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	roomIdent := c.Param("room")

	page := utils.PageOrDefault(c.Query("page"))

	// ETag pre-check (best effort).
	if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
		if room, err := h.roomSvc.Resolve(ctx, roomIdent); err == nil {
			count, maxTS, err := repo.MessagesStats(ctx, svc.DB, room.ID)
			if err == nil {
				var ts int64
				if maxTS != nil {
					ts = maxTS.Unix()
				}
				etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, room.ID, count, ts)
				c.Header("ETag", etag)
				if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
					c.Status(http.StatusNotModified)
					return
				}
			}
		}
	}

	items, total, err := h.msgSvc.History(ctx, roomIdent, page)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRoomNotFound):
			fail(c, http.StatusNotFound, ErrCodeRoomNotFound, "room not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	pageSize := services.HistoryPageSize
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// middlewareGetIdempotencyKey extracts an idempotency key if an upstream
// middleware has already validated/stashed it. The fallback behavior reads
// the "Idempotency-Key" header directly when no dedicated middleware exists.
func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}
