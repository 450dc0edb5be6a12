// Room HTTP handlers.
//
// This file exposes REST endpoints for room resources:
//   - POST /rooms/{room}/join     (idempotent membership join)
//   - GET  /rooms/{room}/members  (ordered membership listing)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. The {room} path segment accepts
// either the room's UUID primary key or its human slug; resolution is owned
// by the room service.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/averline/roomchat/internal/domain"
	"github.com/averline/roomchat/internal/services"
)

//
// Service contracts (context-aware)
//

// RoomService defines room directory operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RoomService interface {
	// Resolve maps a room identifier (UUID primary key or slug) to the
	// canonical room record.
	Resolve(ctx context.Context, identifier string) (*domain.Room, error)
	// Join adds userID to the room's membership set; repeat joins are no-ops.
	Join(ctx context.Context, identifier, userID string) (*domain.Room, error)
	// ListMembers returns the room's members in membership insertion order.
	ListMembers(ctx context.Context, room *domain.Room) ([]domain.User, error)
}

// MessageService defines message send and history operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Send runs the full send pipeline and returns the outbound event.
	Send(ctx context.Context, req services.SendRequest) (*domain.MessageEvent, error)
	// History returns one page of room history plus the total message count.
	History(ctx context.Context, roomIdentifier string, page int) ([]domain.MessageEvent, int64, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for rooms, messages, and history.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	roomSvc RoomService
	msgSvc  MessageService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(roomSvc RoomService, msgSvc MessageService) *Handlers {
	return &Handlers{roomSvc: roomSvc, msgSvc: msgSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// JoinRoomRequest is the JSON payload for joining a room. UserID is optional;
// when empty the caller identity from headers/context is used.
type JoinRoomRequest struct {
	UserID string `json:"user_id" example:"user123"`
}

// JoinRoomResponse echoes the canonical room the caller joined.
type JoinRoomResponse struct {
	Room *domain.Room `json:"room"`
}

// MemberResponse is one member row in a membership listing. The raw device
// token never leaves the server; only its presence is reported.
type MemberResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	HasPushToken bool   `json:"has_push_token"`
}

// ListMembersResponse wraps an ordered membership listing.
type ListMembersResponse struct {
	Room    string           `json:"room"`
	Members []MemberResponse `json:"members"`
}

//
// Handlers
//

// JoinRoom godoc
// @ID          joinRoom
// @Summary     Join a room
// @Description Adds the user to the room's membership set. Joining an already
// @Description joined room is a no-op and still returns success.
// @Tags        Rooms
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       room       path    string  true  "Room ID (UUID) or slug"  example(general)
// @Param       body       body    handlers.JoinRoomRequest  false  "Join payload"
//
// @Success     200  {object}  handlers.JoinRoomResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Room not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /rooms/{room}/join [post]
func (h *Handlers) JoinRoom(c *gin.Context) {
	roomIdent := c.Param("room")

	var req JoinRoomRequest
	// Body is optional; ignore bind errors for an empty body.
	_ = c.ShouldBindJSON(&req)

	uid := strings.TrimSpace(req.UserID)
	if uid == "" {
		uid = userID(c)
	}

	room, err := h.roomSvc.Join(c.Request.Context(), roomIdent, uid)
	if err != nil {
		if errors.Is(err, services.ErrRoomNotFound) {
			fail(c, http.StatusNotFound, ErrCodeRoomNotFound, "room not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeJoinFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, JoinRoomResponse{Room: room})
}

// ListRoomMembers godoc
// @ID          listRoomMembers
// @Summary     List room members
// @Description Returns the room's members in the order they joined.
// @Tags        Rooms
// @Produce     json
//
// @Param       room  path  string  true  "Room ID (UUID) or slug"  example(general)
//
// @Success     200  {object}  handlers.ListMembersResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Room not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /rooms/{room}/members [get]
func (h *Handlers) ListRoomMembers(c *gin.Context) {
	ctx := c.Request.Context()

	room, err := h.roomSvc.Resolve(ctx, c.Param("room"))
	if err != nil {
		if errors.Is(err, services.ErrRoomNotFound) {
			fail(c, http.StatusNotFound, ErrCodeRoomNotFound, "room not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	members, err := h.roomSvc.ListMembers(ctx, room)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	out := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, MemberResponse{
			ID:           m.ID,
			Name:         m.Name,
			HasPushToken: m.PushToken != "",
		})
	}
	ok(c, http.StatusOK, ListMembersResponse{Room: room.Slug, Members: out})
}
