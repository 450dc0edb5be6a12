// Package services – RoomService
//
// This file implements the RoomService, the room directory of the messaging
// core. It resolves a caller-supplied identifier (store primary key or human
// slug) to a canonical room record, maintains the membership set, and lists
// members with their notification identities.
//
// Service-level errors (e.g., ErrRoomNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averline/roomchat/internal/domain"
)

// RoomRepo defines the repository contract required by RoomService.
// Implementations are responsible for persistence of the room aggregate.
type RoomRepo interface {
	// FindRoomBySlug fetches a room by its human slug.
	FindRoomBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Room, error)

	// FindRoomByID fetches a room by its store primary key.
	FindRoomByID(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error)

	// AddMember inserts userID into the room's membership set if absent.
	AddMember(ctx context.Context, db *gorm.DB, roomID, userID string) error

	// ListMembers returns the room's members in insertion order.
	ListMembers(ctx context.Context, db *gorm.DB, roomID string) ([]domain.User, error)
}

// RoomService resolves room identifiers and owns membership operations.
type RoomService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the room repository used by this service.
	Repo RoomRepo
}

// NewRoomService constructs a RoomService.
func NewRoomService(db *gorm.DB, r RoomRepo) *RoomService {
	return &RoomService{DB: db, Repo: r}
}

// Resolve accepts either the store primary key or the human slug and returns
// the canonical room record. The primary-key form is tried only when the
// identifier is syntactically a valid key; a malformed key must not error,
// it falls through to the slug lookup.
func (s *RoomService) Resolve(ctx context.Context, identifier string) (*domain.Room, error) {
	if _, err := uuid.Parse(identifier); err == nil {
		room, err := s.Repo.FindRoomByID(ctx, s.DB, identifier)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// Not a known key; the identifier may still be a slug that happens
		// to parse as a UUID.
	}

	room, err := s.Repo.FindRoomBySlug(ctx, s.DB, identifier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// Join adds userID to the room's membership set. Repeat joins are no-ops:
// the membership set has at-most-once insertion semantics. Fails with
// ErrRoomNotFound if the identifier does not resolve.
func (s *RoomService) Join(ctx context.Context, identifier, userID string) (*domain.Room, error) {
	room, err := s.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.AddMember(ctx, s.DB, room.ID, userID); err != nil {
		return nil, err
	}
	return room, nil
}

// ListMembers returns the room's members in membership insertion order, each
// populated with display name and device token where present.
func (s *RoomService) ListMembers(ctx context.Context, room *domain.Room) ([]domain.User, error) {
	return s.Repo.ListMembers(ctx, s.DB, room.ID)
}
