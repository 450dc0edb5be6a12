// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Room model
// and its membership set.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a room is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/averline/roomchat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRoom inserts a new Room row with the given slug and display metadata.
// The room ID is a randomly generated UUID (string), and CreatedAt is set to UTC.
func CreateRoom(ctx context.Context, db *gorm.DB, slug, title, description string) (*domain.Room, error) {
	r := &domain.Room{
		ID:          uuid.NewString(),
		Slug:        slug,
		Title:       title,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// FindRoomBySlug fetches a single room by its slug. If the record does not
// exist, it returns ErrNotFound. On other DB errors, the raw error is returned.
func FindRoomBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Room, error) {
	var r domain.Room
	err := db.WithContext(ctx).
		Where("slug = ?", slug).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindRoomByID fetches a single room by its primary key. If the record does
// not exist, it returns ErrNotFound.
func FindRoomByID(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error) {
	var r domain.Room
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// AddMember inserts userID into roomID's membership set. The insert is an
// upsert-if-absent on the (room_id, user_id) unique pair, so a repeated join
// is a no-op rather than an error.
func AddMember(ctx context.Context, db *gorm.DB, roomID, userID string) error {
	m := &domain.RoomMember{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(m).Error
}

// ListMembers returns the users belonging to roomID in membership insertion
// order, each populated with display name and push token where present.
func ListMembers(ctx context.Context, db *gorm.DB, roomID string) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Joins("JOIN room_members ON room_members.user_id = users.id").
		Where("room_members.room_id = ?", roomID).
		Order("room_members.created_at ASC, room_members.id ASC").
		Find(&out).Error
	return out, err
}

// CountMembers returns the size of roomID's membership set.
func CountMembers(ctx context.Context, db *gorm.DB, roomID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.RoomMember{}).
		Where("room_id = ?", roomID).
		Count(&total).Error
	return total, err
}
