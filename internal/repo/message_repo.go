// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averline/roomchat/internal/domain"
)

// InsertMessage inserts a new message row. CreatedAt is assigned here, at
// write time; ordering across concurrent senders is by timestamp then
// insertion order, never re-sorted afterwards.
func InsertMessage(ctx context.Context, db *gorm.DB, roomID, senderID, text, attachmentURL string) (*domain.Message, error) {
	m := &domain.Message{
		ID:            uuid.NewString(),
		RoomID:        roomID,
		SenderID:      senderID,
		Text:          text,
		AttachmentURL: attachmentURL,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error
// instead of a silent zero.
func CountMessages(ctx context.Context, db *gorm.DB, roomID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE room_id = ?", roomID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice in the store's native
// newest-first order (CreatedAt DESC, ID DESC). Callers that need a
// chronological page reverse it; the query itself stays stable across pages.
func ListMessagesPage(ctx context.Context, db *gorm.DB, roomID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
