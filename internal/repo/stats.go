// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/averline/roomchat/internal/domain"
)

// MessagesStats returns aggregate metadata for messages within a given room:
// the total number of rows and the maximum CreatedAt timestamp among them.
// Messages are immutable, so the latest CreatedAt is enough to fingerprint
// the room's history for conditional GETs.
//
// Return values:
//   - count:     total messages for roomID
//   - latest:    pointer to the greatest CreatedAt, or nil if no rows
//   - err:       database error, if any
func MessagesStats(ctx context.Context, db *gorm.DB, roomID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("room_id = ?", roomID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
