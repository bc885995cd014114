// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// ChatsStats returns aggregate metadata for a set of chat ids: the total
// number of existing rows and the maximum UpdatedAt among them. The HTTP
// layer uses the pair to build a weak ETag for a user's chat list.
//
// When none of the ids exist, count is 0 and maxUpdatedAt is nil.
func ChatsStats(ctx context.Context, db *gorm.DB, chatIDs []string) (count int64, maxUpdatedAt *time.Time, err error) {
	if len(chatIDs) == 0 {
		return 0, nil, nil
	}
	q := db.WithContext(ctx).Model(&domain.Chat{}).Where("id IN ?", chatIDs)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Fetch latest updated_at via ORDER BY (avoid MAX() -> TEXT in SQLite).
	var row struct {
		UpdatedAt time.Time
	}
	err = db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id IN ?", chatIDs).
		Order("updated_at DESC").
		Limit(1).
		Select("updated_at").
		Scan(&row).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns aggregate metadata for one chat's message log: the
// row count and the maximum UpdatedAt. Used for the message-list ETag.
//
// For an empty log, count is 0 and maxUpdatedAt is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, chatID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		UpdatedAt time.Time
	}
	err = db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ?", chatID).
		Order("updated_at DESC").
		Limit(1).
		Select("updated_at").
		Scan(&row).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
