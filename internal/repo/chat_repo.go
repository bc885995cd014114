// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model
// and the per-user membership list.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated; the service layer wraps them.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertChat inserts the chat record if it does not exist yet. Re-inserting
// an existing chat id is a no-op: the existing record (and in particular its
// denormalized last message) is left untouched, which makes chat creation
// idempotent.
func UpsertChat(ctx context.Context, db *gorm.DB, c *domain.Chat) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(c).Error
}

// GetChat fetches a single chat by its canonical id. If the record does not
// exist, it returns ErrNotFound.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// AddMember appends peerID to userID's membership list. The unique index on
// (user_id, peer_id) gives the list set semantics: re-adding an existing
// entry is a no-op, never a duplicate.
func AddMember(ctx context.Context, db *gorm.DB, userID, peerID string) error {
	m := &domain.ChatMember{
		UserID:    userID,
		PeerID:    peerID,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m).Error
}

// ListMembers returns the counterpart ids in userID's membership list,
// oldest first. An empty slice means the user has not chatted with anyone.
func ListMembers(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var peers []string
	err := db.WithContext(ctx).
		Model(&domain.ChatMember{}).
		Where("user_id = ?", userID).
		Order("created_at asc, id asc").
		Pluck("peer_id", &peers).Error
	return peers, err
}

// UpdateLastMessage overwrites the chat's denormalized last-message columns
// and the last_message_created_at sort key. Returns ErrNotFound when the
// chat row is missing.
func UpdateLastMessage(ctx context.Context, db *gorm.DB, chatID string, lm domain.LastMessage) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]any{
			"last_message_id":          lm.ID,
			"last_message_sender_id":   lm.SenderID,
			"last_message_receiver_id": lm.ReceiverID,
			"last_message_content":     lm.Content,
			"last_message_read":        lm.Read,
			"last_message_created_at":  lm.CreatedAt,
			"last_message_updated_at":  lm.UpdatedAt,
			"last_message_at":          lm.CreatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearLastMessage resets the chat's denormalized last message to "none"
// (used when the final message of a chat is deleted and there is no tail to
// backfill from). Returns ErrNotFound when the chat row is missing.
func ClearLastMessage(ctx context.Context, db *gorm.DB, chatID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]any{
			"last_message_id":          "",
			"last_message_sender_id":   "",
			"last_message_receiver_id": "",
			"last_message_content":     "",
			"last_message_read":        false,
			"last_message_created_at":  time.Time{},
			"last_message_updated_at":  time.Time{},
			"last_message_at":          nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkLastMessageRead flips the denormalized last-message read flag only
// when messageID is the chat's current last message. A mismatch
// is a silent no-op so callers can invoke it unconditionally after a read.
func MarkLastMessageRead(ctx context.Context, db *gorm.DB, chatID, messageID string) error {
	return db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ? AND last_message_id = ?", chatID, messageID).
		Update("last_message_read", true).Error
}
