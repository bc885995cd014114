// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model: the per-chat append-only log.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// CreateMessage appends a message to the chat log. The id is a fresh UUID
// and Seq records the store-assigned insertion order, which breaks ties when
// two messages share the same CreatedAt. Callers that need atomicity with a
// last-message touch should run this inside a transaction.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	var maxSeq int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ?", m.ChatID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return err
	}
	m.Seq = maxSeq + 1
	return db.WithContext(ctx).Create(m).Error
}

// GetMessage fetches a message by chat and id, or ErrNotFound.
func GetMessage(ctx context.Context, db *gorm.DB, chatID, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ? AND id = ?", chatID, id).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the full ordered log for a chat, ascending by
// CreatedAt with insertion order as tie-breaker. An empty chat yields an
// empty slice, not an error.
func ListMessages(ctx context.Context, db *gorm.DB, chatID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, seq ASC").
		Find(&out).Error
	return out, err
}

// ListMessagesPage returns a paginated slice of the log in the same order as
// ListMessages. Use CountMessages to obtain the total for pagination metadata.
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountMessages returns the total number of messages in a chat.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ?", chatID).
		Count(&total).Error
	return total, err
}

// UpdateMessageContent re-writes a message body (already ciphertext) and
// stamps UpdatedAt, which is the only "edited" marker the data model keeps.
// Returns ErrNotFound when no such message exists.
func UpdateMessageContent(ctx context.Context, db *gorm.DB, chatID, id, content string, updatedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ? AND id = ?", chatID, id).
		Updates(map[string]any{
			"content":    content,
			"updated_at": updatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkMessageRead sets read=true on a message. Marking an already-read
// message again is a no-op, not an error.
func MarkMessageRead(ctx context.Context, db *gorm.DB, chatID, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ? AND id = ?", chatID, id).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish "missing" from "already read".
		var n int64
		if err := db.WithContext(ctx).Model(&domain.Message{}).
			Where("chat_id = ? AND id = ?", chatID, id).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}

// DeleteMessage removes a message from the log. Returns ErrNotFound when no
// row was deleted.
func DeleteMessage(ctx context.Context, db *gorm.DB, chatID, id string) error {
	res := db.WithContext(ctx).
		Where("chat_id = ? AND id = ?", chatID, id).
		Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TailMessage returns the newest message of a chat (the log tail), or nil
// when the chat has no messages. Used to backfill the denormalized last
// message after a delete.
func TailMessage(ctx context.Context, db *gorm.DB, chatID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, seq DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
