// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User
// profile mirror (display fields and chat preferences).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// UpsertUser inserts the profile row or refreshes its display fields. The
// read_receipts preference is preserved on update so a profile refresh never
// silently re-enables receipts a user has turned off.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_ref", "updated_at"}),
		}).
		Create(u).Error
}

// GetUser fetches a user profile by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetReadReceipts updates the per-user read-receipt opt-out flag. Returns
// ErrNotFound when the user row is missing.
func SetReadReceipts(ctx context.Context, db *gorm.DB, id string, enabled bool) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("read_receipts", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
