// Package services – UserService
//
// This file implements the UserService, a thin layer over the user profile
// mirror. Identity itself lives with the external auth provider; this
// service only manages the display snapshot and the per-user read-receipt
// preference consumed by the chat core.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/bazaarhq/chat-backend/internal/domain"
	"github.com/bazaarhq/chat-backend/internal/repo"
)

// UserService manages user profile mirrors and chat preferences.
type UserService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// StoreTimeout bounds each operation's persistence work. Zero disables
	// the deadline.
	StoreTimeout time.Duration
}

// Get fetches a user profile by id.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNotAuthenticated
	}
	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()
	u, err := repo.GetUser(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return u, nil
}

// Upsert mirrors a profile snapshot into the users table.
func (s *UserService) Upsert(ctx context.Context, u *domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return ErrNotAuthenticated
	}
	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()
	if err := repo.UpsertUser(ctx, s.DB, u); err != nil {
		return storeErr(err)
	}
	return nil
}

// SetReadReceipts updates the per-user read-receipt opt-out.
func (s *UserService) SetReadReceipts(ctx context.Context, id string, enabled bool) error {
	if strings.TrimSpace(id) == "" {
		return ErrNotAuthenticated
	}
	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()
	err := repo.SetReadReceipts(ctx, s.DB, id, enabled)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return storeErr(err)
	}
	return nil
}
