// User and presence HTTP handlers.
//
// This file exposes endpoints for the user profile mirror and the
// Redis-backed presence layer:
//   - GET  /users/{id}          (profile snapshot)
//   - PUT  /me/profile          (caller's display profile)
//   - PUT  /me/read-receipts    (per-user read-receipt preference)
//   - GET  /users/{id}/presence (online flag + last seen)
//   - POST /presence/heartbeat  (keep the caller online)
//   - DELETE /presence          (clean disconnect)
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// ReadReceiptsRequest is the JSON payload for the read-receipt preference.
type ReadReceiptsRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// UpdateProfileRequest is the JSON payload for the caller's display profile.
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required,min=1" example:"John D."`
	AvatarRef   string `json:"avatar_ref" example:"avatars/john.png"`
}

// PresenceResponse reports a user's presence state.
type PresenceResponse struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user profile
// @Description Returns the mirrored profile snapshot for a user.
// @Tags        Users
// @Produce     json
//
// @Param       id  path  string  true  "User ID"
//
// @Success     200  {object}  domain.User
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	u, err := h.userSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// SetReadReceipts godoc
// @ID          setReadReceipts
// @Summary     Set the caller's read-receipt preference
// @Description With receipts disabled the caller's acknowledgments are suppressed server-side.
// @Tags        Users
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller user ID"  example(user123)
// @Param       body       body    handlers.ReadReceiptsRequest  true  "Preference payload"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /users/me/read-receipts [put]
func (h *Handlers) SetReadReceipts(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	var req ReadReceiptsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "enabled required")
		return
	}

	if err := h.userSvc.SetReadReceipts(c.Request.Context(), uid, *req.Enabled); err != nil {
		failFromService(c, err)
		return
	}
	noContent(c)
}

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Update the caller's display profile
// @Description Upserts the caller's mirrored display name and avatar. Read-receipt preference is untouched.
// @Tags        Users
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller user ID"  example(user123)
// @Param       body       body    handlers.UpdateProfileRequest  true  "Profile payload"
//
// @Success     200  {object} domain.User
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthenticated"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /me/profile [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.DisplayName) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "display_name required")
		return
	}

	ctx := c.Request.Context()
	err := h.userSvc.Upsert(ctx, &domain.User{
		ID:          uid,
		DisplayName: strings.TrimSpace(req.DisplayName),
		AvatarRef:   strings.TrimSpace(req.AvatarRef),
	})
	if err != nil {
		failFromService(c, err)
		return
	}

	u, err := h.userSvc.Get(ctx, uid)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// GetPresence godoc
// @ID          getPresence
// @Summary     Get a user's presence
// @Description Returns whether the user currently heartbeats and when they were last seen.
// @Tags        Presence
// @Produce     json
//
// @Param       id  path  string  true  "User ID"
//
// @Success     200  {object}  handlers.PresenceResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Presence store unavailable"
// @Router      /users/{id}/presence [get]
func (h *Handlers) GetPresence(c *gin.Context) {
	if h.presence == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "presence not configured")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	online, err := h.presence.IsOnline(ctx, id)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "presence store unavailable")
		return
	}
	lastSeen, err := h.presence.LastSeen(ctx, id)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "presence store unavailable")
		return
	}
	ok(c, http.StatusOK, PresenceResponse{UserID: id, Online: online, LastSeen: lastSeen})
}

// Heartbeat godoc
// @ID          heartbeat
// @Summary     Keep the caller online
// @Description Refreshes the caller's TTL'd heartbeat key and last-seen timestamp.
// @Tags        Presence
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller user ID"  example(user123)
//
// @Success     204  {string} string "No Content"
// @Failure     503  {object} handlers.ErrorResponse "Presence store unavailable"
// @Router      /presence/heartbeat [post]
func (h *Handlers) Heartbeat(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	if h.presence == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "presence not configured")
		return
	}
	if err := h.presence.Heartbeat(c.Request.Context(), uid); err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "presence store unavailable")
		return
	}
	noContent(c)
}

// GoOffline godoc
// @ID          goOffline
// @Summary     Disconnect cleanly
// @Description Drops the caller's heartbeat immediately and stamps last seen.
// @Tags        Presence
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller user ID"  example(user123)
//
// @Success     204  {string} string "No Content"
// @Failure     503  {object} handlers.ErrorResponse "Presence store unavailable"
// @Router      /presence [delete]
func (h *Handlers) GoOffline(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	if h.presence == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "presence not configured")
		return
	}
	if err := h.presence.Offline(c.Request.Context(), uid); err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "presence store unavailable")
		return
	}
	noContent(c)
}
