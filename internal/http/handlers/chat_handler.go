// Chat HTTP handlers.
//
// This file exposes REST endpoints for the chat directory:
//   - POST /chats   (open or reconcile the chat with a counterpart)
//   - GET  /chats   (the caller's chat list, sorted, searchable, ETag support)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bazaarhq/chat-backend/internal/domain"
	"github.com/bazaarhq/chat-backend/internal/presence"
	"github.com/bazaarhq/chat-backend/internal/repo"
	"github.com/bazaarhq/chat-backend/internal/search"
	"github.com/bazaarhq/chat-backend/internal/services"
	"github.com/bazaarhq/chat-backend/internal/stream"
	"github.com/bazaarhq/chat-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// DirectoryService defines chat directory operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DirectoryService interface {
	// CreateChat opens (or reconciles) the chat between caller and peer.
	CreateChat(ctx context.Context, caller, peer domain.Participant) (*domain.Chat, error)
	// GetUserChats returns the caller's chats, most recent message first.
	GetUserChats(ctx context.Context, userID string) ([]domain.Chat, error)
	// Members returns the caller's counterpart ids, oldest first.
	Members(ctx context.Context, userID string) ([]string, error)
}

// MessageService defines message log operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Send appends a message to the chat and propagates the last message.
	Send(ctx context.Context, chatID, senderID, receiverID, plaintext string) (*domain.Message, error)
	// Get returns a single decrypted message, participant-gated.
	Get(ctx context.Context, chatID, callerID, messageID string) (*domain.Message, error)
	// Edit replaces a message's content within the mutation window.
	Edit(ctx context.Context, chatID, callerID, messageID, plaintext string) (*domain.Message, error)
	// Delete removes a message within the mutation window.
	Delete(ctx context.Context, chatID, callerID, messageID string) error
	// ListPage returns a page of the chat's log and the total count.
	ListPage(ctx context.Context, chatID, callerID string, page, pageSize int) ([]domain.Message, int64, error)
	// MarkRead acknowledges a received message.
	MarkRead(ctx context.Context, chatID, viewerID, messageID string) error
}

// UserService defines user profile operations consumed by HTTP handlers.
type UserService interface {
	// Get fetches a user profile by id.
	Get(ctx context.Context, id string) (*domain.User, error)
	// Upsert mirrors a profile snapshot into the users table.
	Upsert(ctx context.Context, u *domain.User) error
	// SetReadReceipts updates the per-user read-receipt preference.
	SetReadReceipts(ctx context.Context, id string, enabled bool) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for chats, messages, users, and presence.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic. The presence tracker is optional; when nil
// the presence and unread enrichments are skipped.
type Handlers struct {
	dirSvc   DirectoryService
	msgSvc   MessageService
	userSvc  UserService
	presence *presence.Tracker

	// Realtime wiring, set via AttachRealtime.
	bus            *stream.Bus
	readDebounce   time.Duration
	readVisibility float64
}

// New constructs and returns a Handlers instance bound to the given services.
func New(dirSvc DirectoryService, msgSvc MessageService, userSvc UserService, pres *presence.Tracker) *Handlers {
	return &Handlers{dirSvc: dirSvc, msgSvc: msgSvc, userSvc: userSvc, presence: pres}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it).
// An empty result means the request is unauthenticated.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}

//
// DTOs
//

// CreateChatRequest is the JSON payload for opening a chat with a counterpart.
type CreateChatRequest struct {
	// PeerID identifies the counterpart. Required.
	PeerID string `json:"peer_id" binding:"required,min=1" example:"user456"`
	// PeerDisplayName optionally snapshots the counterpart's display name.
	PeerDisplayName string `json:"peer_display_name" example:"Maria K."`
	// PeerAvatarRef optionally snapshots the counterpart's avatar reference.
	PeerAvatarRef string `json:"peer_avatar_ref" example:"avatars/maria.png"`
	// DisplayName optionally snapshots the caller's display name.
	DisplayName string `json:"display_name" example:"John D."`
	// AvatarRef optionally snapshots the caller's avatar reference.
	AvatarRef string `json:"avatar_ref" example:"avatars/john.png"`
}

// ChatSummary is one entry of the chat list, enriched with presence data
// when a presence tracker is wired.
type ChatSummary struct {
	domain.Chat
	// Unread is the viewer's unread counter for this chat.
	Unread int64 `json:"unread"`
	// PeerOnline reports whether the counterpart currently heartbeats.
	PeerOnline bool `json:"peer_online"`
}

// MarshalJSON flattens the chat's wire shape with the presence enrichments.
// Without this, the embedded Chat's marshaler would win and drop them.
func (s ChatSummary) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(s.Chat)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	m["unread"] = s.Unread
	m["peer_online"] = s.PeerOnline
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *ChatSummary) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &s.Chat); err != nil {
		return err
	}
	aux := struct {
		Unread     int64 `json:"unread"`
		PeerOnline bool  `json:"peer_online"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Unread = aux.Unread
	s.PeerOnline = aux.PeerOnline
	return nil
}

// ListChatsResponse wraps the caller's chat list.
type ListChatsResponse struct {
	Chats []ChatSummary `json:"chats"`
	Total int           `json:"total"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// requireUser resolves the caller or fails the request with 401.
func requireUser(c *gin.Context) (string, bool) {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID required")
		return "", false
	}
	return uid, true
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Open a chat with a counterpart
// @Description Creates the chat for the caller/peer pair, or reconciles it if it already exists. Idempotent.
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller user ID"  example(user123)
// @Param       body       body    handlers.CreateChatRequest  true  "Counterpart payload"
//
// @Success     201  {object}  domain.Chat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     403  {object}  handlers.ErrorResponse  "Caller equals peer"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PeerID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "peer_id required")
		return
	}

	caller := domain.Participant{
		ID:          uid,
		DisplayName: strings.TrimSpace(req.DisplayName),
		AvatarRef:   strings.TrimSpace(req.AvatarRef),
	}
	peer := domain.Participant{
		ID:          strings.TrimSpace(req.PeerID),
		DisplayName: strings.TrimSpace(req.PeerDisplayName),
		AvatarRef:   strings.TrimSpace(req.PeerAvatarRef),
	}

	ch, err := h.dirSvc.CreateChat(c.Request.Context(), caller, peer)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// ListChats godoc
// @ID          listChats
// @Summary     List the caller's chats
// @Description Returns the caller's chats sorted by most recent message (empty chats last).
// @Description Supports counterpart search via ?q= and weak ETag via If-None-Match.
// @Tags        Chats
// @Produce     json
//
// @Param       X-User-ID      header  string  true  "Caller user ID"              example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       q              query   string  false "Counterpart name filter (case-folded substring)"
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthenticated"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	chats, err := h.dirSvc.GetUserChats(ctx, uid)
	if err != nil {
		failFromService(c, err)
		return
	}

	// Counterpart search (case-folded substring).
	if q := c.Query("q"); q != "" {
		chats = search.FilterChats(chats, uid, q)
	}

	// ETag pre-check (best effort, concrete service only).
	if svc, okSvc := h.dirSvc.(*services.DirectoryService); okSvc && svc.DB != nil {
		ids := make([]string, len(chats))
		for i := range chats {
			ids[i] = chats[i].ID
		}
		count, maxTS, err := repo.ChatsStats(ctx, svc.DB, ids)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"chats:%s:%s:%d:%d"`, uid, c.Query("q"), count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	out := make([]ChatSummary, 0, len(chats))
	for i := range chats {
		s := ChatSummary{Chat: chats[i]}
		if h.presence != nil {
			if n, err := h.presence.Unread(ctx, uid, chats[i].ID); err == nil {
				s.Unread = n
			}
			if online, err := h.presence.IsOnline(ctx, chats[i].Peer(uid).ID); err == nil {
				s.PeerOnline = online
			}
		}
		out = append(out, s)
	}
	ok(c, http.StatusOK, ListChatsResponse{Chats: out, Total: len(out)})
}
