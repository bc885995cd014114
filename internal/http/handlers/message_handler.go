// Message HTTP handlers.
//
// This file exposes REST endpoints for the per-chat message log:
//   - POST   /chats/{id}/messages                  (send)
//   - GET    /chats/{id}/messages                  (list, paginated, ETag support)
//   - PATCH  /chats/{id}/messages/{mid}            (edit, sender-only, windowed)
//   - DELETE /chats/{id}/messages/{mid}            (delete, sender-only, windowed)
//   - POST   /chats/{id}/messages/{mid}/read       (acknowledge receipt)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// send exists for (user, chat, key), the handler returns that recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bazaarhq/chat-backend/internal/domain"
	"github.com/bazaarhq/chat-backend/internal/repo"
	"github.com/bazaarhq/chat-backend/internal/services"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for sending a message.
//
// Content is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer. The service also enforces
// a maximum rune count, which can be configured in MessageService.
type SendMessageRequest struct {
	// ReceiverID identifies the counterpart the message is addressed to.
	ReceiverID string `json:"receiver_id" binding:"required,min=1" example:"user456"`
	// Content is the message body. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"See you at 8?"`
}

// EditMessageRequest is the JSON payload for editing a message.
type EditMessageRequest struct {
	// Content is the replacement body. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"See you at 9?"`
}

// MessageResponse is the JSON envelope for a single message.
type MessageResponse struct {
	Message *domain.Message `json:"message"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListMessagesResponse contains a page of chat messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxContentRunes inspects the concrete MessageService for a
// configured length limit. If unavailable, it returns a conservative fallback.
func discoverMaxContentRunes(msgSvc MessageService) int {
	const fallback = 4000
	if ms, ok := msgSvc.(*services.MessageService); ok {
		if ms.MaxContentRunes > 0 {
			return ms.MaxContentRunes
		}
	}
	return fallback
}

// middlewareGetIdempotencyKey extracts an idempotency key if an upstream
// middleware has already validated/stashed it. The fallback behavior reads
// the "Idempotency-Key" header directly when no dedicated middleware exists.
func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

// serviceDB returns the GORM handle behind the concrete MessageService, or
// nil for fakes. Used for best-effort idempotency and ETag reads.
func (h *Handlers) serviceDB() *gorm.DB {
	if svc, ok := h.msgSvc.(*services.MessageService); ok {
		return svc.DB
	}
	return nil
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Appends a message to the chat's log and updates the chat's last message.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Sender user ID"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Chat ID"
// @Param       body             body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.MessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     413  {object}  handlers.ErrorResponse  "Content too long"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "receiver_id and content required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	content := sanitizeContent(req.Content)
	maxRunes := discoverMaxContentRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middlewareGetIdempotencyKey(c)
	if idemKey != "" {
		if db := h.serviceDB(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, uid, chatID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := h.msgSvc.Get(ctx, chatID, uid, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, MessageResponse{Message: prev})
					return
				}
			}
		}
	}

	m, err := h.msgSvc.Send(ctx, chatID, uid, strings.TrimSpace(req.ReceiverID), content)
	if err != nil {
		failFromService(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if db := h.serviceDB(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, uid, chatID, idemKey, m.ID, http.StatusCreated, 24*time.Hour)
		}
	}

	// Unread counter for the recipient – best effort.
	if h.presence != nil {
		_, _ = h.presence.IncrUnread(ctx, m.ReceiverID, chatID)
	}

	ok(c, http.StatusCreated, MessageResponse{Message: m})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns a paginated list of messages for the given chat, oldest first.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header string  true  "Caller user ID"  example(user123)
// @Param       id         path   string  true  "Chat ID"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(200) default(50)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     403  {object} handlers.ErrorResponse "Not a participant"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	// ETag pre-check (best effort).
	if db := h.serviceDB(); db != nil {
		count, maxTS, err := repo.MessagesStats(ctx, db, chatID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, chatID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(ctx, chatID, uid, page, pageSize)
	if err != nil {
		failFromService(c, err)
		return
	}

	// Opening the log clears the viewer's unread counter – best effort.
	if h.presence != nil {
		_ = h.presence.ClearUnread(ctx, uid, chatID)
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// EditMessage godoc
// @ID          editMessage
// @Summary     Edit a message
// @Description Replaces a message's content. Only the sender may edit, and only within the mutation window.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller user ID"  example(user123)
// @Param       id         path    string  true  "Chat ID"
// @Param       mid        path    string  true  "Message ID"
// @Param       body       body    handlers.EditMessageRequest  true  "Replacement content"
//
// @Success     200  {object}  handlers.MessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the sender"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Mutation window expired"
// @Router      /chats/{id}/messages/{mid} [patch]
func (h *Handlers) EditMessage(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	m, err := h.msgSvc.Edit(c.Request.Context(), c.Param("id"), uid, c.Param("mid"), sanitizeContent(req.Content))
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: m})
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message
// @Description Removes a message from the log. Only the sender may delete, and only within the mutation window.
// @Description Deleting the chat's last message backfills it from the previous one.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller user ID"  example(user123)
// @Param       id         path    string  true  "Chat ID"
// @Param       mid        path    string  true  "Message ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not the sender"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Failure     409  {object} handlers.ErrorResponse "Mutation window expired"
// @Router      /chats/{id}/messages/{mid} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	if err := h.msgSvc.Delete(c.Request.Context(), c.Param("id"), uid, c.Param("mid")); err != nil {
		failFromService(c, err)
		return
	}
	noContent(c)
}

// MarkMessageRead godoc
// @ID          markMessageRead
// @Summary     Acknowledge a received message
// @Description Marks a message as read. Only the receiver may acknowledge; a viewer with read
// @Description receipts disabled gets a silent no-op.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Viewer user ID"  example(user456)
// @Param       id         path    string  true  "Chat ID"
// @Param       mid        path    string  true  "Message ID"
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not the receiver"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /chats/{id}/messages/{mid}/read [post]
func (h *Handlers) MarkMessageRead(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}

	if err := h.msgSvc.MarkRead(ctx, chatID, uid, c.Param("mid")); err != nil {
		failFromService(c, err)
		return
	}
	if h.presence != nil {
		_ = h.presence.ClearUnread(ctx, uid, chatID)
	}
	noContent(c)
}
