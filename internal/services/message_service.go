// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the per-chat append-only message log. It validates inputs, enforces
// participant and ownership rules server-side, encrypts content before it
// reaches the store, and keeps the chat record's denormalized last message in
// step with every mutation.
//
// Ownership and the edit window are authorization rules evaluated here, not
// trusted from the client, with an injectable clock so window behavior is
// testable.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include chat/user identifiers and pagination parameters where applicable.

package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/bazaarhq/chat-backend/internal/cipher"
	"github.com/bazaarhq/chat-backend/internal/domain"
	"github.com/bazaarhq/chat-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMutationWindow is how long after creation a message stays editable
// and deletable by its sender.
const DefaultMutationWindow = 30 * time.Minute

// MessageService coordinates message persistence, encryption, and the
// denormalized last-message propagation back to the chat record.
type MessageService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Cipher seals and opens message bodies.
	Cipher *cipher.Cipher
	// Notifier publishes chat changes to the realtime layer. Optional.
	Notifier ChangeNotifier

	// MutationWindow bounds edit and delete after creation. Zero means
	// DefaultMutationWindow.
	MutationWindow time.Duration
	// MaxContentRunes caps message length. Zero disables the check.
	MaxContentRunes int

	// StoreTimeout bounds each operation's persistence work. Zero disables
	// the deadline.
	StoreTimeout time.Duration

	// Now is the clock used for timestamps and window checks. Nil means
	// time.Now in UTC.
	Now func() time.Time
}

// NewMessageService constructs a MessageService with default limits.
func NewMessageService(db *gorm.DB, c *cipher.Cipher, n ChangeNotifier) *MessageService {
	return &MessageService{
		DB:              db,
		Cipher:          c,
		Notifier:        n,
		MutationWindow:  DefaultMutationWindow,
		MaxContentRunes: 4000,
	}
}

func (s *MessageService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *MessageService) window() time.Duration {
	if s.MutationWindow > 0 {
		return s.MutationWindow
	}
	return DefaultMutationWindow
}

// validateContent trims and bounds message content.
func (s *MessageService) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return "", ErrMessageTooLong
	}
	return content, nil
}

// loadChat maps repo-level not-found to the service sentinel.
func (s *MessageService) loadChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	chat, err := repo.GetChat(ctx, s.DB, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return chat, nil
}

// Send validates, encrypts, and appends a message, then propagates it to the
// chat record's denormalized last message in the same transaction. The
// returned message carries the plaintext content; only ciphertext is stored.
func (s *MessageService) Send(ctx context.Context, chatID, senderID, receiverID, plaintext string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()

	if strings.TrimSpace(senderID) == "" {
		return nil, ErrNotAuthenticated
	}
	plaintext, err := s.validateContent(plaintext)
	if err != nil {
		return nil, err
	}

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(senderID) || !chat.HasParticipant(receiverID) {
		return nil, ErrNotParticipant
	}

	sealed, err := s.Cipher.Encrypt(chatID, plaintext)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &domain.Message{
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    sealed,
		Read:       false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateMessage(ctx, tx, msg); err != nil {
			return err
		}
		return repo.UpdateLastMessage(ctx, tx, chatID, msg.AsLastMessage())
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.notifyChat(ctx, chatID)

	out := *msg
	out.Content = plaintext
	return &out, nil
}

// Edit re-encrypts a message's content. Permitted only for the sender and
// only within the mutation window. If the edited message is the chat's
// current last message, the denormalized copy is refreshed too.
func (s *MessageService) Edit(ctx context.Context, chatID, callerID, messageID, plaintext string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Edit",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.id", messageID),
			attribute.String("user.id", callerID),
		),
	)
	defer span.End()

	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()

	if strings.TrimSpace(callerID) == "" {
		return nil, ErrNotAuthenticated
	}
	plaintext, err := s.validateContent(plaintext)
	if err != nil {
		return nil, err
	}

	msg, err := s.loadMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != callerID {
		return nil, ErrForbidden
	}
	now := s.now()
	if now.Sub(msg.CreatedAt) > s.window() {
		return nil, ErrEditWindowExpired
	}

	sealed, err := s.Cipher.Encrypt(chatID, plaintext)
	if err != nil {
		return nil, err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateMessageContent(ctx, tx, chatID, messageID, sealed, now); err != nil {
			return err
		}
		chat, err := repo.GetChat(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if chat.Last.ID != messageID {
			return nil
		}
		msg.Content = sealed
		msg.UpdatedAt = now
		return repo.UpdateLastMessage(ctx, tx, chatID, msg.AsLastMessage())
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, storeErr(err)
	}

	s.notifyChat(ctx, chatID)

	out := *msg
	out.Content = plaintext
	out.UpdatedAt = now
	return &out, nil
}

// Delete removes a message from the log. Permitted only for the sender and
// only within the mutation window. Deleting the chat's current last message
// backfills the denormalized copy from the new tail of the log, or clears it
// when the log becomes empty.
func (s *MessageService) Delete(ctx context.Context, chatID, callerID, messageID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.id", messageID),
			attribute.String("user.id", callerID),
		),
	)
	defer span.End()

	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()

	if strings.TrimSpace(callerID) == "" {
		return ErrNotAuthenticated
	}

	msg, err := s.loadMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != callerID {
		return ErrForbidden
	}
	if s.now().Sub(msg.CreatedAt) > s.window() {
		return ErrEditWindowExpired
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.DeleteMessage(ctx, tx, chatID, messageID); err != nil {
			return err
		}
		chat, err := repo.GetChat(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if chat.Last.ID != messageID {
			return nil
		}
		tail, err := repo.TailMessage(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if tail == nil {
			return repo.ClearLastMessage(ctx, tx, chatID)
		}
		return repo.UpdateLastMessage(ctx, tx, chatID, tail.AsLastMessage())
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		return storeErr(err)
	}

	s.notifyChat(ctx, chatID)
	return nil
}

// Get returns one message with decrypted content. Participant-gated like
// List.
func (s *MessageService) Get(ctx context.Context, chatID, callerID, messageID string) (*domain.Message, error) {
	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(callerID) {
		return nil, ErrForbidden
	}
	msg, err := s.loadMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	msg.Content = s.Cipher.Decrypt(chatID, msg.Content)
	return msg, nil
}

// List returns the full ordered log for a chat with decrypted content.
// Undecryptable bodies render as "" per the fail-soft cipher policy.
func (s *MessageService) List(ctx context.Context, chatID, callerID string) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", callerID),
		),
	)
	defer span.End()

	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(callerID) {
		return nil, ErrForbidden
	}

	msgs, err := repo.ListMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, storeErr(err)
	}
	for i := range msgs {
		msgs[i].Content = s.Cipher.Decrypt(chatID, msgs[i].Content)
	}
	return msgs, nil
}

// ListPage returns a page of the log in the same order as List, plus the
// total count for pagination metadata.
func (s *MessageService) ListPage(ctx context.Context, chatID, callerID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, 0, err
	}
	if !chat.HasParticipant(callerID) {
		return nil, 0, ErrForbidden
	}

	total, err := repo.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	msgs, err := repo.ListMessagesPage(ctx, s.DB, chatID, offset, pageSize)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	for i := range msgs {
		msgs[i].Content = s.Cipher.Decrypt(chatID, msgs[i].Content)
	}
	return msgs, total, nil
}

// MarkRead sets read=true on a message the viewer received, and flips the
// chat's denormalized last-message read flag when the message is the current
// last. A viewer with read receipts disabled gets a silent no-op: the policy
// suppresses their acknowledgments without erroring the caller.
func (s *MessageService) MarkRead(ctx context.Context, chatID, viewerID, messageID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.id", messageID),
			attribute.String("user.id", viewerID),
		),
	)
	defer span.End()

	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()

	if strings.TrimSpace(viewerID) == "" {
		return ErrNotAuthenticated
	}

	msg, err := s.loadMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if msg.ReceiverID != viewerID {
		return ErrForbidden
	}
	if msg.Read {
		return nil
	}

	viewer, err := repo.GetUser(ctx, s.DB, viewerID)
	if err == nil && !viewer.ReadReceipts {
		return nil
	}
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return storeErr(err)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkMessageRead(ctx, tx, chatID, messageID); err != nil {
			return err
		}
		return repo.MarkLastMessageRead(ctx, tx, chatID, messageID)
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		return storeErr(err)
	}

	s.notifyChat(ctx, chatID)
	return nil
}

// loadMessage maps repo-level not-found to the service sentinel.
func (s *MessageService) loadMessage(ctx context.Context, chatID, messageID string) (*domain.Message, error) {
	msg, err := repo.GetMessage(ctx, s.DB, chatID, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return msg, nil
}

// notifyChat publishes the chat's current record. Best effort.
func (s *MessageService) notifyChat(ctx context.Context, chatID string) {
	if s.Notifier == nil {
		return
	}
	c, err := repo.GetChat(ctx, s.DB, chatID)
	if err != nil {
		return
	}
	s.Notifier.ChatChanged(*c)
}
