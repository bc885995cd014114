// Package services – DirectoryService
//
// This file implements the DirectoryService, which manages the chat
// directory: the per-pair chat records and each user's membership list.
// Chat creation is idempotent (re-creating an existing chat is a no-op) and
// the membership dual-write is self-healing: if one side of the pair ever
// goes missing, the next CreateChat call for the same pair re-adds it.
//
// Service-level errors (e.g., ErrChatNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/bazaarhq/chat-backend/internal/domain"
	"github.com/bazaarhq/chat-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ChangeNotifier receives change events after successful directory or
// message mutations. The realtime layer implements it to fan snapshots out
// to live subscribers; a nil notifier disables publication.
type ChangeNotifier interface {
	// MembershipChanged delivers the user's full membership list after it
	// changed.
	MembershipChanged(userID string, peers []string)

	// ChatChanged delivers the full chat record after any mutation that
	// touched it.
	ChatChanged(chat domain.Chat)
}

// DirectoryService owns chat records and membership lists.
type DirectoryService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Notifier publishes directory changes to the realtime layer. Optional.
	Notifier ChangeNotifier

	// StoreTimeout bounds each operation's persistence work. Zero disables
	// the deadline.
	StoreTimeout time.Duration
}

// NewDirectoryService constructs a DirectoryService.
func NewDirectoryService(db *gorm.DB, n ChangeNotifier) *DirectoryService {
	return &DirectoryService{DB: db, Notifier: n}
}

// storeErr wraps persistence-layer failures as retryable ErrStoreUnavailable.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// storeCtx bounds one store operation by the configured timeout so a wedged
// driver surfaces ErrStoreUnavailable (via storeErr on the context error)
// instead of hanging. A zero or negative timeout leaves ctx untouched.
func storeCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// CreateChat upserts the chat record for the caller/peer pair and appends
// each id to the other's membership list. The whole operation is idempotent:
// creating an already-existing chat leaves the record untouched and the
// membership writes have set semantics, so repeated calls reconcile a
// previously partial dual-write instead of duplicating entries.
//
// The caller must be one of the two participants; their profile snapshots
// are mirrored into the users table so read-receipt preferences have a row
// to live on.
func (s *DirectoryService) CreateChat(ctx context.Context, caller, peer domain.Participant) (*domain.Chat, error) {
	tr := otel.Tracer("services/DirectoryService")
	ctx, span := tr.Start(ctx, "CreateChat",
		trace.WithAttributes(
			attribute.String("user.id", caller.ID),
			attribute.String("peer.id", peer.ID),
		),
	)
	defer span.End()

	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()

	if strings.TrimSpace(caller.ID) == "" {
		return nil, ErrNotAuthenticated
	}
	if strings.TrimSpace(peer.ID) == "" {
		return nil, ErrUserNotFound
	}
	if caller.ID == peer.ID {
		return nil, ErrNotParticipant
	}

	chatID := domain.ChatID(caller.ID, peer.ID)
	a, b := caller, peer
	if b.ID < a.ID {
		a, b = b, a
	}
	chat := &domain.Chat{
		ID:           chatID,
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    time.Now().UTC(),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range []domain.Participant{caller, peer} {
			u := &domain.User{
				ID:           p.ID,
				DisplayName:  p.DisplayName,
				AvatarRef:    p.AvatarRef,
				ReadReceipts: true,
			}
			if err := repo.UpsertUser(ctx, tx, u); err != nil {
				return err
			}
		}
		if err := repo.UpsertChat(ctx, tx, chat); err != nil {
			return err
		}
		if err := repo.AddMember(ctx, tx, caller.ID, peer.ID); err != nil {
			return err
		}
		return repo.AddMember(ctx, tx, peer.ID, caller.ID)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	// The upsert is a no-op for an existing pair; reload so callers get the
	// current record, last message included.
	current, err := repo.GetChat(ctx, s.DB, chatID)
	if err != nil {
		return nil, storeErr(err)
	}

	s.notifyMembership(ctx, caller.ID)
	s.notifyMembership(ctx, peer.ID)
	if s.Notifier != nil {
		s.Notifier.ChatChanged(*current)
	}
	return current, nil
}

// GetUserChats resolves the user's membership list into chat records, sorted
// for display (most recent message first, empty chats last). A membership
// entry whose chat record is missing is skipped, not treated as fatal.
func (s *DirectoryService) GetUserChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	tr := otel.Tracer("services/DirectoryService")
	ctx, span := tr.Start(ctx, "GetUserChats",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()

	if strings.TrimSpace(userID) == "" {
		return nil, ErrNotAuthenticated
	}

	peers, err := repo.ListMembers(ctx, s.DB, userID)
	if err != nil {
		return nil, storeErr(err)
	}

	chats := make([]domain.Chat, 0, len(peers))
	for _, peer := range peers {
		c, err := repo.GetChat(ctx, s.DB, domain.ChatID(userID, peer))
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		chats = append(chats, *c)
	}

	domain.SortChatsByRecency(chats)
	return chats, nil
}

// Members returns the raw membership list (counterpart ids, oldest first).
func (s *DirectoryService) Members(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrNotAuthenticated
	}
	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()
	peers, err := repo.ListMembers(ctx, s.DB, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return peers, nil
}

// TouchLastMessage overwrites the chat's denormalized last message with m,
// but only when m actually is (or supersedes) the current last message. An
// edit of an older message is a no-op here.
func (s *DirectoryService) TouchLastMessage(ctx context.Context, chatID string, m *domain.Message) error {
	tr := otel.Tracer("services/DirectoryService")
	ctx, span := tr.Start(ctx, "TouchLastMessage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.id", m.ID),
		),
	)
	defer span.End()

	ctx, cancel := storeCtx(ctx, s.StoreTimeout)
	defer cancel()

	chat, err := repo.GetChat(ctx, s.DB, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrChatNotFound
	}
	if err != nil {
		return storeErr(err)
	}

	if chat.Last.ID != "" && chat.Last.ID != m.ID &&
		chat.LastMessageCreatedAt != nil && m.CreatedAt.Before(*chat.LastMessageCreatedAt) {
		return nil
	}

	if err := repo.UpdateLastMessage(ctx, s.DB, chatID, m.AsLastMessage()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrChatNotFound
		}
		return storeErr(err)
	}
	s.notifyChat(ctx, chatID)
	return nil
}

// notifyMembership publishes the user's current membership list. Best
// effort: a read failure here must not fail the mutation that triggered it.
func (s *DirectoryService) notifyMembership(ctx context.Context, userID string) {
	if s.Notifier == nil {
		return
	}
	peers, err := repo.ListMembers(ctx, s.DB, userID)
	if err != nil {
		return
	}
	s.Notifier.MembershipChanged(userID, peers)
}

// notifyChat publishes the chat's current record. Best effort.
func (s *DirectoryService) notifyChat(ctx context.Context, chatID string) {
	if s.Notifier == nil {
		return
	}
	c, err := repo.GetChat(ctx, s.DB, chatID)
	if err != nil {
		return
	}
	s.Notifier.ChatChanged(*c)
}
