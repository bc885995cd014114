package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

func newMsg(chatID, sender, receiver, content string, at time.Time) *domain.Message {
	return &domain.Message{
		ChatID:     chatID,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func TestCreateMessage_AssignsIDAndSeq(t *testing.T) {
	db := newTestDB(t, &domain.Message{})
	ctx := context.Background()
	now := time.Now().UTC()

	m1 := newMsg("u1_u2", "u1", "u2", "c1", now)
	m2 := newMsg("u1_u2", "u2", "u1", "c2", now) // same timestamp on purpose
	if err := CreateMessage(ctx, db, m1); err != nil {
		t.Fatalf("create m1: %v", err)
	}
	if err := CreateMessage(ctx, db, m2); err != nil {
		t.Fatalf("create m2: %v", err)
	}

	if m1.ID == "" || m2.ID == "" || m1.ID == m2.ID {
		t.Fatalf("ids not assigned uniquely: %q %q", m1.ID, m2.ID)
	}
	if m1.Seq != 1 || m2.Seq != 2 {
		t.Fatalf("seq = %d,%d; want 1,2", m1.Seq, m2.Seq)
	}

	// Seq is scoped per chat.
	m3 := newMsg("u1_u3", "u1", "u3", "c3", now)
	if err := CreateMessage(ctx, db, m3); err != nil {
		t.Fatalf("create m3: %v", err)
	}
	if m3.Seq != 1 {
		t.Fatalf("other chat seq = %d; want 1", m3.Seq)
	}
}

func TestListMessages_OrderWithTies(t *testing.T) {
	db := newTestDB(t, &domain.Message{})
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	// Insert out of chronological order; equal timestamps keep insert order.
	mLate := newMsg("u1_u2", "u1", "u2", "late", base.Add(2*time.Second))
	mTieA := newMsg("u1_u2", "u1", "u2", "tie-a", base)
	mTieB := newMsg("u1_u2", "u2", "u1", "tie-b", base)
	for _, m := range []*domain.Message{mLate, mTieA, mTieB} {
		if err := CreateMessage(ctx, db, m); err != nil {
			t.Fatalf("create %s: %v", m.Content, err)
		}
	}

	out, err := ListMessages(ctx, db, "u1_u2")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d; want 3", len(out))
	}
	if out[0].Content != "tie-a" || out[1].Content != "tie-b" || out[2].Content != "late" {
		t.Fatalf("order = %s,%s,%s", out[0].Content, out[1].Content, out[2].Content)
	}
	for i := 1; i < len(out); i++ {
		if out[i].CreatedAt.Before(out[i-1].CreatedAt) {
			t.Fatalf("created_at not non-decreasing at %d", i)
		}
	}
}

func TestListMessagesPage_And_Count(t *testing.T) {
	db := newTestDB(t, &domain.Message{})
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		m := newMsg("u1_u2", "u1", "u2", string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))
		if err := CreateMessage(ctx, db, m); err != nil {
			t.Fatalf("create #%d: %v", i, err)
		}
	}

	total, err := CountMessages(ctx, db, "u1_u2")
	if err != nil || total != 5 {
		t.Fatalf("CountMessages = %d, %v; want 5", total, err)
	}

	page, err := ListMessagesPage(ctx, db, "u1_u2", 2, 2)
	if err != nil {
		t.Fatalf("ListMessagesPage: %v", err)
	}
	if len(page) != 2 || page[0].Content != "c" || page[1].Content != "d" {
		t.Fatalf("page = %+v", page)
	}
}

func TestUpdateMessageContent(t *testing.T) {
	db := newTestDB(t, &domain.Message{})
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	m := newMsg("u1_u2", "u1", "u2", "orig", now)
	if err := CreateMessage(ctx, db, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := now.Add(time.Minute)
	if err := UpdateMessageContent(ctx, db, "u1_u2", m.ID, "edited", later); err != nil {
		t.Fatalf("UpdateMessageContent: %v", err)
	}

	got, err := GetMessage(ctx, db, "u1_u2", m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Content != "edited" || !got.Edited() {
		t.Fatalf("edit not persisted: %+v", got)
	}

	if err := UpdateMessageContent(ctx, db, "u1_u2", "missing", "x", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkMessageRead(t *testing.T) {
	db := newTestDB(t, &domain.Message{})
	ctx := context.Background()

	m := newMsg("u1_u2", "u1", "u2", "x", time.Now().UTC())
	if err := CreateMessage(ctx, db, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := MarkMessageRead(ctx, db, "u1_u2", m.ID); err != nil {
		t.Fatalf("MarkMessageRead: %v", err)
	}
	got, _ := GetMessage(ctx, db, "u1_u2", m.ID)
	if !got.Read {
		t.Fatalf("read flag not set")
	}

	// Marking again is a no-op.
	if err := MarkMessageRead(ctx, db, "u1_u2", m.ID); err != nil {
		t.Fatalf("second MarkMessageRead: %v", err)
	}

	if err := MarkMessageRead(ctx, db, "u1_u2", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing message, got %v", err)
	}
}

func TestDeleteMessage_And_Tail(t *testing.T) {
	db := newTestDB(t, &domain.Message{})
	ctx := context.Background()
	base := time.Now().UTC()

	m1 := newMsg("u1_u2", "u1", "u2", "first", base)
	m2 := newMsg("u1_u2", "u2", "u1", "second", base.Add(time.Second))
	for _, m := range []*domain.Message{m1, m2} {
		if err := CreateMessage(ctx, db, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	tail, err := TailMessage(ctx, db, "u1_u2")
	if err != nil || tail == nil || tail.ID != m2.ID {
		t.Fatalf("tail = %+v, %v; want m2", tail, err)
	}

	if err := DeleteMessage(ctx, db, "u1_u2", m2.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	tail, err = TailMessage(ctx, db, "u1_u2")
	if err != nil || tail == nil || tail.ID != m1.ID {
		t.Fatalf("tail after delete = %+v, %v; want m1", tail, err)
	}

	if err := DeleteMessage(ctx, db, "u1_u2", m1.ID); err != nil {
		t.Fatalf("DeleteMessage m1: %v", err)
	}
	tail, err = TailMessage(ctx, db, "u1_u2")
	if err != nil || tail != nil {
		t.Fatalf("tail of empty log = %+v, %v; want nil, nil", tail, err)
	}

	if err := DeleteMessage(ctx, db, "u1_u2", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
