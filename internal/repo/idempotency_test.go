package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

func TestCreateIdempotency_AndGet(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "u1", "u1_u2", "key-1", "m1", 201, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" || rec.MessageID != "m1" || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "u1", "u1_u2", "key-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MessageID != "m1" {
		t.Fatalf("got %+v", got)
	}
}

func TestCreateIdempotency_Duplicate(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "u1", "u1_u2", "key-1", "m1", 201, time.Hour); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "u1_u2", "key-1", "m2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetIdempotency_ExpiredOrMissing(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()

	if _, err := GetIdempotency(ctx, db, "u1", "u1_u2", "nope", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: expected ErrNotFound, got %v", err)
	}

	if _, err := CreateIdempotency(ctx, db, "u1", "u1_u2", "key-1", "m1", 201, time.Millisecond); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "u1_u2", "key-1", time.Now().Add(time.Second)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired: expected ErrNotFound, got %v", err)
	}

	// Blank chat id short-circuits.
	if _, err := GetIdempotency(ctx, db, "u1", "  ", "key-1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank chat: expected ErrNotFound, got %v", err)
	}
}
