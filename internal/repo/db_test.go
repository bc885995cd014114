package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "does", "not", "exist.db"))
	if err == nil {
		t.Fatalf("expected error for missing parent directory")
	}
}

func TestOpenSQLite_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// Every table is usable after migration.
	ctx := context.Background()
	if err := UpsertUser(ctx, db, &domain.User{ID: "u1", ReadReceipts: true}); err != nil {
		t.Fatalf("user insert: %v", err)
	}
	if err := UpsertChat(ctx, db, testChat("u1", "u2")); err != nil {
		t.Fatalf("chat insert: %v", err)
	}
	if err := AddMember(ctx, db, "u1", "u2"); err != nil {
		t.Fatalf("member insert: %v", err)
	}
	if err := CreateMessage(ctx, db, newMsg(domain.ChatID("u1", "u2"), "u1", "u2", "ct", time.Now().UTC())); err != nil {
		t.Fatalf("message insert: %v", err)
	}
}
