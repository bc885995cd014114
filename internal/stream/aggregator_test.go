package stream

import (
	"context"
	"testing"
	"time"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

func chatAt(id string, at *time.Time) domain.Chat {
	return domain.Chat{ID: id, LastMessageCreatedAt: at}
}

func waitLists(t *testing.T, ch <-chan []domain.Chat, pred func([]domain.Chat) bool) []domain.Chat {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case list := <-ch:
			if pred(list) {
				return list
			}
		case <-deadline:
			t.Fatalf("timed out waiting for expected chat list")
			return nil
		}
	}
}

func TestAggregator_WatchesMembershipAndChats(t *testing.T) {
	bus := NewBus()
	lists := make(chan []domain.Chat, 16)
	agg := NewAggregator(bus, "u1", func(l []domain.Chat) { lists <- l })
	agg.Start(context.Background())
	defer agg.Stop()

	bus.MembershipChanged("u1", []string{"u2"})
	now := time.Now().UTC()
	bus.ChatChanged(chatAt("u1_u2", &now))

	got := waitLists(t, lists, func(l []domain.Chat) bool { return len(l) == 1 })
	if got[0].ID != "u1_u2" {
		t.Fatalf("list = %+v", got)
	}

	// A second member appears; its chat has a newer message and sorts first.
	bus.MembershipChanged("u1", []string{"u2", "u3"})
	later := now.Add(time.Minute)
	bus.ChatChanged(chatAt("u1_u3", &later))

	got = waitLists(t, lists, func(l []domain.Chat) bool { return len(l) == 2 })
	if got[0].ID != "u1_u3" || got[1].ID != "u1_u2" {
		t.Fatalf("order = %s,%s; want u1_u3,u1_u2", got[0].ID, got[1].ID)
	}
}

func TestAggregator_EmptyChatsSortLast(t *testing.T) {
	bus := NewBus()
	lists := make(chan []domain.Chat, 16)
	agg := NewAggregator(bus, "u1", func(l []domain.Chat) { lists <- l })
	agg.Start(context.Background())
	defer agg.Stop()

	now := time.Now().UTC()
	bus.MembershipChanged("u1", []string{"u2", "u3"})
	bus.ChatChanged(chatAt("u1_u3", nil)) // never messaged
	bus.ChatChanged(chatAt("u1_u2", &now))

	got := waitLists(t, lists, func(l []domain.Chat) bool {
		return len(l) == 2 && l[0].LastMessageCreatedAt != nil
	})
	if got[0].ID != "u1_u2" || got[1].ID != "u1_u3" {
		t.Fatalf("nulls-last violated: %s,%s", got[0].ID, got[1].ID)
	}
}

func TestAggregator_RemovalDropsWatchAndState(t *testing.T) {
	bus := NewBus()
	lists := make(chan []domain.Chat, 16)
	agg := NewAggregator(bus, "u1", func(l []domain.Chat) { lists <- l })
	agg.Start(context.Background())
	defer agg.Stop()

	now := time.Now().UTC()
	bus.MembershipChanged("u1", []string{"u2", "u3"})
	bus.ChatChanged(chatAt("u1_u2", &now))
	bus.ChatChanged(chatAt("u1_u3", &now))
	waitLists(t, lists, func(l []domain.Chat) bool { return len(l) == 2 })

	// u3 leaves the membership list.
	bus.MembershipChanged("u1", []string{"u2"})
	waitLists(t, lists, func(l []domain.Chat) bool { return len(l) == 1 })

	// Updates for the removed chat no longer reach the view.
	later := now.Add(time.Hour)
	bus.ChatChanged(chatAt("u1_u3", &later))
	time.Sleep(50 * time.Millisecond)
	if got := agg.Chats(); len(got) != 1 || got[0].ID != "u1_u2" {
		t.Fatalf("removed chat resurfaced: %+v", got)
	}
}

func TestAggregator_PrimesFromLoaders(t *testing.T) {
	bus := NewBus()
	lists := make(chan []domain.Chat, 16)
	agg := NewAggregator(bus, "u1", func(l []domain.Chat) { lists <- l })

	now := time.Now().UTC()
	agg.LoadMembers = func(ctx context.Context, userID string) ([]string, error) {
		return []string{"u2"}, nil
	}
	agg.LoadChat = func(ctx context.Context, chatID string) (*domain.Chat, error) {
		c := chatAt(chatID, &now)
		return &c, nil
	}

	agg.Start(context.Background())
	defer agg.Stop()

	got := waitLists(t, lists, func(l []domain.Chat) bool { return len(l) == 1 })
	if got[0].ID != "u1_u2" {
		t.Fatalf("primed list = %+v", got)
	}
}

func TestAggregator_StopDropsLateSnapshots(t *testing.T) {
	bus := NewBus()
	lists := make(chan []domain.Chat, 16)
	agg := NewAggregator(bus, "u1", func(l []domain.Chat) { lists <- l })
	agg.Start(context.Background())

	now := time.Now().UTC()
	bus.MembershipChanged("u1", []string{"u2"})
	bus.ChatChanged(chatAt("u1_u2", &now))
	waitLists(t, lists, func(l []domain.Chat) bool { return len(l) == 1 })

	agg.Stop()
	agg.Stop() // idempotent

	// Simulate an in-flight snapshot arriving after teardown.
	agg.onChat(chatAt("u1_u2", &now))
	agg.onMembership([]string{"u2", "u3"})

	if got := agg.Chats(); len(got) != 0 {
		t.Fatalf("state mutated after stop: %+v", got)
	}
	select {
	case l := <-lists:
		t.Fatalf("delivery after stop: %+v", l)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAggregator_StopFromWithinDelivery(t *testing.T) {
	bus := NewBus()
	done := make(chan struct{})
	var agg *Aggregator
	agg = NewAggregator(bus, "u1", func([]domain.Chat) {
		agg.Stop()
		select {
		case <-done:
		default:
			close(done)
		}
	})
	agg.Start(context.Background())

	now := time.Now().UTC()
	bus.MembershipChanged("u1", []string{"u2"})
	bus.ChatChanged(chatAt("u1_u2", &now))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery callback never ran")
	}
	if got := agg.Chats(); len(got) != 0 {
		t.Fatalf("state survived reentrant stop: %+v", got)
	}
}

func TestAggregator_StartAfterStopIsNoOp(t *testing.T) {
	bus := NewBus()
	lists := make(chan []domain.Chat, 16)
	agg := NewAggregator(bus, "u1", func(l []domain.Chat) { lists <- l })
	agg.Stop()
	agg.Start(context.Background())

	bus.MembershipChanged("u1", []string{"u2"})
	bus.ChatChanged(chatAt("u1_u2", nil))

	select {
	case l := <-lists:
		t.Fatalf("stopped aggregator delivered: %+v", l)
	case <-time.After(50 * time.Millisecond):
	}
}
