// Package stream – Aggregator
//
// This file implements the fan-in aggregator: one membership subscription
// plus one live subscription per chat, merged into a single sorted chat
// list. The lifecycle is an explicit state machine (Idle, WatchingMembership,
// per-chat watches, TornDown) with a diff/reconcile step per membership
// snapshot and a guard that drops snapshots arriving after Stop.
package stream

import (
	"context"
	"sync"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// MembersLoader primes the aggregator with the user's membership list when
// the bus has no retained snapshot yet (state that predates this process's
// bus, e.g. rows already in the store at startup).
type MembersLoader func(ctx context.Context, userID string) ([]string, error)

// ChatLoader primes a newly watched chat the same way.
type ChatLoader func(ctx context.Context, chatID string) (*domain.Chat, error)

// Aggregator merges a user's membership subscription and per-chat
// subscriptions into a single chat list, delivered sorted (most recent
// message first, empty chats last) on every change.
//
// Lifecycle: NewAggregator (Idle) -> Start (WatchingMembership, then one
// watch per member chat, reconciled on every membership snapshot) -> Stop
// (TornDown). Stop is unconditional, idempotent, and safe to call from
// within a delivery callback; snapshots arriving after Stop are dropped.
type Aggregator struct {
	// LoadMembers and LoadChat are optional store primers, consulted only
	// when the bus has nothing retained for a topic. Set before Start.
	LoadMembers MembersLoader
	LoadChat    ChatLoader

	bus     *Bus
	userID  string
	deliver func([]domain.Chat)

	mu               sync.Mutex
	started          bool
	stopped          bool
	ctx              context.Context
	chats            map[string]domain.Chat
	watches          map[string]func()
	cancelMembership func()
}

// NewAggregator constructs an idle aggregator for one user. deliver receives
// the full sorted chat list on every change; it must not be nil.
func NewAggregator(bus *Bus, userID string, deliver func([]domain.Chat)) *Aggregator {
	return &Aggregator{
		bus:     bus,
		userID:  userID,
		deliver: deliver,
		chats:   make(map[string]domain.Chat),
		watches: make(map[string]func()),
	}
}

// Start enters WatchingMembership. Calling Start twice, or after Stop, is a
// no-op.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started || a.stopped {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.ctx = ctx
	a.mu.Unlock()

	a.cancelMembershipSet(a.bus.SubscribeMembership(a.userID, a.onMembership))

	if _, ok := a.bus.LastMembers(a.userID); !ok && a.LoadMembers != nil {
		if peers, err := a.LoadMembers(ctx, a.userID); err == nil {
			a.onMembership(peers)
		}
	}
}

func (a *Aggregator) cancelMembershipSet(cancel func()) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		cancel()
		return
	}
	a.cancelMembership = cancel
	a.mu.Unlock()
}

// Stop tears everything down: the membership watch, every per-chat watch,
// and the in-memory map. Safe to call multiple times and from within a
// delivery callback.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	cm := a.cancelMembership
	a.cancelMembership = nil
	cancels := make([]func(), 0, len(a.watches))
	for _, c := range a.watches {
		if c != nil {
			cancels = append(cancels, c)
		}
	}
	a.watches = make(map[string]func())
	a.chats = make(map[string]domain.Chat)
	a.mu.Unlock()

	if cm != nil {
		cm()
	}
	for _, c := range cancels {
		c()
	}
}

// Chats returns the current sorted view.
func (a *Aggregator) Chats() []domain.Chat {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortedLocked()
}

// onMembership reconciles the watched chat set against a membership
// snapshot: additions get a new per-chat watch, removals are cancelled and
// dropped from the map.
func (a *Aggregator) onMembership(peers []string) {
	desired := make(map[string]struct{}, len(peers))
	for _, peer := range peers {
		desired[domain.ChatID(a.userID, peer)] = struct{}{}
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	ctx := a.ctx

	var added []string
	for id := range desired {
		if _, ok := a.watches[id]; !ok {
			added = append(added, id)
			a.watches[id] = nil // reserved; cancel installed below
		}
	}

	var removedCancels []func()
	changed := false
	for id, cancel := range a.watches {
		if _, ok := desired[id]; !ok {
			if cancel != nil {
				removedCancels = append(removedCancels, cancel)
			}
			delete(a.watches, id)
			delete(a.chats, id)
			changed = true
		}
	}
	a.mu.Unlock()

	for _, cancel := range removedCancels {
		cancel()
	}

	for _, id := range added {
		chatID := id
		cancel := a.bus.SubscribeChat(chatID, a.onChat)
		a.mu.Lock()
		if a.stopped {
			a.mu.Unlock()
			cancel()
			continue
		}
		if _, ok := a.watches[chatID]; !ok {
			// Removed by a newer membership snapshot while subscribing.
			a.mu.Unlock()
			cancel()
			continue
		}
		a.watches[chatID] = cancel
		a.mu.Unlock()

		if _, ok := a.bus.LastChat(chatID); !ok && a.LoadChat != nil && ctx != nil {
			if c, err := a.LoadChat(ctx, chatID); err == nil && c != nil {
				a.onChat(*c)
			}
		}
	}

	if changed {
		a.deliverCurrent()
	}
}

// onChat applies one chat snapshot. Late snapshots after Stop, or for chats
// no longer watched, are dropped.
func (a *Aggregator) onChat(c domain.Chat) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	if _, watching := a.watches[c.ID]; !watching {
		a.mu.Unlock()
		return
	}
	a.chats[c.ID] = c
	a.mu.Unlock()

	a.deliverCurrent()
}

func (a *Aggregator) deliverCurrent() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	list := a.sortedLocked()
	a.mu.Unlock()

	a.deliver(list)
}

func (a *Aggregator) sortedLocked() []domain.Chat {
	list := make([]domain.Chat, 0, len(a.chats))
	for _, c := range a.chats {
		list = append(list, c)
	}
	domain.SortChatsByRecency(list)
	return list
}
