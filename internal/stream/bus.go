// Package stream implements the realtime layer of the chat backend: an
// in-process change bus, the per-user fan-in aggregator that merges
// membership and chat subscriptions into one sorted chat list, the
// optimistic send pipeline, and the read-receipt tracker.
//
// The bus replaces the hosted document store's subscribe primitive: every
// successful directory or message mutation publishes a full current-state
// snapshot, subscribers receive the retained snapshot immediately on
// subscribe and then one per change, and cancellation is idempotent and safe
// to call from inside a snapshot callback.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// subBuffer is the per-subscriber channel depth. Snapshots are full state,
// so dropping an older undelivered one in favor of a newer is lossless.
const subBuffer = 16

type subscriber struct {
	ch      chan any
	stopped atomic.Bool
}

// Bus is an in-process snapshot publisher. It retains the latest snapshot
// per topic and replays it to new subscribers. Bus implements
// services.ChangeNotifier so it can be handed directly to the service layer.
type Bus struct {
	mu     sync.Mutex
	nextID int

	memberSubs map[string]map[int]*subscriber
	chatSubs   map[string]map[int]*subscriber

	lastMembers map[string][]string
	lastChats   map[string]domain.Chat
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{
		memberSubs:  make(map[string]map[int]*subscriber),
		chatSubs:    make(map[string]map[int]*subscriber),
		lastMembers: make(map[string][]string),
		lastChats:   make(map[string]domain.Chat),
	}
}

// MembershipChanged publishes a user's full membership list.
func (b *Bus) MembershipChanged(userID string, peers []string) {
	cp := append([]string(nil), peers...)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastMembers[userID] = cp
	deliverAll(b.memberSubs[userID], cp)
}

// ChatChanged publishes a chat's full record.
func (b *Bus) ChatChanged(chat domain.Chat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastChats[chat.ID] = chat
	deliverAll(b.chatSubs[chat.ID], chat)
}

// LastChat returns the retained snapshot for a chat, if any.
func (b *Bus) LastChat(chatID string) (domain.Chat, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.lastChats[chatID]
	return c, ok
}

// LastMembers returns the retained membership snapshot for a user, if any.
func (b *Bus) LastMembers(userID string) ([]string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers, ok := b.lastMembers[userID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), peers...), true
}

// SubscribeMembership registers fn for a user's membership snapshots. If a
// retained snapshot exists it is delivered first. The returned cancel is
// idempotent and safe to call from within fn; fn is never invoked after
// cancel returns observably cancelled state.
func (b *Bus) SubscribeMembership(userID string, fn func(peers []string)) (cancel func()) {
	return b.subscribe(b.memberSubs, userID, func(v any) {
		fn(v.([]string))
	}, func() (any, bool) {
		peers, ok := b.lastMembers[userID]
		if !ok {
			return nil, false
		}
		return append([]string(nil), peers...), true
	})
}

// SubscribeChat registers fn for one chat's record snapshots, with the same
// replay and cancellation semantics as SubscribeMembership.
func (b *Bus) SubscribeChat(chatID string, fn func(chat domain.Chat)) (cancel func()) {
	return b.subscribe(b.chatSubs, chatID, func(v any) {
		fn(v.(domain.Chat))
	}, func() (any, bool) {
		c, ok := b.lastChats[chatID]
		return c, ok
	})
}

// subscribe wires a subscriber into the topic map, replays the retained
// snapshot, and spawns the drain goroutine. retained is called under the bus
// mutex.
func (b *Bus) subscribe(topics map[string]map[int]*subscriber, key string, fn func(any), retained func() (any, bool)) func() {
	sub := &subscriber{ch: make(chan any, subBuffer)}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if topics[key] == nil {
		topics[key] = make(map[int]*subscriber)
	}
	topics[key][id] = sub
	if v, ok := retained(); ok {
		deliver(sub, v)
	}
	b.mu.Unlock()

	go func() {
		for v := range sub.ch {
			if sub.stopped.Load() {
				return
			}
			fn(v)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.stopped.Store(true)
			b.mu.Lock()
			if m := topics[key]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(topics, key)
				}
			}
			close(sub.ch)
			b.mu.Unlock()
		})
	}
}

// deliver pushes a snapshot without ever blocking the publisher: when the
// buffer is full the oldest undelivered snapshot is evicted first.
func deliver(sub *subscriber, v any) {
	if sub.stopped.Load() {
		return
	}
	select {
	case sub.ch <- v:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- v:
	default:
	}
}

func deliverAll(subs map[int]*subscriber, v any) {
	for _, sub := range subs {
		deliver(sub, v)
	}
}
