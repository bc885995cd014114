// Package presence tracks online status, last-seen timestamps, and per-chat
// unread counters in Redis. Heartbeats write a TTL'd key per user, so
// "online" is simply "has a live heartbeat key"; the last-seen timestamp is
// written alongside without a TTL and survives the heartbeat expiring.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultHeartbeatTTL is how long one heartbeat keeps a user online.
	DefaultHeartbeatTTL = 45 * time.Second

	// Redis key prefixes.
	onlinePrefix   = "presence:online:"   // presence:online:{userId} - TTL'd heartbeat
	lastSeenPrefix = "presence:lastseen:" // presence:lastseen:{userId} - unix millis
	unreadPrefix   = "chat:unread:"       // chat:unread:{userId}:{chatId} - counter
)

// Tracker is the Redis-backed presence and unread-count store.
type Tracker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTracker constructs a Tracker. A non-positive ttl selects
// DefaultHeartbeatTTL.
func NewTracker(rdb *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}
	return &Tracker{rdb: rdb, ttl: ttl}
}

// Heartbeat records that the user is online right now.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	if err := t.rdb.Set(ctx, onlinePrefix+userID, now.UnixMilli(), t.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	if err := t.rdb.Set(ctx, lastSeenPrefix+userID, now.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("failed to write last seen: %w", err)
	}
	return nil
}

// Offline drops the user's heartbeat immediately (clean disconnect) and
// stamps last seen.
func (t *Tracker) Offline(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	if err := t.rdb.Del(ctx, onlinePrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to drop heartbeat: %w", err)
	}
	if err := t.rdb.Set(ctx, lastSeenPrefix+userID, now.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("failed to write last seen: %w", err)
	}
	return nil
}

// IsOnline reports whether the user has a live heartbeat.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, onlinePrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check heartbeat: %w", err)
	}
	return n > 0, nil
}

// LastSeen returns the user's last recorded activity, or nil when the user
// has never been seen.
func (t *Tracker) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	raw, err := t.rdb.Get(ctx, lastSeenPrefix+userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last seen: %w", err)
	}
	ts, err := ParseLastSeen(raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// ParseLastSeen decodes the stored unix-millisecond representation.
func ParseLastSeen(raw string) (time.Time, error) {
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed last-seen value %q: %w", raw, err)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// unreadKey builds the per-user, per-chat counter key.
func unreadKey(userID, chatID string) string {
	return unreadPrefix + userID + ":" + chatID
}

// IncrUnread bumps the recipient's unread counter for a chat and returns the
// new count. Called after every delivered message.
func (t *Tracker) IncrUnread(ctx context.Context, userID, chatID string) (int64, error) {
	n, err := t.rdb.Incr(ctx, unreadKey(userID, chatID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump unread counter: %w", err)
	}
	return n, nil
}

// ClearUnread resets the counter, typically when the user reads the chat.
func (t *Tracker) ClearUnread(ctx context.Context, userID, chatID string) error {
	if err := t.rdb.Del(ctx, unreadKey(userID, chatID)).Err(); err != nil {
		return fmt.Errorf("failed to clear unread counter: %w", err)
	}
	return nil
}

// Unread returns the current counter value; a missing key reads as zero.
func (t *Tracker) Unread(ctx context.Context, userID, chatID string) (int64, error) {
	raw, err := t.rdb.Get(ctx, unreadKey(userID, chatID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read unread counter: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed unread counter %q: %w", raw, err)
	}
	return n, nil
}
