// Package stream – ReadTracker
//
// This file implements the visibility-driven read-marking policy. A message
// is marked read only when all four conditions hold: it is not the viewer's
// own message, it is not already read, the viewer has read receipts enabled,
// and it has stayed visible above the threshold for a full debounce
// interval. The debounce keeps rapidly-scrolled-past messages unread.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// Defaults for the visibility policy.
const (
	DefaultVisibilityThreshold = 0.5
	DefaultReadDebounce        = 1500 * time.Millisecond
)

// MarkFunc performs the authoritative read-marking write.
type MarkFunc func(ctx context.Context, chatID, messageID string) error

type visKey struct {
	chatID    string
	messageID string
}

// ReadTracker accumulates visibility reports for one viewer session and
// marks messages read once the policy is satisfied.
type ReadTracker struct {
	// Threshold is the minimum visible fraction. Zero means
	// DefaultVisibilityThreshold.
	Threshold float64
	// Debounce is how long visibility must be sustained. Zero means
	// DefaultReadDebounce.
	Debounce time.Duration
	// Now is the clock used for debounce timing. Nil means time.Now in UTC.
	Now func() time.Time

	viewerID        string
	receiptsEnabled bool
	mark            MarkFunc

	mu           sync.Mutex
	visibleSince map[visKey]time.Time
	marked       map[visKey]struct{}
}

// NewReadTracker constructs a tracker for one viewer. receiptsEnabled
// reflects the viewer's read-receipt preference; when false every
// acknowledgment is suppressed.
func NewReadTracker(viewerID string, receiptsEnabled bool, mark MarkFunc) *ReadTracker {
	return &ReadTracker{
		viewerID:        viewerID,
		receiptsEnabled: receiptsEnabled,
		mark:            mark,
		visibleSince:    make(map[visKey]time.Time),
		marked:          make(map[visKey]struct{}),
	}
}

func (t *ReadTracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now().UTC()
}

func (t *ReadTracker) threshold() float64 {
	if t.Threshold > 0 {
		return t.Threshold
	}
	return DefaultVisibilityThreshold
}

func (t *ReadTracker) debounce() time.Duration {
	if t.Debounce > 0 {
		return t.Debounce
	}
	return DefaultReadDebounce
}

// Observe records one visibility report for a message. A report below the
// threshold resets the sustained-visibility clock; a message that is the
// viewer's own or already read is ignored entirely.
func (t *ReadTracker) Observe(m domain.Message, visibility float64) {
	if m.SenderID == t.viewerID || m.Read {
		return
	}
	key := visKey{chatID: m.ChatID, messageID: m.ID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, done := t.marked[key]; done {
		return
	}
	if visibility < t.threshold() {
		delete(t.visibleSince, key)
		return
	}
	if _, ok := t.visibleSince[key]; !ok {
		t.visibleSince[key] = t.now()
	}
}

// Sweep marks every message whose visibility has been sustained for the
// debounce interval. It returns the ids actually marked. With read receipts
// disabled nothing is ever marked, though visibility is still tracked so a
// preference toggle takes effect naturally.
func (t *ReadTracker) Sweep(ctx context.Context) []string {
	if !t.receiptsEnabled {
		return nil
	}

	now := t.now()
	t.mu.Lock()
	due := make([]visKey, 0, len(t.visibleSince))
	for key, since := range t.visibleSince {
		if now.Sub(since) >= t.debounce() {
			due = append(due, key)
		}
	}
	t.mu.Unlock()

	marked := make([]string, 0, len(due))
	for _, key := range due {
		if err := t.mark(ctx, key.chatID, key.messageID); err != nil {
			continue
		}
		t.mu.Lock()
		delete(t.visibleSince, key)
		t.marked[key] = struct{}{}
		t.mu.Unlock()
		marked = append(marked, key.messageID)
	}
	return marked
}
