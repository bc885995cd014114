package stream

import (
	"sort"
	"time"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

// TimelineEntry is one row of the merged optimistic-plus-confirmed view of a
// chat. CreatedAt is a pointer because an entry whose timestamp has not been
// resolved yet must sort last, never first.
type TimelineEntry struct {
	ID         string     `json:"id"`
	ChatID     string     `json:"chat_id"`
	SenderID   string     `json:"sender_id"`
	ReceiverID string     `json:"receiver_id"`
	Content    string     `json:"content"`
	CreatedAt  *time.Time `json:"created_at"`
	Read       bool       `json:"read"`
	Edited     bool       `json:"edited"`
	Optimistic bool       `json:"optimistic"`
	Status     Status     `json:"status,omitempty"`
}

// MergeTimeline merges the authoritative log with the staged optimistic
// messages into one ascending timeline. Confirmed entries win on id
// collision, and entries without a timestamp sort after everything else.
func MergeTimeline(confirmed []domain.Message, staged []OptimisticMessage) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(confirmed)+len(staged))
	seen := make(map[string]struct{}, len(confirmed))

	for i := range confirmed {
		m := &confirmed[i]
		seen[m.ID] = struct{}{}
		created := m.CreatedAt
		entry := TimelineEntry{
			ID:         m.ID,
			ChatID:     m.ChatID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Content:    m.Content,
			Read:       m.Read,
			Edited:     m.Edited(),
		}
		if !created.IsZero() {
			entry.CreatedAt = &created
		}
		out = append(out, entry)
	}

	for i := range staged {
		m := &staged[i]
		if _, dup := seen[m.ID]; dup {
			continue
		}
		created := m.CreatedAt
		entry := TimelineEntry{
			ID:         m.ID,
			ChatID:     m.ChatID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Content:    m.Content,
			Optimistic: true,
			Status:     m.Status,
		}
		if !created.IsZero() {
			entry.CreatedAt = &created
		}
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out
}
