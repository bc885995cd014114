package domain

import "sort"

// SortChatsByRecency orders chats for list display: descending by
// LastMessageCreatedAt, chats without any message last. Ties fall back to the
// chat id so the order is deterministic.
func SortChatsByRecency(chats []Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i].LastMessageCreatedAt, chats[j].LastMessageCreatedAt
		switch {
		case a == nil && b == nil:
			return chats[i].ID < chats[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return chats[i].ID < chats[j].ID
		default:
			return a.After(*b)
		}
	})
}
