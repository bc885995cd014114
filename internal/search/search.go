// Package search filters a user's chat list by counterpart display name.
// Matching is case-folded via golang.org/x/text so queries like "ANN" or
// "straße" match regardless of letter case, including non-ASCII folds.
package search

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/bazaarhq/chat-backend/internal/domain"
)

var folder = cases.Fold()

// normalize case-folds and trims a string for comparison.
func normalize(s string) string {
	return folder.String(strings.TrimSpace(s))
}

// MatchChat reports whether the chat's counterpart (relative to viewerID)
// matches the query by display name or user id substring.
func MatchChat(chat *domain.Chat, viewerID, query string) bool {
	q := normalize(query)
	if q == "" {
		return true
	}
	peer := chat.Peer(viewerID)
	return strings.Contains(normalize(peer.DisplayName), q) ||
		strings.Contains(normalize(peer.ID), q)
}

// FilterChats returns the chats whose counterpart matches the query,
// preserving input order. An empty query returns the input unfiltered.
func FilterChats(chats []domain.Chat, viewerID, query string) []domain.Chat {
	if normalize(query) == "" {
		return chats
	}
	out := make([]domain.Chat, 0, len(chats))
	for i := range chats {
		if MatchChat(&chats[i], viewerID, query) {
			out = append(out, chats[i])
		}
	}
	return out
}
