// Package domain defines the persistence models for chats, messages, chat
// membership, and user profiles. These types are mapped with GORM and form
// the core data layer of the chat backend.
package domain

import (
	"encoding/json"
	"time"
)

// Participant is a denormalized snapshot of one side of a chat, captured at
// chat-creation time. It is not a live join: if the user later edits their
// profile the snapshot may go stale, and no automatic resync is performed.
type Participant struct {
	ID          string `json:"id"           gorm:"type:varchar(64);not null"`
	DisplayName string `json:"display_name" gorm:"type:varchar(255)"`
	AvatarRef   string `json:"avatar_ref"   gorm:"type:varchar(512)"`
}

// LastMessage is the denormalized copy of a chat's most recent message,
// stored on the chat record so the chat list can render without an extra
// read per chat. An empty ID means the chat has no last message.
type LastMessage struct {
	ID         string    `json:"id"          gorm:"type:char(36)"`
	SenderID   string    `json:"sender_id"   gorm:"type:varchar(64)"`
	ReceiverID string    `json:"receiver_id" gorm:"type:varchar(64)"`
	Content    string    `json:"content"     gorm:"type:text"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chat represents a conversation between exactly two users. Its primary key
// is the canonical chat id derived from the participant pair (see ChatID),
// so the record is created at most once per pair and never hard-deleted.
//
// Fields:
//   - ID: canonical pair-derived chat id (primary key).
//   - ParticipantA / ParticipantB: denormalized participant snapshots,
//     A holding the lexicographically smaller user id.
//   - Last: denormalized newest message (zero value when the chat is empty).
//   - LastMessageCreatedAt: nullable sort key for chat-list ordering
//     (descending, most recent first; chats without messages sort last).
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Chat struct {
	ID                   string      `json:"id" gorm:"type:varchar(160);primaryKey"`
	ParticipantA         Participant `json:"participant_a" gorm:"embedded;embeddedPrefix:participant_a_"`
	ParticipantB         Participant `json:"participant_b" gorm:"embedded;embeddedPrefix:participant_b_"`
	Last                 LastMessage `json:"-" gorm:"embedded;embeddedPrefix:last_message_"`
	LastMessageCreatedAt *time.Time  `json:"last_message_created_at" gorm:"column:last_message_at;index"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// LastMessageOrNil returns the denormalized last message, or nil when the
// chat has none. Callers must treat the result as read-only.
func (c *Chat) LastMessageOrNil() *LastMessage {
	if c.Last.ID == "" {
		return nil
	}
	return &c.Last
}

// Peer returns the participant snapshot for the counterpart of userID.
// If userID is not a participant the zero Participant is returned.
func (c *Chat) Peer(userID string) Participant {
	switch userID {
	case c.ParticipantA.ID:
		return c.ParticipantB
	case c.ParticipantB.ID:
		return c.ParticipantA
	}
	return Participant{}
}

// HasParticipant reports whether userID is one of the chat's two participants.
func (c *Chat) HasParticipant(userID string) bool {
	return userID == c.ParticipantA.ID || userID == c.ParticipantB.ID
}

// MarshalJSON renders the denormalized last message as an object or null,
// matching the shape chat-list consumers expect.
func (c Chat) MarshalJSON() ([]byte, error) {
	type alias Chat // avoid recursion
	return json.Marshal(struct {
		alias
		LastMessage *LastMessage `json:"last_message"`
	}{
		alias:       alias(c),
		LastMessage: c.LastMessageOrNil(),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON: it accepts the wire shape
// with a "last_message" object or null.
func (c *Chat) UnmarshalJSON(data []byte) error {
	type alias Chat
	aux := struct {
		*alias
		LastMessage *LastMessage `json:"last_message"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.LastMessage != nil {
		c.Last = *aux.LastMessage
	}
	return nil
}

// Message represents a single entry in a chat's append-only message log.
//
// Fields:
//   - ID: UUID primary key, assigned by the store on insert.
//   - ChatID: owning chat (indexed together with CreatedAt).
//   - Seq: store-assigned insertion order, the tie-breaker when two
//     messages share the same CreatedAt.
//   - SenderID / ReceiverID: both must be participants of the owning chat.
//   - Content: ciphertext; plaintext is never persisted.
//   - Read: read-receipt flag, false at creation.
//   - CreatedAt / UpdatedAt: server-assigned; UpdatedAt diverges from
//     CreatedAt only after an edit, which is the sole "edited" signal.
type Message struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ChatID     string    `json:"chat_id"     gorm:"type:varchar(160);not null;index:idx_chat_msgs,priority:1"`
	Seq        int64     `json:"-"           gorm:"not null;default:0"`
	SenderID   string    `json:"sender_id"   gorm:"type:varchar(64);not null"`
	ReceiverID string    `json:"receiver_id" gorm:"type:varchar(64);not null"`
	Content    string    `json:"content"     gorm:"type:text;not null"`
	Read       bool      `json:"read"        gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index:idx_chat_msgs,priority:2"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Edited reports whether the message has been edited since creation.
func (m *Message) Edited() bool { return m.UpdatedAt.After(m.CreatedAt) }

// AsLastMessage converts the message into its denormalized chat-record form.
func (m *Message) AsLastMessage() LastMessage {
	return LastMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// ChatMember is one entry of a user's membership list: the set of counterpart
// ids the user has an active chat with. The unique index gives the list set
// semantics even though it is represented as rows.
type ChatMember struct {
	ID        uint      `json:"-"       gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_member_pair,priority:1"`
	PeerID    string    `json:"peer_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_member_pair,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ChatMember.
func (ChatMember) TableName() string { return "chat_members" }

// User holds the profile fields the chat core consumes. Identity itself is
// owned by the external auth provider; this row mirrors the display profile
// and per-user chat preferences.
//
// ReadReceipts is the per-user opt-out: when false the user's own read
// acknowledgments are suppressed, though they still see others' read state.
type User struct {
	ID           string    `json:"id"            gorm:"type:varchar(64);primaryKey"`
	DisplayName  string    `json:"display_name"  gorm:"type:varchar(255)"`
	AvatarRef    string    `json:"avatar_ref"    gorm:"type:varchar(512)"`
	ReadReceipts bool      `json:"read_receipts" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }
