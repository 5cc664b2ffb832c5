package models

import "time"

// Conversation links a member with exactly one counterpart: either a trainer
// or the club's admin-support inbox. TrainerID is nil when IsAdmin is set.
type Conversation struct {
	ID        int64     `json:"id"`
	MemberID  int64     `json:"member_id"`
	TrainerID *int64    `json:"trainer_id,omitempty"`
	IsAdmin   bool      `json:"is_admin_conversation"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counterpart selects the other side of a conversation on create:
// a trainer id, or the admin-support inbox when Admin is true.
type Counterpart struct {
	TrainerID int64
	Admin     bool
}

// OtherParty returns the participant facing viewerID, or 0 for the
// admin-support side, which has no single user id.
func (c *Conversation) OtherParty(viewerID int64) int64 {
	if c.MemberID != viewerID {
		return c.MemberID
	}
	if c.TrainerID != nil {
		return *c.TrainerID
	}
	return 0
}

type ChatMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	SentAt         time.Time `json:"sent_at"`

	// SenderName is resolved at read time ("You" for the viewer's own
	// messages) and is never persisted.
	SenderName string `json:"sender_name,omitempty"`
}

type ConversationSummary struct {
	Conversation
	DisplayName string       `json:"display_name"`
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}
