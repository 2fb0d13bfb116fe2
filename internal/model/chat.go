package model

import "time"

type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

type (
	// Chat mirrors a row of the chats collection. Participants, LastMessage
	// and UnreadCount are assembled client-side and never persisted on the
	// chat row itself.
	Chat struct {
		ID        string    `json:"id" bson:"_id"`
		Type      ChatType  `json:"type" bson:"type"`
		GroupName string    `json:"group_name,omitempty" bson:"group_name,omitempty"`
		CreatedAt time.Time `json:"created_at" bson:"created_at"`

		Participants []Profile `json:"participants,omitempty" bson:"-"`
		LastMessage  *Message  `json:"last_message,omitempty" bson:"-"`
		UnreadCount  int       `json:"unread_count" bson:"-"`
	}

	// Participant mirrors a row of the chat_participants collection.
	Participant struct {
		ChatID string `json:"chat_id" bson:"chat_id"`
		UserID string `json:"user_id" bson:"user_id"`
	}
)

// Peer returns the first participant that is not selfID. For a direct chat
// this is the other end of the conversation.
func (c *Chat) Peer(selfID string) *Profile {
	for i := range c.Participants {
		if c.Participants[i].ID != selfID {
			return &c.Participants[i]
		}
	}
	return nil
}

// DisplayName is the group name for group chats, otherwise the peer's
// username.
func (c *Chat) DisplayName(selfID string) string {
	if c.GroupName != "" {
		return c.GroupName
	}
	if p := c.Peer(selfID); p != nil {
		return p.Username
	}
	return "Unknown"
}
