package models

import (
	"time"
)

// ConversationKind distinguishes two-party chats from group chats.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Participant is a member of a conversation.
type Participant struct {
	UserID      ID     `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// MessageSummary is the denormalised last message shown in the sidebar.
// It is never authoritative for history.
type MessageSummary struct {
	Content  string    `json:"content"`
	SenderID ID        `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
	Kind     string    `json:"kind,omitempty"`
}

// Conversation is a direct or group messaging thread as seen by one viewer.
type Conversation struct {
	ID           ID               `json:"id"`
	Kind         ConversationKind `json:"type"`
	Name         string           `json:"name,omitempty"`
	Description  string           `json:"description,omitempty"`
	Participants []Participant    `json:"participants"`
	LastMessage  *MessageSummary  `json:"lastMessage,omitempty"`
	UnreadCount  int              `json:"unreadCount"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// IsGroup reports whether the conversation is a group chat.
func (c Conversation) IsGroup() bool {
	return c.Kind == KindGroup
}

// HasMessages reports whether a last message is known.
func (c Conversation) HasMessages() bool {
	return c.LastMessage != nil && !c.LastMessage.SentAt.IsZero()
}

// Title returns the name shown in the sidebar.
// Groups use their name; direct chats use the other participant's display name.
func (c Conversation) Title(viewerID ID) string {
	if c.IsGroup() && c.Name != "" {
		return c.Name
	}
	for _, p := range c.Participants {
		if !SameID(p.UserID, viewerID) && p.DisplayName != "" {
			return p.DisplayName
		}
	}
	if c.Name != "" {
		return c.Name
	}
	return string(c.ID)
}

// Clone returns a deep copy safe to hand out of a store.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = append([]Participant(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}
