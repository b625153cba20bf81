package models

// EventType names a live event delivered over the realtime channel.
type EventType string

const (
	EventNewMessage     EventType = "new_message"
	EventMessageUpdated EventType = "message_updated"
	EventMessageDeleted EventType = "message_deleted"
)

// Event is a decoded live event. Which fields are set depends on Type:
//   - new_message: ConversationID and Message
//   - message_updated: Message
//   - message_deleted: MessageID
type Event struct {
	Type           EventType `json:"type"`
	ConversationID ID        `json:"conversationId,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	MessageID      ID        `json:"messageId,omitempty"`
}

// NewMessageEvent builds a new_message event.
func NewMessageEvent(conversationID ID, m Message) Event {
	return Event{Type: EventNewMessage, ConversationID: conversationID, Message: &m}
}

// MessageUpdatedEvent builds a message_updated event.
func MessageUpdatedEvent(m Message) Event {
	return Event{Type: EventMessageUpdated, ConversationID: m.ConversationID, Message: &m}
}

// MessageDeletedEvent builds a message_deleted event.
func MessageDeletedEvent(messageID ID) Event {
	return Event{Type: EventMessageDeleted, MessageID: messageID}
}

// Identity is the authenticated viewer.
type Identity struct {
	UserID ID
	Role   string
}

// IsZero reports whether no viewer is known.
func (i Identity) IsZero() bool {
	return i.UserID.IsZero()
}
