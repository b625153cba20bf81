package models

import (
	"time"
)

// DeletedPlaceholder replaces the body of a deleted message.
const DeletedPlaceholder = "This message was deleted"

// Sender identifies who wrote a message.
type Sender struct {
	UserID      ID     `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Attachment is a file uploaded alongside a message.
type Attachment struct {
	FileName      string `json:"fileName"`
	FileType      string `json:"fileType"`
	FileSizeBytes int64  `json:"fileSize"`
	FileURL       string `json:"fileUrl"`
}

// Message is a single entry in a conversation's history.
type Message struct {
	ID             ID           `json:"id"`
	ConversationID ID           `json:"conversationId"`
	Sender         Sender       `json:"sender"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	SentAt         time.Time    `json:"sentAt"`
	EditedAt       *time.Time   `json:"editedAt,omitempty"`
	IsDeleted      bool         `json:"isDeleted"`
}

// IsEdited reports whether the content changed after creation.
func (m Message) IsEdited() bool {
	return m.EditedAt != nil && !m.EditedAt.IsZero()
}

// DisplayContent returns what may be rendered as the message body.
// Deleted messages never expose their original content.
func (m Message) DisplayContent() string {
	if m.IsDeleted {
		return DeletedPlaceholder
	}
	return m.Content
}

// VisibleAttachments returns the attachments that may be rendered.
func (m Message) VisibleAttachments() []Attachment {
	if m.IsDeleted {
		return nil
	}
	return m.Attachments
}

// Summary derives the sidebar summary for this message.
func (m Message) Summary() MessageSummary {
	kind := "text"
	if len(m.Attachments) > 0 {
		kind = "file"
	}
	return MessageSummary{
		Content:  m.DisplayContent(),
		SenderID: m.Sender.UserID,
		SentAt:   m.SentAt,
		Kind:     kind,
	}
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	return out
}
