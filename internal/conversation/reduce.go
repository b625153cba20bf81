package conversation

import (
	"slices"

	"github.com/projecthub/hubchat/internal/models"
)

// Sort orders conversations most-recent-first by last message time.
// Conversations without messages follow, newest created first.
// The sort is stable so equal keys keep their current relative order.
func Sort(convs []models.Conversation) {
	slices.SortStableFunc(convs, compare)
}

func compare(a, b models.Conversation) int {
	aHas, bHas := a.HasMessages(), b.HasMessages()
	switch {
	case aHas && !bHas:
		return -1
	case !aHas && bHas:
		return 1
	case aHas && bHas:
		return b.LastMessage.SentAt.Compare(a.LastMessage.SentAt)
	default:
		return b.CreatedAt.Compare(a.CreatedAt)
	}
}

// Index returns the position of the conversation with id, or -1.
func Index(convs []models.Conversation, id models.ID) int {
	return slices.IndexFunc(convs, func(c models.Conversation) bool {
		return models.SameID(c.ID, id)
	})
}

// ApplyMessage records msg as the latest message of conversation id and
// bumps its unread counter when the viewer is not looking at it and did not
// write it. It reports whether the conversation was found.
func ApplyMessage(convs []models.Conversation, id models.ID, msg models.Message, activeID, viewerID models.ID) bool {
	i := Index(convs, id)
	if i < 0 {
		return false
	}

	c := &convs[i]
	// An older message delivered late must not replace a newer summary.
	if !c.HasMessages() || !msg.SentAt.Before(c.LastMessage.SentAt) {
		summary := msg.Summary()
		c.LastMessage = &summary
	}

	switch {
	case models.SameID(id, activeID):
		c.UnreadCount = 0
	case !models.SameID(msg.Sender.UserID, viewerID):
		c.UnreadCount++
	}
	return true
}

// Upsert places conv at the front of the list, replacing any existing entry
// with the same id.
func Upsert(convs []models.Conversation, conv models.Conversation) []models.Conversation {
	if i := Index(convs, conv.ID); i >= 0 {
		convs = slices.Delete(convs, i, i+1)
	}
	return slices.Insert(convs, 0, conv)
}

// Remove drops the conversation with id and reports whether it was present.
func Remove(convs []models.Conversation, id models.ID) ([]models.Conversation, bool) {
	i := Index(convs, id)
	if i < 0 {
		return convs, false
	}
	return slices.Delete(convs, i, i+1), true
}
