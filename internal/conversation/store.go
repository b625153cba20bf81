// Package conversation maintains the sidebar list of conversations with their
// last-message summaries and unread counters.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/projecthub/hubchat/internal/client"
	"github.com/projecthub/hubchat/internal/models"
)

// Sentinel errors for store operations.
var (
	// ErrUnknownConversation indicates the id is not in the local list.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrNotGroup indicates a group-only operation on a direct conversation.
	ErrNotGroup = errors.New("not a group conversation")
)

// API is the subset of the REST client the store depends on.
type API interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	StartDirect(ctx context.Context, userID models.ID) (*models.Conversation, error)
	CreateGroup(ctx context.Context, input client.CreateGroupInput) (*models.Conversation, error)
	MarkRead(ctx context.Context, conversationID models.ID) error
	LeaveGroup(ctx context.Context, conversationID models.ID) error
}

// Store holds the viewer's conversations in sidebar order.
// All methods are safe for concurrent use.
type Store struct {
	api    API
	viewer models.ID
	logger *slog.Logger

	mu       sync.RWMutex
	convs    []models.Conversation
	activeID models.ID
	loaded   bool
}

// NewStore creates an empty store for viewerID.
func NewStore(api API, viewerID models.ID, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:    api,
		viewer: viewerID,
		logger: logger.With("component", "conversations"),
	}
}

// Viewer returns the id of the user the store belongs to.
func (s *Store) Viewer() models.ID {
	return s.viewer
}

// LoadAll replaces the list with the server's. On error the list is untouched.
func (s *Store) LoadAll(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	fresh := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		fresh = append(fresh, c.Clone())
	}
	Sort(fresh)

	s.mu.Lock()
	s.convs = fresh
	s.loaded = true
	s.mu.Unlock()

	s.logger.Debug("conversations loaded", "count", len(fresh))
	return nil
}

// UpsertFromEvent applies a live message to its conversation. A message for a
// conversation the store has never seen triggers a full reload.
func (s *Store) UpsertFromEvent(ctx context.Context, conversationID models.ID, msg models.Message) error {
	s.mu.Lock()
	found := ApplyMessage(s.convs, conversationID, msg, s.activeID, s.viewer)
	if found {
		Sort(s.convs)
	}
	s.mu.Unlock()

	if found {
		return nil
	}

	s.logger.Debug("message for unknown conversation, reloading", "conversation_id", conversationID)
	return s.LoadAll(ctx)
}

// MarkRead zeroes the unread counter immediately, then persists the read
// state. A failed persist is logged and the local zero is kept.
func (s *Store) MarkRead(ctx context.Context, conversationID models.ID) error {
	s.mu.Lock()
	if i := Index(s.convs, conversationID); i >= 0 {
		s.convs[i].UnreadCount = 0
	}
	s.mu.Unlock()

	if err := s.api.MarkRead(ctx, conversationID); err != nil {
		s.logger.Warn("mark read failed", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// StartDirect opens a direct conversation with userID, moves it to the front
// and makes it active.
func (s *Store) StartDirect(ctx context.Context, userID models.ID) (models.Conversation, error) {
	conv, err := s.api.StartDirect(ctx, userID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("start direct conversation: %w", err)
	}
	return s.promote(*conv), nil
}

// CreateGroup creates a group conversation, moves it to the front and makes
// it active.
func (s *Store) CreateGroup(ctx context.Context, input client.CreateGroupInput) (models.Conversation, error) {
	conv, err := s.api.CreateGroup(ctx, input)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create group: %w", err)
	}
	return s.promote(*conv), nil
}

func (s *Store) promote(conv models.Conversation) models.Conversation {
	conv = conv.Clone()

	s.mu.Lock()
	s.convs = Upsert(s.convs, conv)
	s.activeID = conv.ID
	s.mu.Unlock()

	return conv.Clone()
}

// Leave removes the viewer from a group conversation and drops it locally.
func (s *Store) Leave(ctx context.Context, conversationID models.ID) error {
	conv, ok := s.Get(conversationID)
	if !ok {
		return fmt.Errorf("leave %s: %w", conversationID, ErrUnknownConversation)
	}
	if !conv.IsGroup() {
		return fmt.Errorf("leave %s: %w", conversationID, ErrNotGroup)
	}

	if err := s.api.LeaveGroup(ctx, conversationID); err != nil {
		return fmt.Errorf("leave group: %w", err)
	}

	s.mu.Lock()
	s.convs, _ = Remove(s.convs, conversationID)
	if models.SameID(s.activeID, conversationID) {
		s.activeID = ""
	}
	s.mu.Unlock()
	return nil
}

// SetActive records which conversation the viewer has open. An empty id
// means none.
func (s *Store) SetActive(id models.ID) {
	s.mu.Lock()
	s.activeID = id
	s.mu.Unlock()
}

// Active returns the open conversation id, if any.
func (s *Store) Active() models.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Loaded reports whether LoadAll has succeeded at least once.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// List returns a copy of the conversations in sidebar order.
func (s *Store) List() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.Clone()
	}
	return out
}

// Get returns a copy of one conversation.
func (s *Store) Get(id models.ID) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := Index(s.convs, id)
	if i < 0 {
		return models.Conversation{}, false
	}
	return s.convs[i].Clone(), true
}

// TotalUnread sums the unread counters across all conversations.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, c := range s.convs {
		total += c.UnreadCount
	}
	return total
}
