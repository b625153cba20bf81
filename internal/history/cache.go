// Package history caches the message sequence of the open conversation and
// keeps it consistent across fetches, local sends and live events.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/projecthub/hubchat/internal/models"
)

// Status describes the lifecycle of the cached history.
type Status int

const (
	// StatusIdle means no conversation is open.
	StatusIdle Status = iota
	// StatusLoading means a fetch is in flight. It is distinct from an empty Ready history.
	StatusLoading
	// StatusReady means the last fetch succeeded and live events apply.
	StatusReady
	// StatusFailed means the last fetch failed; any previous messages are kept.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Fetcher loads a conversation's message history.
type Fetcher interface {
	ListMessages(ctx context.Context, conversationID models.ID) ([]models.Message, error)
}

// Snapshot is a point-in-time copy of the cache.
type Snapshot struct {
	ConversationID models.ID
	Status         Status
	Messages       []models.Message
	Err            error
}

// Cache holds the history of a single open conversation.
// All methods are safe for concurrent use.
type Cache struct {
	fetcher Fetcher
	viewer  models.ID
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	convID   models.ID
	status   Status
	messages []models.Message
	err      error
	// pending holds messages appended locally while a fetch is in flight.
	// They are merged into the fetch result.
	pending []models.Message
	// gen increments on every Open and Reset; a fetch whose generation is
	// no longer current is discarded.
	gen uint64
}

// NewCache creates an idle cache for viewerID.
func NewCache(fetcher Fetcher, viewerID models.ID, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		fetcher: fetcher,
		viewer:  viewerID,
		logger:  logger.With("component", "history"),
		now:     time.Now,
	}
}

// Open makes conversationID the cached conversation and fetches its history.
// Switching conversations clears the previous sequence. Re-opening the same
// conversation re-fetches but keeps the current messages until it resolves.
// If another Open or Reset happens while the fetch is in flight, its result is
// discarded and Open returns nil.
func (c *Cache) Open(ctx context.Context, conversationID models.ID) error {
	return c.Fetch(ctx, conversationID, c.Select(conversationID))
}

// Select makes conversationID current and marks it loading without fetching.
// It returns the generation to pass to Fetch; any later Select or Reset
// supersedes it.
func (c *Cache) Select(conversationID models.ID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if !models.SameID(c.convID, conversationID) {
		c.messages = nil
	}
	c.convID = conversationID
	c.status = StatusLoading
	c.err = nil
	c.pending = nil
	return c.gen
}

// Fetch loads the history selected as generation gen. The result is
// discarded, and Fetch returns nil, if gen is no longer current.
func (c *Cache) Fetch(ctx context.Context, conversationID models.ID, gen uint64) error {
	msgs, err := c.fetcher.ListMessages(ctx, conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		c.logger.Debug("discarding superseded history fetch", "conversation_id", conversationID)
		return nil
	}
	pending := c.pending
	c.pending = nil
	if err != nil {
		c.status = StatusFailed
		c.err = err
		return fmt.Errorf("fetch history: %w", err)
	}

	fresh := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		m = m.Clone()
		if m.ConversationID.IsZero() {
			m.ConversationID = conversationID
		}
		fresh = append(fresh, m)
	}
	for _, m := range pending {
		if !slices.ContainsFunc(fresh, func(f models.Message) bool { return models.SameID(f.ID, m.ID) }) {
			fresh = append(fresh, m)
		}
	}
	slices.SortStableFunc(fresh, bySentAt)

	c.messages = fresh
	c.status = StatusReady
	c.logger.Debug("history loaded", "conversation_id", conversationID, "count", len(fresh))
	return nil
}

// AppendLocal adds a server-confirmed message sent by the viewer.
// It is ignored if the message belongs to another conversation or is already
// present. Messages appended while loading survive the fetch result.
func (c *Cache) AppendLocal(msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusIdle || !c.matches(msg.ConversationID) {
		return false
	}
	if !c.insert(msg) {
		return false
	}
	if c.status == StatusLoading {
		c.pending = append(c.pending, msg.Clone())
	}
	return true
}

// ApplyNewMessage applies a live new_message event. It is ignored unless the
// event targets the open conversation and its history has loaded. Messages
// from the viewer are dropped: the send path already appended them.
func (c *Cache) ApplyNewMessage(ev models.Event) bool {
	if ev.Message == nil {
		return false
	}
	convID := ev.ConversationID
	if convID.IsZero() {
		convID = ev.Message.ConversationID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusReady || !c.matches(convID) {
		return false
	}
	if models.SameID(ev.Message.Sender.UserID, c.viewer) {
		return false
	}
	msg := *ev.Message
	if msg.ConversationID.IsZero() {
		msg.ConversationID = convID
	}
	return c.insert(msg)
}

// ApplyUpdated replaces the content of a cached message in place.
func (c *Cache) ApplyUpdated(ev models.Event) bool {
	if ev.Message == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(ev.Message.ID)
	if i < 0 {
		return false
	}
	m := &c.messages[i]
	m.Content = ev.Message.Content
	if ev.Message.EditedAt != nil {
		t := *ev.Message.EditedAt
		m.EditedAt = &t
	} else {
		t := c.now()
		m.EditedAt = &t
	}
	return true
}

// ApplyDeleted marks a cached message as deleted. Repeated deletes are no-ops.
func (c *Cache) ApplyDeleted(ev models.Event) bool {
	id := ev.MessageID
	if id.IsZero() && ev.Message != nil {
		id = ev.Message.ID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(id)
	if i < 0 || c.messages[i].IsDeleted {
		return false
	}
	c.messages[i].IsDeleted = true
	return true
}

// ConversationID returns the open conversation, if any.
func (c *Cache) ConversationID() models.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.convID
}

// Snapshot returns a copy of the cache state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := make([]models.Message, len(c.messages))
	for i, m := range c.messages {
		msgs[i] = m.Clone()
	}
	return Snapshot{
		ConversationID: c.convID,
		Status:         c.status,
		Messages:       msgs,
		Err:            c.err,
	}
}

// Reset closes the open conversation and discards any in-flight fetch.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.convID = ""
	c.status = StatusIdle
	c.messages = nil
	c.err = nil
	c.pending = nil
}

// matches reports whether id is the open conversation. Caller must hold the lock.
func (c *Cache) matches(id models.ID) bool {
	return models.SameID(c.convID, id)
}

// index finds a message by id. Caller must hold the lock.
func (c *Cache) index(id models.ID) int {
	return slices.IndexFunc(c.messages, func(m models.Message) bool {
		return models.SameID(m.ID, id)
	})
}

// insert places msg after every message sent at or before it, which is the
// tail in the common case. Messages already present by id are skipped.
// Caller must hold the lock.
func (c *Cache) insert(msg models.Message) bool {
	if c.index(msg.ID) >= 0 {
		return false
	}
	pos := len(c.messages)
	for pos > 0 && c.messages[pos-1].SentAt.After(msg.SentAt) {
		pos--
	}
	c.messages = slices.Insert(c.messages, pos, msg.Clone())
	return true
}

func bySentAt(a, b models.Message) int {
	return a.SentAt.Compare(b.SentAt)
}
