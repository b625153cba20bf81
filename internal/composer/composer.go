// Package composer turns drafts into sent messages.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/projecthub/hubchat/internal/client"
	"github.com/projecthub/hubchat/internal/models"
)

// Sentinel errors for send operations.
var (
	// ErrEmptyMessage indicates neither text nor attachments were given.
	ErrEmptyMessage = errors.New("message has no text or attachments")

	// ErrSendInFlight indicates a send for the same conversation is still running.
	ErrSendInFlight = errors.New("a send is already in progress for this conversation")
)

// Sender is the subset of the REST client used to post messages.
type Sender interface {
	SendText(ctx context.Context, conversationID models.ID, text string) (*models.Message, error)
	SendWithAttachments(ctx context.Context, conversationID models.ID, text string, uploads []client.Upload) (*models.Message, error)
}

// Appender receives server-confirmed messages.
type Appender interface {
	AppendLocal(msg models.Message) bool
}

// Draft is the unsent input of one conversation.
type Draft struct {
	Text        string
	Attachments []client.Upload
	Sending     bool
	Err         error
}

// Empty reports whether there is nothing to send.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Text) == "" && len(d.Attachments) == 0
}

// Composer posts messages and keeps per-conversation drafts.
// All methods are safe for concurrent use.
type Composer struct {
	sender   Sender
	appender Appender
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[models.ID]bool
	drafts   map[models.ID]*Draft
}

// New creates a composer. appender may be nil.
func New(sender Sender, appender Appender, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		sender:   sender,
		appender: appender,
		logger:   logger.With("component", "composer"),
		inFlight: make(map[models.ID]bool),
		drafts:   make(map[models.ID]*Draft),
	}
}

// Send posts text and attachments to a conversation. Attachments use a single
// multipart request; plain text uses a JSON request. The confirmed message is
// appended to history before Send returns.
func (c *Composer) Send(ctx context.Context, conversationID models.ID, text string, uploads []client.Upload) (*models.Message, error) {
	if strings.TrimSpace(text) == "" && len(uploads) == 0 {
		return nil, ErrEmptyMessage
	}

	if !c.acquire(conversationID) {
		return nil, ErrSendInFlight
	}
	defer c.release(conversationID)

	var (
		msg *models.Message
		err error
	)
	if len(uploads) > 0 {
		msg, err = c.sender.SendWithAttachments(ctx, conversationID, text, uploads)
	} else {
		msg, err = c.sender.SendText(ctx, conversationID, text)
	}
	if err != nil {
		c.logger.Warn("send failed", "conversation_id", conversationID, "attachments", len(uploads), "error", err)
		return nil, fmt.Errorf("send message: %w", err)
	}

	if msg.ConversationID.IsZero() {
		msg.ConversationID = conversationID
	}
	if c.appender != nil {
		c.appender.AppendLocal(*msg)
	}
	return msg, nil
}

// Sending reports whether a send is outstanding for the conversation.
func (c *Composer) Sending(conversationID models.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[conversationID]
}

func (c *Composer) acquire(id models.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[id] {
		return false
	}
	c.inFlight[id] = true
	return true
}

func (c *Composer) release(id models.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, id)
}

// =============================================================================
// DRAFTS
// =============================================================================

// draft returns the mutable draft for id. Caller must hold the lock.
func (c *Composer) draft(id models.ID) *Draft {
	d, ok := c.drafts[id]
	if !ok {
		d = &Draft{}
		c.drafts[id] = d
	}
	return d
}

// SetText replaces the draft text and clears any previous error.
func (c *Composer) SetText(conversationID models.ID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft(conversationID)
	d.Text = text
	d.Err = nil
}

// Attach adds files to the draft.
func (c *Composer) Attach(conversationID models.ID, uploads ...client.Upload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft(conversationID)
	d.Attachments = append(d.Attachments, uploads...)
	d.Err = nil
}

// ClearAttachments removes all files from the draft.
func (c *Composer) ClearAttachments(conversationID models.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft(conversationID).Attachments = nil
}

// Draft returns a copy of the conversation's draft.
func (c *Composer) Draft(conversationID models.ID) Draft {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.drafts[conversationID]
	if !ok {
		return Draft{Sending: c.inFlight[conversationID]}
	}
	out := *d
	out.Attachments = append([]client.Upload(nil), d.Attachments...)
	out.Sending = c.inFlight[conversationID]
	return out
}

// Submit sends the conversation's draft. On success the draft is cleared; on
// failure it is kept for retry and the error is recorded on it.
func (c *Composer) Submit(ctx context.Context, conversationID models.ID) (*models.Message, error) {
	d := c.Draft(conversationID)

	msg, err := c.Send(ctx, conversationID, d.Text, d.Attachments)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case errors.Is(err, ErrSendInFlight):
		// The running send owns the draft.
	case err != nil:
		c.draft(conversationID).Err = err
	default:
		delete(c.drafts, conversationID)
	}
	return msg, err
}
