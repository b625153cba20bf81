// Package chat composes the conversation store, history cache, composer and
// realtime bridge into one live conversation view.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/projecthub/hubchat/internal/client"
	"github.com/projecthub/hubchat/internal/composer"
	"github.com/projecthub/hubchat/internal/conversation"
	"github.com/projecthub/hubchat/internal/history"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/projecthub/hubchat/internal/realtime"
)

// ErrNoConversation is returned when an operation needs an open conversation.
var ErrNoConversation = errors.New("no conversation open")

// API is everything the view needs from the REST client.
type API interface {
	conversation.API
	history.Fetcher
	composer.Sender
}

// Events is the live event source. *realtime.Bridge satisfies it.
type Events interface {
	Subscribe(fn func(models.Event)) func()
	Watch(fn func(realtime.State)) func()
	State() realtime.State
}

// Snapshot is everything a front end renders.
type Snapshot struct {
	Viewer        models.ID
	Conversations []models.Conversation
	Active        models.ID
	History       history.Snapshot
	Draft         composer.Draft
	Connection    realtime.State
	TotalUnread   int
}

// View is the live conversation view of one viewer.
type View struct {
	store    *conversation.Store
	history  *history.Cache
	composer *composer.Composer
	events   Events
	logger   *slog.Logger
	viewer   models.ID

	// openMu keeps the active conversation and the history selection in step.
	openMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	unsub     []func()
	listeners map[int]func()
	nextID    int
}

// New builds a view for viewerID.
func New(api API, events Events, viewerID models.ID, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	cache := history.NewCache(api, viewerID, logger)
	return &View{
		store:     conversation.NewStore(api, viewerID, logger),
		history:   cache,
		composer:  composer.New(api, cache, logger),
		events:    events,
		logger:    logger.With("component", "view"),
		viewer:    viewerID,
		ctx:       context.Background(),
		listeners: make(map[int]func()),
	}
}

// Start subscribes to live events and loads the sidebar. ctx bounds the
// reloads triggered by events for unknown conversations.
func (v *View) Start(ctx context.Context) error {
	v.mu.Lock()
	v.ctx = ctx
	if v.events != nil && len(v.unsub) == 0 {
		v.unsub = append(v.unsub,
			v.events.Subscribe(v.handleEvent),
			v.events.Watch(func(realtime.State) { v.notify() }),
		)
	}
	v.mu.Unlock()

	err := v.store.LoadAll(ctx)
	v.notify()
	return err
}

// Stop detaches from the event source.
func (v *View) Stop() {
	v.mu.Lock()
	unsub := v.unsub
	v.unsub = nil
	v.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
}

// Refresh reloads the sidebar.
func (v *View) Refresh(ctx context.Context) error {
	err := v.store.LoadAll(ctx)
	v.notify()
	return err
}

// Open selects a conversation, marks it read and loads its history.
// When Open is called again before this one finishes, the later call wins
// both the active conversation and the history.
func (v *View) Open(ctx context.Context, id models.ID) error {
	v.openMu.Lock()
	v.store.SetActive(id)
	gen := v.history.Select(id)
	v.openMu.Unlock()
	v.notify()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Read state is advisory; the store already logged a failure.
		_ = v.store.MarkRead(ctx, id)
		v.notify()
	}()

	err := v.history.Fetch(ctx, id, gen)
	v.notify()
	wg.Wait()
	return err
}

// Close deselects the open conversation.
func (v *View) Close() {
	v.openMu.Lock()
	v.store.SetActive("")
	v.history.Reset()
	v.openMu.Unlock()
	v.notify()
}

// SetText replaces the draft of the open conversation.
func (v *View) SetText(text string) {
	if id := v.store.Active(); !id.IsZero() {
		v.composer.SetText(id, text)
		v.notify()
	}
}

// DraftText returns the unsent text of a conversation.
func (v *View) DraftText(id models.ID) string {
	return v.composer.Draft(id).Text
}

// Attach adds files to the draft of the open conversation.
func (v *View) Attach(uploads ...client.Upload) error {
	id := v.store.Active()
	if id.IsZero() {
		return ErrNoConversation
	}
	v.composer.Attach(id, uploads...)
	v.notify()
	return nil
}

// ClearAttachments drops the files of the open conversation's draft.
func (v *View) ClearAttachments() {
	if id := v.store.Active(); !id.IsZero() {
		v.composer.ClearAttachments(id)
		v.notify()
	}
}

// Send submits the open conversation's draft and records the confirmed
// message in the sidebar.
func (v *View) Send(ctx context.Context) (*models.Message, error) {
	id := v.store.Active()
	if id.IsZero() {
		return nil, ErrNoConversation
	}

	msg, err := v.composer.Submit(ctx, id)
	if err != nil {
		v.notify()
		return nil, err
	}

	if err := v.store.UpsertFromEvent(ctx, id, *msg); err != nil {
		v.logger.Warn("sidebar update after send failed", "conversation_id", id, "error", err)
	}
	v.notify()
	return msg, nil
}

// StartDirect opens a direct conversation with userID.
func (v *View) StartDirect(ctx context.Context, userID models.ID) (models.Conversation, error) {
	conv, err := v.store.StartDirect(ctx, userID)
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, v.Open(ctx, conv.ID)
}

// CreateGroup creates and opens a group conversation.
func (v *View) CreateGroup(ctx context.Context, input client.CreateGroupInput) (models.Conversation, error) {
	conv, err := v.store.CreateGroup(ctx, input)
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, v.Open(ctx, conv.ID)
}

// Leave leaves a group conversation, closing it if it is open.
func (v *View) Leave(ctx context.Context, id models.ID) error {
	if err := v.store.Leave(ctx, id); err != nil {
		return err
	}
	if models.SameID(v.history.ConversationID(), id) {
		v.history.Reset()
	}
	v.notify()
	return nil
}

// Connection returns the live channel state.
func (v *View) Connection() realtime.State {
	if v.events == nil {
		return realtime.StateDisconnected
	}
	return v.events.State()
}

// Snapshot returns a consistent-enough copy of the view for rendering.
func (v *View) Snapshot() Snapshot {
	active := v.store.Active()
	snap := Snapshot{
		Viewer:        v.viewer,
		Conversations: v.store.List(),
		Active:        active,
		History:       v.history.Snapshot(),
		Connection:    v.Connection(),
		TotalUnread:   v.store.TotalUnread(),
	}
	if !active.IsZero() {
		snap.Draft = v.composer.Draft(active)
	}
	return snap
}

// Conversation returns one conversation from the sidebar.
func (v *View) Conversation(id models.ID) (models.Conversation, bool) {
	return v.store.Get(id)
}

// OnChange registers fn to be called after any state change and returns a
// function that removes it. fn may run on any goroutine.
func (v *View) OnChange(fn func()) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners, id)
	}
}

func (v *View) notify() {
	v.mu.Lock()
	fns := make([]func(), 0, len(v.listeners))
	for _, fn := range v.listeners {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (v *View) context() context.Context {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ctx
}

// handleEvent routes one live event to the store and the cache.
func (v *View) handleEvent(ev models.Event) {
	switch ev.Type {
	case models.EventNewMessage:
		if ev.Message == nil {
			return
		}
		convID := ev.ConversationID
		if convID.IsZero() {
			convID = ev.Message.ConversationID
		}
		if convID.IsZero() {
			v.logger.Debug("new message without conversation", "message_id", ev.Message.ID)
			return
		}
		if err := v.store.UpsertFromEvent(v.context(), convID, *ev.Message); err != nil {
			v.logger.Warn("sidebar update failed", "conversation_id", convID, "error", err)
		}
		v.history.ApplyNewMessage(ev)

	case models.EventMessageUpdated:
		v.history.ApplyUpdated(ev)

	case models.EventMessageDeleted:
		v.history.ApplyDeleted(ev)

	default:
		return
	}
	v.notify()
}
