package composer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/projecthub/hubchat/internal/client"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	conv    models.ID
	text    string
	uploads int
}

type fakeSender struct {
	mu    sync.Mutex
	calls []call
	err   error
	gate  chan struct{}
	next  int
}

func (f *fakeSender) record(conv models.ID, text string, uploads int) (*models.Message, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{conv, text, uploads})
	if f.err != nil {
		return nil, f.err
	}
	f.next++
	return &models.Message{
		ID:      models.ID("m" + string(rune('0'+f.next))),
		Sender:  models.Sender{UserID: "me"},
		Content: text,
		SentAt:  time.Date(2025, 3, 1, 12, 0, f.next, 0, time.UTC),
	}, nil
}

func (f *fakeSender) SendText(ctx context.Context, conv models.ID, text string) (*models.Message, error) {
	return f.record(conv, text, 0)
}

func (f *fakeSender) SendWithAttachments(ctx context.Context, conv models.ID, text string, uploads []client.Upload) (*models.Message, error) {
	return f.record(conv, text, len(uploads))
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingAppender struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (r *recordingAppender) AppendLocal(m models.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return true
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendRejectsEmptyInput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "  \n\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSender{}
			c := New(s, nil, quietLogger())

			_, err := c.Send(context.Background(), "c1", tt.text, nil)
			require.ErrorIs(t, err, ErrEmptyMessage)
			assert.Zero(t, s.callCount(), "no network call for empty input")
		})
	}
}

func TestSendChoosesRequestShape(t *testing.T) {
	s := &fakeSender{}
	app := &recordingAppender{}
	c := New(s, app, quietLogger())

	_, err := c.Send(context.Background(), "c1", "hi", nil)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "c1", "", []client.Upload{client.BytesUpload("a.txt", []byte("a"))})
	require.NoError(t, err, "attachments alone are enough")

	assert.Equal(t, []call{{"c1", "hi", 0}, {"c1", "", 1}}, s.calls)
	require.Len(t, app.msgs, 2)
	assert.Equal(t, models.ID("c1"), app.msgs[0].ConversationID, "conversation id filled in")
}

func TestSendFailureAppendsNothing(t *testing.T) {
	s := &fakeSender{err: client.ErrForbidden}
	app := &recordingAppender{}
	c := New(s, app, quietLogger())

	_, err := c.Send(context.Background(), "c1", "hi", nil)
	require.ErrorIs(t, err, client.ErrForbidden)
	assert.Empty(t, app.msgs)
	assert.False(t, c.Sending("c1"))
}

func TestOneSendInFlightPerConversation(t *testing.T) {
	gate := make(chan struct{})
	s := &fakeSender{gate: gate}
	c := New(s, nil, quietLogger())

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "c1", "first", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Sending("c1") }, time.Second, time.Millisecond)

	_, err := c.Send(context.Background(), "c1", "second", nil)
	require.ErrorIs(t, err, ErrSendInFlight)

	// Other conversations are independent.
	otherDone := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "c2", "elsewhere", nil)
		otherDone <- err
	}()

	close(gate)
	require.NoError(t, <-done)
	require.NoError(t, <-otherDone)
	assert.Equal(t, 2, s.callCount())
	assert.False(t, c.Sending("c1"))
}

func TestSubmitClearsDraftOnSuccess(t *testing.T) {
	s := &fakeSender{}
	app := &recordingAppender{}
	c := New(s, app, quietLogger())

	c.SetText("c1", "hi")
	c.Attach("c1", client.BytesUpload("a.txt", []byte("a")))

	msg, err := c.Submit(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.True(t, c.Draft("c1").Empty())
	assert.Equal(t, []call{{"c1", "hi", 1}}, s.calls)
}

func TestSubmitPreservesDraftOnFailure(t *testing.T) {
	s := &fakeSender{err: errors.New("connection reset")}
	app := &recordingAppender{}
	c := New(s, app, quietLogger())

	c.SetText("c1", "retry me")
	c.Attach("c1", client.BytesUpload("a.txt", []byte("a")))

	_, err := c.Submit(context.Background(), "c1")
	require.Error(t, err)

	d := c.Draft("c1")
	assert.Equal(t, "retry me", d.Text)
	assert.Len(t, d.Attachments, 1)
	require.Error(t, d.Err)
	assert.Contains(t, d.Err.Error(), "connection reset")
	assert.Empty(t, app.msgs)

	// Editing clears the inline error; a retry then succeeds.
	c.SetText("c1", "retry me")
	assert.NoError(t, c.Draft("c1").Err)
	s.err = nil
	_, err = c.Submit(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, c.Draft("c1").Empty())
}

func TestSubmitEmptyDraft(t *testing.T) {
	c := New(&fakeSender{}, nil, quietLogger())
	_, err := c.Submit(context.Background(), "c1")
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.ErrorIs(t, c.Draft("c1").Err, ErrEmptyMessage)
}

func TestDraftsAreIsolated(t *testing.T) {
	c := New(&fakeSender{}, nil, quietLogger())
	c.SetText("c1", "one")
	c.SetText("c2", "two")
	c.Attach("c2", client.BytesUpload("b.txt", []byte("b")))
	c.ClearAttachments("c2")

	assert.Equal(t, "one", c.Draft("c1").Text)
	assert.Equal(t, "two", c.Draft("c2").Text)
	assert.Empty(t, c.Draft("c2").Attachments)
}
