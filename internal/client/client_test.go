package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/projecthub/hubchat/internal/metrics"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	return New(srv.URL, "tok-123", opts...)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestListConversations(t *testing.T) {
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		body any
	}{
		{
			name: "bare array",
			body: []map[string]any{{"id": "c1", "type": "direct", "unreadCount": 2, "createdAt": t1}},
		},
		{
			name: "data envelope",
			body: map[string]any{"data": []map[string]any{{"id": "c1", "type": "direct", "unreadCount": 2, "createdAt": t1}}},
		},
		{
			name: "data envelope with key",
			body: map[string]any{"data": map[string]any{"conversations": []map[string]any{{"id": "c1", "type": "direct", "unreadCount": 2, "createdAt": t1}}}},
		},
		{
			name: "numeric id",
			body: []map[string]any{{"id": 1, "type": "direct", "unreadCount": 2, "createdAt": t1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/messages/conversations", r.URL.Path)
				writeJSON(t, w, http.StatusOK, tt.body)
			})

			convs, err := c.ListConversations(context.Background())
			require.NoError(t, err)
			require.Len(t, convs, 1)
			assert.Equal(t, 2, convs[0].UnreadCount)
			assert.Equal(t, models.KindDirect, convs[0].Kind)
			assert.True(t, convs[0].CreatedAt.Equal(t1))
		})
	}
}

func TestRequestHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get(requestIDHeader))
		writeJSON(t, w, http.StatusOK, []any{})
	})

	convs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestListMessagesFillsConversationID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages/conversations/c%2F1/messages", r.URL.EscapedPath())
		writeJSON(t, w, http.StatusOK, map[string]any{"messages": []map[string]any{
			{"id": "m1", "content": "hi", "sender": map[string]any{"userId": 7}},
		}})
	})

	msgs, err := c.ListMessages(context.Background(), "c/1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.ID("c/1"), msgs[0].ConversationID)
	assert.Equal(t, models.ID("7"), msgs[0].Sender.UserID)
}

func TestSendText(t *testing.T) {
	sentAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/messages/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["content"])

		writeJSON(t, w, http.StatusCreated, map[string]any{"data": map[string]any{"id": "m1", "content": "hi", "sentAt": sentAt}})
	})

	msg, err := c.SendText(context.Background(), "c1", "hi")
	require.NoError(t, err)
	assert.Equal(t, models.ID("m1"), msg.ID)
	assert.Equal(t, models.ID("c1"), msg.ConversationID)
	assert.True(t, msg.SentAt.Equal(sentAt))
}

func TestSendTextRejectsResponseWithoutID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"content": "hi"})
	})

	_, err := c.SendText(context.Background(), "c1", "hi")
	require.Error(t, err)
}

func TestSendWithAttachments(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages/conversations/c1/messages/attachments", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "see attached", r.FormValue("content"))
		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		assert.Equal(t, "shot.png", files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))
		assert.Equal(t, "notes.txt", files[1].Filename)

		f, err := files[1].Open()
		require.NoError(t, err)
		defer f.Close()
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "plain notes", string(data))

		writeJSON(t, w, http.StatusCreated, map[string]any{"message": map[string]any{
			"id":      "m9",
			"content": "see attached",
			"attachments": []map[string]any{
				{"fileName": "shot.png", "fileType": "image/png", "fileSize": len(png)},
				{"fileName": "notes.txt", "fileType": "text/plain", "fileSize": 11},
			},
		}})
	})

	msg, err := c.SendWithAttachments(context.Background(), "c1", "see attached", []Upload{
		BytesUpload("shot.png", png),
		BytesUpload("notes.txt", []byte("plain notes")),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ID("m9"), msg.ID)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, int64(len(png)), msg.Attachments[0].FileSizeBytes)
}

func TestSendWithAttachmentsOpenFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		writeJSON(t, w, http.StatusBadRequest, map[string]any{"message": "bad upload"})
	})

	broken := Upload{
		Name: "gone.pdf",
		Open: func() (io.ReadCloser, error) { return nil, errors.New("file vanished") },
	}
	_, err := c.SendWithAttachments(context.Background(), "c1", "", []Upload{broken})
	require.Error(t, err)
}

func TestCreateGroupValidation(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		var body CreateGroupInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Order #118", body.Name)
		assert.Equal(t, []models.ID{"u2", "u3"}, body.MemberIDs)
		writeJSON(t, w, http.StatusCreated, map[string]any{"id": "g1", "type": "group", "name": body.Name})
	})

	tests := []struct {
		name    string
		input   CreateGroupInput
		wantErr bool
	}{
		{"missing name", CreateGroupInput{Name: "  ", MemberIDs: []models.ID{"u2"}}, true},
		{"no members", CreateGroupInput{Name: "Order #118"}, true},
		{"blank member", CreateGroupInput{Name: "Order #118", MemberIDs: []models.ID{""}}, true},
		{"valid", CreateGroupInput{Name: " Order #118 ", MemberIDs: []models.ID{"u2", "u3"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			conv, err := c.CreateGroup(context.Background(), tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidInput)
				assert.False(t, called, "invalid input must not reach the server")
				return
			}
			require.NoError(t, err)
			assert.True(t, called)
			assert.True(t, conv.IsGroup())
		})
	}
}

func TestStartDirect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u2", body["userId"])
		writeJSON(t, w, http.StatusOK, map[string]any{"data": map[string]any{"conversation": map[string]any{"id": "c5", "type": "direct"}}})
	})

	conv, err := c.StartDirect(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, models.ID("c5"), conv.ID)

	_, err = c.StartDirect(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestMarkReadAndLeave(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.MarkRead(context.Background(), "c1"))
	require.NoError(t, c.LeaveGroup(context.Background(), "g1"))
	assert.Equal(t, []string{
		"PUT /api/messages/conversations/c1/read",
		"POST /api/messages/conversations/g1/leave",
	}, calls)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		wantMsg  string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"token expired"}`, ErrUnauthorized, "token expired"},
		{"forbidden", http.StatusForbidden, `{"error":"not a participant","code":"NOT_MEMBER"}`, ErrForbidden, "not a participant"},
		{"not found", http.StatusNotFound, `{"message":"conversation not found"}`, ErrNotFound, "conversation not found"},
		{"plain text", http.StatusInternalServerError, "boom", nil, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seenID string
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				seenID = r.Header.Get("X-Request-ID")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.ListConversations(context.Background())
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.NotEmpty(t, apiErr.RequestID)
			assert.Equal(t, seenID, apiErr.RequestID, "error carries the id the server saw")
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestMetricsRecorded(t *testing.T) {
	m := metrics.NewCollector()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(t, w, http.StatusOK, []any{})
	}, WithMetrics(m))

	_, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Error(t, c.MarkRead(context.Background(), "c1"))

	snap := m.Snapshot()
	require.Len(t, snap.Operations, 2)
	assert.Equal(t, metrics.OpListConversations, snap.Operations[0].Name)
	assert.Equal(t, int64(0), snap.Operations[0].Failures)
	assert.Equal(t, metrics.OpMarkRead, snap.Operations[1].Name)
	assert.Equal(t, int64(1), snap.Operations[1].Failures)
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("HUBCHAT_API_URL", "")
	t.Setenv("HUBCHAT_CLIENT_TIMEOUT", "")
	c := New("", "")
	assert.Equal(t, DefaultBaseURL, c.BaseURL())

	t.Setenv("HUBCHAT_API_URL", "https://hub.example.com/")
	t.Setenv("HUBCHAT_CLIENT_TIMEOUT", "5s")
	c = New("", "abc")
	assert.Equal(t, "https://hub.example.com", c.BaseURL())
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
	assert.Equal(t, "abc", c.Token())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "ab", truncate("abcdefgh", 2))
	assert.Equal(t, "/ä...", truncate("/äöüäöü", 5))
}
