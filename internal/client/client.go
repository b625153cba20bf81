// Package client provides a REST client for the ProjectHub messaging API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/projecthub/hubchat/internal/metrics"
	"github.com/projecthub/hubchat/internal/models"
)

// DefaultBaseURL is used when neither an explicit URL nor HUBCHAT_API_URL is set.
const DefaultBaseURL = "http://localhost:5000"

// DefaultTimeout is zero: a hung call leaves its loading state active rather
// than failing on an arbitrary deadline. HUBCHAT_CLIENT_TIMEOUT sets one.
const DefaultTimeout time.Duration = 0

// Client is a REST client for the messaging endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collector
	validate   *validator.Validate
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is wrapped
// for logging; the caller's client is not modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.httpClient = &cp
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records request timings into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a new REST client.
// If baseURL is empty, uses HUBCHAT_API_URL env var or defaults to localhost:5000.
// Timeout can be configured via HUBCHAT_CLIENT_TIMEOUT env var (default none).
func New(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("HUBCHAT_API_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := DefaultTimeout
	if t := os.Getenv("HUBCHAT_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		validate:   validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = newLoggingTransport(c.httpClient.Transport, c.logger)

	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the session token sent with each request.
func (c *Client) Token() string {
	return c.token
}

// request describes a single REST call.
type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
}

// do sends a request and decodes the (optionally enveloped) response into result.
func (c *Client) do(ctx context.Context, r request, result any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordTiming(r.op, time.Since(start), err != nil)
	}()

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	requestID := uuid.New().String()
	req.Header.Set(requestIDHeader, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, body, requestID)
	}

	if result == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrapData(body), result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// doJSON marshals payload as the request body.
func (c *Client) doJSON(ctx context.Context, op, method, path string, payload, result any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, request{op: op, method: method, path: path, body: body, contentType: contentType}, result)
}

// unwrapData returns the "data" member of an enveloped response, or body as-is.
func unwrapData(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return trimmed
	}
	if data, ok := envelope["data"]; ok && len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		return data
	}
	return trimmed
}

// decodeList accepts either a bare array or an object holding the array under key.
func decodeList[T any](raw json.RawMessage, key string) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("unmarshal list: %w", err)
		}
		return items, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	inner, ok := wrapped[key]
	if !ok {
		return nil, fmt.Errorf("unmarshal list: missing %q", key)
	}
	var items []T
	if err := json.Unmarshal(inner, &items); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// decodeOne accepts either the object itself or an object holding it under key.
func decodeOne[T any](raw json.RawMessage, key string) (*T, error) {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if inner, ok := wrapped[key]; ok {
			raw = inner
		}
	}
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &item, nil
}

func conversationPath(id models.ID, suffix string) string {
	return "/api/messages/conversations/" + url.PathEscape(id.String()) + suffix
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ListConversations returns every conversation the viewer participates in.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, metrics.OpListConversations, http.MethodGet, "/api/messages/conversations", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[models.Conversation](raw, "conversations")
}

// StartDirect opens (or returns the existing) direct conversation with userID.
func (c *Client) StartDirect(ctx context.Context, userID models.ID) (*models.Conversation, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	var raw json.RawMessage
	payload := map[string]any{"userId": userID}
	if err := c.doJSON(ctx, metrics.OpStartDirect, http.MethodPost, "/api/messages/conversations/direct", payload, &raw); err != nil {
		return nil, err
	}
	return decodeOne[models.Conversation](raw, "conversation")
}

// CreateGroupInput is the input for creating a group conversation.
type CreateGroupInput struct {
	Name        string      `json:"name" validate:"required,max=100"`
	Description string      `json:"description,omitempty" validate:"max=500"`
	MemberIDs   []models.ID `json:"memberIds" validate:"required,min=1,dive,required"`
}

// CreateGroup creates a group conversation with the viewer and MemberIDs.
func (c *Client) CreateGroup(ctx context.Context, input CreateGroupInput) (*models.Conversation, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := c.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var raw json.RawMessage
	if err := c.doJSON(ctx, metrics.OpCreateGroup, http.MethodPost, "/api/messages/conversations/group", input, &raw); err != nil {
		return nil, err
	}
	return decodeOne[models.Conversation](raw, "conversation")
}

// MarkRead persists that the viewer has read conversationID.
func (c *Client) MarkRead(ctx context.Context, conversationID models.ID) error {
	return c.doJSON(ctx, metrics.OpMarkRead, http.MethodPut, conversationPath(conversationID, "/read"), nil, nil)
}

// LeaveGroup removes the viewer from a group conversation.
func (c *Client) LeaveGroup(ctx context.Context, conversationID models.ID) error {
	return c.doJSON(ctx, metrics.OpLeaveGroup, http.MethodPost, conversationPath(conversationID, "/leave"), nil, nil)
}

// =============================================================================
// MESSAGES
// =============================================================================

// ListMessages returns the message history of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID models.ID) ([]models.Message, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, metrics.OpFetchHistory, http.MethodGet, conversationPath(conversationID, "/messages"), nil, &raw); err != nil {
		return nil, err
	}
	msgs, err := decodeList[models.Message](raw, "messages")
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ConversationID.IsZero() {
			msgs[i].ConversationID = conversationID
		}
	}
	return msgs, nil
}

// SendText posts a plain text message.
func (c *Client) SendText(ctx context.Context, conversationID models.ID, text string) (*models.Message, error) {
	var raw json.RawMessage
	payload := map[string]string{"content": text}
	if err := c.doJSON(ctx, metrics.OpSendMessage, http.MethodPost, conversationPath(conversationID, "/messages"), payload, &raw); err != nil {
		return nil, err
	}
	return finishSent(raw, conversationID)
}

// SendWithAttachments posts text and files in one multipart request.
// The body is streamed; files are not buffered in memory.
func (c *Client) SendWithAttachments(ctx context.Context, conversationID models.ID, text string, uploads []Upload) (*models.Message, error) {
	if len(uploads) == 0 {
		return c.SendText(ctx, conversationID, text)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, text, uploads))
	}()

	var raw json.RawMessage
	err := c.do(ctx, request{
		op:          metrics.OpSendAttachments,
		method:      http.MethodPost,
		path:        conversationPath(conversationID, "/messages/attachments"),
		body:        pr,
		contentType: mw.FormDataContentType(),
	}, &raw)
	// Unblock the writer if the request ended before the body was consumed.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return nil, err
	}
	return finishSent(raw, conversationID)
}

// writeMultipart writes the caption and every file part, then the closing boundary.
func writeMultipart(mw *multipart.Writer, text string, uploads []Upload) error {
	if err := mw.WriteField("content", text); err != nil {
		return fmt.Errorf("write content field: %w", err)
	}
	for _, u := range uploads {
		if err := writeFilePart(mw, u); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, u Upload) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, u.Name))
	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", u.Name, err)
	}
	rc, err := u.Open()
	if err != nil {
		return fmt.Errorf("open attachment %s: %w", u.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("copy attachment %s: %w", u.Name, err)
	}
	return nil
}

// finishSent decodes a created message and fills in the conversation id if omitted.
func finishSent(raw json.RawMessage, conversationID models.ID) (*models.Message, error) {
	msg, err := decodeOne[models.Message](raw, "message")
	if err != nil {
		return nil, err
	}
	if msg.ID.IsZero() {
		return nil, fmt.Errorf("unmarshal message: response carries no id")
	}
	if msg.ConversationID.IsZero() {
		msg.ConversationID = conversationID
	}
	return msg, nil
}
