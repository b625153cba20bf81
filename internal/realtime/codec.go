package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/projecthub/hubchat/internal/models"
)

// Outbound event names announcing the viewer's channels.
const (
	eventJoinUser = "join_user"
	eventJoinRole = "join_role"
)

// errUnknownEvent marks frames that are valid but not handled by this client.
var errUnknownEvent = errors.New("unknown event")

// Frame is one JSON text frame on the socket. Some servers name the event
// with "type" instead of "event"; both are accepted on read.
type Frame struct {
	Event string          `json:"event"`
	Type  string          `json:"type,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Name returns the event name, whichever key carried it.
func (f Frame) Name() string {
	if f.Event != "" {
		return f.Event
	}
	return f.Type
}

func newFrame(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	return Frame{Event: event, Data: raw}, nil
}

// joinFrames returns the channel announcements for identity.
func joinFrames(id models.Identity) ([]Frame, error) {
	user, err := newFrame(eventJoinUser, map[string]string{"userId": id.UserID.String()})
	if err != nil {
		return nil, err
	}
	frames := []Frame{user}
	if id.Role != "" {
		role, err := newFrame(eventJoinRole, map[string]string{"role": id.Role})
		if err != nil {
			return nil, err
		}
		frames = append(frames, role)
	}
	return frames, nil
}

// messagePayload covers the shapes message events arrive in: either
// {"conversationId", "message"} or the message object itself.
type messagePayload struct {
	ConversationID models.ID       `json:"conversationId"`
	Message        *models.Message `json:"message"`
	MessageID      models.ID       `json:"messageId"`
}

// DecodeEvent converts a frame into a typed event.
func DecodeEvent(f Frame) (models.Event, error) {
	name := models.EventType(f.Name())
	switch name {
	case models.EventNewMessage, models.EventMessageUpdated, models.EventMessageDeleted:
	default:
		return models.Event{}, fmt.Errorf("%w: %q", errUnknownEvent, f.Name())
	}

	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return models.Event{}, fmt.Errorf("decode %s: empty payload", name)
	}

	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.Event{}, fmt.Errorf("decode %s: %w", name, err)
	}

	switch name {
	case models.EventMessageDeleted:
		id := p.MessageID
		if id.IsZero() && p.Message != nil {
			id = p.Message.ID
		}
		if id.IsZero() {
			var bare models.Message
			if err := json.Unmarshal(data, &bare); err == nil {
				id = bare.ID
			}
		}
		if id.IsZero() {
			return models.Event{}, fmt.Errorf("decode %s: missing message id", name)
		}
		ev := models.MessageDeletedEvent(id)
		ev.ConversationID = p.ConversationID
		return ev, nil

	default:
		msg := p.Message
		if msg == nil {
			var bare models.Message
			if err := json.Unmarshal(data, &bare); err != nil {
				return models.Event{}, fmt.Errorf("decode %s: %w", name, err)
			}
			msg = &bare
		}
		if msg.ID.IsZero() {
			return models.Event{}, fmt.Errorf("decode %s: missing message id", name)
		}
		convID := p.ConversationID
		if convID.IsZero() {
			convID = msg.ConversationID
		}
		if msg.ConversationID.IsZero() {
			msg.ConversationID = convID
		}
		return models.Event{Type: name, ConversationID: convID, Message: msg}, nil
	}
}
