package webchat

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chat2k/pkg/chat"
)

// EventType tags every frame on the wire.
type EventType string

// Inbound event types.
const (
	EventIdentify    EventType = "identify"
	EventSendMessage EventType = "send_message"
	EventPing        EventType = "ping"
)

// Outbound event types.
const (
	EventHistory    EventType = "history"
	EventPresence   EventType = "presence"
	EventMessage    EventType = "message"
	EventIdentified EventType = "identified"
	EventError      EventType = "error"
	EventPong       EventType = "pong"
)

// Error codes carried by error frames.
const (
	CodeBadRequest       = "bad_request"
	CodeUnknownEvent     = "unknown_event"
	CodeIdentifyRejected = "identify_rejected"
	CodeNotIdentified    = "not_identified"
	CodeEmptyBody        = "empty_body"
	CodeMessageTooLong   = "message_too_long"
	CodeRateLimited      = "rate_limited"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Event is a decoded inbound frame.
type Event interface {
	Type() EventType
}

type IdentifyEvent struct {
	UserID string
}

type SendMessageEvent struct {
	Body string
}

type PingEvent struct{}

func (IdentifyEvent) Type() EventType    { return EventIdentify }
func (SendMessageEvent) Type() EventType { return EventSendMessage }
func (PingEvent) Type() EventType        { return EventPing }

type inboundFrame struct {
	Type   EventType `json:"type"`
	UserID *string   `json:"user_id"`
	Body   *string   `json:"body"`
}

// DecodeEvent parses one inbound frame. Frames that are not JSON objects or
// lack the fields their type requires yield ErrMalformedFrame; unknown types
// yield ErrUnknownEvent.
func DecodeEvent(data []byte) (Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	switch f.Type {
	case EventIdentify:
		if f.UserID == nil || strings.TrimSpace(*f.UserID) == "" {
			return nil, errors.Wrap(ErrMalformedFrame, "identify requires user_id")
		}
		return IdentifyEvent{UserID: strings.TrimSpace(*f.UserID)}, nil
	case EventSendMessage:
		if f.Body == nil {
			return nil, errors.Wrap(ErrMalformedFrame, "send_message requires body")
		}
		return SendMessageEvent{Body: *f.Body}, nil
	case EventPing:
		return PingEvent{}, nil
	case "":
		return nil, errors.Wrap(ErrMalformedFrame, "missing type")
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%q", string(f.Type))
	}
}

type historyFrame struct {
	Type     EventType      `json:"type"`
	Messages []chat.Message `json:"messages"`
}

type presenceFrame struct {
	Type  EventType         `json:"type"`
	Users map[string]string `json:"users"`
}

type messageFrame struct {
	Type    EventType    `json:"type"`
	Message chat.Message `json:"message"`
}

type identifiedFrame struct {
	Type   EventType `json:"type"`
	UserID string    `json:"user_id"`
	Name   string    `json:"name"`
}

type errorFrame struct {
	Type  EventType `json:"type"`
	Code  string    `json:"code"`
	Error string    `json:"error,omitempty"`
}

type pongFrame struct {
	Type EventType `json:"type"`
}

func encodeHistory(msgs []chat.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return json.Marshal(historyFrame{Type: EventHistory, Messages: msgs})
}

func encodePresence(users map[string]string) ([]byte, error) {
	if users == nil {
		users = map[string]string{}
	}
	return json.Marshal(presenceFrame{Type: EventPresence, Users: users})
}

func encodeMessage(m chat.Message) ([]byte, error) {
	return json.Marshal(messageFrame{Type: EventMessage, Message: m})
}

func encodeIdentified(userID, name string) ([]byte, error) {
	return json.Marshal(identifiedFrame{Type: EventIdentified, UserID: userID, Name: name})
}

func encodeError(code, msg string) ([]byte, error) {
	return json.Marshal(errorFrame{Type: EventError, Code: code, Error: msg})
}

func encodePong() ([]byte, error) {
	return json.Marshal(pongFrame{Type: EventPong})
}
