package ws

import (
	"encoding/json"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
)

// Event types - Client → Server
const (
	EventTypeRoomSubscribe   = "room.subscribe"
	EventTypeRoomUnsubscribe = "room.unsubscribe"
	EventTypeTyping          = "typing"
	EventTypePing            = "ping"
)

// Event types - Server → Client
const (
	EventTypeRoomView  = "room.view"
	EventTypeRoomsView = "rooms.view"
	EventTypeNotice    = "notice"
	EventTypePong      = "pong"
	EventTypeError     = "error"
)

// Event is the base envelope for all local view stream messages.
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Server → Client payloads ---

type RoomsPayload struct {
	Rooms []domain.Room `json:"rooms"`
}

type NoticePayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType, room string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Room:      room,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
