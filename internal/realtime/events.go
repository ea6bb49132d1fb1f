package realtime

import (
	"encoding/json"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
)

// Event types - Server → Client
const (
	EventMessageNew     = "message.new"
	EventMessageUpdated = "message.updated"
	EventMessageRevoked = "message.revoked"
	EventTyping         = "typing"
	EventRead           = "read"
	EventPresence       = "presence"
	EventRoomUpdated    = "room.updated"
	EventUnreadChanged  = "unread.changed"
	EventPong           = "pong"
	EventError          = "error"
)

// Event types - Client → Server
const (
	EventRoomJoin   = "room.join"
	EventRoomLeave  = "room.leave"
	EventRoomActive = "room.active"
	EventTypingSend = "typing.send"
	EventPing       = "ping"
)

// Event is the push channel envelope.
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

type TypingPayload struct {
	domain.TypingUser
	IsTyping bool `json:"isTyping"`
}

type ReadPayload struct {
	Readers []domain.Reader `json:"readers"`
}

type PresencePayload struct {
	UserID     int64  `json:"userId"`
	UserName   string `json:"userName"`
	UserAvatar string `json:"userAvatar,omitempty"`
	Active     bool   `json:"active"`
}

type UnreadPayload struct {
	Count int `json:"count"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(eventType, room string, payload any) (*Event, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Event{
		Type:      eventType,
		Room:      room,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
