package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

// RoomPayload is the body of room.subscribe, room.unsubscribe and typing.
type RoomPayload struct {
	Room string `json:"room"`
}

// Client represents a single local WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     uuid.UUID
	userID string
	log    *zap.Logger

	// rooms tracks which room views this client listens to.
	rooms map[string]struct{}
	mu    sync.RWMutex

	send chan []byte
	done chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		id:     uuid.New(),
		userID: userID,
		log:    hub.log.With(zap.String("user", userID)),
		rooms:  make(map[string]struct{}),
		send:   make(chan []byte, sendBufSize),
		done:   make(chan struct{}),
	}
}

// IsSubscribed checks if this client watches a room.
func (c *Client) IsSubscribed(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) Subscribe(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Client) Unsubscribe(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

// ReadPump reads client events until the connection closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-ctx.Done():
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.Debug("ws_client_closed")
			} else {
				c.log.Debug("ws_read_failed", zap.Error(err))
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes queued events to the WebSocket.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Debug("ws_write_failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(wctx)
			cancel()
			if err != nil {
				c.log.Debug("ws_ping_failed", zap.Error(err))
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeRoomSubscribe, EventTypeRoomUnsubscribe, EventTypeTyping:
		room := event.Room
		if room == "" && len(event.Payload) > 0 {
			var p RoomPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				c.sendError("INVALID_PAYLOAD", "invalid "+event.Type+" payload")
				return
			}
			room = p.Room
		}
		if room == "" {
			c.sendError("INVALID_PAYLOAD", "room required for "+event.Type)
			return
		}

		switch event.Type {
		case EventTypeRoomSubscribe:
			c.Subscribe(room)
			c.post(&directMsg{client: c, room: room})
		case EventTypeRoomUnsubscribe:
			c.Unsubscribe(room)
		default:
			c.hub.keystroke(room)
		}

	case EventTypePing:
		data, _ := json.Marshal(Event{Type: EventTypePong})
		c.post(&directMsg{client: c, data: data})

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) sendError(code, message string) {
	data, err := encode(EventTypeError, "", ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.post(&directMsg{client: c, data: data})
}

func (c *Client) post(msg *directMsg) {
	select {
	case c.hub.direct <- msg:
	case <-c.done:
	}
}
