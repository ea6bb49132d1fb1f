package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/pulsesync/internal/service"
	"github.com/vedran77/pulsesync/internal/store"
	"go.uber.org/zap"
)

// Typist receives keystrokes from UI shells.
type Typist interface {
	Keystroke(room string)
}

// Hub manages the local view stream clients. Store changes mark rooms
// dirty; the Run loop renders each dirty room once and pushes the view to
// its subscribers.
type Hub struct {
	views  *service.Views
	typist Typist
	log    *zap.Logger

	// clients maps connection id → client. Only touched by Run.
	clients map[uuid.UUID]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg
	direct     chan *directMsg

	mu         sync.Mutex
	dirty      map[string]struct{}
	roomsDirty bool
	wake       chan struct{}
}

type broadcastMsg struct {
	room string // empty: every client
	data []byte
}

// directMsg targets one client: either prepared data or, when data is
// nil, a fresh view of room.
type directMsg struct {
	client *Client
	room   string
	data   []byte
}

func NewHub(views *service.Views, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		views:      views,
		log:        log,
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, 256),
		direct:     make(chan *directMsg, 64),
		dirty:      make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
	}
}

func (h *Hub) SetTypist(t Typist) {
	h.typist = t
}

// Run starts the Hub's main event loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client.id] = client
			h.log.Info("ws_client_connected", zap.String("user", client.userID), zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				h.drop(client)
				h.log.Info("ws_client_disconnected", zap.String("user", client.userID), zap.Int("total", len(h.clients)))
			}

		case msg := <-h.broadcast:
			h.deliver(msg)

		case msg := <-h.direct:
			h.sendTo(msg)

		case <-h.wake:
			h.flush()

		case <-ctx.Done():
			for _, c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c.id)
	close(c.send)
	close(c.done)
}

func (h *Hub) deliver(msg *broadcastMsg) {
	for _, client := range h.clients {
		if msg.room != "" && !client.IsSubscribed(msg.room) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			// Client buffer full - disconnect
			h.drop(client)
		}
	}
}

// Watch re-renders views on every store change. The returned function
// removes the listeners.
func (h *Hub) Watch(st *store.Store, rooms *store.Rooms, typing *store.Typing) func() {
	offs := []func(){
		st.Subscribe(h.MarkDirty),
		typing.Subscribe(h.MarkDirty),
		rooms.Subscribe(func(room string) {
			h.MarkDirty("")
			if room != "" {
				h.MarkDirty(room)
			}
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// MarkDirty schedules a re-render of room. An empty room marks the room
// list instead.
func (h *Hub) MarkDirty(room string) {
	h.mu.Lock()
	if room == "" {
		h.roomsDirty = true
	} else {
		h.dirty[room] = struct{}{}
	}
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// flush renders dirty rooms that at least one client watches.
func (h *Hub) flush() {
	h.mu.Lock()
	rooms := h.dirty
	h.dirty = make(map[string]struct{})
	listDirty := h.roomsDirty
	h.roomsDirty = false
	h.mu.Unlock()

	for room := range rooms {
		if !h.watched(room) {
			continue
		}
		h.deliverEvent(EventTypeRoomView, room, h.views.Room(room))
	}
	if listDirty && len(h.clients) > 0 {
		h.deliverEvent(EventTypeRoomsView, "", RoomsPayload{Rooms: h.views.Rooms()})
	}
}

func (h *Hub) watched(room string) bool {
	for _, c := range h.clients {
		if c.IsSubscribed(room) {
			return true
		}
	}
	return false
}

func (h *Hub) deliverEvent(eventType, room string, payload any) {
	data, err := encode(eventType, room, payload)
	if err != nil {
		h.log.Error("ws_marshal_failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.deliver(&broadcastMsg{room: room, data: data})
}

// BroadcastToRoom sends an event to all subscribers of a room, or to
// every client when room is empty.
func (h *Hub) BroadcastToRoom(room string, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("ws_marshal_failed", zap.String("type", event.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- &broadcastMsg{room: room, data: data}:
	default:
		h.log.Warn("ws_broadcast_dropped", zap.String("type", event.Type), zap.String("room", room))
	}
}

func (h *Hub) sendTo(msg *directMsg) {
	c, ok := h.clients[msg.client.id]
	if !ok {
		return
	}
	data := msg.data
	if data == nil {
		var err error
		data, err = encode(EventTypeRoomView, msg.room, h.views.Room(msg.room))
		if err != nil {
			h.log.Error("ws_marshal_failed", zap.String("type", EventTypeRoomView), zap.Error(err))
			return
		}
	}
	select {
	case c.send <- data:
	default:
		h.drop(c)
	}
}

func (h *Hub) keystroke(room string) {
	if h.typist != nil {
		h.typist.Keystroke(room)
	}
}

func encode(eventType, room string, payload any) ([]byte, error) {
	evt, err := NewEvent(eventType, room, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(evt)
}
