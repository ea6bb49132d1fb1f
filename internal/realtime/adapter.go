// Package realtime applies push channel events to the local caches.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/ident"
	"github.com/vedran77/pulsesync/internal/metrics"
	"github.com/vedran77/pulsesync/internal/store"
	"go.uber.org/zap"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMissingRoom    = errors.New("event has no room")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Adapter funnels push events into the message store, the typing set and
// the room list.
type Adapter struct {
	store  *store.Store
	rooms  *store.Rooms
	typing *store.Typing
	self   int64

	presenceCountsAsRead bool
	now                  func() time.Time
	metrics              *metrics.Metrics
	log                  *zap.Logger
}

func NewAdapter(st *store.Store, rooms *store.Rooms, typing *store.Typing, self int64, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		store:                st,
		rooms:                rooms,
		typing:               typing,
		self:                 self,
		presenceCountsAsRead: true,
		now:                  time.Now,
		log:                  log,
	}
}

// SetPresenceCountsAsRead decides whether "active in room" signals are
// recorded as read receipts.
func (a *Adapter) SetPresenceCountsAsRead(v bool) {
	a.presenceCountsAsRead = v
}

func (a *Adapter) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// Dispatch decodes one event and applies it.
func (a *Adapter) Dispatch(evt *Event) error {
	a.metrics.Push(evt.Type)

	switch evt.Type {
	case EventPong, EventError:
		return nil
	case EventRoomUpdated:
		var room domain.Room
		if err := decode(evt, &room); err != nil {
			return err
		}
		a.ApplyRoom(room)
		return nil
	}

	if evt.Room == "" {
		return fmt.Errorf("%s: %w", evt.Type, ErrMissingRoom)
	}

	switch evt.Type {
	case EventMessageNew:
		var msg domain.ChatMessage
		if err := decode(evt, &msg); err != nil {
			return err
		}
		a.ApplyNewMessage(evt.Room, msg)

	case EventMessageUpdated, EventMessageRevoked:
		var msg domain.ChatMessage
		if err := decode(evt, &msg); err != nil {
			return err
		}
		if evt.Type == EventMessageRevoked {
			msg.IsRevoked = 1
		}
		a.ApplyUpdate(evt.Room, msg)

	case EventTyping:
		var p TypingPayload
		if err := decode(evt, &p); err != nil {
			return err
		}
		a.ApplyTyping(evt.Room, p.TypingUser, p.IsTyping)

	case EventRead:
		var p ReadPayload
		if err := decode(evt, &p); err != nil {
			return err
		}
		a.ApplyRead(evt.Room, p.Readers)

	case EventPresence:
		var p PresencePayload
		if err := decode(evt, &p); err != nil {
			return err
		}
		a.ApplyPresence(evt.Room, p)

	case EventUnreadChanged:
		var p UnreadPayload
		if err := decode(evt, &p); err != nil {
			return err
		}
		a.rooms.SetUnread(evt.Room, p.Count)

	default:
		return fmt.Errorf("%q: %w", evt.Type, ErrUnknownEvent)
	}
	return nil
}

func decode(evt *Event, v any) error {
	if len(evt.Payload) == 0 {
		return fmt.Errorf("%s: %w: empty", evt.Type, ErrInvalidPayload)
	}
	if err := json.Unmarshal(evt.Payload, v); err != nil {
		return fmt.Errorf("%s: %w: %v", evt.Type, ErrInvalidPayload, err)
	}
	return nil
}

// ApplyNewMessage inserts a pushed message. An echo of a message this
// client sent is merged into the optimistic row by the store.
func (a *Adapter) ApplyNewMessage(room string, msg domain.ChatMessage) {
	if !msg.HasKey() {
		a.log.Warn("push_drop_unkeyed", zap.String("room", room))
		a.metrics.Drop("push")
		return
	}
	inserted := a.store.AddMessage(room, msg)
	if msg.UserID != 0 {
		a.typing.Stop(room, msg.UserID)
	}
	if inserted {
		a.rooms.UpdateFromMessage(room, msg, a.self)
	}
}

// ApplyUpdate applies a pushed edit or revoke to the message and to every
// reply quoting it.
func (a *Adapter) ApplyUpdate(room string, msg domain.ChatMessage) {
	if !a.store.UpdateMessageAndReplies(room, msg) {
		a.log.Debug("push_update_missed", zap.String("room", room), zap.String("code", msg.Code))
	}
}

func (a *Adapter) ApplyTyping(room string, user domain.TypingUser, typing bool) {
	if user.UserID == 0 || user.UserID == a.self {
		return
	}
	if typing {
		a.typing.Start(room, user)
		return
	}
	a.typing.Stop(room, user.UserID)
}

// ApplyRead backfills read receipts. Each reader is applied on its own so
// that the reader's own messages are skipped.
func (a *Adapter) ApplyRead(room string, readers []domain.Reader) {
	for _, r := range readers {
		if r.UserID == 0 {
			continue
		}
		if r.UserID == a.self {
			a.rooms.MarkRead(room)
			continue
		}
		if r.ReadTime == "" {
			r.ReadTime = ident.FormatDate(a.now())
		}
		a.store.UpdateReadStatus(room, []domain.Reader{r}, r.UserID)
	}
}

func (a *Adapter) ApplyPresence(room string, p PresencePayload) {
	if !p.Active || !a.presenceCountsAsRead {
		return
	}
	a.ApplyRead(room, []domain.Reader{{
		UserID:     p.UserID,
		UserName:   p.UserName,
		UserAvatar: p.UserAvatar,
	}})
}

func (a *Adapter) ApplyRoom(room domain.Room) {
	if room.Code == "" {
		return
	}
	a.rooms.Upsert(room)
}
