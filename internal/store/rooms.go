package store

import (
	"cmp"
	"slices"
	"sync"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/ident"
)

// Rooms is the room-list cache fed by the same push channel as the
// message store: last message, unread count and friendship per room.
type Rooms struct {
	listeners

	mu     sync.RWMutex
	rooms  map[string]*domain.Room
	active string
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*domain.Room)}
}

func (r *Rooms) SetRooms(list []domain.Room) {
	r.mu.Lock()
	r.rooms = make(map[string]*domain.Room, len(list))
	for i := range list {
		room := list[i]
		r.rooms[room.Code] = &room
	}
	r.mu.Unlock()
	r.emit("")
}

// Upsert stores room, keeping the known last message when the update
// carries none.
func (r *Rooms) Upsert(room domain.Room) {
	r.mu.Lock()
	if old, ok := r.rooms[room.Code]; ok && room.LastMessage == nil {
		room.LastMessage = old.LastMessage
	}
	r.rooms[room.Code] = &room
	r.mu.Unlock()
	r.emit(room.Code)
}

func (r *Rooms) Get(code string) (domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	if !ok {
		return domain.Room{}, false
	}
	return *room, true
}

// List returns rooms with the most recent activity first.
func (r *Rooms) List() []domain.Room {
	r.mu.RLock()
	out := make([]domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, *room)
	}
	r.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b domain.Room) int {
		if c := cmp.Compare(activity(&b), activity(&a)); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})
	return out
}

func activity(room *domain.Room) int64 {
	if room.LastMessage != nil && room.LastMessage.TimeStamp != 0 {
		return room.LastMessage.TimeStamp
	}
	if ts := ident.Precise(room.UpdateDate); ts != 0 {
		return ts
	}
	return ident.Precise(room.CreateDate)
}

// UpdateFromMessage records msg as the room's last message. The unread
// count grows only for other users' messages outside the active room.
// Unknown rooms are ignored until the room list is refreshed.
func (r *Rooms) UpdateFromMessage(code string, msg domain.ChatMessage, currentUserID int64) bool {
	r.mu.Lock()
	room, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return false
	}
	m := msg.Clone()
	if m.TimeStamp == 0 {
		m.TimeStamp = ident.Precise(m.CreateDate)
	}
	if room.LastMessage == nil || m.TimeStamp >= room.LastMessage.TimeStamp {
		room.LastMessage = &m
		if m.CreateDate != "" {
			room.UpdateDate = m.CreateDate
		}
	}
	if m.UserID != currentUserID && code != r.active {
		room.UnreadCount++
	}
	r.mu.Unlock()
	r.emit(code)
	return true
}

func (r *Rooms) MarkRead(code string) {
	r.mu.Lock()
	room, ok := r.rooms[code]
	changed := ok && room.UnreadCount != 0
	if changed {
		room.UnreadCount = 0
	}
	r.mu.Unlock()
	if changed {
		r.emit(code)
	}
}

func (r *Rooms) SetUnread(code string, n int) {
	r.mu.Lock()
	room, ok := r.rooms[code]
	if ok {
		room.UnreadCount = n
	}
	r.mu.Unlock()
	if ok {
		r.emit(code)
	}
}

func (r *Rooms) SetFriend(code string, friend bool) {
	r.mu.Lock()
	room, ok := r.rooms[code]
	if ok {
		room.IsFriend = friend
	}
	r.mu.Unlock()
	if ok {
		r.emit(code)
	}
}

// SetActive marks the room the user is looking at. An empty code means
// no room is open.
func (r *Rooms) SetActive(code string) {
	r.mu.Lock()
	r.active = code
	r.mu.Unlock()
}

func (r *Rooms) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Rooms) Reset() {
	r.mu.Lock()
	r.rooms = make(map[string]*domain.Room)
	r.active = ""
	r.mu.Unlock()
	r.emit("")
}
