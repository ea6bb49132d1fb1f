package store

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/vedran77/pulsesync/internal/domain"
)

// Typing tracks who is typing in each room. Entries expire after ttl
// unless refreshed, and are dropped as soon as the user's message lands.
type Typing struct {
	listeners

	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	rooms map[string]map[int64]typingEntry
}

type typingEntry struct {
	user    domain.TypingUser
	expires time.Time
}

func NewTyping(ttl time.Duration) *Typing {
	return &Typing{
		ttl:   ttl,
		now:   time.Now,
		rooms: make(map[string]map[int64]typingEntry),
	}
}

func (t *Typing) Start(room string, user domain.TypingUser) {
	t.mu.Lock()
	users, ok := t.rooms[room]
	if !ok {
		users = make(map[int64]typingEntry)
		t.rooms[room] = users
	}
	_, existed := users[user.UserID]
	users[user.UserID] = typingEntry{user: user, expires: t.now().Add(t.ttl)}
	t.mu.Unlock()
	if !existed {
		t.emit(room)
	}
}

func (t *Typing) Stop(room string, userID int64) {
	t.mu.Lock()
	_, existed := t.rooms[room][userID]
	delete(t.rooms[room], userID)
	t.mu.Unlock()
	if existed {
		t.emit(room)
	}
}

func (t *Typing) ClearRoom(room string) {
	t.mu.Lock()
	n := len(t.rooms[room])
	delete(t.rooms, room)
	t.mu.Unlock()
	if n > 0 {
		t.emit(room)
	}
}

func (t *Typing) Reset() {
	t.mu.Lock()
	t.rooms = make(map[string]map[int64]typingEntry)
	t.mu.Unlock()
}

// Active returns the users currently typing in room, pruning expired
// entries, ordered by user id.
func (t *Typing) Active(room string) []domain.TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []domain.TypingUser
	for id, e := range t.rooms[room] {
		if now.After(e.expires) {
			delete(t.rooms[room], id)
			continue
		}
		out = append(out, e.user)
	}
	slices.SortFunc(out, func(a, b domain.TypingUser) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out
}
