package push

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TypingSink delivers this client's typing state to the server.
type TypingSink interface {
	SendTyping(room string, typing bool) error
}

// TypingBroadcaster turns keystrokes into start/stop typing signals. A
// stop is sent after the idle delay without keystrokes, and at the latest
// once the hard limit elapses since the start.
type TypingBroadcaster struct {
	sink TypingSink
	idle time.Duration
	hard time.Duration
	log  *zap.Logger

	mu    sync.Mutex
	rooms map[string]*typingState
}

type typingState struct {
	idle *time.Timer
	hard *time.Timer
}

func NewTypingBroadcaster(sink TypingSink, idle, hard time.Duration, log *zap.Logger) *TypingBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &TypingBroadcaster{
		sink:  sink,
		idle:  idle,
		hard:  hard,
		log:   log,
		rooms: make(map[string]*typingState),
	}
}

// Keystroke records local typing activity in room.
func (b *TypingBroadcaster) Keystroke(room string) {
	b.mu.Lock()
	st, ok := b.rooms[room]
	if ok {
		st.idle.Reset(b.idle)
		b.mu.Unlock()
		return
	}
	st = &typingState{}
	st.idle = time.AfterFunc(b.idle, func() { b.expire(room, st) })
	st.hard = time.AfterFunc(b.hard, func() { b.expire(room, st) })
	b.rooms[room] = st
	b.mu.Unlock()

	b.publish(room, true)
}

// StopTyping ends the typing state for room, if any.
func (b *TypingBroadcaster) StopTyping(room string) {
	b.mu.Lock()
	st, ok := b.rooms[room]
	if ok {
		delete(b.rooms, room)
		st.idle.Stop()
		st.hard.Stop()
	}
	b.mu.Unlock()

	if ok {
		b.publish(room, false)
	}
}

func (b *TypingBroadcaster) Typing(room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rooms[room]
	return ok
}

func (b *TypingBroadcaster) expire(room string, st *typingState) {
	b.mu.Lock()
	if b.rooms[room] != st {
		b.mu.Unlock()
		return
	}
	delete(b.rooms, room)
	st.idle.Stop()
	st.hard.Stop()
	b.mu.Unlock()

	b.publish(room, false)
}

func (b *TypingBroadcaster) publish(room string, typing bool) {
	if err := b.sink.SendTyping(room, typing); err != nil {
		b.log.Debug("typing_send_failed", zap.String("room", room), zap.Bool("typing", typing), zap.Error(err))
	}
}
