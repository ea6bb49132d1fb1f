package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/store"
	"go.uber.org/zap"
)

const room = "r1"

type harness struct {
	adapter *Adapter
	store   *store.Store
	rooms   *store.Rooms
	typing  *store.Typing
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  store.New(zap.NewNop()),
		rooms:  store.NewRooms(),
		typing: store.NewTyping(time.Minute),
	}
	h.adapter = NewAdapter(h.store, h.rooms, h.typing, 1, zap.NewNop())
	h.rooms.SetRooms([]domain.Room{{Code: room, Type: domain.RoomGroup}})
	return h
}

func event(t *testing.T, typ string, payload any) *Event {
	t.Helper()
	evt, err := NewEvent(typ, room, payload)
	require.NoError(t, err)
	return evt
}

func TestNewMessageClearsTypingAndBumpsUnread(t *testing.T) {
	h := newHarness(t)
	h.typing.Start(room, domain.TypingUser{UserID: 2, UserName: "peer"})

	msg := domain.ChatMessage{Code: "x", UserID: 2, MessageText: "hi", CreateDate: "2025-06-24T13:00:00"}
	require.NoError(t, h.adapter.Dispatch(event(t, EventMessageNew, msg)))
	require.NoError(t, h.adapter.Dispatch(event(t, EventMessageNew, msg)))

	assert.Len(t, h.store.Messages(room), 1)
	assert.Empty(t, h.typing.Active(room))

	r, _ := h.rooms.Get(room)
	assert.Equal(t, 1, r.UnreadCount)
	require.NotNil(t, r.LastMessage)
	assert.Equal(t, "x", r.LastMessage.Code)
}

func TestEchoMergesIntoOptimisticRow(t *testing.T) {
	h := newHarness(t)
	h.store.AddMessage(room, domain.ChatMessage{TempID: "temp_1", UserID: 1, MessageText: "hi", TimeStamp: 10})

	echo := domain.ChatMessage{Code: "x", ID: 7, TempID: "temp_1", UserID: 1, MessageText: "hi"}
	require.NoError(t, h.adapter.Dispatch(event(t, EventMessageNew, echo)))

	msgs := h.store.Messages(room)
	require.Len(t, msgs, 1)
	assert.Equal(t, "x", msgs[0].Code)
	assert.Equal(t, int64(10), msgs[0].TimeStamp)
	assert.Equal(t, domain.StateConfirmed, msgs[0].State())
}

func TestRevokeUpdatesReplies(t *testing.T) {
	h := newHarness(t)
	h.store.AddMessage(room, domain.ChatMessage{Code: "a", UserID: 2, MessageText: "secret", TimeStamp: 1})
	h.store.AddMessage(room, domain.ChatMessage{Code: "b", UserID: 1, MessageText: "re", TimeStamp: 2, ReplyToMessageCode: "a",
		ReplyToMessage: &domain.ReplyPreview{Code: "a", MessageText: "secret"}})

	require.NoError(t, h.adapter.Dispatch(event(t, EventMessageRevoked, domain.ChatMessage{Code: "a"})))

	a, _ := h.store.Get(room, "a")
	assert.True(t, a.IsRevoked.On())
	assert.Empty(t, a.MessageText)
	b, _ := h.store.Get(room, "b")
	assert.True(t, b.ReplyToMessage.IsRevoked.On())
	assert.Empty(t, b.ReplyToMessage.MessageText)
}

func TestUpdateAfterRevokeIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.store.AddMessage(room, domain.ChatMessage{Code: "a", UserID: 2, MessageText: "secret", TimeStamp: 1})
	h.store.AddMessage(room, domain.ChatMessage{Code: "b", UserID: 1, MessageText: "re", TimeStamp: 2, ReplyToMessageCode: "a",
		ReplyToMessage: &domain.ReplyPreview{Code: "a", MessageText: "secret"}})

	require.NoError(t, h.adapter.Dispatch(event(t, EventMessageRevoked, domain.ChatMessage{Code: "a"})))
	require.NoError(t, h.adapter.Dispatch(event(t, EventMessageUpdated,
		domain.ChatMessage{Code: "a", MessageText: "secret v2", IsEdited: 1})))

	a, _ := h.store.Get(room, "a")
	assert.True(t, a.IsRevoked.On())
	assert.Empty(t, a.MessageText)
	b, _ := h.store.Get(room, "b")
	assert.True(t, b.ReplyToMessage.IsRevoked.On())
	assert.Empty(t, b.ReplyToMessage.MessageText)
}

func TestEditEvent(t *testing.T) {
	h := newHarness(t)
	h.store.AddMessage(room, domain.ChatMessage{Code: "a", UserID: 2, MessageText: "old", TimeStamp: 1})

	require.NoError(t, h.adapter.Dispatch(event(t, EventMessageUpdated,
		domain.ChatMessage{Code: "a", MessageText: "new", IsEdited: 1})))

	a, _ := h.store.Get(room, "a")
	assert.Equal(t, "new", a.MessageText)
	assert.True(t, a.IsEdited.On())
}

func TestTypingEvents(t *testing.T) {
	h := newHarness(t)
	peer := domain.TypingUser{UserID: 2, UserName: "peer"}

	require.NoError(t, h.adapter.Dispatch(event(t, EventTyping, TypingPayload{TypingUser: peer, IsTyping: true})))
	assert.Len(t, h.typing.Active(room), 1)

	require.NoError(t, h.adapter.Dispatch(event(t, EventTyping, TypingPayload{TypingUser: domain.TypingUser{UserID: 1}, IsTyping: true})))
	assert.Len(t, h.typing.Active(room), 1)

	require.NoError(t, h.adapter.Dispatch(event(t, EventTyping, TypingPayload{TypingUser: peer})))
	assert.Empty(t, h.typing.Active(room))
}

func TestReadBackfillIsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.store.AddMessage(room, domain.ChatMessage{Code: "a", UserID: 1, MessageText: "one", TimeStamp: 1})
	h.store.AddMessage(room, domain.ChatMessage{Code: "b", UserID: 1, MessageText: "two", TimeStamp: 2})
	h.store.AddMessage(room, domain.ChatMessage{Code: "c", UserID: 2, MessageText: "mine?", TimeStamp: 3})

	read := event(t, EventRead, ReadPayload{Readers: []domain.Reader{{UserID: 2, UserName: "peer"}}})
	require.NoError(t, h.adapter.Dispatch(read))
	require.NoError(t, h.adapter.Dispatch(read))

	for _, code := range []string{"a", "b"} {
		m, _ := h.store.Get(room, code)
		require.Len(t, m.UserHasRead, 1, code)
		assert.Equal(t, int64(2), m.UserHasRead[0].UserID)
		assert.NotEmpty(t, m.UserHasRead[0].ReadTime)
	}
	c, _ := h.store.Get(room, "c")
	assert.Empty(t, c.UserHasRead)
}

func TestPresenceCountsAsReadWhenEnabled(t *testing.T) {
	h := newHarness(t)
	h.store.AddMessage(room, domain.ChatMessage{Code: "a", UserID: 1, MessageText: "one", TimeStamp: 1})
	presence := event(t, EventPresence, PresencePayload{UserID: 3, UserName: "x", Active: true})

	h.adapter.SetPresenceCountsAsRead(false)
	require.NoError(t, h.adapter.Dispatch(presence))
	a, _ := h.store.Get(room, "a")
	assert.Empty(t, a.UserHasRead)

	h.adapter.SetPresenceCountsAsRead(true)
	require.NoError(t, h.adapter.Dispatch(presence))
	a, _ = h.store.Get(room, "a")
	assert.Len(t, a.UserHasRead, 1)
}

func TestRoomEvents(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.adapter.Dispatch(event(t, EventUnreadChanged, UnreadPayload{Count: 4})))
	r, _ := h.rooms.Get(room)
	assert.Equal(t, 4, r.UnreadCount)

	evt, err := NewEvent(EventRoomUpdated, "", domain.Room{Code: "r2", Title: "new"})
	require.NoError(t, err)
	require.NoError(t, h.adapter.Dispatch(evt))
	r2, ok := h.rooms.Get("r2")
	require.True(t, ok)
	assert.Equal(t, "new", r2.Title)
}

func TestDispatchErrors(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.adapter.Dispatch(&Event{Type: "bogus", Room: room}), ErrUnknownEvent)
	assert.ErrorIs(t, h.adapter.Dispatch(&Event{Type: EventMessageNew}), ErrMissingRoom)
	assert.ErrorIs(t, h.adapter.Dispatch(&Event{Type: EventMessageNew, Room: room, Payload: []byte("{")}), ErrInvalidPayload)
	assert.NoError(t, h.adapter.Dispatch(&Event{Type: EventPong}))
}
