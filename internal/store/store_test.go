package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsesync/internal/domain"
	"go.uber.org/zap"
)

const room = "room-1"

func newStore() *Store {
	return New(zap.NewNop())
}

func pending(tempID string, ts int64) domain.ChatMessage {
	return domain.ChatMessage{
		TempID:      tempID,
		UserID:      1,
		UserName:    "me",
		MessageText: "text " + tempID,
		MessageType: domain.MessageTypeUser,
		TimeStamp:   ts,
	}
}

func confirmed(code string, id int64, user int64, ts int64) domain.ChatMessage {
	return domain.ChatMessage{
		ID:          id,
		Code:        code,
		UserID:      user,
		MessageText: "text " + code,
		MessageType: domain.MessageTypeUser,
		TimeStamp:   ts,
	}
}

func TestAddMessageIsIdempotent(t *testing.T) {
	s := newStore()

	assert.True(t, s.AddMessage(room, pending("temp_1", 100)))
	assert.False(t, s.AddMessage(room, pending("temp_1", 100)))

	assert.True(t, s.AddMessage(room, confirmed("c1", 1, 2, 200)))
	assert.False(t, s.AddMessage(room, confirmed("c1", 1, 2, 200)))

	assert.Len(t, s.Messages(room), 2)
}

func TestAddMessageDropsUnkeyed(t *testing.T) {
	s := newStore()
	assert.False(t, s.AddMessage(room, domain.ChatMessage{MessageText: "orphan"}))
	assert.Empty(t, s.Messages(room))
}

func TestServerResponsePreservesPosition(t *testing.T) {
	s := newStore()
	s.AddMessage(room, confirmed("a", 1, 2, 100))
	b := pending("T", 200)
	b.UserAvatar = "avatar.png"
	s.AddMessage(room, b)
	s.AddMessage(room, confirmed("c", 3, 2, 300))

	ok := s.UpdateWithServerResponse(room, "T", domain.ChatMessage{ID: 5, Code: "X"})
	require.True(t, ok)

	msgs := s.Messages(room)
	require.Len(t, msgs, 3)
	got := msgs[1]
	assert.Equal(t, int64(5), got.ID)
	assert.Equal(t, "X", got.Code)
	assert.Equal(t, "T", got.TempID)
	assert.Equal(t, "text T", got.MessageText)
	assert.Equal(t, "avatar.png", got.UserAvatar)
	assert.Equal(t, int64(200), got.TimeStamp)
	assert.True(t, got.IsSend)
	assert.False(t, got.IsError)
	assert.Equal(t, domain.StateConfirmed, got.State())
}

func TestServerResponseIsIdempotent(t *testing.T) {
	s := newStore()
	m := pending("T", 100)
	m.ChatAttachments = []domain.Attachment{{FileName: "a.png", OriginalIndex: 0, IsUploading: true}}
	s.AddMessage(room, m)

	resp := domain.ChatMessage{
		ID: 9, Code: "X", CreateDate: "2025-01-01T00:00:00.000001Z",
		ChatAttachments: []domain.Attachment{{ID: 3, FileURL: "https://cdn/a.png"}},
		UserHasRead:     []domain.Reader{{UserID: 2}},
	}
	s.UpdateWithServerResponse(room, "T", resp)
	first := s.Messages(room)
	s.UpdateWithServerResponse(room, "T", resp)
	assert.Equal(t, first, s.Messages(room))
	assert.Len(t, first[0].UserHasRead, 1)
	assert.Equal(t, "https://cdn/a.png", first[0].ChatAttachments[0].FileURL)
	assert.Equal(t, "a.png", first[0].ChatAttachments[0].FileName)
}

func TestStaleUpdatesAreNoOps(t *testing.T) {
	s := newStore()
	assert.False(t, s.UpdateByTempID(room, "missing", func(m *domain.ChatMessage) { m.IsError = true }))
	assert.False(t, s.UpdateWithServerResponse(room, "missing", domain.ChatMessage{Code: "x"}))
	assert.False(t, s.UpdateByCode(room, "missing", func(m *domain.ChatMessage) { m.MessageText = "x" }))
	assert.False(t, s.UpdateAttachment(room, "missing", 0, func(a *domain.Attachment) { a.IsError = true }))
	assert.False(t, s.RemoveMessage(room, "missing"))
	assert.Empty(t, s.Messages(room))
}

func TestPushEchoBeforeResponseCollapses(t *testing.T) {
	s := newStore()
	s.AddMessage(room, pending("T", 100))

	// echo without the temp id lands as its own row first
	echo := confirmed("X", 5, 1, 150)
	echo.UserHasRead = []domain.Reader{{UserID: 2}}
	s.AddMessage(room, echo)
	require.Len(t, s.Messages(room), 2)

	s.UpdateWithServerResponse(room, "T", domain.ChatMessage{ID: 5, Code: "X"})
	msgs := s.Messages(room)
	require.Len(t, msgs, 1)
	assert.Equal(t, "T", msgs[0].TempID)
	assert.Equal(t, "X", msgs[0].Code)
	assert.Len(t, msgs[0].UserHasRead, 1)
}

func TestPushEchoWithTempIDReconciles(t *testing.T) {
	s := newStore()
	s.AddMessage(room, pending("T", 100))

	echo := confirmed("X", 5, 1, 150)
	echo.TempID = "T"
	assert.False(t, s.AddMessage(room, echo))

	msgs := s.Messages(room)
	require.Len(t, msgs, 1)
	assert.Equal(t, "X", msgs[0].Code)
	assert.True(t, msgs[0].IsSend)
	assert.Equal(t, int64(100), msgs[0].TimeStamp)
}

func TestAddMessagesMergesInOrder(t *testing.T) {
	s := newStore()
	s.AddMessage(room, confirmed("b", 2, 2, 200))
	s.AddMessage(room, pending("T", 500))

	added := s.AddMessages(room, []domain.ChatMessage{
		confirmed("c", 3, 2, 300),
		confirmed("a", 1, 2, 100),
		confirmed("b", 2, 2, 200),
	})
	assert.Equal(t, 2, added)

	var keys []string
	for _, m := range s.Messages(room) {
		keys = append(keys, m.Key())
	}
	assert.Equal(t, []string{"a", "b", "c", "T"}, keys)
}

func TestAddMessagesDerivesTimestampFromCreateDate(t *testing.T) {
	s := newStore()
	s.AddMessages(room, []domain.ChatMessage{
		{Code: "late", CreateDate: "2025-06-24T13:37:13.061194"},
		{Code: "early", CreateDate: "2025-06-24T13:37:13.061193"},
	})
	msgs := s.Messages(room)
	require.Len(t, msgs, 2)
	assert.Equal(t, "early", msgs[0].Code)
	assert.Equal(t, int64(1), msgs[1].TimeStamp-msgs[0].TimeStamp)
}

func TestSetMessagesDoesNotTouchOtherRooms(t *testing.T) {
	s := newStore()
	s.AddMessage("other", confirmed("o", 1, 2, 1))
	s.SetLoading(room, true)

	s.SetMessages(room, []domain.ChatMessage{confirmed("x", 2, 2, 2), confirmed("x", 2, 2, 2)})

	assert.Len(t, s.Messages(room), 1)
	assert.Len(t, s.Messages("other"), 1)
	assert.True(t, s.Loading(room))
	assert.False(t, s.Loading("other"))
}

func TestUpdateByCodeKeepsIdentity(t *testing.T) {
	s := newStore()
	s.AddMessage(room, confirmed("c", 7, 1, 100))

	ok := s.UpdateByCode(room, "c", func(m *domain.ChatMessage) {
		m.MessageText = "edited"
		m.IsEdited = 1
		m.Code = "hijacked"
		m.TimeStamp = 1
	})
	require.True(t, ok)

	got, found := s.Get(room, "c")
	require.True(t, found)
	assert.Equal(t, "edited", got.MessageText)
	assert.True(t, got.IsEdited.On())
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, int64(100), got.TimeStamp)
}

func TestAttachmentSlotsByOriginalIndex(t *testing.T) {
	s := newStore()
	m := pending("T", 100)
	m.MessageText = ""
	for i := range 3 {
		m.ChatAttachments = append(m.ChatAttachments, domain.Attachment{
			FileName: string(rune('a' + i)), OriginalIndex: i, IsUploading: true,
		})
	}
	s.AddMessage(room, m)

	for _, idx := range []int{2, 0, 1} {
		url := "https://cdn/" + string(rune('a'+idx))
		s.UpdateAttachment(room, "T", idx, func(a *domain.Attachment) {
			a.FileURL = url
			a.IsUploading = false
		})
	}

	got, _ := s.Get(room, "T")
	require.Len(t, got.ChatAttachments, 3)
	for i, a := range got.ChatAttachments {
		assert.Equal(t, i, a.OriginalIndex)
		assert.Equal(t, "https://cdn/"+string(rune('a'+i)), a.FileURL)
	}
}

func TestReadStatusBackfill(t *testing.T) {
	s := newStore()
	s.AddMessage(room, confirmed("m1", 1, 1, 100))
	s.AddMessage(room, confirmed("m2", 2, 1, 200))
	s.AddMessage(room, confirmed("m3", 3, 2, 300))
	s.AddMessage(room, pending("T", 400))

	reader := []domain.Reader{{UserID: 2, UserName: "bob"}}
	assert.Equal(t, 2, s.UpdateReadStatus(room, reader, 2))
	assert.Zero(t, s.UpdateReadStatus(room, reader, 2))

	for _, m := range s.Messages(room) {
		switch m.Key() {
		case "m1", "m2":
			require.Len(t, m.UserHasRead, 1)
			assert.Equal(t, int64(2), m.UserHasRead[0].UserID)
		default:
			assert.Empty(t, m.UserHasRead)
		}
	}
}

func TestUpdateMessageAndReplies(t *testing.T) {
	s := newStore()
	s.AddMessage(room, confirmed("orig", 1, 2, 100))
	reply := confirmed("reply", 2, 1, 200)
	reply.ReplyToMessageCode = "orig"
	reply.ReplyToMessage = &domain.ReplyPreview{Code: "orig", MessageText: "text orig"}
	s.AddMessage(room, reply)

	ok := s.UpdateMessageAndReplies(room, domain.ChatMessage{Code: "orig", MessageText: "gone", IsRevoked: 1})
	require.True(t, ok)

	orig, _ := s.Get(room, "orig")
	assert.True(t, orig.IsRevoked.On())
	assert.Empty(t, orig.MessageText)

	got, _ := s.Get(room, "reply")
	require.NotNil(t, got.ReplyToMessage)
	assert.True(t, got.ReplyToMessage.IsRevoked.On())
	assert.Empty(t, got.ReplyToMessage.MessageText)
	assert.Equal(t, "text reply", got.MessageText)
}

func TestRevokedMessageStaysRevoked(t *testing.T) {
	s := newStore()
	orig := confirmed("orig", 1, 2, 100)
	orig.IsEdited = 1
	s.AddMessage(room, orig)
	reply := confirmed("reply", 2, 1, 200)
	reply.ReplyToMessageCode = "orig"
	reply.ReplyToMessage = &domain.ReplyPreview{Code: "orig", MessageText: "text orig", IsEdited: 1}
	s.AddMessage(room, reply)
	orphan := confirmed("orphan", 3, 1, 300)
	orphan.ReplyToMessageCode = "gone"
	orphan.ReplyToMessage = &domain.ReplyPreview{Code: "gone", MessageText: "", IsRevoked: 1}
	s.AddMessage(room, orphan)

	s.UpdateMessageAndReplies(room, domain.ChatMessage{Code: "orig", IsRevoked: 1})
	got, _ := s.Get(room, "orig")
	assert.True(t, got.IsEdited.On(), "revoke without isEdited keeps the flag")

	s.UpdateMessageAndReplies(room, domain.ChatMessage{Code: "orig", MessageText: "secret v2", IsEdited: 1,
		UserHasRead: []domain.Reader{{UserID: 9}}})
	s.UpdateMessageAndReplies(room, domain.ChatMessage{Code: "gone", MessageText: "back"})

	got, _ = s.Get(room, "orig")
	assert.True(t, got.IsRevoked.On())
	assert.Empty(t, got.MessageText)
	assert.Len(t, got.UserHasRead, 1)

	r, _ := s.Get(room, "reply")
	assert.True(t, r.ReplyToMessage.IsRevoked.On())
	assert.True(t, r.ReplyToMessage.IsEdited.On())
	assert.Empty(t, r.ReplyToMessage.MessageText)

	o, _ := s.Get(room, "orphan")
	assert.True(t, o.ReplyToMessage.IsRevoked.On())
	assert.Empty(t, o.ReplyToMessage.MessageText)
}

func TestReplyingToContext(t *testing.T) {
	s := newStore()
	target := confirmed("c", 1, 2, 100)
	s.SetReplyingTo(room, &target)

	require.NotNil(t, s.ReplyingTo(room))
	assert.Nil(t, s.ReplyingTo("other"))

	taken := s.TakeReplyingTo(room)
	require.NotNil(t, taken)
	assert.Equal(t, "c", taken.Code)
	assert.Nil(t, s.ReplyingTo(room))
}

func TestRemoveClearAndReset(t *testing.T) {
	s := newStore()
	s.AddMessage(room, pending("T", 1))
	s.AddMessage(room, confirmed("c", 1, 2, 2))
	s.AddMessage("other", confirmed("o", 3, 2, 3))

	assert.True(t, s.RemoveMessage(room, "T"))
	assert.Len(t, s.Messages(room), 1)

	s.ClearMessages(room)
	assert.Empty(t, s.Messages(room))
	assert.Len(t, s.Messages("other"), 1)

	s.Reset()
	assert.Empty(t, s.RoomCodes())
}

func TestCountSentByAndLastMessage(t *testing.T) {
	s := newStore()
	s.AddMessage(room, confirmed("a", 1, 1, 100))
	failed := pending("T", 300)
	failed.IsError = true
	s.AddMessage(room, failed)
	s.AddMessage(room, confirmed("b", 2, 2, 200))

	assert.Equal(t, 1, s.CountSentBy(room, 1))
	last, ok := s.LastMessage(room)
	require.True(t, ok)
	assert.Equal(t, "T", last.TempID)
}

func TestListenersFireOnChangeOnly(t *testing.T) {
	s := newStore()
	var rooms []string
	unsubscribe := s.Subscribe(func(r string) { rooms = append(rooms, r) })

	s.AddMessage(room, pending("T", 1))
	s.UpdateByTempID(room, "missing", func(*domain.ChatMessage) {})
	s.AddMessage(room, pending("T", 1))
	assert.Equal(t, []string{room}, rooms)

	unsubscribe()
	s.AddMessage(room, pending("U", 2))
	assert.Len(t, rooms, 1)
}

func TestMessagesReturnsCopies(t *testing.T) {
	s := newStore()
	m := pending("T", 1)
	m.ChatAttachments = []domain.Attachment{{FileName: "a"}}
	s.AddMessage(room, m)

	out := s.Messages(room)
	out[0].ChatAttachments[0].FileName = "mutated"
	got, _ := s.Get(room, "T")
	assert.Equal(t, "a", got.ChatAttachments[0].FileName)
}

func TestUpdateByCodeAndReplies(t *testing.T) {
	s := newStore()
	s.AddMessage(room, confirmed("orig", 1, 1, 100))
	reply := confirmed("reply", 2, 2, 200)
	reply.ReplyToMessageCode = "orig"
	s.AddMessage(room, reply)

	ok := s.UpdateByCodeAndReplies(room, "orig", func(m *domain.ChatMessage) {
		m.MessageText = "edited"
		m.IsEdited = 1
	})
	require.True(t, ok)

	got, _ := s.Get(room, "reply")
	require.NotNil(t, got.ReplyToMessage)
	assert.Equal(t, "edited", got.ReplyToMessage.MessageText)
	assert.True(t, got.ReplyToMessage.IsEdited.On())

	assert.False(t, s.UpdateByCodeAndReplies(room, "missing", func(*domain.ChatMessage) {}))
}
