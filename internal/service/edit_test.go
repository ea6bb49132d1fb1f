package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/pkg/validator"
)

func seedConversation(f *fixture) {
	f.store.AddMessage(room, domain.ChatMessage{Code: "mine", ID: 10, UserID: me.UserID, MessageText: "original", TimeStamp: 1})
	f.store.AddMessage(room, domain.ChatMessage{Code: "theirs", ID: 11, UserID: 2, MessageText: "hello", TimeStamp: 2})
	f.store.AddMessage(room, domain.ChatMessage{
		Code: "reply", ID: 12, UserID: 2, MessageText: "re", TimeStamp: 3,
		ReplyToMessageCode: "mine",
		ReplyToMessage:     &domain.ReplyPreview{Code: "mine", MessageText: "original"},
	})
}

func TestEditUpdatesMessageAndReplies(t *testing.T) {
	f := newFixture(t)
	seedConversation(f)

	require.NoError(t, f.svc.Edit(context.Background(), room, "mine", " fixed "))

	msg, _ := f.store.Get(room, "mine")
	assert.Equal(t, "fixed", msg.MessageText)
	assert.True(t, msg.IsEdited.On())
	assert.Equal(t, int64(10), msg.ID)

	reply, _ := f.store.Get(room, "reply")
	assert.Equal(t, "fixed", reply.ReplyToMessage.MessageText)
	assert.True(t, reply.ReplyToMessage.IsEdited.On())
}

func TestEditRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	seedConversation(f)
	f.api.editErr = errBackend

	err := f.svc.Edit(context.Background(), room, "mine", "fixed")
	assert.ErrorIs(t, err, errBackend)

	msg, _ := f.store.Get(room, "mine")
	assert.Equal(t, "original", msg.MessageText)
	assert.False(t, msg.IsEdited.On())

	reply, _ := f.store.Get(room, "reply")
	assert.Equal(t, "original", reply.ReplyToMessage.MessageText)
	assert.Equal(t, 1, f.notices.count())
}

func TestEditPreconditions(t *testing.T) {
	f := newFixture(t)
	seedConversation(f)
	f.store.AddMessage(room, domain.ChatMessage{TempID: "temp_1", UserID: me.UserID, MessageText: "sending", TimeStamp: 4})

	var verr validator.ValidationErrors
	assert.ErrorAs(t, f.svc.Edit(context.Background(), room, "mine", "  "), &verr)
	assert.ErrorIs(t, f.svc.Edit(context.Background(), room, "theirs", "x"), ErrNotMessageOwner)
	assert.ErrorIs(t, f.svc.Edit(context.Background(), room, "nope", "x"), ErrMessageNotFound)
	assert.ErrorIs(t, f.svc.Edit(context.Background(), room, "temp_1", "x"), ErrMessageNotFound)
	assert.Empty(t, f.api.edits)
}

func TestRevokeClearsText(t *testing.T) {
	f := newFixture(t)
	seedConversation(f)

	require.NoError(t, f.svc.Revoke(context.Background(), room, "mine"))

	msg, _ := f.store.Get(room, "mine")
	assert.True(t, msg.IsRevoked.On())
	assert.Empty(t, msg.MessageText)

	reply, _ := f.store.Get(room, "reply")
	assert.True(t, reply.ReplyToMessage.IsRevoked.On())

	assert.ErrorIs(t, f.svc.Revoke(context.Background(), room, "mine"), ErrMessageRevoked)
	assert.ErrorIs(t, f.svc.Edit(context.Background(), room, "mine", "again"), ErrMessageRevoked)
}

func TestRevokeRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	seedConversation(f)
	f.api.revokeErr = errBackend

	assert.ErrorIs(t, f.svc.Revoke(context.Background(), room, "mine"), errBackend)

	msg, _ := f.store.Get(room, "mine")
	assert.False(t, msg.IsRevoked.On())
	assert.Equal(t, "original", msg.MessageText)

	reply, _ := f.store.Get(room, "reply")
	assert.False(t, reply.ReplyToMessage.IsRevoked.On())
	assert.Equal(t, "original", reply.ReplyToMessage.MessageText)
}

func TestRevokeRejectsPendingMessage(t *testing.T) {
	f := newFixture(t)
	f.store.AddMessage(room, domain.ChatMessage{TempID: "temp_1", Code: "c", UserID: me.UserID, MessageText: "x", TimeStamp: 1})

	assert.ErrorIs(t, f.svc.Revoke(context.Background(), room, "c"), ErrMessageNotConfirmed)
}
