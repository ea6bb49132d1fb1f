package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/repository"
)

func TestLoadHistoryReversesPages(t *testing.T) {
	f := newFixture(t)
	f.rooms.SetRooms([]domain.Room{{Code: room, Type: domain.RoomGroup}})
	f.api.history = map[int]*repository.Page{
		1: {Data: []domain.ChatMessage{
			{Code: "c", UserID: 2, MessageText: "third", CreateDate: "2025-06-24T13:00:03"},
			{Code: "b", UserID: 2, MessageText: "second", CreateDate: "2025-06-24T13:00:02"},
		}, NextPage: true},
		2: {Data: []domain.ChatMessage{
			{Code: "a", UserID: 2, MessageText: "first", CreateDate: "2025-06-24T13:00:01"},
		}},
	}

	p, err := f.svc.LoadHistory(context.Background(), room, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 2, p.Added)
	assert.True(t, p.NextPage)

	p, err = f.svc.LoadHistory(context.Background(), room, 2)
	require.NoError(t, err)
	assert.False(t, p.NextPage)

	var codes []string
	for _, m := range f.store.Messages(room) {
		codes = append(codes, m.Code)
	}
	assert.Equal(t, []string{"a", "b", "c"}, codes)
	assert.False(t, f.store.Loading(room))

	require.Len(t, f.api.pages, 2)
	assert.Equal(t, repository.PageRequest{ChatCode: room, PageNumber: 1, PageSize: 20}, f.api.pages[0])

	r, _ := f.rooms.Get(room)
	require.NotNil(t, r.LastMessage)
	assert.Equal(t, "c", r.LastMessage.Code)
}

func TestLoadHistoryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.api.history = map[int]*repository.Page{
		1: {Data: []domain.ChatMessage{{Code: "a", UserID: 2, MessageText: "x", CreateDate: "2025-06-24T13:00:01"}}},
	}

	_, err := f.svc.LoadHistory(context.Background(), room, 1)
	require.NoError(t, err)
	p, err := f.svc.LoadHistory(context.Background(), room, 1)
	require.NoError(t, err)
	assert.Zero(t, p.Added)
	assert.Len(t, f.store.Messages(room), 1)
}

func TestLoadHistoryError(t *testing.T) {
	f := newFixture(t)
	f.api.pageErr = errBackend

	_, err := f.svc.LoadHistory(context.Background(), room, 1)
	assert.ErrorIs(t, err, errBackend)
	assert.False(t, f.store.Loading(room))
}
