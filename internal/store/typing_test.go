package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vedran77/pulsesync/internal/domain"
)

func TestTypingExpiresAndStops(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	typing := NewTyping(5 * time.Second)
	typing.now = func() time.Time { return now }

	typing.Start(room, domain.TypingUser{UserID: 3, UserName: "c"})
	typing.Start(room, domain.TypingUser{UserID: 2, UserName: "b"})
	active := typing.Active(room)
	assert.Len(t, active, 2)
	assert.Equal(t, int64(2), active[0].UserID)

	typing.Stop(room, 2)
	assert.Len(t, typing.Active(room), 1)

	now = now.Add(6 * time.Second)
	assert.Empty(t, typing.Active(room))
}

func TestTypingNotifiesOnTransitions(t *testing.T) {
	typing := NewTyping(time.Minute)
	events := 0
	typing.Subscribe(func(string) { events++ })

	typing.Start(room, domain.TypingUser{UserID: 2})
	typing.Start(room, domain.TypingUser{UserID: 2})
	typing.Stop(room, 2)
	typing.Stop(room, 2)
	typing.ClearRoom(room)

	assert.Equal(t, 2, events)
}
