package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsesync/internal/database"
	"github.com/vedran77/pulsesync/internal/domain"
)

// Runs against a real database only when PULSESYNC_TEST_DSN is set.
func newRepo(t *testing.T) *ArchiveRepo {
	t.Helper()
	dsn := os.Getenv("PULSESYNC_TEST_DSN")
	if dsn == "" {
		t.Skip("PULSESYNC_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := database.Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, database.EnsureSchema(ctx, pool))

	repo := NewArchiveRepo(pool)
	require.NoError(t, repo.Clear(ctx))
	t.Cleanup(func() {
		_ = repo.Clear(context.Background())
		_ = repo.Close()
	})
	return repo
}

func TestArchiveRepoRoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	msgs := []domain.ChatMessage{
		{Code: "b", UserID: 2, MessageText: "second", TimeStamp: 20},
		{Code: "a", UserID: 1, MessageText: "first", TimeStamp: 10},
		{TempID: "temp_1", MessageText: "pending", TimeStamp: 30},
	}
	require.NoError(t, repo.SaveRoom(ctx, "r1", msgs))

	got, err := repo.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Code)
	assert.Equal(t, "second", got[1].MessageText)

	rooms, err := repo.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, rooms)

	require.NoError(t, repo.SaveRoom(ctx, "r1", msgs[:1]))
	got, err = repo.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
