package drafts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStashRoundTripsDrafts(t *testing.T) {
	stash, err := NewStash(t.TempDir())
	require.NoError(t, err)

	draft := Draft{UserID: "user-1", Day: "2026-10-17", Payload: "abc", SavedAt: time.Date(2026, 10, 17, 21, 0, 0, 0, time.UTC)}
	require.NoError(t, stash.Put(draft))

	loaded, found, err := stash.Get("user-1", "2026-10-17")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, draft, loaded)

	_, found, err = stash.Get("user-2", "2026-10-17")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStashListsDaysPerUser(t *testing.T) {
	stash, err := NewStash(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, stash.Put(Draft{UserID: "user-1", Day: "2026-10-18"}))
	require.NoError(t, stash.Put(Draft{UserID: "user-1", Day: "2026-10-17"}))
	require.NoError(t, stash.Put(Draft{UserID: "user-10", Day: "2026-10-16"}))

	require.Equal(t, []string{"2026-10-17", "2026-10-18"}, stash.Days(context.Background(), "user-1"))
}

func TestStashDiscardIsIdempotent(t *testing.T) {
	stash, err := NewStash(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, stash.Put(Draft{UserID: "user-1", Day: "2026-10-17", Payload: "x"}))
	require.NoError(t, stash.Discard("user-1", "2026-10-17"))
	require.NoError(t, stash.Discard("user-1", "2026-10-17"))

	_, found, err := stash.Get("user-1", "2026-10-17")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStashRejectsInvalidKeys(t *testing.T) {
	stash, err := NewStash(t.TempDir())
	require.NoError(t, err)
	require.Error(t, stash.Put(Draft{Day: "2026-10-17"}))
	require.Error(t, stash.Put(Draft{UserID: "user-1", Day: "../escape"}))

	_, err = NewStash(" ")
	require.ErrorIs(t, err, ErrMissingBasePath)
}
