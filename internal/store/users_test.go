package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modErrors "github.com/webtm/webtm-go/internal/errors"
	"github.com/webtm/webtm-go/internal/models"
)

func TestSaveForum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveForum(ctx, "f1", 1234))
	fid, err := s.GetForumID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), fid)

	// Saving the same forum again keeps one row and refreshes the fid.
	require.NoError(t, s.SaveForum(ctx, "f1", 5678))
	fid, err = s.GetForumID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(5678), fid)

	_, err = s.GetForumID(ctx, "unknown")
	assert.ErrorIs(t, err, modErrors.ErrNotFound)
}

func TestSaveAuthors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	users := []models.User{
		{UserID: 1, UserName: "alice", NickName: "A", Portrait: "tb.1.alice"},
		{UserID: 2, UserName: "bob"},
		{UserID: 1, UserName: "alice-renamed"}, // later duplicate wins
		{UserID: 0, UserName: "anonymous"},     // skipped
	}
	require.NoError(t, s.SaveAuthors(ctx, users))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM "user"`).Scan(&count))
	assert.Equal(t, 2, count)

	var name string
	require.NoError(t, s.db.QueryRow(`SELECT user_name FROM "user" WHERE user_id = 1`).Scan(&name))
	assert.Equal(t, "alice-renamed", name)

	// Re-saving refreshes profile fields in place.
	require.NoError(t, s.SaveAuthors(ctx, []models.User{{UserID: 2, UserName: "bob", NickName: "B2"}}))
	var nick string
	require.NoError(t, s.db.QueryRow(`SELECT nick_name FROM "user" WHERE user_id = 2`).Scan(&nick))
	assert.Equal(t, "B2", nick)
}

func TestSaveAuthorsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveAuthors(context.Background(), nil))
}

func TestSaveUserLevelKeepsHighest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUserLevel(ctx, 1, "f1", 5))
	lv, err := s.GetUserLevel(ctx, 1, "f1")
	require.NoError(t, err)
	assert.Equal(t, 5, lv)

	// Lower observation never demotes.
	require.NoError(t, s.SaveUserLevel(ctx, 1, "f1", 3))
	lv, err = s.GetUserLevel(ctx, 1, "f1")
	require.NoError(t, err)
	assert.Equal(t, 5, lv)

	require.NoError(t, s.SaveUserLevel(ctx, 1, "f1", 8))
	lv, err = s.GetUserLevel(ctx, 1, "f1")
	require.NoError(t, err)
	assert.Equal(t, 8, lv)

	// Levels are scoped per forum.
	require.NoError(t, s.SaveUserLevel(ctx, 1, "f2", 2))
	lv, err = s.GetUserLevel(ctx, 1, "f2")
	require.NoError(t, err)
	assert.Equal(t, 2, lv)

	// Unknown pair reads as zero, not an error.
	lv, err = s.GetUserLevel(ctx, 99, "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, lv)
}
