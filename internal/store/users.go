package store

import (
	"context"
	"database/sql"
	"errors"

	modErrors "github.com/webtm/webtm-go/internal/errors"
	"github.com/webtm/webtm-go/internal/models"
)

// SaveForum upserts one forum id mapping.
func (s *Store) SaveForum(ctx context.Context, fname string, fid int64) error {
	return s.saveBatch(ctx, batchSpec{
		table:   "forum",
		columns: []string{"fname", "fid"},
		pk:      []string{"fname"},
		mode:    ConflictUpsert,
	}, [][]any{{fname, fid}})
}

// GetForumID returns the cached fid for fname, or ErrNotFound.
func (s *Store) GetForumID(ctx context.Context, fname string) (int64, error) {
	var fid int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT fid FROM forum WHERE fname = ?`), fname).Scan(&fid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, modErrors.ErrNotFound
	}
	if err != nil {
		return 0, modErrors.WrapStorageError("get_forum", err)
	}
	return fid, nil
}

// SaveAuthors upserts author identity rows. The deprecated level column is
// never written here; per-forum levels live in user_level.
func (s *Store) SaveAuthors(ctx context.Context, users []models.User) error {
	rows := make([][]any, 0, len(users))
	seen := make(map[int64]bool, len(users))
	for _, u := range users {
		if u.UserID == 0 || seen[u.UserID] {
			continue
		}
		seen[u.UserID] = true
		rows = append(rows, []any{u.UserID, u.UserName, u.NickName, u.Portrait})
	}
	return s.saveBatch(ctx, batchSpec{
		table:   `"user"`,
		columns: []string{"user_id", "user_name", "nick_name", "portrait"},
		pk:      []string{"user_id"},
		mode:    ConflictUpsert,
	}, rows)
}

// SaveUserLevel records the author's level on one forum, keeping the
// highest level ever observed.
func (s *Store) SaveUserLevel(ctx context.Context, userID int64, fname string, level int) error {
	if userID == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO user_level (user_id, fname, level) VALUES (?, ?, ?)
		ON CONFLICT (user_id, fname) DO UPDATE SET level = excluded.level
		WHERE excluded.level > user_level.level`),
		userID, fname, level)
	if err != nil {
		return modErrors.WrapStorageError("save_user_level", err)
	}
	return nil
}

// GetUserLevel returns the stored level for (userID, fname), zero when
// never observed.
func (s *Store) GetUserLevel(ctx context.Context, userID int64, fname string) (int, error) {
	var level int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT level FROM user_level WHERE user_id = ? AND fname = ?`),
		userID, fname).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, modErrors.WrapStorageError("get_user_level", err)
	}
	return level, nil
}
