package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	modErrors "github.com/webtm/webtm-go/internal/errors"
	"github.com/webtm/webtm-go/internal/models"
)

var nowUnix = func() int64 { return time.Now().Unix() }

// ContentRow is one persisted content cache record.
type ContentRow struct {
	Pid        int64
	Tid        int64
	Fname      string
	CreateTime int64
	Title      string
	Text       string
	Floor      int64
	Images     []models.Image
	Type       models.ContentType
	LastTime   sql.NullInt64
	ReplyNum   sql.NullInt64
	LastUpdate int64
	AuthorID   int64
}

// ClassifyAndUpdate reads the cached update markers for the item, decides
// its novelty and upserts the fresh markers, all in one transaction. On a
// storage error the cache is left unchanged and the caller drops the item
// from the current pass.
func (s *Store) ClassifyAndUpdate(ctx context.Context, c models.Content) (models.UpdateStatus, error) {
	base := c.Base()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, modErrors.WrapStorageError("classify", err)
	}
	defer tx.Rollback()

	var prevLastTime, prevReplyNum sql.NullInt64
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT last_time, reply_num FROM content WHERE pid = ?`), base.Pid,
	).Scan(&prevLastTime, &prevReplyNum)

	miss := errors.Is(err, sql.ErrNoRows)
	if err != nil && !miss {
		return 0, modErrors.WrapStorageError("classify", err)
	}

	status := classify(c, miss, prevLastTime, prevReplyNum)

	var lastTime, replyNum sql.NullInt64
	switch v := c.(type) {
	case *models.Thread:
		lastTime = sql.NullInt64{Int64: v.LastTime, Valid: true}
		replyNum = sql.NullInt64{Int64: v.ReplyNum, Valid: true}
	case *models.Post:
		replyNum = sql.NullInt64{Int64: v.ReplyNum, Valid: true}
	}

	images, err := json.Marshal(base.Images)
	if err != nil {
		return 0, fmt.Errorf("marshal images: %w", err)
	}
	if base.Images == nil {
		images = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO content (pid, tid, fname, create_time, title, text, floor, images, type, last_time, reply_num, last_update, author_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pid) DO UPDATE SET
			tid = excluded.tid,
			fname = excluded.fname,
			create_time = excluded.create_time,
			title = excluded.title,
			text = excluded.text,
			floor = excluded.floor,
			images = excluded.images,
			type = excluded.type,
			last_time = excluded.last_time,
			reply_num = excluded.reply_num,
			last_update = excluded.last_update,
			author_id = excluded.author_id`),
		base.Pid, base.Tid, base.Fname, base.CreateTime, base.Title, base.Text, base.Floor,
		string(images), string(c.Type()), lastTime, replyNum, nowUnix(), base.Author.UserID,
	)
	if err != nil {
		return 0, modErrors.WrapStorageError("classify", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, modErrors.WrapStorageError("classify", err)
	}
	return status, nil
}

// classify implements the per-variant novelty table. The >4 threshold on
// posts matches the server's inline sub-reply preview cutoff: up to four
// sub-replies arrive with the parent page.
func classify(c models.Content, miss bool, prevLastTime, prevReplyNum sql.NullInt64) models.UpdateStatus {
	switch v := c.(type) {
	case *models.Thread:
		if miss {
			if v.ReplyNum > 0 {
				return models.StatusNewWithChild
			}
			return models.StatusNew
		}
		if prevLastTime.Int64 != v.LastTime || prevReplyNum.Int64 != v.ReplyNum {
			return models.StatusUpdated
		}
		return models.StatusUnchanged

	case *models.Post:
		if miss {
			if v.ReplyNum > 4 {
				return models.StatusNewWithChild
			}
			return models.StatusNew
		}
		if prevReplyNum.Int64 != v.ReplyNum {
			return models.StatusUpdated
		}
		return models.StatusUnchanged

	default: // comment
		if miss {
			return models.StatusNew
		}
		return models.StatusUnchanged
	}
}

const contentColumns = `pid, tid, fname, create_time, title, text, floor, images, type, last_time, reply_num, last_update, author_id`

func scanContentRow(scanner interface{ Scan(...any) error }) (*ContentRow, error) {
	var row ContentRow
	var images string
	var typ string
	if err := scanner.Scan(&row.Pid, &row.Tid, &row.Fname, &row.CreateTime, &row.Title, &row.Text,
		&row.Floor, &images, &typ, &row.LastTime, &row.ReplyNum, &row.LastUpdate, &row.AuthorID); err != nil {
		return nil, err
	}
	row.Type = models.ContentType(typ)
	if err := json.Unmarshal([]byte(images), &row.Images); err != nil {
		return nil, fmt.Errorf("decode images for pid %d: %w", row.Pid, err)
	}
	return &row, nil
}

// GetContent returns the cached record for pid, or ErrNotFound.
func (s *Store) GetContent(ctx context.Context, pid int64) (*ContentRow, error) {
	row, err := scanContentRow(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+contentColumns+` FROM content WHERE pid = ?`), pid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, modErrors.ErrNotFound
	}
	if err != nil {
		return nil, modErrors.WrapStorageError("get_content", err)
	}
	return row, nil
}

// GetThreadByTid returns the cached thread record for tid, or ErrNotFound.
// Used to resolve whether a reply's author is the thread's OP.
func (s *Store) GetThreadByTid(ctx context.Context, tid int64) (*ContentRow, error) {
	row, err := scanContentRow(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+contentColumns+` FROM content WHERE tid = ? AND type = 'thread'`), tid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, modErrors.ErrNotFound
	}
	if err != nil {
		return nil, modErrors.WrapStorageError("get_thread_by_tid", err)
	}
	return row, nil
}

// SweepExpiredContent deletes content rows not refreshed within ttl and
// returns how many were removed.
func (s *Store) SweepExpiredContent(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := nowUnix() - int64(ttl.Seconds())
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM content WHERE last_update < ?`), cutoff)
	if err != nil {
		return 0, modErrors.WrapStorageError("sweep_content", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
