// Package tiebainfo answers the expensive lookups rule conditions need:
// user profiles (IP region, tieba_uid) and whether a content's author is
// the thread's OP. Results are cached; concurrent lookups for the same
// user collapse into one upstream request.
package tiebainfo

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/internal/store"
	"github.com/webtm/webtm-go/pkg/tieba"
)

const (
	userInfoTTL = 24 * time.Hour
	// maxEntries bounds the profile cache at one entry per distinct author
	// seen within the TTL.
	maxEntries = 3250
)

type cacheEntry struct {
	detail  *tieba.UserDetail
	expires time.Time
}

// Service resolves user profiles and thread authorship.
type Service struct {
	client  *tieba.Client
	browser *tieba.Browser
	store   *store.Store
	group   singleflight.Group

	mu    sync.Mutex
	cache map[int64]cacheEntry
}

// New builds a Service on an anonymous client and the shared store.
func New(client *tieba.Client, browser *tieba.Browser, st *store.Store) *Service {
	return &Service{
		client:  client,
		browser: browser,
		store:   st,
		cache:   make(map[int64]cacheEntry),
	}
}

// UserInfo returns the profile for userID, from cache when fresh.
func (s *Service) UserInfo(ctx context.Context, userID int64) (*tieba.UserDetail, error) {
	s.mu.Lock()
	if entry, ok := s.cache[userID]; ok && time.Now().Before(entry.expires) {
		s.mu.Unlock()
		return entry.detail, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		detail, err := s.client.GetUserInfo(ctx, userID)
		if err != nil {
			return nil, err
		}
		if detail.ID != 0 {
			s.put(userID, detail)
		}
		return detail, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tieba.UserDetail), nil
}

func (s *Service) put(userID int64, detail *tieba.UserDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cache) >= maxEntries {
		now := time.Now()
		for id, entry := range s.cache {
			if now.After(entry.expires) {
				delete(s.cache, id)
			}
		}
		// Still full: drop arbitrary entries rather than grow unbounded.
		for id := range s.cache {
			if len(s.cache) < maxEntries {
				break
			}
			delete(s.cache, id)
		}
	}
	s.cache[userID] = cacheEntry{detail: detail, expires: time.Now().Add(userInfoTTL)}
}

// IsThreadAuthor reports whether c's author is the OP of c's thread. The
// stored thread row answers it locally; when the thread was never crawled
// the first page is fetched and its first floor consulted.
func (s *Service) IsThreadAuthor(ctx context.Context, c models.Content) (bool, error) {
	if c.Type() == models.TypeThread {
		return true, nil
	}

	base := c.Base()
	row, err := s.store.GetThreadByTid(ctx, base.Tid)
	if err == nil {
		return row.AuthorID == base.Author.UserID, nil
	}

	page, err := s.browser.GetPosts(ctx, base.Tid, 1)
	if err != nil {
		return false, err
	}
	for _, p := range page.Posts {
		if p.Floor == 1 {
			return p.Author.ID == base.Author.UserID, nil
		}
	}
	return false, nil
}

// Purge drops expired profile entries. Wired to the daily cache-cleanup
// event.
func (s *Service) Purge() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.cache {
		if now.After(entry.expires) {
			delete(s.cache, id)
		}
	}
}
