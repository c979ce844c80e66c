// Package spider walks monitored forums and turns each scan pass into a
// stream of thread, post and comment items, yielding only what the
// classifier marks as unseen. The companion Crawler schedules passes from
// the aggregated needs of all enabled users.
package spider

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/metrics"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/pkg/tieba"
)

// Upstream is the read side of the forum platform.
type Upstream interface {
	GetThreads(ctx context.Context, fname string, pn int) (*tieba.ThreadPage, error)
	GetPosts(ctx context.Context, tid int64, pn int) (*tieba.PostPage, error)
	GetComments(ctx context.Context, tid, pid int64, pn int) (*tieba.CommentPage, error)
}

type upstream struct {
	client  *tieba.Client
	browser *tieba.Browser
}

func (u upstream) GetThreads(ctx context.Context, fname string, pn int) (*tieba.ThreadPage, error) {
	return u.client.GetThreads(ctx, fname, pn)
}

func (u upstream) GetPosts(ctx context.Context, tid int64, pn int) (*tieba.PostPage, error) {
	return u.browser.GetPosts(ctx, tid, pn)
}

func (u upstream) GetComments(ctx context.Context, tid, pid int64, pn int) (*tieba.CommentPage, error) {
	return u.client.GetComments(ctx, tid, pid, pn)
}

// NewUpstream combines the anonymous API client and the web browser
// endpoints into one read surface.
func NewUpstream(client *tieba.Client, browser *tieba.Browser) Upstream {
	return upstream{client: client, browser: browser}
}

// Storage is what the spider needs from the store: the transactional
// classifier and the forum name-to-id table it refreshes as a side effect.
type Storage interface {
	ClassifyAndUpdate(ctx context.Context, c models.Content) (models.UpdateStatus, error)
	SaveForum(ctx context.Context, fname string, fid int64) error
}

// Spider scans one forum at a time. All requests share one EtaSleep gate,
// so a single spider never exceeds the configured query rate no matter how
// deep a pass descends.
type Spider struct {
	up Upstream
	st Storage

	eta *EtaSleep

	mu   sync.Mutex
	scan config.ScanConfig
}

func New(up Upstream, st Storage, scan config.ScanConfig) *Spider {
	return &Spider{
		up:   up,
		st:   st,
		eta:  NewEtaSleep(scan.QueryInterval()),
		scan: scan,
	}
}

// UpdateScan applies new pagination and pacing parameters. The next pass
// picks them up; an in-flight pass keeps the parameters it started with.
func (s *Spider) UpdateScan(scan config.ScanConfig) {
	s.mu.Lock()
	s.scan = scan
	s.mu.Unlock()
	s.eta.SetCD(scan.QueryInterval())
}

func (s *Spider) scanConfig() config.ScanConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scan
}

// Scan runs one pass over fname and calls emit for every item the
// classifier reports as unseen, filtered by need. Per-request upstream
// failures are logged and the pass continues; the returned error is only
// ever the context's.
func (s *Spider) Scan(ctx context.Context, fname string, need models.CrawlNeed, emit func(models.Content)) error {
	scan := s.scanConfig()

	var threads []tieba.Thread
	for pn := 1; pn <= scan.ThreadPageForward; pn++ {
		var page *tieba.ThreadPage
		err := s.eta.Do(ctx, func() (err error) {
			page, err = s.up.GetThreads(ctx, fname, pn)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logFetchError(fname, "thread list", err)
			continue
		}
		metrics.RecordCrawlPage(fname)
		if pn == 1 && page.Fid != 0 {
			if err := s.st.SaveForum(ctx, fname, page.Fid); err != nil {
				log.Warn().Err(err).Str("fname", fname).Msg("save forum id")
			}
		}
		threads = append(threads, page.Threads...)
	}

	for i := range threads {
		if err := s.scanThread(ctx, scan, fname, threads[i], need, emit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Spider) scanThread(ctx context.Context, scan config.ScanConfig, fname string, t tieba.Thread, need models.CrawlNeed, emit func(models.Content)) error {
	thread := convertThread(t)
	st, err := s.st.ClassifyAndUpdate(ctx, thread)
	if err != nil {
		log.Warn().Err(err).Str("fname", fname).Int64("tid", t.Tid).Msg("classify thread failed")
		return ctx.Err()
	}
	metrics.RecordContent(fname, models.TypeThread, st)
	if st&models.StatusIsNew != 0 && need.Thread {
		emit(thread)
	}
	// Nothing new below a stable thread; and without interest in the lower
	// layers there is no reason to descend at all.
	if st&models.StatusIsStable != 0 || (!need.Post && !need.Comment) {
		return nil
	}

	posts, comments, err := s.collectPosts(ctx, scan, fname, t.Tid)
	if err != nil {
		return err
	}

	for _, p := range posts {
		if p.Floor == 1 {
			continue
		}
		post := convertPost(p)
		st, err := s.st.ClassifyAndUpdate(ctx, post)
		if err != nil {
			log.Warn().Err(err).Str("fname", fname).Int64("pid", p.Pid).Msg("classify post failed")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		metrics.RecordContent(fname, models.TypePost, st)
		if st&models.StatusIsNew != 0 && need.Post {
			emit(post)
		}
		if st&models.StatusIsStable != 0 || !need.Post {
			continue
		}

		// Only the newest sub-replies can be unseen: fetch the last page.
		targetPn := max(int((p.ReplyNum+29)/30), 1)
		var cpage *tieba.CommentPage
		err = s.eta.Do(ctx, func() (err error) {
			cpage, err = s.up.GetComments(ctx, p.Tid, p.Pid, targetPn)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logFetchError(fname, "comments", err)
			continue
		}
		metrics.RecordCrawlPage(fname)
		comments = append(comments, cpage.Comments...)
	}

	for _, c := range comments {
		comment := convertComment(c)
		st, err := s.st.ClassifyAndUpdate(ctx, comment)
		if err != nil {
			log.Warn().Err(err).Str("fname", fname).Int64("pid", c.Pid).Msg("classify comment failed")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		metrics.RecordContent(fname, models.TypeComment, st)
		if st&models.StatusIsNew != 0 && need.Comment {
			emit(comment)
		}
	}
	return nil
}

// collectPosts fetches a thread's first page plus the configured forward
// and backward page windows, accumulating posts and inline sub-reply
// previews.
func (s *Spider) collectPosts(ctx context.Context, scan config.ScanConfig, fname string, tid int64) ([]tieba.Post, []tieba.Comment, error) {
	var first *tieba.PostPage
	err := s.eta.Do(ctx, func() (err error) {
		first, err = s.up.GetPosts(ctx, tid, 1)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		logFetchError(fname, "posts", err)
		return nil, nil, nil
	}
	metrics.RecordCrawlPage(fname)

	posts := first.Posts
	comments := first.Comments
	for _, pn := range postPages(int(first.TotalPage), scan.PostPageForward, scan.PostPageBackward) {
		var page *tieba.PostPage
		err := s.eta.Do(ctx, func() (err error) {
			page, err = s.up.GetPosts(ctx, tid, pn)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			logFetchError(fname, "posts", err)
			continue
		}
		metrics.RecordCrawlPage(fname)
		posts = append(posts, page.Posts...)
		comments = append(comments, page.Comments...)
	}
	return posts, comments, nil
}

// postPages returns the page numbers to visit after page 1: the forward
// window in ascending order, then the backward window from the tail in
// descending order. A thread too short for both windows is read once,
// front to back.
func postPages(totalPage, forward, backward int) []int {
	var pages []int
	last := min(forward, totalPage)
	for pn := 2; pn <= last; pn++ {
		pages = append(pages, pn)
	}
	if totalPage < forward+backward {
		for pn := last + 1; pn <= totalPage; pn++ {
			pages = append(pages, pn)
		}
	} else {
		floor := max(totalPage-backward, forward)
		for pn := totalPage; pn > floor; pn-- {
			pages = append(pages, pn)
		}
	}
	return pages
}

func logFetchError(fname, what string, err error) {
	if errors.Is(err, tieba.ErrRateLimited) {
		metrics.RecordUpstreamError("rate_limit")
		log.Warn().Str("fname", fname).Msgf("Rate limited fetching %s, skipping", what)
		return
	}
	var apiErr *tieba.APIError
	if errors.As(err, &apiErr) {
		metrics.RecordUpstreamError("api")
	} else {
		metrics.RecordUpstreamError("network")
	}
	log.Error().Err(err).Str("fname", fname).Msgf("Fetching %s failed, skipping", what)
}
