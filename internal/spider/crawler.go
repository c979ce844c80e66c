package spider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/events"
	"github.com/webtm/webtm-go/internal/metrics"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/internal/store"
)

// NeedSource reports which forums and layers the current user set wants
// monitored. Empty needs are already dropped.
type NeedSource interface {
	CrawlNeeds() map[string]models.CrawlNeed
}

// Crawler aggregates user needs and keeps a scan loop running while the
// engine is started and at least one forum is wanted. Every yielded item
// has its author persisted and is broadcast to the user workers.
type Crawler struct {
	spider *Spider
	st     *store.Store
	ctrl   *events.Controller
	source NeedSource

	mu     sync.Mutex
	needs  map[string]models.CrawlNeed
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCrawler(sp *Spider, st *store.Store, ctrl *events.Controller, source NeedSource) *Crawler {
	return &Crawler{
		spider: sp,
		st:     st,
		ctrl:   ctrl,
		source: source,
		needs:  map[string]models.CrawlNeed{},
	}
}

// Bind registers the crawler on the lifecycle and user events. Call once.
func (c *Crawler) Bind() {
	bus := c.ctrl.Bus
	bus.Start.On(func(ctx context.Context, _ struct{}) error {
		c.UpdateNeeds(ctx)
		return nil
	})
	bus.Stop.On(func(context.Context, struct{}) error {
		c.stop()
		return nil
	})
	bus.SystemConfigChange.On(func(_ context.Context, change events.ConfigChange) error {
		c.spider.UpdateScan(change.New.Scan)
		c.restart()
		return nil
	})
	bus.UserChange.On(func(ctx context.Context, _ string) error {
		c.UpdateNeeds(ctx)
		return nil
	})
	bus.UserConfigChange.On(func(ctx context.Context, _ string) error {
		c.UpdateNeeds(ctx)
		return nil
	})
}

// UpdateNeeds recomputes the aggregate needs from the source, logs the
// difference and starts or stops the loop accordingly.
func (c *Crawler) UpdateNeeds(ctx context.Context) {
	newNeeds := map[string]models.CrawlNeed{}
	for fname, need := range c.source.CrawlNeeds() {
		if !need.IsEmpty() {
			newNeeds[fname] = need
		}
	}

	c.mu.Lock()
	changes := diffNeeds(c.needs, newNeeds)
	c.needs = newNeeds
	c.mu.Unlock()

	if len(changes) > 0 && c.ctrl.Running() {
		log.Info().Strs("changes", changes).Msg("Crawl needs updated")
	}

	if len(newNeeds) > 0 && c.ctrl.Running() {
		c.start()
	} else {
		c.stop()
	}
}

// Active reports whether the scan loop is running.
func (c *Crawler) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Needs returns a copy of the current aggregate needs.
func (c *Crawler) Needs() map[string]models.CrawlNeed {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.CrawlNeed, len(c.needs))
	for fname, need := range c.needs {
		out[fname] = need
	}
	return out
}

func (c *Crawler) start() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	forums := len(c.needs)
	go c.run(runCtx, c.done)
	c.mu.Unlock()

	log.Info().Int("forums", forums).Msg("Starting crawler")
}

func (c *Crawler) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("Crawler stopped")
}

// restart bounces the loop so new scan parameters take effect. A crawler
// that is not running stays stopped.
func (c *Crawler) restart() {
	c.mu.Lock()
	active := c.cancel != nil
	c.mu.Unlock()
	if !active {
		return
	}
	c.stop()
	c.start()
}

func (c *Crawler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		c.crawlOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.ctrl.Config().Scan.LoopInterval()):
		}
	}
}

// crawlOnce runs one pass over every wanted forum.
func (c *Crawler) crawlOnce(ctx context.Context) {
	needs := c.Needs()
	fnames := make([]string, 0, len(needs))
	for fname := range needs {
		fnames = append(fnames, fname)
	}
	sort.Strings(fnames)

	for _, fname := range fnames {
		err := c.spider.Scan(ctx, fname, needs[fname], func(content models.Content) {
			c.dispatch(ctx, content)
		})
		if err != nil {
			return
		}
	}
}

// dispatch persists the author trail of one crawled item and hands it to
// the user workers. Storage failures must not swallow the item, so they
// are logged and the broadcast still happens.
func (c *Crawler) dispatch(ctx context.Context, content models.Content) {
	base := content.Base()
	log.Debug().Str("fname", base.Fname).Str("mark", content.Mark()).Msg("New content crawled")

	if err := c.st.SaveAuthors(ctx, []models.User{base.Author}); err != nil {
		log.Error().Err(err).Int64("pid", base.Pid).Msg("save author")
	}
	if base.Author.Level > 0 {
		if err := c.st.SaveUserLevel(ctx, base.Author.UserID, base.Fname, base.Author.Level); err != nil {
			log.Error().Err(err).Int64("pid", base.Pid).Msg("save user level")
		}
	}

	started := time.Now()
	c.ctrl.Bus.DispatchContent.Broadcast(ctx, content)
	metrics.DispatchSeconds.Observe(time.Since(started).Seconds())
}

// diffNeeds renders the change between two need sets as "+ fname[layers]"
// and "- fname[layers]" lines. An empty result means the sets are equal.
func diffNeeds(old, updated map[string]models.CrawlNeed) []string {
	fnames := map[string]struct{}{}
	for fname := range old {
		fnames[fname] = struct{}{}
	}
	for fname := range updated {
		fnames[fname] = struct{}{}
	}
	sorted := make([]string, 0, len(fnames))
	for fname := range fnames {
		sorted = append(sorted, fname)
	}
	sort.Strings(sorted)

	var changes []string
	for _, fname := range sorted {
		o, hasOld := old[fname]
		n, hasNew := updated[fname]
		switch {
		case !hasOld:
			changes = append(changes, "+ "+fname+n.String())
		case !hasNew:
			changes = append(changes, "- "+fname+o.String())
		default:
			if added := n.Minus(o); !added.IsEmpty() {
				changes = append(changes, "+ "+fname+added.String())
			}
			if removed := o.Minus(n); !removed.IsEmpty() {
				changes = append(changes, "- "+fname+removed.String())
			}
		}
	}
	return changes
}
