package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// CacheCleaner broadcasts ClearCache once a day at the configured
// "HH:MM" wall-clock time so every expiring store purges together.
type CacheCleaner struct {
	bus    *Bus
	timeOf func() string // returns current "HH:MM" setting
}

// NewCacheCleaner builds a cleaner; timeOf is read before every tick so
// config changes take effect without a restart.
func NewCacheCleaner(bus *Bus, timeOf func() string) *CacheCleaner {
	return &CacheCleaner{bus: bus, timeOf: timeOf}
}

// Run blocks until ctx is cancelled.
func (c *CacheCleaner) Run(ctx context.Context) {
	for {
		next, err := nextOccurrence(time.Now(), c.timeOf())
		if err != nil {
			log.Warn().Err(err).Msg("Invalid cleanup time, defaulting to 04:00")
			next, _ = nextOccurrence(time.Now(), "04:00")
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			log.Debug().Msg("Running scheduled cache cleanup")
			c.bus.ClearCache.Broadcast(ctx, time.Now())
		}
	}
}

// nextOccurrence returns the next wall-clock occurrence of the "HH:MM"
// time strictly after now.
func nextOccurrence(now time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cleanup time %q: %w", hhmm, err)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
