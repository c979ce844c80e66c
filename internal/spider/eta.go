package spider

import (
	"context"
	"sync"
	"time"
)

// EtaSleep spaces outbound requests. Do waits until the cooldown since the
// previous release has elapsed, runs fn, then stamps the release time.
// Concurrent callers serialize, so one gate bounds the request rate of
// everything that shares it.
type EtaSleep struct {
	mu          sync.Mutex
	cd          time.Duration
	lastRelease time.Time
}

func NewEtaSleep(cd time.Duration) *EtaSleep {
	return &EtaSleep{cd: cd}
}

// SetCD changes the spacing for subsequent acquisitions.
func (e *EtaSleep) SetCD(cd time.Duration) {
	e.mu.Lock()
	e.cd = cd
	e.mu.Unlock()
}

// Do runs fn once the gate opens. A canceled context aborts the wait and
// fn never runs.
func (e *EtaSleep) Do(ctx context.Context, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastRelease.IsZero() {
		if wait := e.cd - time.Since(e.lastRelease); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	err := fn()
	e.lastRelease = time.Now()
	return err
}
