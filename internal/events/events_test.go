package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webtm/webtm-go/internal/config"
)

func TestBroadcastReachesAllListeners(t *testing.T) {
	e := New[int]("test")
	var sum atomic.Int64

	e.On(func(_ context.Context, v int) error {
		sum.Add(int64(v))
		return nil
	})
	e.On(func(_ context.Context, v int) error {
		sum.Add(int64(v * 10))
		return nil
	})

	e.Broadcast(context.Background(), 3)
	if got := sum.Load(); got != 33 {
		t.Errorf("sum = %d, want 33", got)
	}
}

func TestBroadcastSurvivesFailures(t *testing.T) {
	e := New[string]("test")
	var called atomic.Bool

	e.On(func(_ context.Context, _ string) error {
		return errors.New("boom")
	})
	e.On(func(_ context.Context, _ string) error {
		panic("listener panic")
	})
	e.On(func(_ context.Context, _ string) error {
		called.Store(true)
		return nil
	})

	e.Broadcast(context.Background(), "payload")
	if !called.Load() {
		t.Error("healthy listener not invoked after sibling failures")
	}
}

func TestUnregister(t *testing.T) {
	e := New[int]("test")
	var count atomic.Int32

	l := e.On(func(_ context.Context, _ int) error {
		count.Add(1)
		return nil
	})
	e.Broadcast(context.Background(), 1)
	l.Unregister()
	l.Unregister() // second call is a no-op
	e.Broadcast(context.Background(), 1)

	if got := count.Load(); got != 1 {
		t.Errorf("listener ran %d times, want 1", got)
	}
	if e.Len() != 0 {
		t.Errorf("listeners remaining = %d", e.Len())
	}
}

func TestBroadcastWaitsForListeners(t *testing.T) {
	e := New[struct{}]("test")
	var done atomic.Bool

	e.On(func(_ context.Context, _ struct{}) error {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
		return nil
	})

	e.Broadcast(context.Background(), struct{}{})
	if !done.Load() {
		t.Error("Broadcast returned before listener finished")
	}
}

func TestControllerLifecycle(t *testing.T) {
	ctrl := NewController(config.DefaultSystem(t.TempDir()), nil)
	ctx := context.Background()

	var starts, stops atomic.Int32
	ctrl.Bus.Start.On(func(context.Context, struct{}) error {
		starts.Add(1)
		return nil
	})
	ctrl.Bus.Stop.On(func(context.Context, struct{}) error {
		stops.Add(1)
		return nil
	})

	ctrl.Start(ctx)
	ctrl.Start(ctx) // idempotent
	if !ctrl.Running() {
		t.Fatal("controller should be running")
	}
	ctrl.Stop(ctx)
	ctrl.Stop(ctx)
	if ctrl.Running() {
		t.Fatal("controller should be stopped")
	}

	if starts.Load() != 1 || stops.Load() != 1 {
		t.Errorf("starts=%d stops=%d, want 1 each", starts.Load(), stops.Load())
	}
}

func TestControllerUpdateConfig(t *testing.T) {
	dir := t.TempDir()
	persistence := config.NewPersistence(dir)
	cfg := config.DefaultSystem(dir)
	ctrl := NewController(cfg, persistence)
	ctx := context.Background()

	var mu sync.Mutex
	var got ConfigChange
	ctrl.Bus.SystemConfigChange.On(func(_ context.Context, change ConfigChange) error {
		mu.Lock()
		got = change
		mu.Unlock()
		return nil
	})

	// Identical config is a no-op
	changed, err := ctrl.UpdateConfig(ctx, cfg.Clone())
	if err != nil || changed {
		t.Fatalf("unchanged update: changed=%v err=%v", changed, err)
	}

	next := cfg.Clone()
	next.Scan.QueryCD = 1.0
	changed, err = ctrl.UpdateConfig(ctx, next)
	if err != nil || !changed {
		t.Fatalf("update: changed=%v err=%v", changed, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Old == nil || got.New == nil {
		t.Fatal("change event not broadcast")
	}
	if got.Old.Scan.QueryCD != 0.05 || got.New.Scan.QueryCD != 1.0 {
		t.Errorf("change payload old=%v new=%v", got.Old.Scan.QueryCD, got.New.Scan.QueryCD)
	}
	if ctrl.Config().Scan.QueryCD != 1.0 {
		t.Error("config not swapped")
	}

	// Persisted to disk
	loaded, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Scan.QueryCD != 1.0 {
		t.Error("config not persisted")
	}
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	next, err := nextOccurrence(now, "11:00")
	if err != nil {
		t.Fatalf("nextOccurrence: %v", err)
	}
	if next.Day() != 1 || next.Hour() != 11 {
		t.Errorf("same-day occurrence = %v", next)
	}

	next, err = nextOccurrence(now, "04:00")
	if err != nil {
		t.Fatalf("nextOccurrence: %v", err)
	}
	if next.Day() != 2 || next.Hour() != 4 {
		t.Errorf("next-day occurrence = %v", next)
	}

	if _, err := nextOccurrence(now, "25:99"); err == nil {
		t.Error("expected error for invalid time")
	}
}
