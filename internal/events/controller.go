package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/models"
)

// ConfigChange carries both sides of a system-config update.
type ConfigChange struct {
	Old *config.SystemConfig
	New *config.SystemConfig
}

// Bus bundles the process-wide event handles.
type Bus struct {
	Start              *AsyncEvent[struct{}]
	Stop               *AsyncEvent[struct{}]
	DispatchContent    *AsyncEvent[models.Content]
	SystemConfigChange *AsyncEvent[ConfigChange]
	ClearCache         *AsyncEvent[time.Time]
	// UserChange fires with the username when a user is added, removed,
	// enabled or disabled; UserConfigChange when an existing user's config
	// is replaced.
	UserChange       *AsyncEvent[string]
	UserConfigChange *AsyncEvent[string]
}

// NewBus creates the named event handles.
func NewBus() *Bus {
	return &Bus{
		Start:              New[struct{}]("start"),
		Stop:               New[struct{}]("stop"),
		DispatchContent:    New[models.Content]("dispatch_content"),
		SystemConfigChange: New[ConfigChange]("system_config_change"),
		ClearCache:         New[time.Time]("clear_cache"),
		UserChange:         New[string]("user_change"),
		UserConfigChange:   New[string]("user_config_change"),
	}
}

// Controller owns the running flag, the current system config and the
// lifecycle broadcasts.
type Controller struct {
	Bus *Bus

	mu          sync.RWMutex
	cfg         *config.SystemConfig
	running     bool
	persistence *config.Persistence
}

// NewController wires a controller around an already-loaded config.
func NewController(cfg *config.SystemConfig, persistence *config.Persistence) *Controller {
	return &Controller{
		Bus:         NewBus(),
		cfg:         cfg,
		persistence: persistence,
	}
}

// Running reports the lifecycle state.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Config returns the current system config. Callers must treat it as
// read-only; UpdateConfig swaps the pointer.
func (c *Controller) Config() *config.SystemConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Start flips running and broadcasts the start event. Idempotent.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	log.Info().Msg("Moderation engine starting")
	c.Bus.Start.Broadcast(ctx, struct{}{})
}

// Stop flips running off and broadcasts the stop event. Idempotent.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	log.Info().Msg("Moderation engine stopping")
	c.Bus.Stop.Broadcast(ctx, struct{}{})
}

// UpdateConfig atomically replaces the system config, persists it and
// broadcasts the change. Returns false when the new config is identical.
// A persist failure restores the previous config; the caller decides how
// hard to fail.
func (c *Controller) UpdateConfig(ctx context.Context, newCfg *config.SystemConfig) (bool, error) {
	c.mu.Lock()
	old := c.cfg
	if old.Equal(newCfg) {
		c.mu.Unlock()
		return false, nil
	}
	c.cfg = newCfg
	c.mu.Unlock()

	if c.persistence != nil {
		if err := c.persistence.SaveSystem(newCfg); err != nil {
			c.mu.Lock()
			c.cfg = old
			c.mu.Unlock()
			return false, err
		}
	}

	log.Info().Msg("System config updated")
	c.Bus.SystemConfigChange.Broadcast(ctx, ConfigChange{Old: old, New: newCfg})
	return true, nil
}
