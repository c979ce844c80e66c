package users

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/confirm"
	modErrors "github.com/webtm/webtm-go/internal/errors"
	"github.com/webtm/webtm-go/internal/events"
	"github.com/webtm/webtm-go/internal/metrics"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/internal/rules"
	"github.com/webtm/webtm-go/internal/store"
	"github.com/webtm/webtm-go/pkg/tieba"
)

const confirmsDirName = "confirms"

// Manager owns the worker set. It loads workers from the persisted user
// configs, fans dispatched content out to them, keeps them in sync with
// config changes and aggregates their crawl needs for the crawler.
type Manager struct {
	ctrl    *events.Controller
	persist *config.Persistence
	st      *store.Store
	info    rules.InfoProvider
	dataDir string

	// newClient is swappable so tests can point sessions at a stub server.
	newClient func(user string, f config.ForumConfig) *ModClient

	mu    sync.RWMutex
	users map[string]*User
}

func NewManager(ctrl *events.Controller, persist *config.Persistence, st *store.Store, info rules.InfoProvider, dataDir string) *Manager {
	return &Manager{
		ctrl:    ctrl,
		persist: persist,
		st:      st,
		info:    info,
		dataDir: dataDir,
		newClient: func(user string, f config.ForumConfig) *ModClient {
			return NewModClient(user, tieba.ClientConfig{BDUSS: f.BDUSS, SToken: f.SToken})
		},
		users: map[string]*User{},
	}
}

// Bind registers the manager on the lifecycle, dispatch and cache events.
// Call once.
func (m *Manager) Bind() {
	bus := m.ctrl.Bus
	bus.Start.On(func(ctx context.Context, _ struct{}) error {
		m.startClients(ctx)
		return nil
	})
	bus.Stop.On(func(context.Context, struct{}) error {
		m.stopClients()
		return nil
	})
	bus.DispatchContent.On(func(ctx context.Context, c models.Content) error {
		m.dispatch(ctx, c)
		return nil
	})
	bus.ClearCache.On(func(_ context.Context, _ time.Time) error {
		for _, u := range m.snapshot() {
			u.PurgeConfirms()
		}
		return nil
	})
}

// Load builds workers for every persisted user. Unreadable user files are
// skipped with an error log so one bad file cannot take the engine down.
func (m *Manager) Load() {
	configs, errs := m.persist.LoadUsers()
	for _, err := range errs {
		log.Error().Err(err).Msg("Skipping unreadable user config")
	}

	m.mu.Lock()
	for _, cfg := range configs {
		u, err := m.buildUser(cfg)
		if err != nil {
			log.Error().Err(err).Str("user", cfg.Username).Msg("Skipping user")
			continue
		}
		m.users[cfg.Username] = u
	}
	count := len(m.users)
	m.mu.Unlock()

	log.Info().Int("users", count).Msg("User workers loaded")
}

func (m *Manager) buildUser(cfg *config.UserConfig) (*User, error) {
	if err := os.MkdirAll(m.confirmsDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create confirms directory: %w", err)
	}
	confirms, err := confirm.Open(cfg.Username, m.confirmPath(cfg.Username), cfg.Process.ConfirmExpire)
	if err != nil {
		return nil, err
	}
	return newUser(cfg, m.st, m.info, m.newClient(cfg.Username, cfg.Forum), confirms), nil
}

func (m *Manager) confirmsDir() string {
	return filepath.Join(m.dataDir, confirmsDirName)
}

func (m *Manager) confirmPath(username string) string {
	return filepath.Join(m.confirmsDir(), username+".json")
}

// snapshot returns the current workers sorted by username.
func (m *Manager) snapshot() []*User {
	m.mu.RLock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username() < out[j].Username() })
	return out
}

// Users returns every worker sorted by username.
func (m *Manager) Users() []*User {
	return m.snapshot()
}

// User returns the worker for username.
func (m *Manager) User(username string) (*User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	return u, ok
}

// CrawlNeeds aggregates the per-user needs into the forum set the crawler
// should cover.
func (m *Manager) CrawlNeeds() map[string]models.CrawlNeed {
	needs := map[string]models.CrawlNeed{}
	for _, u := range m.snapshot() {
		fname, need, ok := u.CrawlNeed()
		if !ok {
			continue
		}
		needs[fname] = needs[fname].Or(need)
	}
	return needs
}

func (m *Manager) startClients(ctx context.Context) {
	for _, u := range m.snapshot() {
		if u.Config().Enable {
			u.Client().Start(ctx)
		}
	}
}

func (m *Manager) stopClients() {
	for _, u := range m.snapshot() {
		u.Client().Stop()
	}
}

func (m *Manager) dispatch(ctx context.Context, c models.Content) {
	for _, u := range m.snapshot() {
		if err := u.HandleContent(ctx, c); err != nil {
			log.Error().Err(err).Str("user", u.Username()).
				Int64("pid", c.Base().Pid).Msg("content handling failed")
		}
	}
}

// AddUser persists a new user and brings its worker up. The moderator
// session logs in right away when the engine is running.
func (m *Manager) AddUser(ctx context.Context, cfg *config.UserConfig) (*User, error) {
	m.mu.Lock()
	if _, exists := m.users[cfg.Username]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: user %s already exists", modErrors.ErrInvalidInput, cfg.Username)
	}
	if err := m.persist.SaveUser(cfg); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	u, err := m.buildUser(cfg)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.users[cfg.Username] = u
	m.mu.Unlock()

	if cfg.Enable && m.ctrl.Running() {
		u.Client().Start(ctx)
	}
	m.ctrl.Bus.UserChange.Broadcast(ctx, cfg.Username)
	log.Info().Str("user", cfg.Username).Msg("User added")
	return u, nil
}

// UpdateUser persists a changed config and applies it to the worker. The
// moderator session is recreated only when the credential pair changed, and
// stood down when the update disables the user.
func (m *Manager) UpdateUser(ctx context.Context, cfg *config.UserConfig) error {
	m.mu.Lock()
	u, ok := m.users[cfg.Username]
	if !ok {
		m.mu.Unlock()
		return modErrors.ErrNotFound
	}
	old := u.Config()
	if old.Equal(cfg) {
		m.mu.Unlock()
		return nil
	}
	if err := m.persist.SaveUser(cfg); err != nil {
		m.mu.Unlock()
		return err
	}

	var client *ModClient
	credsChanged := old.Forum.BDUSS != cfg.Forum.BDUSS || old.Forum.SToken != cfg.Forum.SToken
	if credsChanged {
		client = m.newClient(cfg.Username, cfg.Forum)
	}
	u.applyConfig(cfg, client)
	m.mu.Unlock()

	if cfg.Enable && m.ctrl.Running() && (credsChanged || !old.Enable) {
		u.Client().Start(ctx)
	}
	if old.Enable && !cfg.Enable {
		u.Client().Stop()
	}

	if old.Enable != cfg.Enable {
		m.ctrl.Bus.UserChange.Broadcast(ctx, cfg.Username)
	} else {
		m.ctrl.Bus.UserConfigChange.Broadcast(ctx, cfg.Username)
	}
	log.Info().Str("user", cfg.Username).Msg("User config updated")
	return nil
}

// DeleteUser removes the user's config, worker, confirm queue and metric
// series.
func (m *Manager) DeleteUser(ctx context.Context, username string) error {
	m.mu.Lock()
	u, ok := m.users[username]
	if !ok {
		m.mu.Unlock()
		return modErrors.ErrNotFound
	}
	if err := m.persist.DeleteUser(username); err != nil && !os.IsNotExist(err) {
		m.mu.Unlock()
		return err
	}
	delete(m.users, username)
	m.mu.Unlock()

	u.Client().Stop()
	if err := os.Remove(m.confirmPath(username)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("user", username).Msg("remove confirm file")
	}
	metrics.DeleteUserMetrics(username)
	m.ctrl.Bus.UserChange.Broadcast(ctx, username)
	log.Info().Str("user", username).Msg("User removed")
	return nil
}
