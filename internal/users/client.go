// Package users hosts the per-user moderation workers: the authenticated
// moderator client, the worker that runs incoming content through the
// user's rules, and the manager that keeps the worker set in sync with the
// persisted user configs.
package users

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	modErrors "github.com/webtm/webtm-go/internal/errors"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/pkg/tieba"
)

// LoginState describes a moderator session.
type LoginState string

const (
	// StateMissingCookie means no credential pair is configured; the worker
	// runs but cannot execute moderation actions.
	StateMissingCookie LoginState = "missing_cookie"
	// StateSuccess means the credentials were accepted.
	StateSuccess LoginState = "success"
	// StateFailed means login was attempted and rejected.
	StateFailed LoginState = "failed"
)

// ModClient is one user's moderation session against the platform. It
// implements rules.Moderator; every action call is refused until Start has
// succeeded.
type ModClient struct {
	user   string
	cfg    tieba.ClientConfig
	client *tieba.Client

	mu     sync.Mutex
	state  LoginState
	reason string
	self   *tieba.SelfInfo
}

// NewModClient builds a client from the credential pair in cfg. No network
// traffic happens until Start.
func NewModClient(user string, cfg tieba.ClientConfig) *ModClient {
	return &ModClient{
		user:   user,
		cfg:    cfg,
		client: tieba.NewClient(cfg),
		state:  StateMissingCookie,
	}
}

// Start logs the session in. Missing credentials leave the client in
// StateMissingCookie; rejected credentials (a zero user id or an upstream
// error) move it to StateFailed with the reason kept for the admin surface.
func (m *ModClient) Start(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.BDUSS == "" || m.cfg.SToken == "" {
		m.state = StateMissingCookie
		m.reason = ""
		m.self = nil
		log.Info().Str("user", m.user).Msg("No moderator credentials, running unauthenticated")
		return false
	}

	self, err := m.client.GetSelfInfo(ctx)
	if err != nil {
		m.state = StateFailed
		m.reason = err.Error()
		m.self = nil
		log.Error().Err(err).Str("user", m.user).Msg("Moderator login failed")
		return false
	}
	if self.UserID == 0 {
		m.state = StateFailed
		m.reason = "invalid credentials"
		m.self = nil
		log.Error().Str("user", m.user).Msg("Moderator credentials rejected")
		return false
	}

	m.state = StateSuccess
	m.reason = ""
	m.self = self
	log.Info().Str("user", m.user).Str("account", self.UserName).Msg("Moderator logged in")
	return true
}

// Stop releases the session's idle connections.
func (m *ModClient) Stop() {
	m.client.Close()
}

// State returns the session state and, for StateFailed, the reason.
func (m *ModClient) State() (LoginState, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.reason
}

// Authenticated reports whether moderation actions can execute.
func (m *ModClient) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateSuccess
}

// Self returns the logged-in account, nil unless StateSuccess.
func (m *ModClient) Self() *tieba.SelfInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

func (m *ModClient) guard() error {
	if !m.Authenticated() {
		return modErrors.ErrInvalidClient
	}
	return nil
}

// Delete removes the content itself: the whole thread for a thread, the
// single reply otherwise.
func (m *ModClient) Delete(ctx context.Context, c models.Content) error {
	if err := m.guard(); err != nil {
		return err
	}
	base := c.Base()
	if c.Type() == models.TypeThread {
		return m.client.DelThread(ctx, base.Fname, base.Tid)
	}
	return m.client.DelPost(ctx, base.Fname, base.Tid, base.Pid)
}

// DeleteThread removes a whole thread.
func (m *ModClient) DeleteThread(ctx context.Context, fname string, tid int64) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.client.DelThread(ctx, fname, tid)
}

// Block bans a user from fname for day days.
func (m *ModClient) Block(ctx context.Context, fname string, userID int64, day int, reason string) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.client.Block(ctx, fname, userID, day, reason)
}
