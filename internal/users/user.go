package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/confirm"
	modErrors "github.com/webtm/webtm-go/internal/errors"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/internal/rules"
	"github.com/webtm/webtm-go/internal/store"
)

// Confirm actions accepted by OperateConfirm.
const (
	ActionExecute = "execute"
	ActionIgnore  = "ignore"
)

// User is one worker: it runs every dispatched content item through its
// owner's rule set and either executes the matched operations or queues
// them for manual confirmation.
type User struct {
	st       *store.Store
	info     rules.InfoProvider
	confirms *confirm.Store

	mu        sync.Mutex
	cfg       *config.UserConfig
	processer *rules.Processer
	client    *ModClient

	// opMu serializes confirm actions so an approval executes at most once.
	opMu sync.Mutex
}

func newUser(cfg *config.UserConfig, st *store.Store, info rules.InfoProvider, client *ModClient, confirms *confirm.Store) *User {
	return &User{
		st:        st,
		info:      info,
		cfg:       cfg,
		processer: rules.NewProcesser(cfg, st, info),
		client:    client,
		confirms:  confirms,
	}
}

func (u *User) snapshot() (*config.UserConfig, *rules.Processer, *ModClient) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cfg, u.processer, u.client
}

// Username returns the owner's name.
func (u *User) Username() string {
	cfg, _, _ := u.snapshot()
	return cfg.Username
}

// Config returns the current config. Callers must treat it as read-only;
// applyConfig swaps the pointer.
func (u *User) Config() *config.UserConfig {
	cfg, _, _ := u.snapshot()
	return cfg
}

// Client returns the moderator session.
func (u *User) Client() *ModClient {
	_, _, client := u.snapshot()
	return client
}

// applyConfig swaps in a new config, rebuilding the rule processer. A
// non-nil newClient replaces the moderator session (the old one is
// stopped); the confirm queue deadline shifts when confirm_expire changed.
func (u *User) applyConfig(cfg *config.UserConfig, newClient *ModClient) {
	u.mu.Lock()
	old := u.cfg
	u.cfg = cfg
	u.processer = rules.NewProcesser(cfg, u.st, u.info)
	if newClient != nil {
		u.client.Stop()
		u.client = newClient
	}
	u.mu.Unlock()

	if old.Process.ConfirmExpire != cfg.Process.ConfirmExpire {
		if err := u.confirms.SetExpireTime(cfg.Process.ConfirmExpire); err != nil {
			log.Error().Err(err).Str("user", cfg.Username).Msg("shift confirm deadlines")
		}
	}
}

// CrawlNeed returns the forum and layers this user wants crawled. ok is
// false when the user is disabled, bound to no forum, scopes out every
// layer or has no usable rules.
func (u *User) CrawlNeed() (fname string, need models.CrawlNeed, ok bool) {
	cfg, processer, _ := u.snapshot()
	white, black := processer.RuleCount()
	if !cfg.Enable || cfg.Forum.Fname == "" || white+black == 0 {
		return "", models.CrawlNeed{}, false
	}
	need = models.CrawlNeed{Thread: cfg.Forum.Thread, Post: cfg.Forum.Post, Comment: cfg.Forum.Comment}
	if need.IsEmpty() {
		return "", models.CrawlNeed{}, false
	}
	return cfg.Forum.Fname, need, true
}

// wantsContent reports whether this user asked for the item at all. The
// crawler covers the union of every user's needs, so each worker filters
// back down to its own forum and layers.
func wantsContent(cfg *config.UserConfig, content models.Content) bool {
	if !cfg.Enable || cfg.Forum.Fname != content.Base().Fname {
		return false
	}
	switch content.Type() {
	case models.TypeThread:
		return cfg.Forum.Thread
	case models.TypePost:
		return cfg.Forum.Post
	case models.TypeComment:
		return cfg.Forum.Comment
	}
	return false
}

// HandleContent runs one crawled item through the rule set. A matched
// rule's operations execute immediately unless the user demands manual
// confirmation, in which case the non-direct part is queued with the facts
// it will need snapshotted.
func (u *User) HandleContent(ctx context.Context, content models.Content) error {
	cfg, processer, client := u.snapshot()
	if !wantsContent(cfg, content) {
		return nil
	}

	obj := rules.NewProcessObject(content)
	obj.Forum = &cfg.Forum
	obj.Info = u.info
	rule := processer.Process(ctx, obj)
	if rule == nil {
		return nil
	}

	ops := rule.Operations
	if !cfg.Process.MandatoryConfirm && !rule.ManualConfirm {
		u.execute(ctx, obj, ops, client, rule.Name)
		return nil
	}

	// operations marked direct bypass confirmation
	if direct := ops.Direct(); direct != nil && !direct.Empty() {
		u.execute(ctx, obj, direct, client, rule.Name)
	}
	pending := ops.NonDirect()
	if pending.Empty() {
		return nil
	}

	if err := pending.StoreData(ctx, obj); err != nil {
		log.Warn().Err(err).Str("user", cfg.Username).
			Int64("pid", content.Base().Pid).Msg("snapshotting facts for confirmation failed")
	}
	d := confirm.Data{
		Content:     content,
		Data:        obj.Data,
		Operations:  pending.Serialize(),
		ProcessTime: time.Now().Unix(),
		RuleName:    rule.Name,
	}
	if err := u.confirms.Set(content.Base().Pid, d); err != nil {
		return fmt.Errorf("queue confirmation: %w", err)
	}
	log.Info().Str("user", cfg.Username).Str("rule", rule.Name).
		Int64("pid", content.Base().Pid).Str("mark", content.Mark()).Msg("Queued for confirmation")
	return nil
}

func (u *User) execute(ctx context.Context, obj *rules.ProcessObject, g *rules.OperationGroup, client *ModClient, ruleName string) {
	base := obj.Content.Base()
	if g.NeedBawu() && !client.Authenticated() {
		log.Warn().Str("user", u.Username()).Str("rule", ruleName).Int64("pid", base.Pid).
			Msg("Moderator session not ready, operations skipped")
		return
	}
	if err := g.Execute(ctx, obj, client); err != nil {
		log.Warn().Err(err).Str("user", u.Username()).Str("rule", ruleName).
			Int64("pid", base.Pid).Msg("Some operations failed")
		return
	}
	log.Info().Str("user", u.Username()).Str("rule", ruleName).Int64("pid", base.Pid).
		Str("mark", obj.Content.Mark()).Msg("Operations executed")
}

// Confirms returns the live confirmation queue, oldest first.
func (u *User) Confirms() []confirm.Data {
	return u.confirms.Values()
}

// ConfirmCount returns the number of queued confirmations.
func (u *User) ConfirmCount() int {
	return u.confirms.Len()
}

// OperateConfirm resolves one queued confirmation: "execute" runs the
// stored operations against the snapshotted facts and dequeues the entry
// whether or not they all succeed, "ignore" just dequeues it. An execute
// on a queue needing moderator rights fails up front, leaving the entry
// queued, when the session is not authenticated.
func (u *User) OperateConfirm(ctx context.Context, pid int64, action string) error {
	u.opMu.Lock()
	defer u.opMu.Unlock()

	switch action {
	case ActionIgnore:
		live, err := u.confirms.Delete(pid)
		if err != nil {
			return err
		}
		if !live {
			return modErrors.ErrNotFound
		}
		log.Info().Str("user", u.Username()).Int64("pid", pid).Msg("Confirmation dismissed")
		return nil

	case ActionExecute:
		d, ok := u.confirms.Get(pid)
		if !ok {
			return modErrors.ErrNotFound
		}
		ops, err := rules.BuildOperations(d.Operations)
		if err != nil {
			return fmt.Errorf("rebuild stored operations: %w", err)
		}
		cfg, _, client := u.snapshot()
		if ops.NeedBawu() && !client.Authenticated() {
			return modErrors.ErrInvalidClient
		}

		obj := &rules.ProcessObject{Content: d.Content, Data: d.Data, Info: u.info, Forum: &cfg.Forum}
		if obj.Data == nil {
			obj.Data = map[string]any{}
		}
		execErr := ops.Execute(ctx, obj, client)
		if _, err := u.confirms.Delete(pid); err != nil {
			log.Error().Err(err).Str("user", u.Username()).Int64("pid", pid).Msg("dequeue confirmation")
		}
		if execErr != nil {
			return fmt.Errorf("execute confirmed operations: %w", execErr)
		}
		log.Info().Str("user", u.Username()).Str("rule", d.RuleName).
			Int64("pid", pid).Msg("Confirmed operations executed")
		return nil

	default:
		return fmt.Errorf("%w: %q", modErrors.ErrInvalidAction, action)
	}
}

// PurgeConfirms drops expired confirmation entries.
func (u *User) PurgeConfirms() {
	if err := u.confirms.Purge(); err != nil {
		log.Error().Err(err).Str("user", u.Username()).Msg("purge confirmations")
	}
}
