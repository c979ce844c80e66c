package rules

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/metrics"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/internal/store"
)

// Processer drives one user's rule set over incoming content. Whitelist
// rules run first and veto any action; blacklist rules pick the operation
// set to run. Every evaluation leaves a process_log and process_context
// row behind.
type Processer struct {
	cfg       *config.UserConfig
	st        *store.Store
	info      InfoProvider
	whitelist []*Rule
	blacklist []*Rule
}

// NewProcesser builds the split rule groups from cfg. Rules that fail to
// deserialize or have no valid conditions are skipped with a log line, so
// one broken rule does not take the user's whole set down.
func NewProcesser(cfg *config.UserConfig, st *store.Store, info InfoProvider) *Processer {
	p := &Processer{cfg: cfg, st: st, info: info}
	for i := range cfg.Rules {
		rule, err := BuildRule(cfg.Rules[i])
		if err != nil {
			log.Warn().Err(err).Str("user", cfg.Username).
				Str("rule", cfg.Rules[i].Name).Msg("skipping broken rule")
			continue
		}
		if !rule.Valid() {
			log.Debug().Str("user", cfg.Username).
				Str("rule", rule.Name).Msg("skipping rule without valid conditions")
			continue
		}
		if rule.Whitelist {
			p.whitelist = append(p.whitelist, rule)
		} else {
			p.blacklist = append(p.blacklist, rule)
		}
	}
	return p
}

// RuleCount returns the effective whitelist and blacklist sizes.
func (p *Processer) RuleCount() (whitelist, blacklist int) {
	return len(p.whitelist), len(p.blacklist)
}

// Process evaluates obj against the user's rules and returns the blacklist
// rule whose operations should run, or nil when the content is out of
// scope, a whitelist rule matched, or nothing matched.
//
// A whitelist match is a decision NOT to act: it is persisted like a match
// but no rule is returned. Among blacklist matches the first in configured
// order wins; with fast_process evaluation stops right there, otherwise the
// remaining rules still run for their recorded context.
func (p *Processer) Process(ctx context.Context, obj *ProcessObject) *Rule {
	base := obj.Content.Base()
	if base.Fname != p.cfg.Forum.Fname || !p.layerWanted(obj.Content.Type()) || !p.cfg.Enable {
		return nil
	}
	if obj.Info == nil {
		obj.Info = p.info
	}
	if obj.Forum == nil {
		obj.Forum = &p.cfg.Forum
	}

	rec := NewContextRecorder()
	processTime := time.Now().Unix()

	for _, rule := range p.whitelist {
		res := rule.Check(ctx, obj, rec)
		if res.Result || p.cfg.Process.RecordAllContext || rule.ForceRecordContext {
			rec.RecordRule(ctx, obj, rule, res)
		}
		if res.Result {
			log.Debug().Str("user", p.cfg.Username).Str("rule", rule.Name).
				Int64("pid", base.Pid).Msg("whitelisted")
			metrics.RecordRuleMatch(p.cfg.Username, true)
			p.persist(ctx, obj, rule, rec, processTime)
			return nil
		}
	}

	var matched *Rule
	for _, rule := range p.blacklist {
		res := rule.Check(ctx, obj, rec)
		if res.Result || p.cfg.Process.RecordAllContext || rule.ForceRecordContext {
			rec.RecordRule(ctx, obj, rule, res)
		}
		if res.Result {
			if matched == nil {
				matched = rule
			}
			if p.cfg.Process.FastProcess {
				break
			}
		}
	}
	if matched != nil {
		log.Info().Str("user", p.cfg.Username).Str("rule", matched.Name).
			Int64("pid", base.Pid).Str("mark", obj.Content.Mark()).Msg("rule matched")
		metrics.RecordRuleMatch(p.cfg.Username, false)
	}
	p.persist(ctx, obj, matched, rec, processTime)
	return matched
}

func (p *Processer) layerWanted(t models.ContentType) bool {
	switch t {
	case models.TypeThread:
		return p.cfg.Forum.Thread
	case models.TypePost:
		return p.cfg.Forum.Post
	case models.TypeComment:
		return p.cfg.Forum.Comment
	default:
		return false
	}
}

// persist writes the verdict and its evaluation context. Storage failures
// are logged but never stop the moderation action itself.
func (p *Processer) persist(ctx context.Context, obj *ProcessObject, matched *Rule, rec *ContextRecorder, processTime int64) {
	base := obj.Content.Base()
	entry := store.ProcessLog{
		Pid:         base.Pid,
		User:        p.cfg.Username,
		Tid:         base.Tid,
		CreateTime:  base.CreateTime,
		ProcessTime: processTime,
	}
	if matched != nil {
		entry.ResultRule = sql.NullString{String: matched.Name, Valid: true}
		entry.IsWhitelist = sql.NullBool{Bool: matched.Whitelist, Valid: true}
	}
	if err := p.st.SaveProcessLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("user", p.cfg.Username).Int64("pid", base.Pid).Msg("save process log")
	}

	rulesJSON, condsJSON, err := rec.Marshal()
	if err != nil {
		log.Error().Err(err).Str("user", p.cfg.Username).Int64("pid", base.Pid).Msg("marshal process context")
		return
	}
	pc := store.ProcessContext{Pid: base.Pid, User: p.cfg.Username, Rules: rulesJSON, Conditions: condsJSON}
	if err := p.st.SaveProcessContext(ctx, pc); err != nil {
		log.Error().Err(err).Str("user", p.cfg.Username).Int64("pid", base.Pid).Msg("save process context")
	}
}
