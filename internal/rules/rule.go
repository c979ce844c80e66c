package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/config"
)

// StepStatus records how far one rule evaluation got. Its wire form is a
// bare index when strict-AND evaluation stopped at a failing condition, or
// a two-element [successes, failures] partition of evaluated condition
// indices when a logic expression drove evaluation.
type StepStatus struct {
	FailedStep *int
	Successes  []int
	Failures   []int
}

func (s *StepStatus) MarshalJSON() ([]byte, error) {
	if s.FailedStep != nil {
		return json.Marshal(*s.FailedStep)
	}
	successes := s.Successes
	if successes == nil {
		successes = []int{}
	}
	failures := s.Failures
	if failures == nil {
		failures = []int{}
	}
	return json.Marshal([2][]int{successes, failures})
}

// CheckResult is the outcome of one rule evaluation. StepStatus is nil when
// nothing useful happened: the rule passed a strict-AND evaluation or was
// never evaluated at all.
type CheckResult struct {
	Result     bool
	StepStatus *StepStatus
}

type boundCondition struct {
	Condition
	// index is the condition's position in the configured order, which is
	// the index space logic expressions and recorded step statuses use.
	index int
	// effPriority is the evaluation-ordering priority, including the +0.5
	// bump for conditions a logic expression cannot succeed without.
	effPriority float64
}

// ConditionGroup holds a rule's conditions in both configured and
// evaluation order. Conditions with invalid options are excluded from
// evaluation but keep their configured indices.
type ConditionGroup struct {
	conds  []*boundCondition
	sorted []*boundCondition
}

func newConditionGroup(cfgs []config.ConditionConfig, logic *logicProgram) (*ConditionGroup, error) {
	g := &ConditionGroup{}
	for i := range cfgs {
		cond, err := BuildCondition(cfgs[i])
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		bc := &boundCondition{Condition: cond, index: i, effPriority: cond.Priority()}
		if logic != nil {
			if _, ok := logic.necessary[i]; ok {
				bc.effPriority += 0.5
			}
		}
		g.conds = append(g.conds, bc)
	}
	for _, bc := range g.conds {
		if bc.Valid() {
			g.sorted = append(g.sorted, bc)
		}
	}
	sort.SliceStable(g.sorted, func(i, j int) bool {
		return g.sorted[i].effPriority > g.sorted[j].effPriority
	})
	return g, nil
}

// Valid reports whether the group has anything left to evaluate.
func (g *ConditionGroup) Valid() bool { return len(g.sorted) > 0 }

// Rule is one deserialized, evaluation-ready moderation rule.
type Rule struct {
	Name               string
	ManualConfirm      bool
	Whitelist          bool
	ForceRecordContext bool
	LastModify         int64
	Operations         *OperationGroup

	group *ConditionGroup
	logic *logicProgram
	cfg   config.RuleConfig
}

// BuildRule instantiates a rule from its serialized form. Unknown condition
// or operation types, malformed options and malformed logic expressions all
// fail the build; semantically empty options merely mark the condition
// invalid so the rest of the rule still works.
func BuildRule(cfg config.RuleConfig) (*Rule, error) {
	var logic *logicProgram
	if cfg.Logic != nil && cfg.Logic.Expression != "" {
		var err error
		logic, err = parseLogic(cfg.Logic.Expression, len(cfg.Conditions))
		if err != nil {
			return nil, err
		}
	}
	group, err := newConditionGroup(cfg.Conditions, logic)
	if err != nil {
		return nil, err
	}
	ops, err := BuildOperations(cfg.Operations)
	if err != nil {
		return nil, err
	}
	return &Rule{
		Name:               cfg.Name,
		ManualConfirm:      cfg.ManualConfirm,
		Whitelist:          cfg.Whitelist,
		ForceRecordContext: cfg.ForceRecordContext,
		LastModify:         cfg.LastModify,
		Operations:         ops,
		group:              group,
		logic:              logic,
		cfg:                cfg,
	}, nil
}

// ValidateRules verifies that every rule in cfgs deserializes cleanly.
// Used by the admin API to reject a broken rule set at save time.
func ValidateRules(cfgs []config.RuleConfig) error {
	for i := range cfgs {
		if _, err := BuildRule(cfgs[i]); err != nil {
			name := cfgs[i].Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return fmt.Errorf("rule %s: %w", name, err)
		}
	}
	return nil
}

// Valid reports whether the rule can match anything. A rule whose
// conditions were all invalidated never enters the effective rule group.
func (r *Rule) Valid() bool { return r.group.Valid() }

// Config returns the serialized form the rule was built from.
func (r *Rule) Config() config.RuleConfig { return r.cfg }

// Check evaluates the rule against obj. Every computed condition value is
// reported to rec for context recording; rec may be nil.
//
// Without a logic expression, evaluation is strict AND in descending
// priority order with a short-circuit on the first false. With one, the
// expression is re-evaluated after each condition result, treating unknown
// indices as false, and returns as soon as it turns true.
func (r *Rule) Check(ctx context.Context, obj *ProcessObject, rec *ContextRecorder) CheckResult {
	if r.logic != nil {
		return r.checkLogic(ctx, obj, rec)
	}
	for _, bc := range r.group.sorted {
		ok := r.evalCondition(ctx, obj, bc, rec)
		if !ok {
			idx := bc.index
			return CheckResult{Result: false, StepStatus: &StepStatus{FailedStep: &idx}}
		}
	}
	return CheckResult{Result: true}
}

func (r *Rule) checkLogic(ctx context.Context, obj *ProcessObject, rec *ContextRecorder) CheckResult {
	known := make(map[int]bool, len(r.group.sorted))
	for _, bc := range r.group.sorted {
		known[bc.index] = r.evalCondition(ctx, obj, bc, rec)
		if r.logic.eval(known) {
			return CheckResult{Result: true, StepStatus: partition(known)}
		}
	}
	return CheckResult{Result: false, StepStatus: partition(known)}
}

// evalCondition computes one condition, reporting the inspected value to
// rec. A value lookup failure is logged and counts as a non-match.
func (r *Rule) evalCondition(ctx context.Context, obj *ProcessObject, bc *boundCondition, rec *ContextRecorder) bool {
	ok, value, err := bc.Check(ctx, obj)
	rec.Observe(bc.Condition, value, err == nil)
	if err != nil {
		log.Warn().Err(err).Str("condition", bc.Identity()).Str("rule", r.Name).
			Int64("pid", obj.Content.Base().Pid).Msg("condition check failed")
		return false
	}
	return ok
}

func partition(known map[int]bool) *StepStatus {
	s := &StepStatus{}
	for idx, ok := range known {
		if ok {
			s.Successes = append(s.Successes, idx)
		} else {
			s.Failures = append(s.Failures, idx)
		}
	}
	sort.Ints(s.Successes)
	sort.Ints(s.Failures)
	return s
}
