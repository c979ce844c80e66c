package rules

import (
	"context"
	"encoding/json"
)

// ConditionContext is one recorded condition value. Context is nil when the
// value was never computed, either because the check failed or because an
// expensive lookup was deliberately skipped.
type ConditionContext struct {
	Type    string  `json:"type"`
	Key     string  `json:"key,omitempty"`
	Context *string `json:"context"`
}

// RuleContext is one recorded rule evaluation. Conditions indexes into the
// recorder's deduplicated condition list.
type RuleContext struct {
	Name       string      `json:"name"`
	Whitelist  bool        `json:"whitelist"`
	Result     bool        `json:"result"`
	Conditions []int       `json:"conditions"`
	StepStatus *StepStatus `json:"step_status"`
}

// ContextRecorder accumulates the evaluation context of one content item
// across all of a user's rules. Condition values are deduplicated by their
// identity "type:key": many rules inspecting the same attribute share one
// recorded entry.
type ContextRecorder struct {
	conditions []ConditionContext
	index      map[string]int
	rules      []RuleContext
}

func NewContextRecorder() *ContextRecorder {
	return &ContextRecorder{index: map[string]int{}}
}

// Observe records one computed condition value. Called for every condition
// evaluation regardless of whether the owning rule's context is kept. A
// has-value observation fills in an entry previously recorded as skipped.
func (r *ContextRecorder) Observe(c Condition, value string, hasValue bool) {
	if r == nil {
		return
	}
	identity := c.Identity()
	if pos, ok := r.index[identity]; ok {
		if r.conditions[pos].Context == nil && hasValue {
			r.conditions[pos].Context = &value
		}
		return
	}
	entry := ConditionContext{Type: c.Type(), Key: c.Key()}
	if hasValue {
		entry.Context = &value
	}
	r.conditions = append(r.conditions, entry)
	r.index[identity] = len(r.conditions) - 1
}

// RecordRule keeps one rule's evaluation in the recorded context. The
// rule's valid conditions are listed in configured order; ones evaluation
// never reached are backfilled so the record is complete, except that
// expensive-lookup conditions are kept as skipped rather than fetched just
// for display.
func (r *ContextRecorder) RecordRule(ctx context.Context, obj *ProcessObject, rule *Rule, res CheckResult) {
	if r == nil {
		return
	}
	indices := make([]int, 0, len(rule.group.conds))
	for _, bc := range rule.group.conds {
		if !bc.Valid() {
			continue
		}
		identity := bc.Identity()
		if pos, ok := r.index[identity]; ok {
			indices = append(indices, pos)
			continue
		}
		if bc.ShowUnprocessed() {
			r.Observe(bc.Condition, "", false)
		} else {
			_, value, err := bc.Check(ctx, obj)
			r.Observe(bc.Condition, value, err == nil)
		}
		indices = append(indices, r.index[identity])
	}
	r.rules = append(r.rules, RuleContext{
		Name:       rule.Name,
		Whitelist:  rule.Whitelist,
		Result:     res.Result,
		Conditions: indices,
		StepStatus: res.StepStatus,
	})
}

// Marshal renders the recorded rules and conditions as the two JSON blobs
// the process_context table stores. Empty lists come back nil so the store
// can substitute its [] placeholder.
func (r *ContextRecorder) Marshal() (rules, conditions json.RawMessage, err error) {
	if len(r.rules) > 0 {
		rules, err = json.Marshal(r.rules)
		if err != nil {
			return nil, nil, err
		}
	}
	if len(r.conditions) > 0 {
		conditions, err = json.Marshal(r.conditions)
		if err != nil {
			return nil, nil, err
		}
	}
	return rules, conditions, nil
}
