package rules

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/models"
)

func prio(v float64) *float64 { return &v }

func testPost(text string, author models.User) *models.Post {
	return &models.Post{
		ContentBase: models.ContentBase{
			Fname:      "f1",
			Tid:        100,
			Pid:        101,
			Title:      "topic",
			Text:       text,
			CreateTime: 1700000000,
			Floor:      2,
			Author:     author,
		},
	}
}

func testThreadContent(text string, author models.User) *models.Thread {
	return &models.Thread{
		ContentBase: models.ContentBase{
			Fname:      "f1",
			Tid:        100,
			Pid:        100,
			Title:      "topic",
			Text:       text,
			CreateTime: 1700000000,
			Floor:      1,
			Author:     author,
		},
		ReplyNum: 3,
	}
}

func textCond(text string) config.ConditionConfig {
	return config.ConditionConfig{Type: "content_text", Options: json.RawMessage(`{"text":"` + text + `"}`)}
}

func userNameCond(name string) config.ConditionConfig {
	return config.ConditionConfig{Type: "user_name", Options: json.RawMessage(`{"text":"` + name + `"}`)}
}

func TestBuildRuleRoundTrip(t *testing.T) {
	cfg := config.RuleConfig{
		Name:          "r1",
		ManualConfirm: true,
		Operations: config.OperationSpec{List: []config.OperationConfig{
			{Type: "delete", Options: json.RawMessage(`{"delete_thread_if_author":true}`)},
			{Type: "block", Options: json.RawMessage(`{"day":3}`), Direct: true},
		}},
		Conditions: []config.ConditionConfig{
			textCond("spam"),
			{Type: "floor", Options: json.RawMessage(`{"min":2}`), Priority: prio(70)},
			{Type: "level", Options: json.RawMessage(`{"max":3}`)},
		},
		Logic: &config.LogicConfig{Expression: "(0 and 1) or 2"},
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var reloaded config.RuleConfig
	if err := json.Unmarshal(raw, &reloaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	r1, err := BuildRule(cfg)
	if err != nil {
		t.Fatalf("BuildRule original: %v", err)
	}
	r2, err := BuildRule(reloaded)
	if err != nil {
		t.Fatalf("BuildRule reloaded: %v", err)
	}

	contents := []models.Content{
		testPost("spam here", models.User{UserID: 9, UserName: "alice", Level: 2}),
		testPost("clean", models.User{UserID: 9, UserName: "alice", Level: 9}),
		testPost("spam here", models.User{UserID: 9, UserName: "alice", Level: 9}),
	}
	for i, c := range contents {
		got1 := r1.Check(context.Background(), NewProcessObject(c), nil)
		got2 := r2.Check(context.Background(), NewProcessObject(c), nil)
		if got1.Result != got2.Result {
			t.Errorf("content %d: original %v, reloaded %v", i, got1.Result, got2.Result)
		}
	}
}

func TestRuleStrictAndOrder(t *testing.T) {
	cfg := config.RuleConfig{
		Name:       "r1",
		Operations: config.OperationSpec{Shorthand: config.OpIgnore},
		Conditions: []config.ConditionConfig{
			textCond("spam"),
			{Type: "floor", Options: json.RawMessage(`{"min":2}`), Priority: prio(80)},
			{Type: "user_name", Options: json.RawMessage(`{"text":"bob"}`), Priority: prio(20)},
		},
	}
	rule, err := BuildRule(cfg)
	if err != nil {
		t.Fatalf("BuildRule: %v", err)
	}

	// All pass except the lowest-priority user_name check.
	obj := NewProcessObject(testPost("spam here", models.User{UserID: 9, UserName: "alice"}))
	rec := NewContextRecorder()
	res := rule.Check(context.Background(), obj, rec)

	if res.Result {
		t.Fatal("rule should not match")
	}
	if res.StepStatus == nil || res.StepStatus.FailedStep == nil {
		t.Fatal("strict-AND failure should carry a failed step")
	}
	if *res.StepStatus.FailedStep != 2 {
		t.Errorf("failed step = %d, want 2 (configured index of user_name)", *res.StepStatus.FailedStep)
	}

	var gotOrder []string
	for _, c := range rec.conditions {
		gotOrder = append(gotOrder, c.Type)
	}
	wantOrder := []string{"floor", "content_text", "user_name"}
	if strings.Join(gotOrder, ",") != strings.Join(wantOrder, ",") {
		t.Errorf("evaluation order = %v, want %v", gotOrder, wantOrder)
	}
}

func TestRuleStrictAndShortCircuit(t *testing.T) {
	cfg := config.RuleConfig{
		Name:       "r1",
		Operations: config.OperationSpec{Shorthand: config.OpIgnore},
		Conditions: []config.ConditionConfig{
			textCond("spam"),
			userNameCond("bob"),
		},
	}
	rule, err := BuildRule(cfg)
	if err != nil {
		t.Fatalf("BuildRule: %v", err)
	}

	obj := NewProcessObject(testPost("clean text", models.User{UserID: 9, UserName: "bob"}))
	rec := NewContextRecorder()
	res := rule.Check(context.Background(), obj, rec)

	if res.Result {
		t.Fatal("rule should not match")
	}
	if *res.StepStatus.FailedStep != 0 {
		t.Errorf("failed step = %d, want 0", *res.StepStatus.FailedStep)
	}
	if len(rec.conditions) != 1 {
		t.Errorf("short-circuit should stop evaluation, recorded %d conditions", len(rec.conditions))
	}
}

func TestRuleInvalidConditionExcluded(t *testing.T) {
	cfg := config.RuleConfig{
		Name:       "r1",
		Operations: config.OperationSpec{Shorthand: config.OpIgnore},
		Conditions: []config.ConditionConfig{
			{Type: "content_text", Options: json.RawMessage(`{"text":""}`)}, // invalid, never evaluated
			userNameCond("bob"),
		},
	}
	rule, err := BuildRule(cfg)
	if err != nil {
		t.Fatalf("BuildRule: %v", err)
	}
	if !rule.Valid() {
		t.Fatal("rule with one valid condition should stay valid")
	}

	obj := NewProcessObject(testPost("anything", models.User{UserID: 9, UserName: "bob"}))
	res := rule.Check(context.Background(), obj, nil)
	if !res.Result {
		t.Error("valid remainder should still match")
	}

	allInvalid, err := BuildRule(config.RuleConfig{
		Name:       "r2",
		Operations: config.OperationSpec{Shorthand: config.OpIgnore},
		Conditions: []config.ConditionConfig{
			{Type: "content_text", Options: json.RawMessage(`{"text":""}`)},
		},
	})
	if err != nil {
		t.Fatalf("BuildRule: %v", err)
	}
	if allInvalid.Valid() {
		t.Error("rule with no valid conditions should be invalid")
	}
}

func TestRuleLogicEarlyTrue(t *testing.T) {
	// c0: level > 5, c1: text contains "x", c2: time window. Content only
	// satisfies c2.
	conds := []config.ConditionConfig{
		{Type: "level", Options: json.RawMessage(`{"min":6}`)},
		{Type: "content_text", Options: json.RawMessage(`{"text":"x"}`)},
		{Type: "create_time", Options: json.RawMessage(`{"start":"2001-01-01 00:00:00"}`)},
	}
	obj := func() *ProcessObject {
		return NewProcessObject(testPost("clean", models.User{UserID: 9, UserName: "alice", Level: 2}))
	}

	t.Run("all evaluated before expression turns true", func(t *testing.T) {
		rule, err := BuildRule(config.RuleConfig{
			Name:       "r1",
			Operations: config.OperationSpec{Shorthand: config.OpIgnore},
			Conditions: conds,
			Logic:      &config.LogicConfig{Expression: "(0 and 1) or 2"},
		})
		if err != nil {
			t.Fatalf("BuildRule: %v", err)
		}
		res := rule.Check(context.Background(), obj(), nil)
		if !res.Result {
			t.Fatal("expression should be satisfied via c2")
		}
		if res.StepStatus == nil {
			t.Fatal("logic evaluation should carry a partition")
		}
		assertInts(t, "successes", res.StepStatus.Successes, []int{2})
		assertInts(t, "failures", res.StepStatus.Failures, []int{0, 1})
	})

	t.Run("early exit skips pending conditions", func(t *testing.T) {
		bumped := make([]config.ConditionConfig, len(conds))
		copy(bumped, conds)
		bumped[2].Priority = prio(60)
		rule, err := BuildRule(config.RuleConfig{
			Name:       "r1",
			Operations: config.OperationSpec{Shorthand: config.OpIgnore},
			Conditions: bumped,
			Logic:      &config.LogicConfig{Expression: "(0 and 1) or 2"},
		})
		if err != nil {
			t.Fatalf("BuildRule: %v", err)
		}
		rec := NewContextRecorder()
		res := rule.Check(context.Background(), obj(), rec)
		if !res.Result {
			t.Fatal("expression should be satisfied via c2")
		}
		assertInts(t, "successes", res.StepStatus.Successes, []int{2})
		assertInts(t, "failures", res.StepStatus.Failures, nil)
		if len(rec.conditions) != 1 {
			t.Errorf("only c2 should have been evaluated, recorded %d", len(rec.conditions))
		}
	})
}

func TestRuleLogicNecessaryBump(t *testing.T) {
	// 0 is necessary for "0 and (1 or 2)", so it is evaluated first even
	// though every condition carries the default priority.
	rule, err := BuildRule(config.RuleConfig{
		Name:       "r1",
		Operations: config.OperationSpec{Shorthand: config.OpIgnore},
		Conditions: []config.ConditionConfig{
			userNameCond("bob"),
			textCond("spam"),
			{Type: "floor", Options: json.RawMessage(`{"min":2}`)},
		},
		Logic: &config.LogicConfig{Expression: "0 and (1 or 2)"},
	})
	if err != nil {
		t.Fatalf("BuildRule: %v", err)
	}

	obj := NewProcessObject(testPost("spam", models.User{UserID: 9, UserName: "alice"}))
	rec := NewContextRecorder()
	res := rule.Check(context.Background(), obj, rec)

	if res.Result {
		t.Fatal("necessary condition fails, rule should not match")
	}
	if len(rec.conditions) == 0 || rec.conditions[0].Type != "user_name" {
		t.Errorf("necessary condition should be evaluated first, order: %+v", rec.conditions)
	}
	found := false
	for _, idx := range res.StepStatus.Failures {
		if idx == 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("failures %v should include the necessary condition 0", res.StepStatus.Failures)
	}
}

func TestStepStatusJSON(t *testing.T) {
	idx := 2
	got, err := json.Marshal(&StepStatus{FailedStep: &idx})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(got) != "2" {
		t.Errorf("failed-step form = %s, want 2", got)
	}

	got, err = json.Marshal(&StepStatus{Successes: []int{0, 2}, Failures: []int{1}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(got) != "[[0,2],[1]]" {
		t.Errorf("partition form = %s, want [[0,2],[1]]", got)
	}

	raw, err := json.Marshal(RuleContext{Name: "r1", Conditions: []int{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"step_status":null`) {
		t.Errorf("missing step status should serialize as null: %s", raw)
	}
}

func TestValidateRules(t *testing.T) {
	good := []config.RuleConfig{{
		Name:       "ok",
		Operations: config.OperationSpec{Shorthand: config.OpDelete},
		Conditions: []config.ConditionConfig{textCond("spam")},
	}}
	if err := ValidateRules(good); err != nil {
		t.Fatalf("ValidateRules(good) = %v", err)
	}

	tests := []struct {
		name string
		cfg  config.RuleConfig
	}{
		{
			name: "unknown condition type",
			cfg: config.RuleConfig{
				Name:       "bad",
				Operations: config.OperationSpec{Shorthand: config.OpDelete},
				Conditions: []config.ConditionConfig{{Type: "no_such_condition"}},
			},
		},
		{
			name: "broken regex",
			cfg: config.RuleConfig{
				Name:       "bad",
				Operations: config.OperationSpec{Shorthand: config.OpDelete},
				Conditions: []config.ConditionConfig{{Type: "content_text", Options: json.RawMessage(`{"text":"[","is_regex":true}`)}},
			},
		},
		{
			name: "broken logic",
			cfg: config.RuleConfig{
				Name:       "bad",
				Operations: config.OperationSpec{Shorthand: config.OpDelete},
				Conditions: []config.ConditionConfig{textCond("spam")},
				Logic:      &config.LogicConfig{Expression: "0 and 5"},
			},
		},
		{
			name: "unknown operation token",
			cfg: config.RuleConfig{
				Name:       "bad",
				Operations: config.OperationSpec{Shorthand: "obliterate"},
				Conditions: []config.ConditionConfig{textCond("spam")},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRules([]config.RuleConfig{tt.cfg}); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRegisterConditionFailFast(t *testing.T) {
	expectPanic := func(name string, fn func()) {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			fn()
		})
	}

	build := func(config.ConditionConfig) (Condition, error) { return nil, nil }

	expectPanic("descs missing a field", func() {
		RegisterCondition(ConditionMeta{
			Type:        "panics_missing_desc",
			Options:     &TextOptions{},
			OptionDescs: []OptionDesc{inputDesc("text", "t")},
			Build:       build,
		})
	})
	expectPanic("desc names no field", func() {
		RegisterCondition(ConditionMeta{
			Type:    "panics_extra_desc",
			Options: &LimiterOptions{},
			OptionDescs: []OptionDesc{
				numberDesc("min", "m"), numberDesc("max", "m"),
				numberDesc("eq", "e"), numberDesc("typo", "t"),
			},
			Build: build,
		})
	})
	expectPanic("duplicate type", func() {
		RegisterCondition(ConditionMeta{
			Type:        "content_text",
			Options:     &TextOptions{},
			OptionDescs: []OptionDesc{inputDesc("text", "t"), checkboxDesc("is_regex", "r"), checkboxDesc("ignore_case", "i")},
			Build:       build,
		})
	})
}

func TestConditionInfos(t *testing.T) {
	infos := ConditionInfos()
	byType := map[string]ConditionInfo{}
	for _, info := range infos {
		byType[info.Type] = info
	}

	text, ok := byType["content_text"]
	if !ok {
		t.Fatal("content_text not registered")
	}
	if text.Series != "text" || len(text.OptionDescs) != 3 {
		t.Errorf("content_text meta = %+v", text)
	}

	ct, ok := byType["content_type"]
	if !ok {
		t.Fatal("content_type not registered")
	}
	if ct.Values["thread"] == "" || ct.Values["comment"] == "" {
		t.Errorf("content_type should carry display values, got %v", ct.Values)
	}

	for _, typ := range []string{"create_time", "floor", "user_name", "nick_name", "portrait", "level", "ip", "tieba_uid"} {
		if _, ok := byType[typ]; !ok {
			t.Errorf("built-in condition %q not registered", typ)
		}
	}
}

func assertInts(t *testing.T, name string, got, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s = %v, want %v", name, got, want)
		return
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("%s = %v, want %v", name, got, want)
			return
		}
	}
}
