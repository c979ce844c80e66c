package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestOperationSpecJSON(t *testing.T) {
	t.Run("shorthand", func(t *testing.T) {
		var spec OperationSpec
		if err := json.Unmarshal([]byte(`"delete_and_block"`), &spec); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !spec.IsShorthand() || spec.Shorthand != OpDeleteAndBlock {
			t.Errorf("spec = %+v", spec)
		}
		out, err := json.Marshal(spec)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != `"delete_and_block"` {
			t.Errorf("marshal = %s", out)
		}
	})

	t.Run("list", func(t *testing.T) {
		raw := `[{"type":"delete","options":{"delete_thread_if_author":true}},{"type":"block","direct":true}]`
		var spec OperationSpec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if spec.IsShorthand() || len(spec.List) != 2 {
			t.Fatalf("spec = %+v", spec)
		}
		if spec.List[0].Type != "delete" || spec.List[1].Direct != true {
			t.Errorf("list = %+v", spec.List)
		}
	})

	t.Run("rejects object", func(t *testing.T) {
		var spec OperationSpec
		if err := json.Unmarshal([]byte(`{"type":"delete"}`), &spec); err == nil {
			t.Fatal("expected error for object form")
		}
	})
}

func TestConditionConfigPriority(t *testing.T) {
	var c ConditionConfig
	if err := json.Unmarshal([]byte(`{"type":"content_text","options":{"text":"spam"}}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Priority != nil {
		t.Errorf("absent priority should stay nil, got %v", *c.Priority)
	}

	if err := json.Unmarshal([]byte(`{"type":"floor","priority":45}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Priority == nil || *c.Priority != 45 {
		t.Errorf("priority = %v, want 45", c.Priority)
	}
}

func TestPartialUserConfigDefaults(t *testing.T) {
	raw := `{"username":"mod1","forum":{"fname":"f1"},"process":{"mandatory_confirm":true}}`
	cfg := NewUserConfig("mod1")
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.Forum.BlockDay != 1 || !cfg.Forum.Thread || !cfg.Forum.Post || !cfg.Forum.Comment {
		t.Errorf("forum defaults = %+v", cfg.Forum)
	}
	if !cfg.Process.MandatoryConfirm {
		t.Error("explicit mandatory_confirm lost")
	}
	if !cfg.Process.FastProcess || cfg.Process.ConfirmExpire != 86400 {
		t.Errorf("process defaults = %+v", cfg.Process)
	}
	if cfg.Enable {
		t.Error("enable should default to false")
	}
}

func TestUserPersistence(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(dir)

	cfg := NewUserConfig("mod1")
	cfg.Forum.Fname = "f1"
	cfg.Rules = []RuleConfig{{
		Name:       "r1",
		Operations: OperationSpec{Shorthand: OpDelete},
		Conditions: []ConditionConfig{{Type: "content_text", Options: json.RawMessage(`{"text":"spam"}`)}},
	}}
	if err := p.SaveUser(cfg); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	loaded, err := p.LoadUser("mod1")
	if err != nil {
		t.Fatalf("LoadUser: %v", err)
	}
	if !cfg.Equal(loaded) {
		t.Errorf("round trip mismatch:\nsaved  %+v\nloaded %+v", cfg, loaded)
	}

	all, errs := p.LoadUsers()
	if len(errs) != 0 {
		t.Fatalf("LoadUsers errors: %v", errs)
	}
	if len(all) != 1 || all[0].Username != "mod1" {
		t.Fatalf("LoadUsers = %+v", all)
	}

	if err := p.DeleteUser("mod1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := p.LoadUser("mod1"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist after delete, got %v", err)
	}
}

func TestValidateUsername(t *testing.T) {
	for _, bad := range []string{"", "../escape", "a/b", `a\b`} {
		if err := validateUsername(bad); err == nil {
			t.Errorf("validateUsername(%q) should fail", bad)
		}
	}
	if err := validateUsername("mod-1"); err != nil {
		t.Errorf("validateUsername(mod-1): %v", err)
	}
}
