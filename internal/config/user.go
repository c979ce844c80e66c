package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultConditionPriority applies when a condition descriptor carries no
// explicit priority. Higher priorities are checked first.
const DefaultConditionPriority = 50.0

// Shorthand operation tokens accepted wherever an operation list may appear.
const (
	OpIgnore         = "ignore"
	OpDelete         = "delete"
	OpBlock          = "block"
	OpDeleteAndBlock = "delete_and_block"
)

// ForumConfig binds a user to one forum and scopes which content layers
// their rules see.
type ForumConfig struct {
	Fname       string `json:"fname"`
	BDUSS       string `json:"bduss,omitempty"`
	SToken      string `json:"stoken,omitempty"`
	BlockDay    int    `json:"block_day"`
	BlockReason string `json:"block_reason"`
	Thread      bool   `json:"thread"`
	Post        bool   `json:"post"`
	Comment     bool   `json:"comment"`
}

// LoginReady reports whether moderator credentials are present.
func (f *ForumConfig) LoginReady() bool {
	return f.BDUSS != "" && f.SToken != ""
}

func (f *ForumConfig) UnmarshalJSON(data []byte) error {
	type alias ForumConfig
	tmp := alias{BlockDay: 1, Thread: true, Post: true, Comment: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*f = ForumConfig(tmp)
	return nil
}

// ProcessConfig tunes how a user's worker treats matches.
type ProcessConfig struct {
	MandatoryConfirm      bool  `json:"mandatory_confirm"`
	FastProcess           bool  `json:"fast_process"`
	ConfirmExpire         int64 `json:"confirm_expire"`
	ContentValidateExpire int64 `json:"content_validate_expire"`
	RecordAllContext      bool  `json:"record_all_context"`
}

func (p *ProcessConfig) UnmarshalJSON(data []byte) error {
	type alias ProcessConfig
	tmp := alias{FastProcess: true, ConfirmExpire: 86400, ContentValidateExpire: 86400}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*p = ProcessConfig(tmp)
	return nil
}

// PermissionConfig gates what the user may change through the admin API.
type PermissionConfig struct {
	CanEditForum   bool `json:"can_edit_forum"`
	CanEditRuleSet bool `json:"can_edit_rule_set"`
}

// ConditionConfig is one serialized condition descriptor inside a rule.
// Options stays raw; the rules registry decodes it against the schema
// registered for Type. A nil Priority means "use the condition type's own
// default", which is DefaultConditionPriority for most types.
type ConditionConfig struct {
	Type     string          `json:"type"`
	Options  json.RawMessage `json:"options,omitempty"`
	Priority *float64        `json:"priority,omitempty"`
}

// OperationConfig is one serialized operation descriptor.
type OperationConfig struct {
	Type    string          `json:"type"`
	Options json.RawMessage `json:"options,omitempty"`
	Direct  bool            `json:"direct,omitempty"`
}

// OperationSpec is either a shorthand token or an ordered operation list.
type OperationSpec struct {
	Shorthand string
	List      []OperationConfig
}

// IsShorthand reports whether s is the token form.
func (s OperationSpec) IsShorthand() bool { return s.Shorthand != "" }

func (s OperationSpec) MarshalJSON() ([]byte, error) {
	if s.Shorthand != "" {
		return json.Marshal(s.Shorthand)
	}
	if s.List == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.List)
}

func (s *OperationSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty operation spec")
	}
	switch trimmed[0] {
	case '"':
		s.List = nil
		return json.Unmarshal(trimmed, &s.Shorthand)
	case '[':
		s.Shorthand = ""
		return json.Unmarshal(trimmed, &s.List)
	default:
		return fmt.Errorf("operation spec must be a token or a list")
	}
}

// LogicConfig carries the optional boolean expression over condition
// indices, e.g. "(0 and 1) or not 2".
type LogicConfig struct {
	Expression string `json:"expression"`
}

// RuleConfig is one user-owned rule as persisted in the user file.
type RuleConfig struct {
	Name               string            `json:"name"`
	ManualConfirm      bool              `json:"manual_confirm"`
	Operations         OperationSpec     `json:"operations"`
	Conditions         []ConditionConfig `json:"conditions"`
	LastModify         int64             `json:"last_modify,omitempty"`
	Whitelist          bool              `json:"whitelist,omitempty"`
	ForceRecordContext bool              `json:"force_record_context,omitempty"`
	Logic              *LogicConfig      `json:"logic,omitempty"`
}

// UserConfig is one user's full configuration, persisted as
// users/<username>.json in the data directory.
type UserConfig struct {
	Username           string           `json:"username"`
	Password           string           `json:"password,omitempty"` // bcrypt hash
	Code               string           `json:"code,omitempty"`
	PasswordLastUpdate int64            `json:"password_last_update,omitempty"`
	Forum              ForumConfig      `json:"forum"`
	Process            ProcessConfig    `json:"process"`
	Rules              []RuleConfig     `json:"rules"`
	Enable             bool             `json:"enable"`
	Permission         PermissionConfig `json:"permission"`
}

// NewUserConfig returns a fresh config with the field defaults applied.
func NewUserConfig(username string) *UserConfig {
	return &UserConfig{
		Username: username,
		Forum:    ForumConfig{BlockDay: 1, Thread: true, Post: true, Comment: true},
		Process:  ProcessConfig{FastProcess: true, ConfirmExpire: 86400, ContentValidateExpire: 86400},
	}
}

// Clone returns a deep copy via a JSON round trip.
func (u *UserConfig) Clone() *UserConfig {
	data, err := json.Marshal(u)
	if err != nil {
		return nil
	}
	out := &UserConfig{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}

// Equal reports whether two user configs serialize identically.
func (u *UserConfig) Equal(other *UserConfig) bool {
	if u == nil || other == nil {
		return u == other
	}
	a, err1 := json.Marshal(u)
	b, err2 := json.Marshal(other)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(a, b)
}
