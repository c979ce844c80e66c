package rules

import (
	"context"
	"fmt"
	"strconv"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/models"
	"github.com/webtm/webtm-go/pkg/tieba"
)

// Condition is one instantiated, validated check against a content item.
type Condition interface {
	Type() string
	// Key distinguishes multiple instances of the same type bound to
	// different targets; empty for single-purpose types.
	Key() string
	// Identity is the context-deduplication key "type" or "type:key".
	Identity() string
	Priority() float64
	Valid() bool
	// ShowUnprocessed marks conditions whose value comes from an expensive
	// external lookup; context recording skips the fetch and shows them as
	// unprocessed when evaluation never reached them.
	ShowUnprocessed() bool
	// Check reports whether obj satisfies the condition, together with the
	// string form of the inspected value for context recording.
	Check(ctx context.Context, obj *ProcessObject) (bool, string, error)
	Config() config.ConditionConfig
}

type conditionBase struct {
	typ             string
	key             string
	priority        float64
	showUnprocessed bool
	cfg             config.ConditionConfig
}

func (c *conditionBase) Type() string          { return c.typ }
func (c *conditionBase) Key() string           { return c.key }
func (c *conditionBase) Priority() float64     { return c.priority }
func (c *conditionBase) ShowUnprocessed() bool { return c.showUnprocessed }
func (c *conditionBase) Config() config.ConditionConfig {
	return c.cfg
}

func (c *conditionBase) Identity() string {
	if c.key == "" {
		return c.typ
	}
	return c.typ + ":" + c.key
}

func newConditionBase(cfg config.ConditionConfig, key string, defaultPriority float64, showUnprocessed bool) conditionBase {
	priority := defaultPriority
	if cfg.Priority != nil {
		priority = *cfg.Priority
	}
	return conditionBase{
		typ:             cfg.Type,
		key:             key,
		priority:        priority,
		showUnprocessed: showUnprocessed,
		cfg:             cfg,
	}
}

type textValueFunc func(ctx context.Context, obj *ProcessObject) (string, error)

type textCondition struct {
	conditionBase
	opts  *TextOptions
	value textValueFunc
}

func (c *textCondition) Valid() bool { return c.opts.Valid() }

func (c *textCondition) Check(ctx context.Context, obj *ProcessObject) (bool, string, error) {
	v, err := c.value(ctx, obj)
	if err != nil {
		return false, "", err
	}
	return c.opts.Match(v), v, nil
}

type numberValueFunc func(obj *ProcessObject) float64

type limiterCondition struct {
	conditionBase
	opts  *LimiterOptions
	value numberValueFunc
}

func (c *limiterCondition) Valid() bool { return c.opts.Valid() }

func (c *limiterCondition) Check(_ context.Context, obj *ProcessObject) (bool, string, error) {
	v := c.value(obj)
	return c.opts.Match(v), strconv.FormatFloat(v, 'f', -1, 64), nil
}

type timeCondition struct {
	conditionBase
	opts  *TimeOptions
	value func(obj *ProcessObject) int64
}

func (c *timeCondition) Valid() bool { return c.opts.Valid() }

func (c *timeCondition) Check(_ context.Context, obj *ProcessObject) (bool, string, error) {
	v := c.value(obj)
	return c.opts.Match(v), strconv.FormatInt(v, 10), nil
}

type checkBoxCondition struct {
	conditionBase
	opts  *CheckBoxOptions
	value func(obj *ProcessObject) string
}

func (c *checkBoxCondition) Valid() bool { return c.opts.Valid() }

func (c *checkBoxCondition) Check(_ context.Context, obj *ProcessObject) (bool, string, error) {
	v := c.value(obj)
	return c.opts.Match(v), v, nil
}

type selectCondition struct {
	conditionBase
	opts  *SelectOptions
	value func(obj *ProcessObject) string
}

func (c *selectCondition) Valid() bool { return c.opts.Valid() }

func (c *selectCondition) Check(_ context.Context, obj *ProcessObject) (bool, string, error) {
	v := c.value(obj)
	return c.opts.Match(v), v, nil
}

// Built-in condition registrations. Attribute-path conditions read straight
// off the content; ip and tieba_uid need a profile lookup and default to a
// lower priority so cheaper conditions get a chance to disqualify first.

const lookupPriority = 45

func textMeta(typ, name, category, description string, priority float64, showUnprocessed bool, value textValueFunc) ConditionMeta {
	return ConditionMeta{
		Type:        typ,
		Name:        name,
		Category:    category,
		Description: description,
		Series:      "text",
		Options:     &TextOptions{},
		OptionDescs: []OptionDesc{
			inputDesc("text", "匹配文本"),
			checkboxDesc("is_regex", "正则"),
			checkboxDesc("is_wildcard", "通配符"),
			checkboxDesc("ignore_case", "忽略大小写"),
		},
		Build: func(cfg config.ConditionConfig) (Condition, error) {
			opts, err := newTextOptions(cfg.Options)
			if err != nil {
				return nil, err
			}
			return &textCondition{
				conditionBase: newConditionBase(cfg, "", priority, showUnprocessed),
				opts:          opts,
				value:         value,
			}, nil
		},
	}
}

func limiterMeta(typ, name, category, description string, value numberValueFunc) ConditionMeta {
	return ConditionMeta{
		Type:        typ,
		Name:        name,
		Category:    category,
		Description: description,
		Series:      "limiter",
		Options:     &LimiterOptions{},
		OptionDescs: []OptionDesc{
			numberDesc("min", "最小值"),
			numberDesc("max", "最大值"),
			numberDesc("eq", "等于"),
		},
		Build: func(cfg config.ConditionConfig) (Condition, error) {
			opts, err := newLimiterOptions(cfg.Options)
			if err != nil {
				return nil, err
			}
			return &limiterCondition{
				conditionBase: newConditionBase(cfg, "", config.DefaultConditionPriority, false),
				opts:          opts,
				value:         value,
			}, nil
		},
	}
}

func contentText(_ context.Context, obj *ProcessObject) (string, error) {
	return obj.Content.Base().Text, nil
}

func userAttr(get func(u *models.User) string) textValueFunc {
	return func(_ context.Context, obj *ProcessObject) (string, error) {
		return get(&obj.Content.Base().Author), nil
	}
}

func lookupAttr(get func(d *tieba.UserDetail) string) textValueFunc {
	return func(ctx context.Context, obj *ProcessObject) (string, error) {
		if obj.Info == nil {
			return "", fmt.Errorf("no info provider attached")
		}
		detail, err := obj.Info.UserInfo(ctx, obj.Content.Base().Author.UserID)
		if err != nil {
			return "", err
		}
		return get(detail), nil
	}
}

func init() {
	RegisterCondition(textMeta("content_text", "帖子内容", "帖子", "匹配帖子正文",
		config.DefaultConditionPriority, false, contentText))

	RegisterCondition(ConditionMeta{
		Type:        "create_time",
		Name:        "创建时间",
		Category:    "帖子",
		Description: "帖子发表时间落在给定时间窗内",
		Series:      "time",
		Options:     &TimeOptions{},
		OptionDescs: []OptionDesc{
			inputDesc("start", "起始时间"),
			inputDesc("end", "结束时间"),
		},
		Build: func(cfg config.ConditionConfig) (Condition, error) {
			opts, err := newTimeOptions(cfg.Options)
			if err != nil {
				return nil, err
			}
			return &timeCondition{
				conditionBase: newConditionBase(cfg, "", config.DefaultConditionPriority, false),
				opts:          opts,
				value:         func(obj *ProcessObject) int64 { return obj.Content.Base().CreateTime },
			}, nil
		},
	})

	RegisterCondition(limiterMeta("floor", "楼层", "帖子", "楼层号落在给定范围内",
		func(obj *ProcessObject) float64 { return float64(obj.Content.Base().Floor) }))

	RegisterCondition(ConditionMeta{
		Type:        "content_type",
		Name:        "类型",
		Category:    "帖子",
		Description: "帖子属于勾选的类型",
		Series:      "checkbox",
		Values: map[string]string{
			"thread":  "主题帖",
			"post":    "回帖",
			"comment": "楼中楼",
		},
		Options: &CheckBoxOptions{},
		OptionDescs: []OptionDesc{
			checkboxDesc("values", "类型"),
		},
		Build: func(cfg config.ConditionConfig) (Condition, error) {
			opts, err := newCheckBoxOptions(cfg.Options)
			if err != nil {
				return nil, err
			}
			return &checkBoxCondition{
				conditionBase: newConditionBase(cfg, "", config.DefaultConditionPriority, false),
				opts:          opts,
				value:         func(obj *ProcessObject) string { return string(obj.Content.Type()) },
			}, nil
		},
	})

	RegisterCondition(textMeta("user_name", "用户名", "用户", "匹配作者用户名",
		config.DefaultConditionPriority, false, userAttr(func(u *models.User) string { return u.UserName })))
	RegisterCondition(textMeta("nick_name", "昵称", "用户", "匹配作者昵称",
		config.DefaultConditionPriority, false, userAttr(func(u *models.User) string { return u.NickName })))
	RegisterCondition(textMeta("portrait", "Portrait", "用户", "匹配作者portrait",
		config.DefaultConditionPriority, false, userAttr(func(u *models.User) string { return u.Portrait })))

	RegisterCondition(limiterMeta("level", "等级", "用户", "作者等级落在给定范围内",
		func(obj *ProcessObject) float64 { return float64(obj.Content.Base().Author.Level) }))

	RegisterCondition(textMeta("ip", "IP", "用户", "匹配作者IP属地，需要调用接口查询",
		lookupPriority, true, lookupAttr(func(d *tieba.UserDetail) string { return d.IP })))
	RegisterCondition(textMeta("tieba_uid", "贴吧号", "用户", "匹配作者贴吧号，需要调用接口查询",
		lookupPriority, true, lookupAttr(func(d *tieba.UserDetail) string { return strconv.FormatInt(d.TiebaUID, 10) })))
}
