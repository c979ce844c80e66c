package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/webtm/webtm-go/internal/config"
	"github.com/webtm/webtm-go/internal/metrics"
	"github.com/webtm/webtm-go/internal/models"
)

// Operation is one instantiated moderation action inside a rule.
type Operation interface {
	Type() string
	// Direct operations run immediately even when the rule is in
	// manual-confirm mode, before the confirmation is issued.
	Direct() bool
	// NeedBawu reports whether execution requires an authenticated
	// moderator session.
	NeedBawu() bool
	// StoreData snapshots facts the operation will need at execution time
	// into obj.Data. Called at confirm-enqueue time so a later approval
	// does not repeat expensive lookups.
	StoreData(ctx context.Context, obj *ProcessObject) error
	Execute(ctx context.Context, obj *ProcessObject, mod Moderator) error
	Config() config.OperationConfig
}

type operationBase struct {
	typ    string
	direct bool
	cfg    config.OperationConfig
}

func (o *operationBase) Type() string { return o.typ }
func (o *operationBase) Direct() bool { return o.direct }
func (o *operationBase) Config() config.OperationConfig {
	return o.cfg
}

func (o *operationBase) StoreData(context.Context, *ProcessObject) error { return nil }

type ignoreOperation struct {
	operationBase
}

func (o *ignoreOperation) NeedBawu() bool { return false }

func (o *ignoreOperation) Execute(context.Context, *ProcessObject, Moderator) error { return nil }

// DeleteOptions tunes the delete operation.
type DeleteOptions struct {
	// DeleteThreadIfAuthor escalates to deleting the whole thread when the
	// processed content's author is also the thread's opening poster.
	DeleteThreadIfAuthor bool `json:"delete_thread_if_author"`
}

func (o *DeleteOptions) Valid() bool { return true }

type deleteOperation struct {
	operationBase
	opts *DeleteOptions
}

func (o *deleteOperation) NeedBawu() bool { return true }

func (o *deleteOperation) StoreData(ctx context.Context, obj *ProcessObject) error {
	return storeThreadAuthor(ctx, obj)
}

func (o *deleteOperation) Execute(ctx context.Context, obj *ProcessObject, mod Moderator) error {
	if o.opts.DeleteThreadIfAuthor && obj.Content.Type() != models.TypeThread {
		if resolveThreadAuthor(ctx, obj) {
			base := obj.Content.Base()
			return mod.DeleteThread(ctx, base.Fname, base.Tid)
		}
	}
	return mod.Delete(ctx, obj.Content)
}

type authorDeleteOperation struct {
	operationBase
}

func (o *authorDeleteOperation) NeedBawu() bool { return true }

func (o *authorDeleteOperation) StoreData(ctx context.Context, obj *ProcessObject) error {
	return storeThreadAuthor(ctx, obj)
}

// Execute deletes the whole thread when the content's author opened it and
// does nothing otherwise.
func (o *authorDeleteOperation) Execute(ctx context.Context, obj *ProcessObject, mod Moderator) error {
	if !resolveThreadAuthor(ctx, obj) {
		log.Debug().Int64("pid", obj.Content.Base().Pid).Msg("author_delete: author is not the thread op, skipping")
		return nil
	}
	base := obj.Content.Base()
	return mod.DeleteThread(ctx, base.Fname, base.Tid)
}

// storeThreadAuthor snapshots whether the content's author opened the
// thread. The fact doubles as display context for the confirm dialog, so it
// is stored even when the option that consumes it is off.
func storeThreadAuthor(ctx context.Context, obj *ProcessObject) error {
	if _, ok := obj.Data["is_thread_author"]; ok {
		return nil
	}
	if obj.Info == nil {
		return fmt.Errorf("no info provider attached")
	}
	isAuthor, err := obj.Info.IsThreadAuthor(ctx, obj.Content)
	if err != nil {
		return fmt.Errorf("resolve thread author: %w", err)
	}
	obj.Data["is_thread_author"] = isAuthor
	return nil
}

// resolveThreadAuthor prefers the snapshotted fact and falls back to a live
// lookup. Lookup failures degrade to false so a reply-level action still
// happens instead of nothing.
func resolveThreadAuthor(ctx context.Context, obj *ProcessObject) bool {
	if v, ok := obj.Data["is_thread_author"].(bool); ok {
		return v
	}
	if obj.Info == nil {
		return false
	}
	isAuthor, err := obj.Info.IsThreadAuthor(ctx, obj.Content)
	if err != nil {
		log.Warn().Err(err).Int64("pid", obj.Content.Base().Pid).Msg("thread author lookup failed")
		return false
	}
	return isAuthor
}

// BlockOptions tunes the block operation. Unset fields fall back to the
// forum defaults.
type BlockOptions struct {
	Day    *int   `json:"day"`
	Reason string `json:"reason"`
}

func (o *BlockOptions) Valid() bool { return true }

type blockOperation struct {
	operationBase
	opts *BlockOptions
}

func (o *blockOperation) NeedBawu() bool { return true }

func (o *blockOperation) Execute(ctx context.Context, obj *ProcessObject, mod Moderator) error {
	day := 1
	reason := ""
	if obj.Forum != nil {
		day = obj.Forum.BlockDay
		reason = obj.Forum.BlockReason
	}
	if o.opts.Day != nil {
		day = *o.opts.Day
	}
	if o.opts.Reason != "" {
		reason = o.opts.Reason
	}
	base := obj.Content.Base()
	return mod.Block(ctx, base.Fname, base.Author.UserID, day, reason)
}

func init() {
	RegisterOperation(OperationMeta{
		Type:        "ignore",
		Name:        "忽略",
		Description: "不做任何处理",
		Build: func(cfg config.OperationConfig) (Operation, error) {
			return &ignoreOperation{operationBase{typ: cfg.Type, direct: cfg.Direct, cfg: cfg}}, nil
		},
	})

	RegisterOperation(OperationMeta{
		Type:        "delete",
		Name:        "删帖",
		Description: "删除帖子，可选连带删除作者的主题帖",
		NeedBawu:    true,
		Options:     &DeleteOptions{},
		OptionDescs: []OptionDesc{
			checkboxDesc("delete_thread_if_author", "作者是楼主时删除整个主题帖"),
		},
		Build: func(cfg config.OperationConfig) (Operation, error) {
			opts := &DeleteOptions{}
			if err := decodeOptions(cfg.Options, opts); err != nil {
				return nil, err
			}
			return &deleteOperation{
				operationBase: operationBase{typ: cfg.Type, direct: cfg.Direct, cfg: cfg},
				opts:          opts,
			}, nil
		},
	})

	RegisterOperation(OperationMeta{
		Type:        "author_delete",
		Name:        "删主题帖",
		Description: "作者是楼主时删除整个主题帖，否则跳过",
		NeedBawu:    true,
		Build: func(cfg config.OperationConfig) (Operation, error) {
			return &authorDeleteOperation{operationBase{typ: cfg.Type, direct: cfg.Direct, cfg: cfg}}, nil
		},
	})

	RegisterOperation(OperationMeta{
		Type:        "block",
		Name:        "封禁",
		Description: "封禁作者，天数与理由默认取吧配置",
		NeedBawu:    true,
		Options:     &BlockOptions{},
		OptionDescs: []OptionDesc{
			numberDesc("day", "封禁天数"),
			inputDesc("reason", "封禁理由"),
		},
		Build: func(cfg config.OperationConfig) (Operation, error) {
			opts := &BlockOptions{}
			if err := decodeOptions(cfg.Options, opts); err != nil {
				return nil, err
			}
			return &blockOperation{
				operationBase: operationBase{typ: cfg.Type, direct: cfg.Direct, cfg: cfg},
				opts:          opts,
			}, nil
		},
	})
}

// OperationGroup is an ordered set of operations, either resolved from a
// shorthand token or built from an explicit list.
type OperationGroup struct {
	shorthand string
	ops       []Operation
}

// BuildOperations instantiates a group from its serialized form.
func BuildOperations(spec config.OperationSpec) (*OperationGroup, error) {
	if spec.IsShorthand() {
		ops, err := shorthandOps(spec.Shorthand)
		if err != nil {
			return nil, err
		}
		return &OperationGroup{shorthand: spec.Shorthand, ops: ops}, nil
	}
	ops := make([]Operation, 0, len(spec.List))
	for _, cfg := range spec.List {
		op, err := BuildOperation(cfg)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return &OperationGroup{ops: ops}, nil
}

func shorthandOps(token string) ([]Operation, error) {
	build := func(typ string) Operation {
		op, err := BuildOperation(config.OperationConfig{Type: typ})
		if err != nil {
			panic(fmt.Sprintf("rules: built-in operation %q missing: %v", typ, err))
		}
		return op
	}
	switch token {
	case config.OpIgnore:
		return nil, nil
	case config.OpDelete:
		return []Operation{build("delete")}, nil
	case config.OpBlock:
		return []Operation{build("block")}, nil
	case config.OpDeleteAndBlock:
		return []Operation{build("delete"), build("block")}, nil
	default:
		return nil, fmt.Errorf("unknown operation token %q", token)
	}
}

// IsShorthand reports whether the group came from a shorthand token.
func (g *OperationGroup) IsShorthand() bool { return g.shorthand != "" }

// Empty reports whether executing the group would do nothing.
func (g *OperationGroup) Empty() bool { return len(g.ops) == 0 }

// NeedBawu reports whether any operation in the group requires an
// authenticated moderator session.
func (g *OperationGroup) NeedBawu() bool {
	for _, op := range g.ops {
		if op.NeedBawu() {
			return true
		}
	}
	return false
}

// Direct returns the subset flagged to run before confirmation, or nil when
// there is none. Shorthand groups have no direct subset.
func (g *OperationGroup) Direct() *OperationGroup {
	if g.IsShorthand() {
		return nil
	}
	var ops []Operation
	for _, op := range g.ops {
		if op.Direct() {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil
	}
	return &OperationGroup{ops: ops}
}

// NonDirect returns the subset awaiting confirmation. A shorthand group is
// returned whole.
func (g *OperationGroup) NonDirect() *OperationGroup {
	if g.IsShorthand() {
		return g
	}
	var ops []Operation
	for _, op := range g.ops {
		if !op.Direct() {
			ops = append(ops, op)
		}
	}
	return &OperationGroup{ops: ops}
}

// StoreData runs every operation's fact snapshot. Individual failures are
// logged and joined; the group is still usable with a partial facts bag
// because execution falls back to live lookups.
func (g *OperationGroup) StoreData(ctx context.Context, obj *ProcessObject) error {
	var errs []error
	for _, op := range g.ops {
		if err := op.StoreData(ctx, obj); err != nil {
			log.Warn().Err(err).Str("op", op.Type()).
				Int64("pid", obj.Content.Base().Pid).Msg("store_data failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Execute runs every operation in order. A failing operation does not stop
// the ones after it; all failures are joined into the returned error.
func (g *OperationGroup) Execute(ctx context.Context, obj *ProcessObject, mod Moderator) error {
	var errs []error
	for _, op := range g.ops {
		err := op.Execute(ctx, obj, mod)
		metrics.RecordOperation(op.Type(), err)
		if err != nil {
			log.Warn().Err(err).Str("op", op.Type()).
				Int64("pid", obj.Content.Base().Pid).Msg("operation failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Serialize returns the wire form for persistence inside a ConfirmData.
func (g *OperationGroup) Serialize() config.OperationSpec {
	if g.IsShorthand() {
		return config.OperationSpec{Shorthand: g.shorthand}
	}
	list := make([]config.OperationConfig, 0, len(g.ops))
	for _, op := range g.ops {
		list = append(list, op.Config())
	}
	return config.OperationSpec{List: list}
}
