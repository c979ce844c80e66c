package rules

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/webtm/webtm-go/internal/config"
)

// OptionDesc tells the frontend how to render one option field.
type OptionDesc struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Kind    string `json:"kind"` // input | number | checkbox | select
	Default any    `json:"default,omitempty"`
}

func inputDesc(key, label string) OptionDesc {
	return OptionDesc{Key: key, Label: label, Kind: "input"}
}

func numberDesc(key, label string) OptionDesc {
	return OptionDesc{Key: key, Label: label, Kind: "number"}
}

func checkboxDesc(key, label string) OptionDesc {
	return OptionDesc{Key: key, Label: label, Kind: "checkbox"}
}

// ConditionMeta registers one condition type: UI metadata, the options
// prototype its descriptors are checked against, and the constructor used
// during rule deserialization.
type ConditionMeta struct {
	Type        string
	Name        string
	Category    string
	Description string
	Series      string
	// Values maps raw keys to display names for checkbox/select series.
	Values      map[string]string
	OptionDescs []OptionDesc
	// Options is a prototype of the options struct, used only to verify
	// that OptionDescs covers its fields exactly.
	Options Options
	Build   func(cfg config.ConditionConfig) (Condition, error)
}

// OperationMeta registers one operation type.
type OperationMeta struct {
	Type        string
	Name        string
	Description string
	// NeedBawu marks operations that require an authenticated moderator
	// session to execute.
	NeedBawu    bool
	OptionDescs []OptionDesc
	Options     Options
	Build       func(cfg config.OperationConfig) (Operation, error)
}

var (
	conditionRegistry = map[string]ConditionMeta{}
	operationRegistry = map[string]OperationMeta{}
)

// RegisterCondition adds a condition type to the registry. It panics on a
// duplicate type or when the declared option descriptors do not exactly
// cover the option struct's fields; both are programming errors surfaced
// at init time.
func RegisterCondition(meta ConditionMeta) {
	if meta.Type == "" || meta.Build == nil {
		panic("rules: condition registration needs a type and a constructor")
	}
	if _, dup := conditionRegistry[meta.Type]; dup {
		panic(fmt.Sprintf("rules: condition %q registered twice", meta.Type))
	}
	if err := checkOptionDescs(meta.Options, meta.OptionDescs); err != nil {
		panic(fmt.Sprintf("rules: condition %q: %v", meta.Type, err))
	}
	conditionRegistry[meta.Type] = meta
}

// RegisterOperation adds an operation type to the registry with the same
// fail-fast checks as RegisterCondition.
func RegisterOperation(meta OperationMeta) {
	if meta.Type == "" || meta.Build == nil {
		panic("rules: operation registration needs a type and a constructor")
	}
	if _, dup := operationRegistry[meta.Type]; dup {
		panic(fmt.Sprintf("rules: operation %q registered twice", meta.Type))
	}
	if err := checkOptionDescs(meta.Options, meta.OptionDescs); err != nil {
		panic(fmt.Sprintf("rules: operation %q: %v", meta.Type, err))
	}
	operationRegistry[meta.Type] = meta
}

// checkOptionDescs verifies that descs and the json-tagged fields of the
// options prototype name the same key set.
func checkOptionDescs(proto Options, descs []OptionDesc) error {
	fields := optionFields(proto)
	declared := make(map[string]bool, len(descs))
	for _, d := range descs {
		if declared[d.Key] {
			return fmt.Errorf("option desc %q declared twice", d.Key)
		}
		declared[d.Key] = true
	}
	for f := range fields {
		if !declared[f] {
			return fmt.Errorf("option field %q has no descriptor", f)
		}
	}
	for d := range declared {
		if !fields[d] {
			return fmt.Errorf("descriptor %q names no option field", d)
		}
	}
	return nil
}

func optionFields(proto Options) map[string]bool {
	fields := map[string]bool{}
	if proto == nil {
		return fields
	}
	t := reflect.TypeOf(proto)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		fields[tag] = true
	}
	return fields
}

// BuildCondition instantiates one condition from its serialized form.
func BuildCondition(cfg config.ConditionConfig) (Condition, error) {
	meta, ok := conditionRegistry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown condition type %q", cfg.Type)
	}
	return meta.Build(cfg)
}

// BuildOperation instantiates one operation from its serialized form.
func BuildOperation(cfg config.OperationConfig) (Operation, error) {
	meta, ok := operationRegistry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown operation type %q", cfg.Type)
	}
	return meta.Build(cfg)
}

// ConditionInfo is the serializable registry view served to the frontend.
type ConditionInfo struct {
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Series      string            `json:"series"`
	Values      map[string]string `json:"values,omitempty"`
	OptionDescs []OptionDesc      `json:"option_descs"`
}

// OperationInfo is the serializable operation registry view.
type OperationInfo struct {
	Type        string       `json:"type"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	NeedBawu    bool         `json:"need_bawu"`
	OptionDescs []OptionDesc `json:"option_descs"`
}

// ConditionInfos lists all registered condition types sorted by type tag.
func ConditionInfos() []ConditionInfo {
	out := make([]ConditionInfo, 0, len(conditionRegistry))
	for _, meta := range conditionRegistry {
		out = append(out, ConditionInfo{
			Type:        meta.Type,
			Name:        meta.Name,
			Category:    meta.Category,
			Description: meta.Description,
			Series:      meta.Series,
			Values:      meta.Values,
			OptionDescs: meta.OptionDescs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// OperationInfos lists all registered operation types sorted by type tag.
func OperationInfos() []OperationInfo {
	out := make([]OperationInfo, 0, len(operationRegistry))
	for _, meta := range operationRegistry {
		out = append(out, OperationInfo{
			Type:        meta.Type,
			Name:        meta.Name,
			Description: meta.Description,
			NeedBawu:    meta.NeedBawu,
			OptionDescs: meta.OptionDescs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
