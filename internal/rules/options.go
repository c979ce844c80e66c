package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
)

// TimeLayout is the wall-clock format accepted by time-window options.
const TimeLayout = "2006-01-02 15:04:05"

// Options is the validated per-condition option record. Valid reports
// whether the options describe an effective check; conditions with invalid
// options are skipped at group build time.
type Options interface {
	Valid() bool
}

func decodeOptions(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

// TextOptions matches a string attribute by substring, wildcard pattern
// (* and ?) or regular expression. Regex wins when both flags are set.
// The pattern is compiled once at load time.
type TextOptions struct {
	Text       string `json:"text"`
	IsRegex    bool   `json:"is_regex"`
	IsWildcard bool   `json:"is_wildcard"`
	IgnoreCase bool   `json:"ignore_case"`

	re      *regexp.Regexp
	lowered string
}

func newTextOptions(raw json.RawMessage) (*TextOptions, error) {
	o := &TextOptions{}
	if err := decodeOptions(raw, o); err != nil {
		return nil, err
	}
	if o.IsRegex && o.Text != "" {
		expr := o.Text
		if o.IgnoreCase {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("bad text pattern %q: %w", o.Text, err)
		}
		o.re = re
	} else if o.IgnoreCase {
		o.lowered = strings.ToLower(o.Text)
	}
	return o, nil
}

func (o *TextOptions) Valid() bool { return o.Text != "" }

// Match reports whether value satisfies the option. An empty value never
// matches.
func (o *TextOptions) Match(value string) bool {
	if value == "" {
		return false
	}
	if o.IsRegex {
		return o.re.MatchString(value)
	}
	if o.IsWildcard {
		if o.IgnoreCase {
			return wildcard.Match(o.lowered, strings.ToLower(value))
		}
		return wildcard.Match(o.Text, value)
	}
	if o.IgnoreCase {
		return strings.Contains(strings.ToLower(value), o.lowered)
	}
	return strings.Contains(value, o.Text)
}

// LimiterOptions bounds a numeric attribute. Eq pins both bounds to the
// same value.
type LimiterOptions struct {
	Max *float64 `json:"max"`
	Min *float64 `json:"min"`
	Eq  *float64 `json:"eq"`
}

func newLimiterOptions(raw json.RawMessage) (*LimiterOptions, error) {
	o := &LimiterOptions{}
	if err := decodeOptions(raw, o); err != nil {
		return nil, err
	}
	if o.Eq != nil {
		eq := *o.Eq
		o.Max = &eq
		o.Min = &eq
	}
	return o, nil
}

func (o *LimiterOptions) Valid() bool {
	if o.Max != nil {
		if o.Min == nil {
			return true
		}
		return *o.Max >= *o.Min
	}
	return o.Min != nil
}

func (o *LimiterOptions) Match(value float64) bool {
	if o.Max != nil && value > *o.Max {
		return false
	}
	if o.Min != nil && value < *o.Min {
		return false
	}
	return true
}

// TimeOptions bounds a unix-timestamp attribute with an inclusive wall-clock
// window. Bounds are parsed in the process's local zone, matching how the
// operator writes them.
type TimeOptions struct {
	Start string `json:"start"`
	End   string `json:"end"`

	startTS  int64
	endTS    int64
	hasStart bool
	hasEnd   bool
}

func newTimeOptions(raw json.RawMessage) (*TimeOptions, error) {
	o := &TimeOptions{}
	if err := decodeOptions(raw, o); err != nil {
		return nil, err
	}
	if o.Start != "" {
		t, err := time.ParseInLocation(TimeLayout, o.Start, time.Local)
		if err != nil {
			return nil, fmt.Errorf("bad time window start %q: %w", o.Start, err)
		}
		o.startTS = t.Unix()
		o.hasStart = true
	}
	if o.End != "" {
		t, err := time.ParseInLocation(TimeLayout, o.End, time.Local)
		if err != nil {
			return nil, fmt.Errorf("bad time window end %q: %w", o.End, err)
		}
		o.endTS = t.Unix()
		o.hasEnd = true
	}
	return o, nil
}

func (o *TimeOptions) Valid() bool { return o.hasStart || o.hasEnd }

func (o *TimeOptions) Match(ts int64) bool {
	if o.hasEnd && ts > o.endTS {
		return false
	}
	if o.hasStart && ts < o.startTS {
		return false
	}
	return true
}

// CheckBoxOptions tests membership in a finite set of values.
type CheckBoxOptions struct {
	Values []string `json:"values"`

	set map[string]struct{}
}

func newCheckBoxOptions(raw json.RawMessage) (*CheckBoxOptions, error) {
	o := &CheckBoxOptions{}
	if err := decodeOptions(raw, o); err != nil {
		return nil, err
	}
	o.set = make(map[string]struct{}, len(o.Values))
	for _, v := range o.Values {
		o.set[v] = struct{}{}
	}
	return o, nil
}

func (o *CheckBoxOptions) Valid() bool { return len(o.Values) > 0 }

func (o *CheckBoxOptions) Match(value string) bool {
	_, ok := o.set[value]
	return ok
}

// SelectOptions tests equality with a single value.
type SelectOptions struct {
	Value string `json:"value"`
}

func newSelectOptions(raw json.RawMessage) (*SelectOptions, error) {
	o := &SelectOptions{}
	if err := decodeOptions(raw, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *SelectOptions) Valid() bool { return o.Value != "" }

func (o *SelectOptions) Match(value string) bool { return value == o.Value }
