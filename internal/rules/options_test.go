package rules

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTextOptions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		value   string
		want    bool
		invalid bool
	}{
		{name: "substring hit", raw: `{"text":"spam"}`, value: "buy spam here", want: true},
		{name: "substring miss", raw: `{"text":"spam"}`, value: "all organic", want: false},
		{name: "case sensitive by default", raw: `{"text":"Spam"}`, value: "buy spam here", want: false},
		{name: "ignore case substring", raw: `{"text":"SPAM","ignore_case":true}`, value: "buy Spam here", want: true},
		{name: "empty value never matches", raw: `{"text":"spam"}`, value: "", want: false},
		{name: "regex search", raw: `{"text":"sp.m","is_regex":true}`, value: "xx spum xx", want: true},
		{name: "regex ignore case", raw: `{"text":"^SPAM","is_regex":true,"ignore_case":true}`, value: "spam head", want: true},
		{name: "regex anchored miss", raw: `{"text":"^spam","is_regex":true}`, value: "x spam", want: false},
		{name: "wildcard hit", raw: `{"text":"buy*now","is_wildcard":true}`, value: "buy cheap gold now", want: true},
		{name: "wildcard must cover whole value", raw: `{"text":"buy*","is_wildcard":true}`, value: "please buy gold", want: false},
		{name: "wildcard single char", raw: `{"text":"sp?m","is_wildcard":true}`, value: "spam", want: true},
		{name: "wildcard ignore case", raw: `{"text":"BUY*","is_wildcard":true,"ignore_case":true}`, value: "buy gold", want: true},
		{name: "empty text invalid", raw: `{"text":""}`, invalid: true},
		{name: "no options invalid", raw: ``, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := newTextOptions(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("newTextOptions: %v", err)
			}
			if opts.Valid() == tt.invalid {
				t.Fatalf("Valid() = %v, want %v", opts.Valid(), !tt.invalid)
			}
			if tt.invalid {
				return
			}
			if got := opts.Match(tt.value); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestTextOptionsBadRegex(t *testing.T) {
	if _, err := newTextOptions(json.RawMessage(`{"text":"[","is_regex":true}`)); err == nil {
		t.Fatal("expected error for unclosed character class")
	}
}

func TestLimiterOptions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		value   float64
		want    bool
		invalid bool
	}{
		{name: "within range", raw: `{"min":2,"max":5}`, value: 3, want: true},
		{name: "below min", raw: `{"min":2,"max":5}`, value: 1, want: false},
		{name: "above max", raw: `{"min":2,"max":5}`, value: 6, want: false},
		{name: "bounds inclusive", raw: `{"min":2,"max":5}`, value: 5, want: true},
		{name: "min only", raw: `{"min":7}`, value: 100, want: true},
		{name: "max only", raw: `{"max":7}`, value: 100, want: false},
		{name: "eq pins both bounds", raw: `{"eq":4}`, value: 4, want: true},
		{name: "eq rejects neighbours", raw: `{"eq":4}`, value: 5, want: false},
		{name: "inverted bounds invalid", raw: `{"min":9,"max":2}`, invalid: true},
		{name: "no bounds invalid", raw: `{}`, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := newLimiterOptions(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("newLimiterOptions: %v", err)
			}
			if opts.Valid() == tt.invalid {
				t.Fatalf("Valid() = %v, want %v", opts.Valid(), !tt.invalid)
			}
			if tt.invalid {
				return
			}
			if got := opts.Match(tt.value); got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestTimeOptions(t *testing.T) {
	parse := func(s string) int64 {
		ts, err := time.ParseInLocation(TimeLayout, s, time.Local)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		return ts.Unix()
	}

	opts, err := newTimeOptions(json.RawMessage(`{"start":"2024-01-01 00:00:00","end":"2024-01-31 23:59:59"}`))
	if err != nil {
		t.Fatalf("newTimeOptions: %v", err)
	}
	if !opts.Valid() {
		t.Fatal("window with both bounds should be valid")
	}
	if !opts.Match(parse("2024-01-15 12:00:00")) {
		t.Error("timestamp inside window should match")
	}
	if opts.Match(parse("2023-12-31 23:59:59")) {
		t.Error("timestamp before start should not match")
	}
	if opts.Match(parse("2024-02-01 00:00:00")) {
		t.Error("timestamp after end should not match")
	}

	startOnly, err := newTimeOptions(json.RawMessage(`{"start":"2024-01-01 00:00:00"}`))
	if err != nil {
		t.Fatalf("newTimeOptions: %v", err)
	}
	if !startOnly.Valid() || !startOnly.Match(parse("2030-06-01 00:00:00")) {
		t.Error("open-ended window should accept any later timestamp")
	}

	empty, err := newTimeOptions(json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("newTimeOptions: %v", err)
	}
	if empty.Valid() {
		t.Error("window without bounds should be invalid")
	}

	if _, err := newTimeOptions(json.RawMessage(`{"start":"01/02/2024"}`)); err == nil {
		t.Error("expected error for wrong time format")
	}
}

func TestCheckBoxOptions(t *testing.T) {
	opts, err := newCheckBoxOptions(json.RawMessage(`{"values":["thread","post"]}`))
	if err != nil {
		t.Fatalf("newCheckBoxOptions: %v", err)
	}
	if !opts.Valid() {
		t.Fatal("non-empty set should be valid")
	}
	if !opts.Match("thread") || !opts.Match("post") {
		t.Error("listed values should match")
	}
	if opts.Match("comment") {
		t.Error("unlisted value should not match")
	}

	empty, err := newCheckBoxOptions(json.RawMessage(`{"values":[]}`))
	if err != nil {
		t.Fatalf("newCheckBoxOptions: %v", err)
	}
	if empty.Valid() {
		t.Error("empty set should be invalid")
	}
}

func TestSelectOptions(t *testing.T) {
	opts, err := newSelectOptions(json.RawMessage(`{"value":"thread"}`))
	if err != nil {
		t.Fatalf("newSelectOptions: %v", err)
	}
	if !opts.Valid() {
		t.Fatal("set value should be valid")
	}
	if !opts.Match("thread") || opts.Match("post") {
		t.Error("select should match only its own value")
	}

	unset, err := newSelectOptions(nil)
	if err != nil {
		t.Fatalf("newSelectOptions: %v", err)
	}
	if unset.Valid() {
		t.Error("unset value should be invalid")
	}
}
