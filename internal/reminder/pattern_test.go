package reminder

import (
	"errors"
	"testing"
	"time"
)

func TestParsePatternVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Pattern
	}{
		{raw: "", want: Pattern{Kind: PatternNone}},
		{raw: "none", want: Pattern{Kind: PatternNone}},
		{raw: "daily", want: Pattern{Kind: PatternDaily}},
		{raw: " Weekly ", want: Pattern{Kind: PatternWeekly}},
		{raw: "monthly", want: Pattern{Kind: PatternMonthly}},
		{raw: "every 30 minutes", want: Pattern{Kind: PatternEvery, N: 30, Unit: UnitMinute}},
		{raw: "every 2 hours", want: Pattern{Kind: PatternEvery, N: 2, Unit: UnitHour}},
		{raw: "every 1 day", want: Pattern{Kind: PatternEvery, N: 1, Unit: UnitDay}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePattern(tt.raw)
			if err != nil {
				t.Fatalf("ParsePattern(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParsePattern(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParsePatternUnknownFallsBackToOneShot(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"fortnightly", "every blue moon", "every 0 hours", "yearly"} {
		got, err := ParsePattern(raw)
		if err == nil {
			t.Fatalf("ParsePattern(%q): expected error", raw)
		}
		var ue *UnknownPatternError
		if !errors.As(err, &ue) {
			t.Fatalf("ParsePattern(%q): error type %T, want *UnknownPatternError", raw, err)
		}
		if got.Kind != PatternNone {
			t.Fatalf("ParsePattern(%q) kind = %v, want fallback PatternNone", raw, got.Kind)
		}
	}
}

func TestPatternCronSpec(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2025, 3, 12, 8, 30, 0, 0, time.Local) // a Wednesday

	tests := []struct {
		p    Pattern
		spec string
	}{
		{p: Pattern{Kind: PatternDaily}, spec: "30 8 * * *"},
		{p: Pattern{Kind: PatternWeekly}, spec: "30 8 * * 3"},
		{p: Pattern{Kind: PatternMonthly}, spec: "30 8 12 * *"},
	}
	for _, tt := range tests {
		spec, ok := tt.p.CronSpec(anchor)
		if !ok {
			t.Fatalf("%v: expected cron spec", tt.p)
		}
		if spec != tt.spec {
			t.Fatalf("%v spec = %q, want %q", tt.p, spec, tt.spec)
		}
	}

	if _, ok := (Pattern{Kind: PatternNone}).CronSpec(anchor); ok {
		t.Fatal("PatternNone should not produce a cron spec")
	}
	if _, ok := (Pattern{Kind: PatternEvery, N: 5, Unit: UnitMinute}).CronSpec(anchor); ok {
		t.Fatal("PatternEvery should not produce a cron spec")
	}
}

func TestPatternInterval(t *testing.T) {
	t.Parallel()
	if d := (Pattern{Kind: PatternEvery, N: 90, Unit: UnitMinute}).Interval(); d != 90*time.Minute {
		t.Fatalf("interval = %v, want 90m", d)
	}
	if d := (Pattern{Kind: PatternEvery, N: 2, Unit: UnitDay}).Interval(); d != 48*time.Hour {
		t.Fatalf("interval = %v, want 48h", d)
	}
	if d := (Pattern{Kind: PatternDaily}).Interval(); d != 0 {
		t.Fatalf("interval = %v, want 0 for calendar patterns", d)
	}
}

func TestPatternStringRoundTrip(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"daily", "weekly", "monthly", "every 2 hours", "every 1 minute"} {
		p, err := ParsePattern(raw)
		if err != nil {
			t.Fatalf("ParsePattern(%q) error: %v", raw, err)
		}
		again, err := ParsePattern(p.String())
		if err != nil {
			t.Fatalf("ParsePattern(%q) error: %v", p.String(), err)
		}
		if again != p {
			t.Fatalf("round trip %q -> %q -> %+v, want %+v", raw, p.String(), again, p)
		}
	}
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

	future := now.Add(30 * time.Minute)
	if got := nextOccurrence(future, time.Hour, now); !got.Equal(future) {
		t.Fatalf("future anchor should be returned as-is, got %v", got)
	}

	past := now.Add(-150 * time.Minute)
	want := past.Add(3 * time.Hour) // first multiple of 1h after now
	if got := nextOccurrence(past, time.Hour, now); !got.Equal(want) {
		t.Fatalf("nextOccurrence = %v, want %v", got, want)
	}
}
