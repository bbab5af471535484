package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PatternKind enumerates the closed set of repeat patterns.
type PatternKind int

const (
	PatternNone PatternKind = iota
	PatternDaily
	PatternWeekly
	PatternMonthly
	PatternEvery
)

// Unit is the interval unit for PatternEvery.
type Unit int

const (
	UnitMinute Unit = iota
	UnitHour
	UnitDay
)

// Pattern is a parsed repeat pattern. The zero value is PatternNone.
type Pattern struct {
	Kind PatternKind
	N    int  // PatternEvery only
	Unit Unit // PatternEvery only
}

// UnknownPatternError reports a repeat pattern string the engine does not
// recognize. Registration falls back to a one-shot trigger in that case;
// the reminder is never silently dropped.
type UnknownPatternError struct {
	Raw string
}

func (e *UnknownPatternError) Error() string {
	return fmt.Sprintf("unknown repeat pattern %q", e.Raw)
}

var everyRe = regexp.MustCompile(`^every\s+(\d+)\s*(minute|hour|day)s?$`)

// ParsePattern maps a stored pattern string to its variant. Empty and
// "none" mean one-shot. Unrecognized strings return PatternNone together
// with an *UnknownPatternError so callers can log the fallback.
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return Pattern{Kind: PatternNone}, nil
	case "daily":
		return Pattern{Kind: PatternDaily}, nil
	case "weekly":
		return Pattern{Kind: PatternWeekly}, nil
	case "monthly":
		return Pattern{Kind: PatternMonthly}, nil
	}

	if m := everyRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s))); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Pattern{Kind: PatternNone}, &UnknownPatternError{Raw: s}
		}
		var u Unit
		switch m[2] {
		case "minute":
			u = UnitMinute
		case "hour":
			u = UnitHour
		case "day":
			u = UnitDay
		}
		return Pattern{Kind: PatternEvery, N: n, Unit: u}, nil
	}

	return Pattern{Kind: PatternNone}, &UnknownPatternError{Raw: s}
}

// Recurring reports whether the pattern fires more than once.
func (p Pattern) Recurring() bool { return p.Kind != PatternNone }

// CronSpec builds the cron expression for calendar-recurring patterns,
// anchored to the target time's minute/hour (and weekday or day-of-month).
// ok is false for PatternNone and PatternEvery, which are timer-driven.
func (p Pattern) CronSpec(anchor time.Time) (spec string, ok bool) {
	switch p.Kind {
	case PatternDaily:
		return fmt.Sprintf("%d %d * * *", anchor.Minute(), anchor.Hour()), true
	case PatternWeekly:
		return fmt.Sprintf("%d %d * * %d", anchor.Minute(), anchor.Hour(), int(anchor.Weekday())), true
	case PatternMonthly:
		return fmt.Sprintf("%d %d %d * *", anchor.Minute(), anchor.Hour(), anchor.Day()), true
	default:
		return "", false
	}
}

// Interval returns the fixed period for PatternEvery, 0 otherwise.
func (p Pattern) Interval() time.Duration {
	if p.Kind != PatternEvery {
		return 0
	}
	switch p.Unit {
	case UnitMinute:
		return time.Duration(p.N) * time.Minute
	case UnitHour:
		return time.Duration(p.N) * time.Hour
	case UnitDay:
		return time.Duration(p.N) * 24 * time.Hour
	}
	return 0
}

func (p Pattern) String() string {
	switch p.Kind {
	case PatternNone:
		return "none"
	case PatternDaily:
		return "daily"
	case PatternWeekly:
		return "weekly"
	case PatternMonthly:
		return "monthly"
	case PatternEvery:
		unit := [...]string{"minute", "hour", "day"}[p.Unit]
		if p.N == 1 {
			return fmt.Sprintf("every %d %s", p.N, unit)
		}
		return fmt.Sprintf("every %d %ss", p.N, unit)
	}
	return "none"
}
