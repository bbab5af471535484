// Package timeparse resolves free-form time expressions into absolute
// timestamps. Resolution is a pure function of (expression, now) and uses
// naive local wall-clock time throughout.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ResolutionError reports an expression that could not be resolved.
// Fallback policy (e.g. defaulting to now+1h) belongs to the caller.
type ResolutionError struct {
	Input string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve time expression %q", e.Input)
}

var (
	clockRe    = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(am|pm)`)
	clock24Re  = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	relativeRe = regexp.MustCompile(`in (\d+)\s*(minute|hour|day)s?`)
)

// Literal layouts are tried in order; all parse in the local location with
// no rollover.
var literalLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Resolve maps expr to an absolute timestamp.
//
// Supported forms:
//   - "HH:MM(am|pm)" or "HHam": today at that time; rolls forward one day
//     if that moment has already passed
//   - "today [at] <clock>": same roll-forward rule; bare "today" is now+1h
//   - "tomorrow [at] <clock>": tomorrow at that time, 09:00 when omitted
//   - "in N minutes|hours|days": now + N*unit
//   - "YYYY-MM-DD HH:MM[:SS]" (space or T separator): literal, no rollover
func Resolve(expr string, now time.Time) (time.Time, error) {
	raw := expr
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return time.Time{}, &ResolutionError{Input: raw}
	}

	for _, layout := range literalLayouts {
		if t, err := time.ParseInLocation(layout, strings.ToUpper(expr), time.Local); err == nil {
			return t, nil
		}
	}

	if m := relativeRe.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, &ResolutionError{Input: m[1]}
		}
		switch m[2] {
		case "minute":
			return now.Add(time.Duration(n) * time.Minute), nil
		case "hour":
			return now.Add(time.Duration(n) * time.Hour), nil
		case "day":
			return now.AddDate(0, 0, n), nil
		}
	}

	if strings.Contains(expr, "tomorrow") {
		h, min, ok := findClock(expr)
		if !ok {
			// bare "tomorrow" defaults to 09:00
			h, min = 9, 0
		}
		d := now.AddDate(0, 0, 1)
		return atClock(d, h, min), nil
	}

	if strings.Contains(expr, "today") {
		h, min, ok := findClock(expr)
		if !ok {
			// bare "today" means soon, not midnight
			return now.Add(time.Hour), nil
		}
		return rollForward(atClock(now, h, min), now), nil
	}

	if h, min, ok := findClock(expr); ok {
		return rollForward(atClock(now, h, min), now), nil
	}

	return time.Time{}, &ResolutionError{Input: raw}
}

// findClock extracts a clock time from expr, accepting "2:30pm", "2pm" and
// a bare 24-hour "14:30".
func findClock(expr string) (hour, minute int, ok bool) {
	if m := clockRe.FindStringSubmatch(expr); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		min := 0
		if m[2] != "" {
			min, _ = strconv.Atoi(m[2])
			if min > 59 {
				return 0, 0, false
			}
		}
		if m[3] == "pm" && h != 12 {
			h += 12
		}
		if m[3] == "am" && h == 12 {
			h = 0
		}
		return h, min, true
	}
	fields := strings.Fields(expr)
	for _, f := range fields {
		if m := clock24Re.FindStringSubmatch(f); m != nil {
			h, _ := strconv.Atoi(m[1])
			min, _ := strconv.Atoi(m[2])
			if h > 23 || min > 59 {
				return 0, 0, false
			}
			return h, min, true
		}
	}
	return 0, 0, false
}

func atClock(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// rollForward pushes t one day ahead when the moment has already passed.
func rollForward(t, now time.Time) time.Time {
	if !t.After(now) {
		return t.AddDate(0, 0, 1)
	}
	return t
}
