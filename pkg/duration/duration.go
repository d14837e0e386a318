// Package duration parses and formats durations with the calendar units
// retention windows are written in: days (24 hours) and weeks (7 days),
// on top of Go's standard time.ParseDuration syntax.
//
// Calendar units may be short or spelled out, with optional whitespace
// before the unit: "30d", "30 days", "2w", and "2 weeks" all parse.
// Standard units also accept word forms ("3 hours", "15 mins").
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// calendarHours maps the calendar units onto hours, the largest unit
// time.ParseDuration accepts.
var calendarHours = map[string]int64{
	"w":     7 * 24,
	"wk":    7 * 24,
	"wks":   7 * 24,
	"week":  7 * 24,
	"weeks": 7 * 24,

	"d":    24,
	"day":  24,
	"days": 24,
}

// wordUnits rewrites spelled-out standard units into the short forms
// time.ParseDuration understands.
var wordUnits = map[string]string{
	"hour":  "h",
	"hours": "h",
	"hr":    "h",
	"hrs":   "h",

	"minute":  "m",
	"minutes": "m",
	"min":     "m",
	"mins":    "m",

	"second":  "s",
	"seconds": "s",
	"sec":     "s",
	"secs":    "s",
}

var (
	calendarPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)
	wordPattern     = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?)`)
)

// Parse parses a human-readable duration string. It accepts everything
// time.ParseDuration does, plus days (d) and weeks (w) in short or word
// form, case-insensitive, with optional whitespace before units.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	// Fold the calendar units into an hour total.
	var totalHours int64
	remaining := calendarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := calendarPattern.FindStringSubmatch(match)
		if len(parts) == 3 {
			value, _ := strconv.ParseInt(parts[1], 10, 64)
			if mult, ok := calendarHours[strings.ToLower(parts[2])]; ok {
				totalHours += value * mult
			}
		}
		return ""
	})

	// Rewrite word-form standard units to their short forms.
	remaining = wordPattern.ReplaceAllStringFunc(remaining, func(match string) string {
		parts := wordPattern.FindStringSubmatch(match)
		if len(parts) == 3 {
			if short, ok := wordUnits[strings.ToLower(parts[2])]; ok {
				return parts[1] + short
			}
		}
		return match
	})

	// time.ParseDuration rejects whitespace between components.
	remaining = strings.Join(strings.Fields(strings.TrimSpace(remaining)), "")

	var composed string
	if totalHours > 0 {
		composed = fmt.Sprintf("%dh", totalHours)
	}
	composed += remaining
	if composed == "" {
		composed = "0s"
	}

	d, err := time.ParseDuration(composed)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// Format renders the duration largest unit first, omitting zero
// components: 36h becomes "1d12h", 9 days become "1w2d".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, step := range []struct {
		unit   time.Duration
		suffix string
	}{
		{Week, "w"},
		{Day, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
		{time.Microsecond, "µs"},
	} {
		if n := d / step.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, step.suffix)
			d -= n * step.unit
		}
	}
	if d > 0 {
		fmt.Fprintf(&b, "%dns", d)
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
