// Package schedule computes strategy trigger times from their schedule
// expressions. It deliberately supports only interval shorthands, not
// full calendar cron: callers re-derive the next run from the canonical
// expression on every call instead of compounding previous results.
package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"autopilot/internal/models"
)

// DefaultInterval is applied when an expression is empty or unrecognized.
const DefaultInterval = 24 * time.Hour

var intervalRe = regexp.MustCompile(`^every\s+(\d+)\s+(minute|hour|day)s?$`)

// Interval parses "every N minutes|hours|days" into a duration. The
// second return is false when the expression was not recognized and the
// default was used.
func Interval(expr string) (time.Duration, bool) {
	m := intervalRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(expr)))
	if m == nil {
		return DefaultInterval, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultInterval, false
	}
	switch m[2] {
	case "minute":
		return time.Duration(n) * time.Minute, true
	case "hour":
		return time.Duration(n) * time.Hour, true
	case "day":
		return time.Duration(n) * 24 * time.Hour, true
	}
	return DefaultInterval, false
}

// NextRun returns the next trigger timestamp strictly after now.
func NextRun(expr string, now time.Time) time.Time {
	return NextRunWithOptions(expr, models.ScheduleOptions{}, now)
}

// NextRunWithOptions additionally honors the advisory calendar hints for
// daily and longer cadences: execution hour (UTC), day-of-week
// (0=Sunday), day-of-month. Hints are ignored for sub-daily intervals.
func NextRunWithOptions(expr string, opts models.ScheduleOptions, now time.Time) time.Time {
	now = now.UTC()
	interval, _ := Interval(expr)
	next := now.Add(interval)

	if interval < 24*time.Hour {
		return next
	}

	if opts.ExecutionHourUTC != nil {
		hour := *opts.ExecutionHourUTC
		if hour >= 0 && hour <= 23 {
			next = time.Date(next.Year(), next.Month(), next.Day(), hour, 0, 0, 0, time.UTC)
		}
	}
	if opts.DayOfWeek != nil {
		want := *opts.DayOfWeek
		if want >= 0 && want <= 6 {
			for next.Weekday() != time.Weekday(want) {
				next = next.Add(24 * time.Hour)
			}
		}
	} else if opts.DayOfMonth != nil {
		want := *opts.DayOfMonth
		if want >= 1 && want <= 28 {
			for next.Day() != want {
				next = next.Add(24 * time.Hour)
			}
		}
	}

	// Calendar alignment may have pulled the timestamp back past now.
	for !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
