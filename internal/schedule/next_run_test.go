package schedule

import (
	"testing"
	"time"

	"autopilot/internal/models"
)

func TestInterval_Shorthands(t *testing.T) {
	cases := []struct {
		expr string
		want time.Duration
		ok   bool
	}{
		{"every 5 minutes", 5 * time.Minute, true},
		{"every 1 minute", time.Minute, true},
		{"every 12 hours", 12 * time.Hour, true},
		{"Every 1 Day", 24 * time.Hour, true},
		{"every 3 days", 72 * time.Hour, true},
		{"", 24 * time.Hour, false},
		{"hourly", 24 * time.Hour, false},
		{"every 0 days", 24 * time.Hour, false},
		{"0 0 * * *", 24 * time.Hour, false},
	}
	for _, tc := range cases {
		got, ok := Interval(tc.expr)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Interval(%q)=%v,%v want %v,%v", tc.expr, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNextRun_StrictlyAfterNow(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	for _, expr := range []string{"every 5 minutes", "every 1 hour", "every 1 day", "garbage"} {
		next := NextRun(expr, now)
		if !next.After(now) {
			t.Fatalf("NextRun(%q) = %v, not after %v", expr, next, now)
		}
	}
}

func TestNextRun_Idempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	a := NextRun("every 6 hours", now)
	b := NextRun("every 6 hours", now)
	if !a.Equal(b) {
		t.Fatalf("same inputs gave %v and %v", a, b)
	}
	if !a.Equal(now.Add(6 * time.Hour)) {
		t.Fatalf("next=%v want %v", a, now.Add(6*time.Hour))
	}
}

func TestNextRunWithOptions_ExecutionHour(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	hour := 9
	next := NextRunWithOptions("every 1 day", models.ScheduleOptions{ExecutionHourUTC: &hour}, now)
	if next.Hour() != 9 || next.Minute() != 0 {
		t.Fatalf("next=%v want hour 09:00", next)
	}
	if !next.After(now) {
		t.Fatalf("next=%v not after now=%v", next, now)
	}
}

func TestNextRunWithOptions_HourIgnoredSubDaily(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	hour := 9
	next := NextRunWithOptions("every 15 minutes", models.ScheduleOptions{ExecutionHourUTC: &hour}, now)
	if !next.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("next=%v want %v", next, now.Add(15*time.Minute))
	}
}

func TestNextRunWithOptions_DayOfWeek(t *testing.T) {
	// 2026-03-10 is a Tuesday.
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	dow := 1 // Monday
	next := NextRunWithOptions("every 1 day", models.ScheduleOptions{DayOfWeek: &dow}, now)
	if next.Weekday() != time.Monday {
		t.Fatalf("next=%v weekday=%v want Monday", next, next.Weekday())
	}
	if !next.After(now) {
		t.Fatalf("next=%v not after now=%v", next, now)
	}
}

func TestNextRunWithOptions_DayOfMonth(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	dom := 1
	next := NextRunWithOptions("every 1 day", models.ScheduleOptions{DayOfMonth: &dom}, now)
	if next.Day() != 1 {
		t.Fatalf("next=%v day=%d want 1", next, next.Day())
	}
	if next.Month() != time.April {
		t.Fatalf("next=%v want April", next)
	}
}

func TestNextRunWithOptions_HourAlignmentNeverPast(t *testing.T) {
	// Hour hint earlier than now: alignment must roll forward a day.
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	hour := 1
	next := NextRunWithOptions("every 1 day", models.ScheduleOptions{ExecutionHourUTC: &hour}, now)
	if !next.After(now) {
		t.Fatalf("next=%v not after now=%v", next, now)
	}
	if next.Hour() != 1 {
		t.Fatalf("next=%v want hour 1", next)
	}
}
