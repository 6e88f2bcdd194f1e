package core

import (
	"time"

	"github.com/pkg/errors"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var errInvalidClock = errors.New("invalid time of day")

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// AddDays moves a local midnight by n calendar days, staying on midnight across DST changes.
func AddDays(day time.Time, n int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+n, 0, 0, 0, 0, day.Location())
}

// DaysBetween counts calendar days from `from` to `to` (both local midnights).
func DaysBetween(from, to time.Time) int {
	// noon avoids 23h/25h days
	f := time.Date(from.Year(), from.Month(), from.Day(), 12, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 12, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

// ParseDate parses a YYYY-MM-DD date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, CleanString(s), loc)
}

// ParseClock parses an HH:MM time of day.
func ParseClock(s string) (hour, min int, err error) {
	t, err := time.Parse(ClockLayout, CleanString(s))
	if err != nil {
		return 0, 0, errInvalidClock
	}
	return t.Hour(), t.Minute(), nil
}

// AtClock returns the instant at hour:min on day's calendar date in day's location.
// Non-existent local times (DST gaps) are normalized the way time.Date does.
func AtClock(day time.Time, hour, min int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, day.Location())
}

// FormatDate formats t as YYYY-MM-DD in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}
