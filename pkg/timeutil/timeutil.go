// Package timeutil provides time zone helpers for schedule data.
// The upstream reports wall-clock times in the school district's zone,
// usually without an offset, so every helper takes an explicit location.
package timeutil

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common layouts.
const (
	// FormatDate is the ISO date format (2006-01-02).
	FormatDate = "2006-01-02"

	// FormatTime is the 24h time format (15:04).
	FormatTime = "15:04"
)

// localLayouts are tried in order for values without an explicit offset.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ErrEmptyValue is returned when parsing an empty string.
var ErrEmptyValue = errors.New("timeutil: empty time value")

// LoadLocation resolves a zone name. Empty and "Local" mean the host zone.
func LoadLocation(name string) (*time.Location, error) {
	switch strings.TrimSpace(name) {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown time zone %q: %w", name, err)
	}
	return loc, nil
}

// In converts t to loc, treating a nil loc as UTC.
func In(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc)
}

// FormatDateIn formats t as YYYY-MM-DD in loc.
func FormatDateIn(t time.Time, loc *time.Location) string {
	return In(t, loc).Format(FormatDate)
}

// ParseLocal parses an ISO-8601 timestamp. Values carrying an offset or a
// trailing Z keep it; values without one are read as wall-clock time in loc.
func ParseLocal(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrEmptyValue
	}
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timeutil: unrecognized time %q", value)
}

// ReplaceDate swaps the leading YYYY-MM-DD of an ISO timestamp for date.
// Values without a 'T' separator, or a date shorter than 10 characters,
// are returned unchanged.
func ReplaceDate(value, date string) string {
	if len(date) < 10 || len(value) < 10 || !strings.Contains(value, "T") {
		return value
	}
	return date[:10] + value[10:]
}

// FormatRelative returns a short human-readable distance between t and now,
// such as "in 15 min" or "2 h ago".
func FormatRelative(t, now time.Time) string {
	d := t.Sub(now)
	if d < 0 {
		return formatDuration(-d) + " ago"
	}
	if d < time.Minute {
		return "now"
	}
	return "in " + formatDuration(d)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments"
	case d < time.Hour:
		return fmt.Sprintf("%d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d h", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}
