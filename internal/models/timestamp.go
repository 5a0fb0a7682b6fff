package models

import (
	"fmt"
	"time"
)

// TimestampLayout is the only timestamp format accepted by the stores.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FormatTimestamp renders t in UTC at second precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}

// ParseTimestamp parses a stored timestamp, rejecting anything that does not
// round-trip to the exact same text.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	if t.Format(TimestampLayout) != s {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: expected YYYY-MM-DDTHH:MM:SSZ", s)
	}
	return t.UTC(), nil
}

// Truncate normalizes t to the stored precision.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
