package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/zxperience/deskbridge/internal/jira"
)

// ParseOffset turns "-03:00", "+0530" or "Z" into a fixed zone.
func ParseOffset(offset string) (*time.Location, error) {
	offset = strings.TrimSpace(offset)
	if offset == "" || offset == "Z" || offset == "UTC" {
		return time.UTC, nil
	}
	for _, layout := range []string{"-07:00", "-0700", "-07"} {
		if t, err := time.Parse(layout, offset); err == nil {
			_, secs := t.Zone()
			return time.FixedZone(offset, secs), nil
		}
	}
	return nil, fmt.Errorf("invalid UTC offset %q", offset)
}

// toDate reads a date (the first ten characters of the value) and returns
// midnight of that day in loc.
func toDate(v any, loc *time.Location) any {
	s, ok := v.(string)
	if !ok || len(strings.TrimSpace(s)) < 10 {
		return nil
	}
	d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s)[:10], loc)
	if err != nil {
		return nil
	}
	return d.Format(TimestampLayout)
}

var wallClockLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// toDateTime reads a wall-clock "YYYY-MM-DD HH:MM[:SS]" value as civil time
// in loc.
func toDateTime(v any, loc *time.Location) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range wallClockLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Format(TimestampLayout)
		}
	}
	return nil
}

// toISODateTime reads a timestamp that carries its own offset and
// re-expresses it in loc. Offset-less input is treated as wall-clock time.
func toISODateTime(v any, loc *time.Location) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if t, err := jira.ParseTimestamp(s); err == nil {
		return t.In(loc).Format(TimestampLayout)
	}
	return toDateTime(s, loc)
}
