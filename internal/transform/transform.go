// Package transform implements the field transformation pipeline applied to
// a value on its way from the source system to the target system, and the
// equivalence rule used to decide whether a write is needed.
package transform

import (
	"strings"
	"time"

	"github.com/zxperience/deskbridge/internal/jira"
	"github.com/zxperience/deskbridge/internal/types"
)

// TimestampLayout is the format of every date produced by the pipeline.
const TimestampLayout = "2006-01-02T15:04:05.000-0700"

// DefaultOffset is the UTC offset applied to dates when none is configured.
const DefaultOffset = "-03:00"

// Options carries run-wide settings the pipeline depends on.
type Options struct {
	// Location is the zone wall-clock inputs are interpreted in and dates
	// are emitted in. Nil means the default offset.
	Location *time.Location
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	loc, _ := ParseOffset(DefaultOffset)
	return loc
}

// Apply runs the pipeline steps enabled on m over v, in fixed order:
// value table, date, datetime, ISO datetime, underscores, array wrap,
// document wrap/unwrap.
func Apply(m types.FieldMapping, dir types.Direction, v any, opts Options) any {
	loc := opts.location()

	if len(m.ValueMap) > 0 {
		v = substitute(m.ValueMap, v)
	}
	if m.IsDate {
		v = toDate(v, loc)
	}
	if m.IsDateTime {
		v = toDateTime(v, loc)
	}
	if m.IsISODateTime {
		v = toISODateTime(v, loc)
	}
	if m.NeedUnderline {
		v = underline(v)
	}
	if m.IsArray {
		v = wrapArray(v)
	}
	if m.IsDocument {
		if dir == types.ToIssue {
			v = wrapDocument(v)
		} else {
			v = unwrapDocument(v)
		}
	}
	return v
}

// substitute replaces values found in the table. Comma-joined strings are
// split, each trimmed token is looked up, and the result is rejoined with
// ", ". A single value not in the table passes through untouched.
func substitute(table []types.ValueMapEntry, v any) any {
	find := func(s string) (string, bool) {
		for _, e := range table {
			if e.From == s {
				return e.To, true
			}
		}
		return s, false
	}
	lookup := func(s string) string {
		out, _ := find(s)
		return out
	}

	switch val := v.(type) {
	case string:
		if !strings.Contains(val, ",") {
			if out, ok := find(strings.TrimSpace(val)); ok {
				return out
			}
			return val
		}
		parts := strings.Split(val, ",")
		for i, p := range parts {
			parts[i] = lookup(strings.TrimSpace(p))
		}
		return strings.Join(parts, ", ")
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			if s, ok := item.(string); ok {
				out[i] = lookup(s)
			} else {
				out[i] = item
			}
		}
		return out
	}
	return v
}

func underline(v any) any {
	switch val := v.(type) {
	case string:
		return strings.ReplaceAll(val, " ", "_")
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			if s, ok := item.(string); ok {
				out[i] = strings.ReplaceAll(s, " ", "_")
			} else {
				out[i] = item
			}
		}
		return out
	}
	return v
}

func wrapArray(v any) any {
	if v == nil {
		return nil
	}
	if _, ok := v.([]any); ok {
		return v
	}
	return []any{v}
}

func wrapDocument(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if s == "" {
		return nil
	}
	return jira.TextDocument(s)
}

func unwrapDocument(v any) any {
	doc, ok := jira.DecodeDocument(v)
	if !ok {
		return v
	}
	text, ok := jira.FirstParagraphText(doc)
	if !ok {
		return nil
	}
	return text
}
