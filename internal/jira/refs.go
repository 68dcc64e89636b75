package jira

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ExtractKey extracts the issue key from a browse URL.
// For example, "https://company.atlassian.net/browse/PROJ-123" returns "PROJ-123".
func ExtractKey(ref string) string {
	idx := strings.LastIndex(ref, "/browse/")
	if idx == -1 {
		return ""
	}
	key := ref[idx+len("/browse/"):]
	if cut := strings.IndexAny(key, "?#/"); cut != -1 {
		key = key[:cut]
	}
	return key
}

// Host returns scheme://host of the tenant that served the issue, derived
// from its self URL.
func (i *Issue) Host() string {
	u, err := url.Parse(i.Self)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// BrowseURL returns the human-facing URL of the issue, or "" when the self
// URL is missing.
func (i *Issue) BrowseURL() string {
	host := i.Host()
	if host == "" || i.Key == "" {
		return ""
	}
	return host + "/browse/" + i.Key
}

// ParseTimestamp parses Jira's timestamp format into a time.Time.
// Jira uses ISO 8601 with timezone: 2024-01-15T10:30:00.000+0000 or 2024-01-15T10:30:00.000Z
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	formats := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}
