package governor

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter reads a Retry-After header value as a number of seconds.
// Both delta-seconds and HTTP-date forms are accepted; anything else yields 0,
// which the governor treats as "no hint".
func ParseRetryAfter(value string, now time.Time) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return secs
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Seconds()
		}
	}
	return 0
}

// ThrottledFromResponse builds a ThrottledError for a 429 response, or
// returns nil for any other status.
func ThrottledFromResponse(resp *http.Response, err error) *ThrottledError {
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	return &ThrottledError{
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Err:        err,
	}
}
