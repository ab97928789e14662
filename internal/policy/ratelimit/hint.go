package ratelimit

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	secondsPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:seconds?|secs?)\b`)
	backoffPattern = regexp.MustCompile(`"backoff"\s*:\s*(\d+)`)
)

// RetryHint extracts a server-declared wait from a throttled response. It
// checks Retry-After, the x-ratelimit-reset family of headers, a JSON
// "backoff" field, and finally an "N seconds" phrase in the body. It returns
// zero when no hint is present.
func RetryHint(headers http.Header, body []byte, now time.Time) time.Duration {
	if headers != nil {
		if v := strings.TrimSpace(headers.Get("Retry-After")); v != "" {
			if secs, ok := parseSeconds(v); ok {
				return secs
			}
			if at, err := http.ParseTime(v); err == nil && at.After(now) {
				return at.Sub(now)
			}
		}
		for _, key := range []string{"X-Ratelimit-Reset", "X-Rate-Limit-Reset", "Ratelimit-Reset"} {
			if v := strings.TrimSpace(headers.Get(key)); v != "" {
				if secs, ok := parseSeconds(v); ok {
					return secs
				}
			}
		}
	}
	if len(body) == 0 {
		return 0
	}
	if m := backoffPattern.FindSubmatch(body); m != nil {
		if secs, ok := parseSeconds(string(m[1])); ok {
			return secs
		}
	}
	if m := secondsPattern.FindSubmatch(body); m != nil {
		if secs, ok := parseSeconds(string(m[1])); ok {
			return secs
		}
	}
	return 0
}

func parseSeconds(v string) (time.Duration, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	// Epoch timestamps are not durations.
	if f > 1e9 {
		return 0, false
	}
	return time.Duration(math.Ceil(f * float64(time.Second))), true
}
