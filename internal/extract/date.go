package extract

import (
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseDate accepts the date formats seen across sources and returns UTC.
// It returns nil for blank or unrecognized input.
func ParseDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// UnixTime converts epoch seconds, returning nil for zero.
func UnixTime(sec float64) *time.Time {
	if sec <= 0 {
		return nil
	}
	whole := int64(sec)
	t := time.Unix(whole, int64((sec-float64(whole))*1e9)).UTC()
	return &t
}

// ParseUnix parses a decimal epoch string.
func ParseUnix(raw string) *time.Time {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return UnixTime(f)
}
