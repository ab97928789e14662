package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryHint(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		headers http.Header
		body    string
		want    time.Duration
	}{
		{"retry-after seconds", http.Header{"Retry-After": {"12"}}, "", 12 * time.Second},
		{"retry-after date", http.Header{"Retry-After": {now.Add(90 * time.Second).Format(http.TimeFormat)}}, "", 90 * time.Second},
		{"reddit reset header", http.Header{"X-Ratelimit-Reset": {"42"}}, "", 42 * time.Second},
		{"fractional reset", http.Header{"X-Ratelimit-Reset": {"1.5"}}, "", 1500 * time.Millisecond},
		{"json backoff", nil, `{"items":[],"backoff":10}`, 10 * time.Second},
		{"message text", nil, "Too many requests, retry in 5 seconds", 5 * time.Second},
		{"stack exchange quota text", nil, `{"error_message":"too many requests from this IP, more requests available in 8383 seconds"}`, 8383 * time.Second},
		{"epoch header ignored", http.Header{"X-Ratelimit-Reset": {"1714554000"}}, "", 0},
		{"nothing", nil, "slow down", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, RetryHint(tt.headers, []byte(tt.body), now))
		})
	}
}
