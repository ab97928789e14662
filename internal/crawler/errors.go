package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrBadRequest marks a non-retryable 400 response. Callers treat it as an empty result.
	ErrBadRequest = errors.New("bad request")
	// ErrRetriesExhausted is returned once the 429 retry loop gives up.
	ErrRetriesExhausted = errors.New("rate limit retries exhausted")
)

// Error kinds reported in summaries and metrics.
const (
	KindNetwork     = "network"
	KindTimeout     = "timeout"
	KindHTTP4xx     = "http_4xx"
	KindHTTP5xx     = "http_5xx"
	KindRateLimited = "rate_limited"
	KindBadRequest  = "bad_request"
	KindPersistence = "persistence"
	KindCanceled    = "canceled"
	KindOther       = "other"
)

// NetworkError wraps DNS and connection failures.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is returned when a fetch exceeds its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout fetching %s: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError surfaces a non-2xx response with enough detail for throttle detection.
type HTTPError struct {
	URL     string
	Status  int
	Headers http.Header
	Body    []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d fetching %s", e.Status, e.URL)
}

// Is lets errors.Is(err, ErrBadRequest) match 400 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrBadRequest && e.Status == http.StatusBadRequest
}

// PersistenceError wraps a store failure for a single record.
type PersistenceError struct {
	URL string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.URL, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTooManyRequests reports whether err carries an HTTP 429.
func IsTooManyRequests(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests {
		return httpErr, true
	}
	return nil, false
}

// ClassifyTransport converts a raw transport error into the taxonomy.
func ClassifyTransport(url string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: url, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: url, Err: err}
	}
	return &NetworkError{URL: url, Err: err}
}

// Classify maps any error onto a coarse kind label.
func Classify(err error) string {
	var (
		httpErr    *HTTPError
		timeoutErr *TimeoutError
		netErr     *NetworkError
		persistErr *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrRetriesExhausted):
		return KindRateLimited
	case errors.As(err, &persistErr):
		return KindPersistence
	case errors.As(err, &httpErr):
		switch {
		case httpErr.Status == http.StatusBadRequest:
			return KindBadRequest
		case httpErr.Status == http.StatusTooManyRequests:
			return KindRateLimited
		case httpErr.Status >= 500:
			return KindHTTP5xx
		default:
			return KindHTTP4xx
		}
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindOther
	}
}
