package collyfetcher

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsTransport sits in front of the page transport. A robots.txt probe
// that times out is retried after each delay; when the file stays
// unreachable the transport answers with an allow-all body so the page
// fetch still happens. Other requests pass straight through.
type robotsTransport struct {
	next   http.RoundTripper
	delays []time.Duration
	logger *zap.Logger
}

func newRobotsTransport(next http.RoundTripper, logger *zap.Logger) *robotsTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsTransport{
		next:   next,
		delays: []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second},
		logger: logger,
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip: %w", err)
		}
		return resp, nil
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !retryableRobotsError(req.URL.String(), err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if attempt >= len(t.delays) {
			t.logger.Warn("robots.txt unreachable, allowing all",
				zap.String("host", req.URL.Host), zap.Int("attempts", attempt+1), zap.Error(err))
			return allowAllResponse(req), nil
		}
		timer := time.NewTimer(t.delays[attempt])
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, fmt.Errorf("fetch robots.txt: %w", req.Context().Err())
		case <-timer.C:
		}
	}
}

// retryableRobotsError reports timeouts, including TLS handshake stalls.
func retryableRobotsError(rawURL string, err error) bool {
	var timeoutErr *crawler.TimeoutError
	if errors.As(crawler.ClassifyTransport(rawURL, err), &timeoutErr) {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}
