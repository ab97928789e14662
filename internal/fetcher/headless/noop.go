package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("rendered fetch disabled")

// Noop stands in for the rendered fetcher when headless.enabled is false.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.RawFetchResult, error) {
	return crawler.RawFetchResult{}, &crawler.NetworkError{URL: request.URL, Err: ErrDisabled}
}
