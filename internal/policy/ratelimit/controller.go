package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ota-answers-crawler/internal/clock/system"
	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
	"github.com/JakeFAU/ota-answers-crawler/internal/metrics"
)

// Sleeper blocks for a duration unless ctx ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// JitterFunc picks a delay in [lo, hi].
type JitterFunc func(lo, hi time.Duration) time.Duration

// Controller gates requests for one platform.
type Controller struct {
	platform string
	policy   Policy
	state    *State
	clock    crawler.Clock
	sleeper  Sleeper
	jitter   JitterFunc
	logger   *zap.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithSleeper overrides how waits are performed.
func WithSleeper(s Sleeper) Option {
	return func(ctrl *Controller) { ctrl.sleeper = s }
}

// WithJitter overrides the inter-request delay picker.
func WithJitter(fn JitterFunc) Option {
	return func(ctrl *Controller) { ctrl.jitter = fn }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(ctrl *Controller) {
		if l != nil {
			ctrl.logger = l
		}
	}
}

// New builds a controller. A nil state gets a private one.
func New(platform string, policy Policy, state *State, opts ...Option) *Controller {
	if state == nil {
		state = NewState()
	}
	clk := system.New()
	c := &Controller{
		platform: platform,
		policy:   policy.normalized(),
		state:    state,
		clock:    clk,
		sleeper:  clk,
		jitter:   randomJitter,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("platform", platform))
	return c
}

// Policy returns the effective policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// State returns the shared state.
func (c *Controller) State() *State {
	return c.state
}

// Wait blocks until a request may be issued and records it against the
// window. It only returns early when ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	jittered := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, reason := c.reserve(jittered)
		switch reason {
		case "":
			return nil
		case "jitter":
			jittered = true
		}
		if err := c.sleep(ctx, wait, reason); err != nil {
			return err
		}
	}
}

// reserve evaluates the gates under lock. A non-empty reason means the caller
// must sleep and re-check; an empty reason means the request was counted.
func (c *Controller) reserve(jittered bool) (time.Duration, string) {
	now := c.clock.Now()
	st := c.state
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.windowStart.IsZero() || now.Sub(st.windowStart) >= c.policy.Window {
		st.windowStart = now
		st.count = 0
	}
	if now.Before(st.throttledUntil) {
		return st.throttledUntil.Sub(now), "throttled"
	}
	if st.count >= c.policy.HourlyCap {
		return st.windowStart.Add(c.policy.Window).Sub(now), "window"
	}
	if !jittered {
		if d := c.jitter(c.policy.MinDelay, c.policy.MaxDelay); d > 0 {
			return d, "jitter"
		}
	}
	st.count++
	st.lastRequest = now
	return 0, ""
}

func (c *Controller) sleep(ctx context.Context, d time.Duration, reason string) error {
	if d <= 0 {
		return nil
	}
	if reason != "jitter" {
		c.logger.Info("rate limit wait", zap.String("reason", reason), zap.Duration("wait", d))
	}
	metrics.ObserveRateLimitWait(c.platform, reason, d)
	if err := c.sleeper.Sleep(ctx, d); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Throttle marks the platform as throttled for at least d from now.
func (c *Controller) Throttle(d time.Duration) time.Time {
	until := c.state.throttleUntil(c.clock.Now().Add(d))
	c.logger.Warn("platform throttled", zap.Duration("for", d), zap.Time("until", until))
	return until
}

// Do runs fn behind Wait. HTTP 429 results throttle the platform for the
// larger of the server hint and the attempt's backoff, then retry until
// MaxAttempts is reached. A 400 is returned as is and never retried; callers
// treat errors.Is(err, crawler.ErrBadRequest) as an empty result.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := c.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, crawler.ErrBadRequest) {
			return err
		}
		httpErr, ok := crawler.IsTooManyRequests(err)
		if !ok {
			return err
		}

		metrics.ObserveTooManyRequests(c.platform)
		hint := RetryHint(httpErr.Headers, httpErr.Body, c.clock.Now())
		wait := max(hint, c.policy.Backoff(attempt))
		c.Throttle(wait)
		c.logger.Warn("received 429",
			zap.String("url", httpErr.URL),
			zap.Int("attempt", attempt),
			zap.Duration("hint", hint),
			zap.Duration("wait", wait),
		)
		if attempt >= c.policy.MaxAttempts {
			return fmt.Errorf("%s after %d attempts: %w: %w", c.platform, attempt, crawler.ErrRetriesExhausted, err)
		}
	}
}

func randomJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
