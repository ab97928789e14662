package ratelimit

import (
	"time"

	"github.com/JakeFAU/ota-answers-crawler/internal/config"
)

// Policy is one platform's request budget.
type Policy struct {
	HourlyCap   int
	Window      time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy matches the config defaults.
func DefaultPolicy() Policy {
	return Policy{
		HourlyCap:   300,
		Window:      time.Hour,
		MinDelay:    2 * time.Second,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 5,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

// PolicyFromConfig converts the config representation.
func PolicyFromConfig(c config.PolicyConfig) Policy {
	return Policy{
		HourlyCap:   c.HourlyCap,
		Window:      time.Duration(c.WindowSeconds) * time.Second,
		MinDelay:    time.Duration(c.MinDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.MaxDelayMs) * time.Millisecond,
		MaxAttempts: c.MaxAttempts,
		BaseBackoff: time.Duration(c.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(c.MaxBackoffSeconds) * time.Second,
	}
}

// normalized fills zero fields so a misconfigured policy still limits.
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.HourlyCap <= 0 {
		p.HourlyCap = def.HourlyCap
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.MinDelay < 0 {
		p.MinDelay = 0
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = def.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

// Backoff returns the wait before retry number attempt (1-based): the base
// delay doubled per attempt and capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxBackoff || delay <= 0 {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
