package ratelimit

import (
	"sync"

	"github.com/JakeFAU/ota-answers-crawler/internal/config"
	"github.com/JakeFAU/ota-answers-crawler/internal/crawler"
)

// Set hands out one Controller per platform, built from configuration on
// first use. Controllers share state through the Registry so two sets over
// the same registry never exceed one platform's budget.
type Set struct {
	cfg      config.RateLimitConfig
	registry *Registry
	opts     []Option

	mu    sync.Mutex
	ctrls map[crawler.Platform]*Controller
}

// NewSet creates a Set. A nil registry gets a private one.
func NewSet(cfg config.RateLimitConfig, registry *Registry, opts ...Option) *Set {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Set{
		cfg:      cfg,
		registry: registry,
		opts:     opts,
		ctrls:    make(map[crawler.Platform]*Controller),
	}
}

// For returns the platform's controller.
func (s *Set) For(p crawler.Platform) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.ctrls[p]; ok {
		return c
	}
	name := string(p)
	c := New(name, PolicyFromConfig(s.cfg.PolicyFor(name)), s.registry.State(name), s.opts...)
	s.ctrls[p] = c
	return c
}

// Registry exposes the shared state registry.
func (s *Set) Registry() *Registry {
	return s.registry
}
