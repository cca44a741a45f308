// Package ratelimit throttles probe throughput so a worker fleet never
// hammers a receiving MX hard enough to get itself blocklisted. It keeps
// one global token bucket plus one per-domain bucket, adapted from the
// teacher's RateLimiterManager (worker/ratelimiter.go) but driven by a
// caller-supplied table instead of hardcoded provider literals.
package ratelimit

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// DomainRate names a per-domain limit: Rate requests/sec with a burst
// equal to Rate rounded down, and never below 1 (the teacher's convention
// of burst == rate).
type DomainRate struct {
	Domain string
	Rate   float64
}

// Config is the table a Manager is built from. DefaultRate applies to any
// domain not named in Domains.
type Config struct {
	GlobalRate  float64
	GlobalBurst int
	DefaultRate float64
	Domains     []DomainRate
}

// Manager owns a global limiter plus a lazily-extended per-domain map.
// Safe for concurrent use by multiple workers.
type Manager struct {
	global      *rate.Limiter
	defaultRate float64
	domains     map[string]*rate.Limiter
	mu          sync.RWMutex
}

// New builds a Manager from cfg. A zero Config produces a permissive
// manager (global 10/sec burst 10, default per-domain 5/sec) matching the
// teacher's fallback behavior.
func New(cfg Config) *Manager {
	globalRate := cfg.GlobalRate
	if globalRate <= 0 {
		globalRate = 10
	}
	globalBurst := cfg.GlobalBurst
	if globalBurst <= 0 {
		globalBurst = max(1, int(globalRate))
	}
	defaultRate := cfg.DefaultRate
	if defaultRate <= 0 {
		defaultRate = 5
	}

	domains := make(map[string]*rate.Limiter, len(cfg.Domains))
	for _, d := range cfg.Domains {
		domains[strings.ToLower(d.Domain)] = rate.NewLimiter(rate.Limit(d.Rate), max(1, int(d.Rate)))
	}

	return &Manager{
		global:      rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		defaultRate: defaultRate,
		domains:     domains,
	}
}

// Wait blocks until both the global bucket and domain's bucket admit one
// more probe, or ctx is cancelled.
func (m *Manager) Wait(ctx context.Context, domain string) error {
	if err := m.global.Wait(ctx); err != nil {
		return err
	}
	return m.domainLimiter(domain).Wait(ctx)
}

func (m *Manager) domainLimiter(domain string) *rate.Limiter {
	domain = strings.ToLower(domain)

	m.mu.RLock()
	l, ok := m.domains[domain]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok = m.domains[domain]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(m.defaultRate), max(1, int(m.defaultRate)))
	m.domains[domain] = l
	return l
}

// CurrentRate reports the configured rate for domain, for status logging.
func (m *Manager) CurrentRate(domain string) float64 {
	domain = strings.ToLower(domain)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.domains[domain]; ok {
		return float64(l.Limit())
	}
	return m.defaultRate
}

// DefaultDomainRates is the provider table the teacher hardcoded, carried
// forward as the default Config a production worker starts from.
func DefaultDomainRates() []DomainRate {
	return []DomainRate{
		{Domain: "gmail.com", Rate: 2},
		{Domain: "googlemail.com", Rate: 2},
		{Domain: "outlook.com", Rate: 1},
		{Domain: "hotmail.com", Rate: 1},
		{Domain: "live.com", Rate: 1},
		{Domain: "yahoo.com", Rate: 1},
	}
}
