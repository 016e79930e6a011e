package rss

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu        sync.Mutex
	perDomain int
	every     time.Duration
	slots     map[string]chan struct{}
	limiters  map[string]*rate.Limiter
}

// newDomainLimiter allows perDomain concurrent requests per host, spaced at
// least every apart. A zero interval disables spacing.
func newDomainLimiter(perDomain int, every time.Duration) *domainLimiter {
	if perDomain < 1 {
		perDomain = 1
	}
	return &domainLimiter{
		perDomain: perDomain,
		every:     every,
		slots:     make(map[string]chan struct{}),
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (dl *domainLimiter) get(domain string) (chan struct{}, *rate.Limiter) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	sem, ok := dl.slots[domain]
	if !ok {
		sem = make(chan struct{}, dl.perDomain)
		dl.slots[domain] = sem
	}
	lim, ok := dl.limiters[domain]
	if !ok {
		limit := rate.Inf
		if dl.every > 0 {
			limit = rate.Every(dl.every)
		}
		lim = rate.NewLimiter(limit, 1)
		dl.limiters[domain] = lim
	}
	return sem, lim
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum spacing between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	sem, lim := dl.get(domain)

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := lim.Wait(ctx); err != nil {
		<-sem
		return err
	}
	return nil
}

// release returns a slot for the domain.
func (dl *domainLimiter) release(domain string) {
	sem, _ := dl.get(domain)
	<-sem
}

// extractDomain gets the host from a URL.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL // fallback to full URL
	}
	return u.Host
}
