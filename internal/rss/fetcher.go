// Package rss provides feed fetching, parsing, normalization and discovery.
package rss

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/bryan-buckman/feedhub/internal/config"
	"github.com/bryan-buckman/feedhub/internal/logger"
	"github.com/bryan-buckman/feedhub/internal/metrics"
)

// Fetch defaults, used for any zero field of FetcherConfig.
const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = time.Second
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 << 20
)

// Doer is the HTTP client abstraction; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherConfig configures a Fetcher or a Prober.
type FetcherConfig struct {
	Client               Doer
	Clock                clock.Clock
	UserAgent            string
	Timeout              time.Duration // per attempt
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxBodyBytes         int64
	PerDomainConcurrency int
	DomainDelay          time.Duration
	Metrics              *metrics.Metrics
	Logger               *slog.Logger
}

// ConfigFromSettings maps the fetch section of the service configuration.
func ConfigFromSettings(fc config.FetchConfig) FetcherConfig {
	return FetcherConfig{
		UserAgent:            fc.UserAgent,
		Timeout:              fc.Timeout,
		MaxAttempts:          fc.MaxAttempts,
		BaseDelay:            fc.BaseDelay,
		MaxBodyBytes:         fc.MaxBodyBytes,
		PerDomainConcurrency: fc.PerDomainConcurrency,
		DomainDelay:          fc.DomainDelay,
	}
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.UserAgent == "" {
		c.UserAgent = config.DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	c.Logger = logger.OrDiscard(c.Logger)
	return c
}

// Fetcher retrieves feed documents with bounded retries and exponential backoff.
// It never touches persisted state.
type Fetcher struct {
	client        Doer
	backoff       Backoff
	userAgent     string
	timeout       time.Duration
	maxBody       int64
	parser        *Parser
	domainLimiter *domainLimiter
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewFetcher creates a fetcher; zero config fields take the package defaults.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	cfg = cfg.withDefaults()
	return &Fetcher{
		client: cfg.Client,
		backoff: Backoff{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			Clock:       cfg.Clock,
		},
		userAgent:     cfg.UserAgent,
		timeout:       cfg.Timeout,
		maxBody:       cfg.MaxBodyBytes,
		parser:        NewParser(),
		domainLimiter: newDomainLimiter(cfg.PerDomainConcurrency, cfg.DomainDelay),
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// Fetch returns the raw document at feedURL, retrying transport failures.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	var body []byte
	err := f.withRetry(ctx, feedURL, func(ctx context.Context, attempt int) error {
		b, err := f.fetchOnce(ctx, feedURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// FetchFeed retrieves and parses the feed at feedURL. Parsing happens inside
// the retry loop, so an unparseable response is retried like a transport failure.
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string) (*ParsedFeed, error) {
	var parsed *ParsedFeed
	err := f.withRetry(ctx, feedURL, func(ctx context.Context, attempt int) error {
		body, err := f.fetchOnce(ctx, feedURL)
		if err != nil {
			return err
		}
		p, err := f.parser.Parse(body)
		if err != nil {
			return err
		}
		parsed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

// withRetry runs fn under the backoff policy. The per-domain slot is held for
// one attempt at a time and is free while the backoff sleeps.
func (f *Fetcher) withRetry(ctx context.Context, feedURL string, fn func(context.Context, int) error) error {
	domain := extractDomain(feedURL)
	return f.backoff.Do(ctx, feedURL, func(ctx context.Context, attempt int) error {
		if err := f.domainLimiter.acquire(ctx, domain); err != nil {
			return fmt.Errorf("rate limit cancelled: %w", err)
		}
		err := fn(ctx, attempt)
		f.domainLimiter.release(domain)
		if err != nil {
			f.metrics.FetchAttempt("error")
			return err
		}
		f.metrics.FetchAttempt("ok")
		return nil
	}, func(err error, attempt int) {
		if attempt < f.backoff.MaxAttempts {
			f.logger.Warn("fetch attempt failed, retrying",
				"url", feedURL,
				"attempt", attempt,
				"max_attempts", f.backoff.MaxAttempts,
				"retry_in", f.backoff.Delay(attempt),
				"error", err)
			return
		}
		f.logger.Error("fetch attempts exhausted", "url", feedURL, "attempts", attempt, "error", err)
	})
}

// fetchOnce performs a single GET bounded by the per-attempt timeout.
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8")

	return doRequest(f.client, req, f.maxBody)
}

func doRequest(client Doer, req *http.Request, maxBody int64) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
