package rss

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// feedLinkTypes are the <link type> values that announce a feed.
var feedLinkTypes = map[string]bool{
	"application/rss+xml":  true,
	"application/atom+xml": true,
}

// Prober finds the feeds a web page advertises through <link> auto-discovery.
type Prober struct {
	client    Doer
	userAgent string
	timeout   time.Duration
	maxBody   int64
	logger    *slog.Logger
}

// NewProber creates a prober sharing the fetcher's client, user agent and limits.
func NewProber(cfg FetcherConfig) *Prober {
	cfg = cfg.withDefaults()
	return &Prober{
		client:    cfg.Client,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		maxBody:   cfg.MaxBodyBytes,
		logger:    cfg.Logger,
	}
}

// Discover returns the absolute feed URLs linked from the page at pageURL.
// It never fails: fetch or parse problems yield an empty result.
func (p *Prober) Discover(ctx context.Context, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		p.logger.Debug("discover: invalid page url", "url", pageURL, "error", err)
		return []string{}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return []string{}
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	body, err := doRequest(p.client, req, p.maxBody)
	if err != nil {
		p.logger.Debug("discover: fetch failed", "url", pageURL, "error", err)
		return []string{}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		p.logger.Debug("discover: parse failed", "url", pageURL, "error", err)
		return []string{}
	}

	// A <base href> changes what relative links resolve against.
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	found := []string{}
	seen := make(map[string]bool)
	doc.Find("link[type][href]").Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		if !feedLinkTypes[strings.ToLower(strings.TrimSpace(typ))] {
			return
		}
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			found = append(found, abs)
		}
	})
	return found
}

// Candidates returns the discovered feeds of rawURL. When the page advertises
// none, rawURL itself is returned if it looks like a feed.
func (p *Prober) Candidates(ctx context.Context, rawURL string) []string {
	if found := p.Discover(ctx, rawURL); len(found) > 0 {
		return found
	}
	if IsLikelyFeedURL(rawURL) {
		return []string{rawURL}
	}
	return []string{}
}

// IsLikelyFeedURL is a naming heuristic: a path ending in .xml, .rss or .atom,
// or a URL containing "feed".
func IsLikelyFeedURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	p := lower
	if u, err := url.Parse(lower); err == nil {
		p = u.Path
	}
	switch path.Ext(p) {
	case ".xml", ".rss", ".atom":
		return true
	}
	return strings.Contains(lower, "feed")
}
