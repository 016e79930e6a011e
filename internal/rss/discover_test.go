package rss

import (
	"context"
	"errors"
	"net/http"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/bryan-buckman/feedhub/internal/config"
)

func pageClient(pages map[string]string) Doer {
	return doerFunc(func(req *http.Request) (*http.Response, error) {
		body, ok := pages[req.URL.String()]
		if !ok {
			return textResponse(req, http.StatusNotFound, "not found"), nil
		}
		return textResponse(req, http.StatusOK, body), nil
	})
}

func TestDiscoverResolvesRelativeLinks(t *testing.T) {
	c := qt.New(t)
	client := pageClient(map[string]string{
		"https://example.com/blog": `<html><head>
			<link rel="alternate" type="application/rss+xml" href="/feed.xml">
			<link rel="alternate" type="application/atom+xml" href="atom.xml">
			<link rel="stylesheet" type="text/css" href="/style.css">
		</head><body></body></html>`,
	})

	got := NewProber(FetcherConfig{Client: client}).Discover(context.Background(), "https://example.com/blog")
	c.Check(got, qt.DeepEquals, []string{
		"https://example.com/feed.xml",
		"https://example.com/atom.xml",
	})
}

func TestDiscoverHonoursBaseAndDeduplicates(t *testing.T) {
	c := qt.New(t)
	client := pageClient(map[string]string{
		"https://example.com/a/page": `<html><head>
			<base href="https://cdn.example.net/site/">
			<link type="APPLICATION/RSS+XML" href="rss">
			<link type="application/rss+xml" href="https://cdn.example.net/site/rss">
		</head></html>`,
	})

	got := NewProber(FetcherConfig{Client: client}).Discover(context.Background(), "https://example.com/a/page")
	c.Check(got, qt.DeepEquals, []string{"https://cdn.example.net/site/rss"})
}

func TestDiscoverSendsUserAgent(t *testing.T) {
	c := qt.New(t)
	var ua string
	client := doerFunc(func(req *http.Request) (*http.Response, error) {
		ua = req.Header.Get("User-Agent")
		return textResponse(req, http.StatusOK, "<html></html>"), nil
	})
	NewProber(FetcherConfig{Client: client}).Discover(context.Background(), "https://example.com/")
	c.Check(ua, qt.Equals, config.DefaultUserAgent)
}

func TestDiscoverDegradesToEmpty(t *testing.T) {
	c := qt.New(t)
	failing := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dns failure")
	})
	p := NewProber(FetcherConfig{Client: failing})

	c.Check(p.Discover(context.Background(), "https://example.com/blog"), qt.HasLen, 0)
	c.Check(p.Discover(context.Background(), "not a url"), qt.HasLen, 0)

	missing := NewProber(FetcherConfig{Client: pageClient(nil)})
	c.Check(missing.Discover(context.Background(), "https://example.com/404"), qt.HasLen, 0)
}

func TestCandidatesFallsBackToHeuristic(t *testing.T) {
	c := qt.New(t)
	p := NewProber(FetcherConfig{Client: pageClient(map[string]string{
		"https://example.com/feed.xml": "<rss></rss>",
		"https://example.com/about":    "<html></html>",
	})})

	c.Check(p.Candidates(context.Background(), "https://example.com/feed.xml"), qt.DeepEquals, []string{"https://example.com/feed.xml"})
	c.Check(p.Candidates(context.Background(), "https://example.com/about"), qt.HasLen, 0)
}

func TestIsLikelyFeedURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/index.xml", true},
		{"https://example.com/posts.RSS", true},
		{"https://example.com/blog.atom?x=1", true},
		{"https://example.com/feed/", true},
		{"https://feeds.example.com/main", true},
		{"https://example.com/about", false},
		{"https://example.com/xml-guide.html", false},
	}
	for _, tt := range tests {
		qt.New(t).Check(IsLikelyFeedURL(tt.url), qt.Equals, tt.want, qt.Commentf("%s", tt.url))
	}
}
