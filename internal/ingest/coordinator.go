// Package ingest runs feeds through fetch, parse, normalize and persist,
// and reports a feed-level outcome to the caller.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/feedhub/internal/database"
	"github.com/bryan-buckman/feedhub/internal/logger"
	"github.com/bryan-buckman/feedhub/internal/metrics"
	"github.com/bryan-buckman/feedhub/internal/model"
	"github.com/bryan-buckman/feedhub/internal/opml"
	"github.com/bryan-buckman/feedhub/internal/rss"
)

// Status is the outcome of one ingestion.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Mode tells whether an ingestion created the feed or refreshed it.
type Mode string

const (
	ModeCreate  Mode = "create"
	ModeRefresh Mode = "refresh"
)

// FeedSource fetches and parses a feed, retrying as it sees fit.
// *rss.Fetcher satisfies it.
type FeedSource interface {
	FetchFeed(ctx context.Context, feedURL string) (*rss.ParsedFeed, error)
}

// Result reports one ingestion. Err is set when Status is StatusError.
type Result struct {
	Status          Status      `json:"status"`
	Mode            Mode        `json:"mode"`
	Feed            *model.Feed `json:"feed"`
	ArticlesWritten int         `json:"articlesWritten"`
	ArticlesSkipped int         `json:"articlesSkipped"`
	Err             error       `json:"-"`
}

// Config configures a Coordinator.
type Config struct {
	Store      database.Store
	Source     FeedSource
	Normalizer rss.Normalizer
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Clock      clock.Clock
	// Concurrency bounds RefreshAll and Import. Zero picks 10 for
	// backends that handle concurrent writes and 1 otherwise.
	Concurrency int
}

// Coordinator owns the ingestion pipeline for every feed.
type Coordinator struct {
	store       database.Store
	source      FeedSource
	normalizer  rss.Normalizer
	metrics     *metrics.Metrics
	log         *slog.Logger
	clock       clock.Clock
	concurrency int
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Normalizer.Now == nil {
		cfg.Normalizer.Now = cfg.Clock.Now
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
		if cfg.Store.SupportsHighConcurrency() {
			cfg.Concurrency = 10
		}
	}
	return &Coordinator{
		store:       cfg.Store,
		source:      cfg.Source,
		normalizer:  cfg.Normalizer,
		metrics:     cfg.Metrics,
		log:         logger.OrDiscard(cfg.Logger),
		clock:       cfg.Clock,
		concurrency: cfg.Concurrency,
	}
}

// Ingest runs feedURL through the pipeline. With an empty existingID the
// feed is created, even when fetching fails, in which case it is stored
// with status error and no articles. With an existingID the feed is
// refreshed; a failed refresh leaves the stored feed untouched.
//
// Fetch and parse failures are reported in the Result. The returned error
// is reserved for problems the caller must handle: an unknown existingID,
// a URL that differs from the stored one, a duplicate URL on creation, or
// a failing store.
func (c *Coordinator) Ingest(ctx context.Context, feedURL, existingID string) (*Result, error) {
	start := c.clock.Now()
	res := &Result{Mode: ModeCreate}

	if existingID != "" {
		feed, err := c.store.GetFeedByID(ctx, existingID)
		if err != nil {
			return nil, err
		}
		// A feed's URL never changes once stored.
		if feedURL != "" && feedURL != feed.URL {
			return nil, errors.NotValidf("url %q for feed %s stored as %q", feedURL, existingID, feed.URL)
		}
		feedURL = feed.URL
		res.Mode = ModeRefresh
		res.Feed = feed
	}

	log := c.log.With("url", feedURL, "mode", res.Mode)
	defer func() {
		if res.Status == "" {
			res.Status = StatusError
		}
		c.metrics.Ingested(string(res.Mode), string(res.Status), res.ArticlesWritten, res.ArticlesSkipped, c.clock.Now().Sub(start))
	}()

	parsed, err := c.source.FetchFeed(ctx, feedURL)
	if err != nil {
		res.Status = StatusError
		res.Err = err
		if res.Mode == ModeRefresh {
			log.Warn("refresh failed, keeping feed as is", "feed_id", existingID, "error", err)
			return res, nil
		}
		feed := &model.Feed{URL: feedURL, Title: feedURL, Status: model.FeedStatusError}
		if err := c.store.CreateFeed(ctx, feed); err != nil {
			return nil, err
		}
		log.Warn("feed created in error state", "feed_id", feed.ID, "error", res.Err)
		res.Feed = feed
		return res, nil
	}

	now := c.clock.Now().UTC()
	feed := res.Feed
	if feed == nil {
		feed = &model.Feed{URL: feedURL}
	}
	feed.Title = rss.FeedTitle(parsed)
	feed.Description = parsed.Description
	feed.Link = parsed.Link
	feed.Status = model.FeedStatusActive
	feed.LastFetched = &now

	if res.Mode == ModeCreate {
		if err := c.store.CreateFeed(ctx, feed); err != nil {
			return nil, err
		}
	}
	res.Feed = feed

	for _, article := range c.normalizer.Normalize(parsed, feed.ID, feedURL) {
		if ctx.Err() != nil {
			break
		}
		if err := c.store.UpsertArticle(ctx, &article); err != nil {
			res.ArticlesSkipped++
			log.Warn("skipping article", "link", article.Link, "conflict", errors.Is(err, database.ErrConflict), "error", err)
			continue
		}
		res.ArticlesWritten++
	}

	// Counts and feed metadata are written even when the batch was cut
	// short, so the cached count matches what was stored.
	writeCtx := context.WithoutCancel(ctx)
	count, err := c.store.CountArticles(writeCtx, feed.ID)
	if err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}
	feed.ArticleCount = count
	if err := c.store.UpdateFeed(writeCtx, feed); err != nil {
		return nil, fmt.Errorf("update feed: %w", err)
	}

	res.Status = StatusSuccess
	if err := ctx.Err(); err != nil {
		res.Status = StatusError
		res.Err = err
	}
	log.Info("feed ingested", "feed_id", feed.ID, "written", res.ArticlesWritten, "skipped", res.ArticlesSkipped, "articles", count)
	return res, nil
}

// AddFeed validates feedURL and subscribes to it, optionally inside a group.
func (c *Coordinator) AddFeed(ctx context.Context, feedURL string, groupID *string) (*Result, error) {
	feedURL, err := ValidateURL(feedURL)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.GetFeedByURL(ctx, feedURL); err == nil {
		return nil, errors.AlreadyExistsf("feed with url %q", feedURL)
	} else if !errors.Is(err, errors.NotFound) {
		return nil, err
	}
	if groupID != nil {
		if _, err := c.store.GetGroupByID(ctx, *groupID); err != nil {
			return nil, err
		}
	}

	res, err := c.Ingest(ctx, feedURL, "")
	if err != nil {
		return nil, err
	}
	if groupID != nil {
		if err := c.store.SetFeedGroup(ctx, res.Feed.ID, groupID); err != nil {
			return nil, err
		}
		res.Feed.GroupID = groupID
	}
	return res, nil
}

// RefreshFeed re-ingests a stored feed.
func (c *Coordinator) RefreshFeed(ctx context.Context, id string) (*Result, error) {
	return c.Ingest(ctx, "", id)
}

// RefreshAll refreshes every stored feed, a bounded number at a time.
// Results are in the order of ListFeeds. A feed whose refresh could not
// run at all gets a Result with status error.
func (c *Coordinator) RefreshAll(ctx context.Context) ([]*Result, error) {
	feeds, err := c.store.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, feed := range feeds {
		g.Go(func() error {
			res, err := c.RefreshFeed(gctx, feed.ID)
			if err != nil {
				c.log.Error("refresh feed", "feed_id", feed.ID, "url", feed.URL, "error", err)
				f := feed
				res = &Result{Status: StatusError, Mode: ModeRefresh, Feed: &f, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// ImportSummary reports an OPML import.
type ImportSummary struct {
	Total    int `json:"total"`
	Imported int `json:"imported"`
	Existing int `json:"existing"`
	Failed   int `json:"failed"`
}

// Import subscribes to every entry of an OPML document. Groups are created
// by name; feeds already subscribed are left alone.
func (c *Coordinator) Import(ctx context.Context, entries []opml.Entry) (ImportSummary, error) {
	summary := ImportSummary{Total: len(entries)}
	groups := make(map[string]*string)
	for _, e := range entries {
		if e.Group == "" {
			continue
		}
		if _, ok := groups[e.Group]; ok {
			continue
		}
		g, err := c.store.GetOrCreateGroup(ctx, e.Group)
		if err != nil {
			return summary, fmt.Errorf("create group %q: %w", e.Group, err)
		}
		id := g.ID
		groups[e.Group] = &id
	}

	outcomes := make([]error, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			_, err := c.AddFeed(gctx, e.URL, groups[e.Group])
			outcomes[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range outcomes {
		switch {
		case err == nil:
			summary.Imported++
		case errors.Is(err, errors.AlreadyExists):
			summary.Existing++
		default:
			summary.Failed++
			c.log.Warn("import feed", "url", entries[i].URL, "error", err)
		}
	}
	return summary, ctx.Err()
}

// ValidateURL trims raw and checks that it is an absolute http(s) URL.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.NotValidf("empty feed url")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.NotValidf("feed url %q", raw)
	}
	return raw, nil
}
