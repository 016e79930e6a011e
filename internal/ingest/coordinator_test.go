package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bryan-buckman/feedhub/internal/database"
	"github.com/bryan-buckman/feedhub/internal/metrics"
	"github.com/bryan-buckman/feedhub/internal/model"
	"github.com/bryan-buckman/feedhub/internal/opml"
	"github.com/bryan-buckman/feedhub/internal/rss"
	"github.com/bryan-buckman/feedhub/internal/rss/rsstest"
)

// feedServer serves documents by path; unknown paths are 404.
type feedServer struct {
	*httptest.Server
	mu    sync.Mutex
	docs  map[string]string
	codes map[string]int
}

func newFeedServer(c *qt.C) *feedServer {
	fs := &feedServer{docs: map[string]string{}, codes: map[string]int{}}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		doc, ok := fs.docs[r.URL.Path]
		code := fs.codes[r.URL.Path]
		fs.mu.Unlock()
		switch {
		case code != 0:
			w.WriteHeader(code)
		case !ok:
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, doc)
		}
	}))
	c.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) serve(path, doc string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.docs[path] = doc
	delete(fs.codes, path)
	return fs.URL + path
}

func (fs *feedServer) fail(path string, code int) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.codes[path] = code
	return fs.URL + path
}

type fixture struct {
	store   database.Store
	clock   *rsstest.Clock
	metrics *metrics.Metrics
	coord   *Coordinator
	srv     *feedServer
}

func newFixture(c *qt.C) *fixture {
	db, err := database.New(filepath.Join(c.TempDir(), "feeds.db"))
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { db.Close() })
	return newFixtureWithStore(c, db)
}

func newFixtureWithStore(c *qt.C, store database.Store) *fixture {
	srv := newFeedServer(c)
	clk := rsstest.NewClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.New(prometheus.NewRegistry())
	fetcher := rss.NewFetcher(rss.FetcherConfig{Client: srv.Client(), Clock: clk, Metrics: m})
	coord := New(Config{
		Store:       store,
		Source:      fetcher,
		Metrics:     m,
		Clock:       clk,
		Concurrency: 4,
	})
	return &fixture{store: store, clock: clk, metrics: m, coord: coord, srv: srv}
}

func TestAddFeedIngestsArticles(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()
	url := f.srv.serve("/rss", rsstest.SampleRSS)

	res, err := f.coord.AddFeed(ctx, url, nil)
	c.Assert(err, qt.IsNil)
	c.Check(res.Status, qt.Equals, StatusSuccess)
	c.Check(res.Mode, qt.Equals, ModeCreate)
	c.Check(res.ArticlesWritten, qt.Equals, 2)
	c.Check(res.ArticlesSkipped, qt.Equals, 0)
	c.Check(res.Err, qt.IsNil)

	feed, err := f.store.GetFeedByURL(ctx, url)
	c.Assert(err, qt.IsNil)
	c.Check(feed.Title, qt.Equals, "Example Blog")
	c.Check(feed.Description, qt.Equals, "Posts from example")
	c.Check(feed.Status, qt.Equals, model.FeedStatusActive)
	c.Check(feed.ArticleCount, qt.Equals, 2)
	c.Assert(feed.LastFetched, qt.Not(qt.IsNil))
	c.Check(feed.LastFetched.Equal(f.clock.Now()), qt.IsTrue)

	articles, err := f.store.ListArticles(ctx, model.ArticleFilter{FeedID: feed.ID})
	c.Assert(err, qt.IsNil)
	c.Assert(articles, qt.HasLen, 2)
	c.Check(articles[0].Title, qt.Equals, "First post")
	// The undated item keeps a null date and sorts last.
	c.Check(articles[1].Title, qt.Equals, "Second post")
	c.Check(articles[1].PubDate, qt.IsNil)

	c.Check(testutil.ToFloat64(f.metrics.IngestTotal.WithLabelValues("create", "success")), qt.Equals, float64(1))
	c.Check(testutil.ToFloat64(f.metrics.ArticlesWritten), qt.Equals, float64(2))
}

func TestIngestIsIdempotent(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()
	url := f.srv.serve("/rss", rsstest.SampleRSS)

	res, err := f.coord.AddFeed(ctx, url, nil)
	c.Assert(err, qt.IsNil)
	for i := 0; i < 2; i++ {
		again, err := f.coord.RefreshFeed(ctx, res.Feed.ID)
		c.Assert(err, qt.IsNil)
		c.Check(again.Status, qt.Equals, StatusSuccess)
		c.Check(again.Mode, qt.Equals, ModeRefresh)
		c.Check(again.Feed.ArticleCount, qt.Equals, 2)
	}

	articles, err := f.store.ListArticles(ctx, model.ArticleFilter{})
	c.Assert(err, qt.IsNil)
	c.Check(articles, qt.HasLen, 2)
}

func TestRefreshNeverResetsRead(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()
	url := f.srv.serve("/rss", rsstest.SampleRSS)

	res, err := f.coord.AddFeed(ctx, url, nil)
	c.Assert(err, qt.IsNil)
	articles, err := f.store.ListArticles(ctx, model.ArticleFilter{FeedID: res.Feed.ID})
	c.Assert(err, qt.IsNil)
	_, err = f.store.SetArticleRead(ctx, articles[0].ID, true)
	c.Assert(err, qt.IsNil)

	f.srv.serve("/rss", rsstest.RSS("Example Blog", "https://example.com/",
		rsstest.Item{Title: "First post, edited", Link: "https://example.com/posts/1", PubDate: "Mon, 02 Jan 2006 15:04:05 GMT"},
		rsstest.Item{Title: "Second post", Link: "https://example.com/posts/2"},
		rsstest.Item{Title: "Third post", Link: "https://example.com/posts/3"},
	))
	again, err := f.coord.RefreshFeed(ctx, res.Feed.ID)
	c.Assert(err, qt.IsNil)
	c.Check(again.Feed.ArticleCount, qt.Equals, 3)

	got, err := f.store.GetArticle(ctx, articles[0].ID)
	c.Assert(err, qt.IsNil)
	c.Check(got.Title, qt.Equals, "First post, edited")
	c.Check(got.Read, qt.IsTrue)
}

func TestAddUnreachableFeedIsKeptInErrorState(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()
	url := f.srv.fail("/down", http.StatusBadGateway)

	res, err := f.coord.AddFeed(ctx, url, nil)
	c.Assert(err, qt.IsNil)
	c.Check(res.Status, qt.Equals, StatusError)
	c.Check(res.Err, qt.ErrorMatches, `fetch .*/down: failed after 3 attempts: .*`)
	c.Check(f.clock.Delays(), qt.DeepEquals, []time.Duration{time.Second, 2 * time.Second})

	feed, err := f.store.GetFeedByURL(ctx, url)
	c.Assert(err, qt.IsNil)
	c.Check(feed.Status, qt.Equals, model.FeedStatusError)
	c.Check(feed.ArticleCount, qt.Equals, 0)
	c.Check(feed.LastFetched, qt.IsNil)

	// The subscription stays retryable.
	f.srv.serve("/down", rsstest.SampleRSS)
	again, err := f.coord.RefreshFeed(ctx, feed.ID)
	c.Assert(err, qt.IsNil)
	c.Check(again.Status, qt.Equals, StatusSuccess)
	c.Check(again.Feed.Status, qt.Equals, model.FeedStatusActive)
	c.Check(again.Feed.ArticleCount, qt.Equals, 2)
}

func TestAddMalformedFeedIsKeptInErrorState(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	url := f.srv.serve("/html", "<html><body>not a feed</body></html>")

	res, err := f.coord.AddFeed(context.Background(), url, nil)
	c.Assert(err, qt.IsNil)
	c.Check(res.Status, qt.Equals, StatusError)
	var parseErr *rss.ParseError
	c.Check(errors.As(res.Err, &parseErr), qt.IsTrue)
	c.Check(res.Feed.Status, qt.Equals, model.FeedStatusError)
}

func TestRefreshFailureLeavesFeedUntouched(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()
	url := f.srv.serve("/rss", rsstest.SampleRSS)

	res, err := f.coord.AddFeed(ctx, url, nil)
	c.Assert(err, qt.IsNil)
	before, err := f.store.GetFeedByID(ctx, res.Feed.ID)
	c.Assert(err, qt.IsNil)

	f.srv.fail("/rss", http.StatusServiceUnavailable)
	again, err := f.coord.RefreshFeed(ctx, res.Feed.ID)
	c.Assert(err, qt.IsNil)
	c.Check(again.Status, qt.Equals, StatusError)
	c.Check(again.Err, qt.Not(qt.IsNil))

	after, err := f.store.GetFeedByID(ctx, res.Feed.ID)
	c.Assert(err, qt.IsNil)
	c.Check(after.Status, qt.Equals, model.FeedStatusActive)
	c.Check(after.ArticleCount, qt.Equals, 2)
	c.Check(after.LastFetched.Equal(*before.LastFetched), qt.IsTrue)
	c.Check(testutil.ToFloat64(f.metrics.IngestTotal.WithLabelValues("refresh", "error")), qt.Equals, float64(1))
}

func TestIngestRefreshKeepsStoredURL(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()
	url := f.srv.serve("/rss", rsstest.SampleRSS)
	other := f.srv.serve("/atom", rsstest.SampleAtom)

	res, err := f.coord.AddFeed(ctx, url, nil)
	c.Assert(err, qt.IsNil)

	_, err = f.coord.Ingest(ctx, other, res.Feed.ID)
	c.Check(errors.Is(err, errors.NotValid), qt.IsTrue, qt.Commentf("%v", err))

	feed, err := f.store.GetFeedByID(ctx, res.Feed.ID)
	c.Assert(err, qt.IsNil)
	c.Check(feed.URL, qt.Equals, url)
	c.Check(feed.ArticleCount, qt.Equals, 2)
	count, err := f.store.CountArticles(ctx, res.Feed.ID)
	c.Assert(err, qt.IsNil)
	c.Check(count, qt.Equals, 2)

	// Passing the stored URL explicitly is a plain refresh.
	again, err := f.coord.Ingest(ctx, url, res.Feed.ID)
	c.Assert(err, qt.IsNil)
	c.Check(again.Mode, qt.Equals, ModeRefresh)
	c.Check(again.Status, qt.Equals, StatusSuccess)
}

func TestAddFeedValidation(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	for _, bad := range []string{"", "   ", "not a url", "ftp://example.com/feed", "https://"} {
		_, err := f.coord.AddFeed(ctx, bad, nil)
		c.Check(errors.Is(err, errors.NotValid), qt.IsTrue, qt.Commentf("%q: %v", bad, err))
	}

	url := f.srv.serve("/rss", rsstest.SampleRSS)
	_, err := f.coord.AddFeed(ctx, url, nil)
	c.Assert(err, qt.IsNil)
	_, err = f.coord.AddFeed(ctx, url, nil)
	c.Check(errors.Is(err, errors.AlreadyExists), qt.IsTrue)

	missing := "missing-group"
	_, err = f.coord.AddFeed(ctx, f.srv.serve("/other", rsstest.SampleAtom), &missing)
	c.Check(errors.Is(err, errors.NotFound), qt.IsTrue)

	_, err = f.coord.RefreshFeed(ctx, "missing-feed")
	c.Check(errors.Is(err, errors.NotFound), qt.IsTrue)
}

func TestAddFeedIntoGroup(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()
	g, err := f.store.CreateGroup(ctx, "Reading")
	c.Assert(err, qt.IsNil)

	res, err := f.coord.AddFeed(ctx, f.srv.serve("/atom", rsstest.SampleAtom), &g.ID)
	c.Assert(err, qt.IsNil)
	feed, err := f.store.GetFeedByID(ctx, res.Feed.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(feed.GroupID, qt.Not(qt.IsNil))
	c.Check(*feed.GroupID, qt.Equals, g.ID)
}

func TestConcurrentIngestOfDisjointFeeds(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	items := func(host string, n int) []rsstest.Item {
		var out []rsstest.Item
		for i := 0; i < n; i++ {
			out = append(out, rsstest.Item{Title: fmt.Sprintf("%s %d", host, i), Link: fmt.Sprintf("https://%s/%d", host, i)})
		}
		return out
	}
	urls := []string{
		f.srv.serve("/a", rsstest.RSS("A", "https://a.example/", items("a.example", 3)...)),
		f.srv.serve("/b", rsstest.RSS("B", "https://b.example/", items("b.example", 5)...)),
	}

	var wg sync.WaitGroup
	results := make([]*Result, len(urls))
	errs := make([]error, len(urls))
	for i, url := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.coord.AddFeed(ctx, url, nil)
		}()
	}
	wg.Wait()

	for i, want := range []int{3, 5} {
		c.Assert(errs[i], qt.IsNil)
		c.Check(results[i].Status, qt.Equals, StatusSuccess)
		feed, err := f.store.GetFeedByURL(ctx, urls[i])
		c.Assert(err, qt.IsNil)
		c.Check(feed.ArticleCount, qt.Equals, want)
	}
}

// flakyStore fails article writes for selected links.
type flakyStore struct {
	database.Store
	failLinks map[string]bool
}

func (s *flakyStore) UpsertArticle(ctx context.Context, a *model.Article) error {
	if s.failLinks[a.Link] {
		return fmt.Errorf("insert %s: %w", a.Link, database.ErrConflict)
	}
	return s.Store.UpsertArticle(ctx, a)
}

func TestArticleFailuresAreSkipped(t *testing.T) {
	c := qt.New(t)
	db, err := database.New(filepath.Join(c.TempDir(), "feeds.db"))
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { db.Close() })
	store := &flakyStore{Store: db, failLinks: map[string]bool{"https://example.com/posts/1": true}}
	f := newFixtureWithStore(c, store)

	res, err := f.coord.AddFeed(context.Background(), f.srv.serve("/rss", rsstest.SampleRSS), nil)
	c.Assert(err, qt.IsNil)
	c.Check(res.Status, qt.Equals, StatusSuccess)
	c.Check(res.ArticlesWritten, qt.Equals, 1)
	c.Check(res.ArticlesSkipped, qt.Equals, 1)
	c.Check(res.Feed.ArticleCount, qt.Equals, 1)
	c.Check(testutil.ToFloat64(f.metrics.ArticlesSkipped), qt.Equals, float64(1))
}

func TestRefreshAll(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	_, err := f.coord.AddFeed(ctx, f.srv.serve("/rss", rsstest.SampleRSS), nil)
	c.Assert(err, qt.IsNil)
	_, err = f.coord.AddFeed(ctx, f.srv.serve("/atom", rsstest.SampleAtom), nil)
	c.Assert(err, qt.IsNil)
	f.srv.fail("/atom", http.StatusInternalServerError)

	results, err := f.coord.RefreshAll(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(results, qt.HasLen, 2)
	statuses := map[string]Status{}
	for _, r := range results {
		statuses[r.Feed.URL] = r.Status
	}
	c.Check(statuses, qt.DeepEquals, map[string]Status{
		f.srv.URL + "/rss":  StatusSuccess,
		f.srv.URL + "/atom": StatusError,
	})
}

func TestImport(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	ctx := context.Background()

	existing := f.srv.serve("/rss", rsstest.SampleRSS)
	_, err := f.coord.AddFeed(ctx, existing, nil)
	c.Assert(err, qt.IsNil)

	summary, err := f.coord.Import(ctx, []opml.Entry{
		{Group: "Tech", Title: "Atom", URL: f.srv.serve("/atom", rsstest.SampleAtom)},
		{Group: "Tech", Title: "Down", URL: f.srv.fail("/down", http.StatusNotFound)},
		{Title: "Again", URL: existing},
		{Title: "Broken", URL: "not a url"},
	})
	c.Assert(err, qt.IsNil)
	c.Check(summary, qt.Equals, ImportSummary{Total: 4, Imported: 2, Existing: 1, Failed: 1})

	groups, err := f.store.ListGroups(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(groups, qt.HasLen, 1)
	c.Check(groups[0].Name, qt.Equals, "Tech")
	c.Check(groups[0].Feeds, qt.HasLen, 2)
}
