package opml

import (
	"bytes"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/bryan-buckman/feedhub/internal/model"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline text="Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
      <outline text="Deep">
        <outline title="Nested" text="ignored" xmlUrl="https://nested.example/rss"/>
      </outline>
    </outline>
    <outline text="Loose" xmlUrl=" https://loose.example/feed "/>
    <outline text="Empty folder"/>
  </body>
</opml>`

func TestParse(t *testing.T) {
	c := qt.New(t)
	entries, err := Parse(strings.NewReader(sample))
	c.Assert(err, qt.IsNil)
	c.Check(entries, qt.DeepEquals, []Entry{
		{Group: "Tech", Title: "Go Blog", URL: "https://go.dev/blog/feed.atom"},
		{Group: "Tech", Title: "Nested", URL: "https://nested.example/rss"},
		{Title: "Loose", URL: "https://loose.example/feed"},
	})
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse(strings.NewReader("<opml><body>"))
	qt.New(t).Check(err, qt.ErrorMatches, "decode opml: .*")
}

func TestExportRoundTrip(t *testing.T) {
	c := qt.New(t)
	groups := []model.GroupWithFeeds{{
		Group: model.Group{ID: "g1", Name: "Tech"},
		Feeds: []model.Feed{{Title: "Go Blog", URL: "https://go.dev/blog/feed.atom", Link: "https://go.dev/blog"}},
	}}
	ungrouped := []model.Feed{{Title: "Loose", URL: "https://loose.example/feed"}}

	data, err := Export("feedhub", groups, ungrouped, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	c.Assert(err, qt.IsNil)
	c.Check(string(data), qt.Contains, `<dateCreated>Tue, 02 Jan 2024 03:04:05 +0000</dateCreated>`)
	c.Check(string(data), qt.Contains, `htmlUrl="https://go.dev/blog"`)

	entries, err := Parse(bytes.NewReader(data))
	c.Assert(err, qt.IsNil)
	c.Check(entries, qt.DeepEquals, []Entry{
		{Group: "Tech", Title: "Go Blog", URL: "https://go.dev/blog/feed.atom"},
		{Title: "Loose", URL: "https://loose.example/feed"},
	})
}
