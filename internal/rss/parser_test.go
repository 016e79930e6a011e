package rss

import (
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/bryan-buckman/feedhub/internal/rss/rsstest"
)

func TestParseRSS(t *testing.T) {
	c := qt.New(t)
	feed, err := NewParser().Parse([]byte(rsstest.SampleRSS))
	c.Assert(err, qt.IsNil)

	c.Check(feed.Title, qt.Equals, "Example Blog")
	c.Check(feed.Description, qt.Equals, "Posts from example")
	c.Check(feed.Link, qt.Equals, "https://example.com/")
	c.Assert(feed.Items, qt.HasLen, 2)

	first := feed.Items[0]
	c.Check(first.Title, qt.Equals, "First post")
	c.Check(first.Link, qt.Equals, "https://example.com/posts/1")
	c.Assert(first.PubDate, qt.Not(qt.IsNil))
	c.Check(first.PubDate.Equal(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)), qt.IsTrue)
	c.Assert(first.Content, qt.Not(qt.IsNil))
	c.Check(*first.Content, qt.Equals, "<p>Full one</p>")
}

func TestParseRSSMissingPubDateIsNil(t *testing.T) {
	c := qt.New(t)
	feed, err := NewParser().Parse([]byte(rsstest.SampleRSS))
	c.Assert(err, qt.IsNil)

	second := feed.Items[1]
	c.Check(second.PubDate, qt.IsNil)
	// No content:encoded, so the description stands in.
	c.Assert(second.Content, qt.Not(qt.IsNil))
	c.Check(*second.Content, qt.Equals, "Summary two")
}

func TestParseAtom(t *testing.T) {
	c := qt.New(t)
	feed, err := NewParser().Parse([]byte(rsstest.SampleAtom))
	c.Assert(err, qt.IsNil)

	c.Check(feed.Title, qt.Equals, "Atom Example")
	c.Check(feed.Description, qt.Equals, "An atom feed")
	c.Check(feed.Link, qt.Equals, "https://atom.example.org/")
	c.Assert(feed.Items, qt.HasLen, 1)

	entry := feed.Items[0]
	c.Check(entry.Title, qt.Equals, "Atom entry")
	c.Check(entry.Link, qt.Equals, "https://atom.example.org/entries/1")
	c.Assert(entry.Author, qt.Not(qt.IsNil))
	c.Check(*entry.Author, qt.Equals, "Ada Lovelace")
	c.Assert(entry.PubDate, qt.Not(qt.IsNil))
	c.Check(entry.PubDate.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)), qt.IsTrue)
	c.Assert(entry.Content, qt.Not(qt.IsNil))
	c.Check(*entry.Content, qt.Equals, "Entry summary")
}

func TestParseItemWithoutContent(t *testing.T) {
	c := qt.New(t)
	doc := rsstest.RSS("Bare", "https://bare.example.com/", rsstest.Item{Title: "Only a title", Link: "https://bare.example.com/1"})
	feed, err := NewParser().Parse([]byte(doc))
	c.Assert(err, qt.IsNil)
	c.Assert(feed.Items, qt.HasLen, 1)
	c.Check(feed.Items[0].Content, qt.IsNil)
	c.Check(feed.Items[0].Author, qt.IsNil)
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"just some text",
		"<html><body>not a feed</body></html>",
	} {
		_, err := NewParser().Parse([]byte(raw))
		var parseErr *ParseError
		qt.New(t).Check(errors.As(err, &parseErr), qt.IsTrue, qt.Commentf("input %q", raw))
	}
}
