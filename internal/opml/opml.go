// Package opml handles importing and exporting OPML subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/feedhub/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is either a group of feeds or a single feed.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one subscription read from a document. Group is the name of
// the top-level outline that contains it, empty for ungrouped feeds.
type Entry struct {
	Group string
	Title string
	URL   string
}

// Parse reads an OPML document and returns its feeds in document order.
// Groups are flat, so feeds nested below the first level belong to their
// top-level outline.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []Outline, group string)
	walk = func(outlines []Outline, group string) {
		for _, o := range outlines {
			if url := strings.TrimSpace(o.XMLURL); url != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{Group: group, Title: title, URL: url})
				continue
			}
			if len(o.Outlines) == 0 {
				continue
			}
			name := group
			if name == "" {
				name = o.Text
				if name == "" {
					name = o.Title
				}
			}
			walk(o.Outlines, name)
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// Export writes groups, in their order, followed by feeds outside any group.
func Export(title string, groups []model.GroupWithFeeds, ungrouped []model.Feed, created time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: created.Format(time.RFC1123Z),
		},
	}
	for _, g := range groups {
		outline := Outline{Text: g.Name, Title: g.Name}
		for _, f := range g.Feeds {
			outline.Outlines = append(outline.Outlines, feedOutline(f))
		}
		doc.Body.Outlines = append(doc.Body.Outlines, outline)
	}
	for _, f := range ungrouped {
		doc.Body.Outlines = append(doc.Body.Outlines, feedOutline(f))
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

func feedOutline(f model.Feed) Outline {
	return Outline{
		Text:    f.Title,
		Title:   f.Title,
		Type:    "rss",
		XMLURL:  f.URL,
		HTMLURL: f.Link,
	}
}
