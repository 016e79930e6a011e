package rss

import (
	"bytes"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// ParsedFeed is the dialect-neutral result of parsing a feed document.
type ParsedFeed struct {
	Title       string
	Description string
	Link        string
	Items       []ParsedItem
}

// ParsedItem is one entry of a ParsedFeed. Empty strings and nil pointers
// mean the feed did not supply the field.
type ParsedItem struct {
	Title   string
	Link    string
	PubDate *time.Time
	Author  *string
	Content *string
}

// Parser turns raw RSS 2.0, Atom or JSON Feed bytes into a ParsedFeed.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes raw. Any document gofeed cannot read fails with *ParseError.
func (p *Parser) Parse(raw []byte) (*ParsedFeed, error) {
	// gofeed.Parser keeps per-parse state, so it is not shared between goroutines.
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	out := &ParsedFeed{
		Title:       strings.TrimSpace(feed.Title),
		Description: strings.TrimSpace(feed.Description),
		Link:        strings.TrimSpace(feed.Link),
		Items:       make([]ParsedItem, 0, len(feed.Items)),
	}
	if out.Link == "" && len(feed.Links) > 0 {
		out.Link = strings.TrimSpace(feed.Links[0])
	}

	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		out.Items = append(out.Items, ParsedItem{
			Title:   strings.TrimSpace(item.Title),
			Link:    itemLink(item),
			PubDate: itemDate(item),
			Author:  itemAuthor(item),
			Content: itemContent(item),
		})
	}
	return out, nil
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

// itemDate prefers the published date and falls back to the updated date.
func itemDate(item *gofeed.Item) *time.Time {
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		return &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return nil
}

func itemAuthor(item *gofeed.Item) *string {
	people := item.Authors
	if item.Author != nil {
		people = append([]*gofeed.Person{item.Author}, people...)
	}
	for _, person := range people {
		if person == nil {
			continue
		}
		if name := strings.TrimSpace(person.Name); name != "" {
			return &name
		}
		if email := strings.TrimSpace(person.Email); email != "" {
			return &email
		}
	}
	return nil
}

// itemContent resolves content, then summary/description, then nothing.
func itemContent(item *gofeed.Item) *string {
	for _, s := range []string{item.Content, item.Description} {
		if strings.TrimSpace(s) != "" {
			return &s
		}
	}
	return nil
}
