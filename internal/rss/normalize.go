package rss

import (
	"time"

	"github.com/bryan-buckman/feedhub/internal/model"
)

// Placeholders for titles a feed does not supply.
const (
	UntitledArticle = "Untitled Article"
	UntitledFeed    = "Untitled Feed"
)

// Normalizer maps parsed items to article records. It has no side effects.
//
// Items without a link take the feed URL as their link, so several such items
// in one feed collapse into a single article.
type Normalizer struct {
	// BackfillPubDate stamps items that have no date with the ingestion time.
	// When false, a missing date stays nil.
	BackfillPubDate bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Normalize returns one article candidate per parsed item, in feed order.
func (n Normalizer) Normalize(feed *ParsedFeed, feedID, feedURL string) []model.Article {
	if feed == nil {
		return nil
	}
	now := n.Now
	if now == nil {
		now = time.Now
	}
	ingestedAt := now().UTC()

	articles := make([]model.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := model.Article{
			FeedID:  feedID,
			Title:   item.Title,
			Link:    item.Link,
			PubDate: item.PubDate,
			Author:  item.Author,
			Content: item.Content,
		}
		if a.Title == "" {
			a.Title = UntitledArticle
		}
		if a.Link == "" {
			a.Link = feedURL
		}
		if a.PubDate == nil && n.BackfillPubDate {
			t := ingestedAt
			a.PubDate = &t
		}
		articles = append(articles, a)
	}
	return articles
}

// FeedTitle returns the title to store for a parsed feed.
func FeedTitle(feed *ParsedFeed) string {
	if feed == nil || feed.Title == "" {
		return UntitledFeed
	}
	return feed.Title
}
