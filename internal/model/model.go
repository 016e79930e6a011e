// Package model defines shared data structures.
package model

import "time"

// FeedStatus reports whether the last ingestion of a feed produced content.
type FeedStatus string

const (
	FeedStatusActive FeedStatus = "active"
	FeedStatusError  FeedStatus = "error"
)

// Group is a user-defined label for organizing feeds.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sortOrder"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupWithFeeds represents a group containing its feeds for listing.
type GroupWithFeeds struct {
	Group
	Feeds []Feed `json:"feeds"`
}

// Feed represents an RSS/Atom feed subscription.
// URL is unique and never changes after creation.
type Feed struct {
	ID           string     `json:"id"`
	GroupID      *string    `json:"groupId"` // nullable if not in a group
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Link         string     `json:"link,omitempty"`
	Status       FeedStatus `json:"status"`
	LastFetched  *time.Time `json:"lastFetched"`
	ArticleCount int        `json:"articleCount"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// FeedRef is the subset of a feed embedded in article listings.
type FeedRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Article represents a single entry from a feed.
// Link is the deduplication key across all feeds.
type Article struct {
	ID        string     `json:"id"`
	FeedID    string     `json:"feedId"`
	Title     string     `json:"title"`
	Link      string     `json:"link"`
	PubDate   *time.Time `json:"pubDate"`
	Author    *string    `json:"author"`
	Content   *string    `json:"content"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"createdAt"`

	// Feed is only populated by listings.
	Feed *FeedRef `json:"feed,omitempty"`
}

// ArticleFilter narrows article listings. Zero values mean "no filter".
type ArticleFilter struct {
	Search  string
	FeedID  string
	GroupID string
	Read    *bool
	Limit   int
}

// Settings key constants.
const (
	SettingPollingInterval = "polling_interval_minutes"
)
