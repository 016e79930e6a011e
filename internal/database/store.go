// Package database provides storage backends for the feed service.
package database

import (
	"context"

	"github.com/juju/errors"

	"github.com/bryan-buckman/feedhub/internal/model"
)

// ErrConflict marks a write rejected by a uniqueness or foreign-key
// constraint. Callers match it with errors.Is.
const ErrConflict = errors.ConstError("persistence conflict")

// MinPollingIntervalMinutes is the minimum allowed polling interval.
const MinPollingIntervalMinutes = 15

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
// Every call is atomic on its own; missing rows surface as errors.NotFound.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Group operations
	ListGroups(ctx context.Context) ([]model.GroupWithFeeds, error)
	CreateGroup(ctx context.Context, name string) (*model.Group, error)
	GetGroupByID(ctx context.Context, id string) (*model.Group, error)
	GetOrCreateGroup(ctx context.Context, name string) (*model.Group, error)
	UpdateGroup(ctx context.Context, id string, name *string, sortOrder *int) (*model.Group, error)
	DeleteGroup(ctx context.Context, id string) error

	// Feed operations
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	GetFeedByID(ctx context.Context, id string) (*model.Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*model.Feed, error)
	// CreateFeed assigns ID and CreatedAt. A taken URL is errors.AlreadyExists.
	CreateFeed(ctx context.Context, feed *model.Feed) error
	// UpdateFeed writes title, description, link, status, lastFetched and articleCount.
	UpdateFeed(ctx context.Context, feed *model.Feed) error
	SetFeedGroup(ctx context.Context, feedID string, groupID *string) error
	// DeleteFeed removes the feed and its articles.
	DeleteFeed(ctx context.Context, id string) error

	// Article operations
	// UpsertArticle inserts a, or refreshes title, pubDate, author and content
	// of the article that already has a.Link. Ownership and read state of an
	// existing article are kept; a is updated with the stored ID, FeedID and Read.
	UpsertArticle(ctx context.Context, a *model.Article) error
	CountArticles(ctx context.Context, feedID string) (int, error)
	GetArticle(ctx context.Context, id string) (*model.Article, error)
	ListArticles(ctx context.Context, filter model.ArticleFilter) ([]model.Article, error)
	SetArticleRead(ctx context.Context, id string, read bool) (*model.Article, error)
	MarkArticlesRead(ctx context.Context, ids []string) error
	CleanupReadArticles(ctx context.Context) (int64, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetPollingInterval(ctx context.Context) (int, error)
}
