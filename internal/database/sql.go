package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/bryan-buckman/feedhub/internal/model"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// case-insensitive LIKE operator
	ilike string
	// isConflict reports uniqueness and foreign-key violations.
	isConflict func(error) bool
}

// sqlStore implements Store on database/sql. Queries are written with ?
// placeholders and rebound for the dialect.
type sqlStore struct {
	conn *sql.DB
	d    dialect
}

func (s *sqlStore) rebind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.conn.ExecContext(ctx, s.rebind(query), args...)
	return res, s.classify(err)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, s.rebind(query), args...)
}

// classify tags constraint violations with ErrConflict.
func (s *sqlStore) classify(err error) error {
	if err != nil && s.d.isConflict != nil && s.d.isConflict(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func now() time.Time { return time.Now().UTC() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// --- Group Methods ---

const groupColumns = "id, name, sort_order, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*model.Group, error) {
	var g model.Group
	if err := row.Scan(&g.ID, &g.Name, &g.SortOrder, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns groups ordered by sort order, each with its feeds.
func (s *sqlStore) ListGroups(ctx context.Context) ([]model.GroupWithFeeds, error) {
	rows, err := s.query(ctx, "SELECT "+groupColumns+" FROM feed_groups ORDER BY sort_order, name")
	if err != nil {
		return nil, err
	}
	var groups []model.GroupWithFeeds
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		groups = append(groups, model.GroupWithFeeds{Group: *g, Feeds: []model.Feed{}})
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	feeds, err := s.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		index[g.ID] = i
	}
	for _, f := range feeds {
		if f.GroupID == nil {
			continue
		}
		if i, ok := index[*f.GroupID]; ok {
			groups[i].Feeds = append(groups[i].Feeds, f)
		}
	}
	return groups, nil
}

// CreateGroup adds a group at the end of the sort order.
func (s *sqlStore) CreateGroup(ctx context.Context, name string) (*model.Group, error) {
	g := &model.Group{ID: uuid.NewString(), Name: name, CreatedAt: now()}
	err := s.queryRow(ctx, `
		INSERT INTO feed_groups (id, name, sort_order, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(sort_order), -1) + 1 FROM feed_groups), ?)
		RETURNING sort_order`,
		g.ID, g.Name, g.CreatedAt).Scan(&g.SortOrder)
	if err != nil {
		return nil, s.classify(err)
	}
	return g, nil
}

// GetGroupByID returns one group.
func (s *sqlStore) GetGroupByID(ctx context.Context, id string) (*model.Group, error) {
	g, err := scanGroup(s.queryRow(ctx, "SELECT "+groupColumns+" FROM feed_groups WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf("group %q", id)
	}
	return g, err
}

// GetOrCreateGroup finds a group by name, or creates it.
func (s *sqlStore) GetOrCreateGroup(ctx context.Context, name string) (*model.Group, error) {
	g, err := scanGroup(s.queryRow(ctx, "SELECT "+groupColumns+" FROM feed_groups WHERE name = ? ORDER BY sort_order LIMIT 1", name))
	if errors.Is(err, sql.ErrNoRows) {
		return s.CreateGroup(ctx, name)
	}
	return g, err
}

// UpdateGroup renames and/or reorders a group; nil arguments are left alone.
func (s *sqlStore) UpdateGroup(ctx context.Context, id string, name *string, sortOrder *int) (*model.Group, error) {
	var sets []string
	var args []any
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if sortOrder != nil {
		sets = append(sets, "sort_order = ?")
		args = append(args, *sortOrder)
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.exec(ctx, "UPDATE feed_groups SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, errors.NotFoundf("group %q", id)
		}
	}
	return s.GetGroupByID(ctx, id)
}

// DeleteGroup removes a group. Its feeds stay, without a group.
func (s *sqlStore) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("UPDATE feeds SET group_id = NULL WHERE group_id = ?"), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM feed_groups WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("group %q", id)
	}
	return tx.Commit()
}

// --- Feed Methods ---

const feedColumns = "id, group_id, url, title, description, link, status, last_fetched, article_count, created_at"

func scanFeed(row rowScanner) (*model.Feed, error) {
	var f model.Feed
	var groupID, description, link sql.NullString
	var lastFetched sql.NullTime
	var status string
	if err := row.Scan(&f.ID, &groupID, &f.URL, &f.Title, &description, &link, &status, &lastFetched, &f.ArticleCount, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.GroupID = stringPtr(groupID)
	f.Description = description.String
	f.Link = link.String
	f.Status = model.FeedStatus(status)
	f.LastFetched = timePtr(lastFetched)
	return &f, nil
}

// ListFeeds returns all feeds, newest first.
func (s *sqlStore) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.query(ctx, "SELECT "+feedColumns+" FROM feeds ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	feeds := []model.Feed{}
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// GetFeedByID returns one feed.
func (s *sqlStore) GetFeedByID(ctx context.Context, id string) (*model.Feed, error) {
	f, err := scanFeed(s.queryRow(ctx, "SELECT "+feedColumns+" FROM feeds WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf("feed %q", id)
	}
	return f, err
}

// GetFeedByURL returns the feed subscribed at url.
func (s *sqlStore) GetFeedByURL(ctx context.Context, url string) (*model.Feed, error) {
	f, err := scanFeed(s.queryRow(ctx, "SELECT "+feedColumns+" FROM feeds WHERE url = ?", url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf("feed with url %q", url)
	}
	return f, err
}

// CreateFeed adds a new feed.
func (s *sqlStore) CreateFeed(ctx context.Context, f *model.Feed) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = model.FeedStatusActive
	}
	f.CreatedAt = now()
	_, err := s.exec(ctx, `
		INSERT INTO feeds (id, group_id, url, title, description, link, status, last_fetched, article_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, nullStringPtr(f.GroupID), f.URL, f.Title, nullString(f.Description), nullString(f.Link),
		string(f.Status), nullTime(f.LastFetched), f.ArticleCount, f.CreatedAt)
	if errors.Is(err, ErrConflict) {
		return errors.AlreadyExistsf("feed with url %q", f.URL)
	}
	return err
}

// UpdateFeed stores the ingestion-owned fields of f.
func (s *sqlStore) UpdateFeed(ctx context.Context, f *model.Feed) error {
	res, err := s.exec(ctx, `
		UPDATE feeds SET title = ?, description = ?, link = ?, status = ?, last_fetched = ?, article_count = ?
		WHERE id = ?`,
		f.Title, nullString(f.Description), nullString(f.Link), string(f.Status), nullTime(f.LastFetched), f.ArticleCount, f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("feed %q", f.ID)
	}
	return nil
}

// SetFeedGroup moves a feed into a group, or out of any group when groupID is nil.
func (s *sqlStore) SetFeedGroup(ctx context.Context, feedID string, groupID *string) error {
	if groupID != nil {
		if _, err := s.GetGroupByID(ctx, *groupID); err != nil {
			return err
		}
	}
	res, err := s.exec(ctx, "UPDATE feeds SET group_id = ? WHERE id = ?", nullStringPtr(groupID), feedID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("feed %q", feedID)
	}
	return nil
}

// DeleteFeed removes a feed together with its articles.
func (s *sqlStore) DeleteFeed(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM articles WHERE feed_id = ?"), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM feeds WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("feed %q", id)
	}
	return tx.Commit()
}

// --- Article Methods ---

const articleColumns = "a.id, a.feed_id, a.title, a.link, a.pub_date, a.author, a.content, a.is_read, a.created_at, f.title, f.url"

func scanArticle(row rowScanner) (*model.Article, error) {
	var a model.Article
	var pubDate sql.NullTime
	var author, content sql.NullString
	var feedTitle, feedURL string
	if err := row.Scan(&a.ID, &a.FeedID, &a.Title, &a.Link, &pubDate, &author, &content, &a.Read, &a.CreatedAt, &feedTitle, &feedURL); err != nil {
		return nil, err
	}
	a.PubDate = timePtr(pubDate)
	a.Author = stringPtr(author)
	a.Content = stringPtr(content)
	a.Feed = &model.FeedRef{ID: a.FeedID, Title: feedTitle, URL: feedURL}
	return &a, nil
}

// UpsertArticle creates or refreshes the article keyed by link. The read
// flag and owning feed of an existing article are never changed here.
func (s *sqlStore) UpsertArticle(ctx context.Context, a *model.Article) error {
	id := uuid.NewString()
	err := s.queryRow(ctx, `
		INSERT INTO articles (id, feed_id, title, link, pub_date, author, content, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (link) DO UPDATE SET
			title = excluded.title,
			pub_date = excluded.pub_date,
			author = excluded.author,
			content = excluded.content
		RETURNING id, feed_id, is_read`,
		id, a.FeedID, a.Title, a.Link, nullTime(a.PubDate), nullStringPtr(a.Author), nullStringPtr(a.Content), false, now()).
		Scan(&a.ID, &a.FeedID, &a.Read)
	return s.classify(err)
}

// CountArticles returns how many articles a feed owns.
func (s *sqlStore) CountArticles(ctx context.Context, feedID string) (int, error) {
	var n int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM articles WHERE feed_id = ?", feedID).Scan(&n)
	return n, err
}

// GetArticle returns one article with its feed reference.
func (s *sqlStore) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	a, err := scanArticle(s.queryRow(ctx, "SELECT "+articleColumns+" FROM articles a JOIN feeds f ON f.id = a.feed_id WHERE a.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundf("article %q", id)
	}
	return a, err
}

// ListArticles returns matching articles, newest first; undated articles sort last.
func (s *sqlStore) ListArticles(ctx context.Context, filter model.ArticleFilter) ([]model.Article, error) {
	query := "SELECT " + articleColumns + " FROM articles a JOIN feeds f ON f.id = a.feed_id"
	var where []string
	var args []any
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		where = append(where, fmt.Sprintf("(a.title %s ? OR a.content %s ?)", s.d.ilike, s.d.ilike))
		args = append(args, pattern, pattern)
	}
	if filter.FeedID != "" {
		where = append(where, "a.feed_id = ?")
		args = append(args, filter.FeedID)
	}
	if filter.GroupID != "" {
		where = append(where, "f.group_id = ?")
		args = append(args, filter.GroupID)
	}
	if filter.Read != nil {
		where = append(where, "a.is_read = ?")
		args = append(args, *filter.Read)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.pub_date DESC NULLS LAST, a.created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	articles := []model.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

// SetArticleRead sets the read flag of one article.
func (s *sqlStore) SetArticleRead(ctx context.Context, id string, read bool) (*model.Article, error) {
	res, err := s.exec(ctx, "UPDATE articles SET is_read = ? WHERE id = ?", read, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.NotFoundf("article %q", id)
	}
	return s.GetArticle(ctx, id)
}

// MarkArticlesRead marks multiple articles as read.
func (s *sqlStore) MarkArticlesRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind("UPDATE articles SET is_read = ? WHERE id = ?"))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, true, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CleanupReadArticles deletes all read articles and refreshes the cached counts.
func (s *sqlStore) CleanupReadArticles(ctx context.Context) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM articles WHERE is_read = ?"), true)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE feeds SET article_count = (SELECT COUNT(*) FROM articles WHERE articles.feed_id = feeds.id)"); err != nil {
		return 0, err
	}
	return deleted, tx.Commit()
}

// --- Settings Methods ---

// GetSetting retrieves a setting value.
func (s *sqlStore) GetSetting(ctx context.Context, key string) (string, error) {
	var val string
	err := s.queryRow(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.NotFoundf("setting %q", key)
	}
	return val, err
}

// SetSetting saves a setting.
func (s *sqlStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, "INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value", key, value)
	return err
}

// GetPollingInterval returns the polling interval in minutes, never below the minimum.
func (s *sqlStore) GetPollingInterval(ctx context.Context) (int, error) {
	val, err := s.GetSetting(ctx, model.SettingPollingInterval)
	if errors.Is(err, errors.NotFound) {
		return MinPollingIntervalMinutes, nil
	}
	if err != nil {
		return 0, err
	}
	mins, err := strconv.Atoi(val)
	if err != nil || mins < MinPollingIntervalMinutes {
		mins = MinPollingIntervalMinutes
	}
	return mins, nil
}
