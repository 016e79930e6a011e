package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jujuerrors "github.com/juju/errors"

	"github.com/bryan-buckman/feedhub/internal/database"
	"github.com/bryan-buckman/feedhub/internal/ingest"
	"github.com/bryan-buckman/feedhub/internal/model"
	"github.com/bryan-buckman/feedhub/internal/opml"
	"github.com/bryan-buckman/feedhub/internal/rss"
)

// --- Feed Handlers ---

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feeds)
}

// handleAddFeed always answers with the stored feed and the ingestion
// status, unless the input itself is rejected.
func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string  `json:"url"`
		GroupID *string `json:"groupId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.coord.AddFeed(r.Context(), req.URL, optionalString(req.GroupID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newResultResponse(res))
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.store.GetFeedByID(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteFeed(r.Context(), chi.URLParam(r, "feedID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRefreshFeed(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.RefreshFeed(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newResultResponse(res))
}

func (s *Server) handleSetFeedGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GroupID *string `json:"groupId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	feedID := chi.URLParam(r, "feedID")
	if err := s.store.SetFeedGroup(r.Context(), feedID, optionalString(req.GroupID)); err != nil {
		s.writeError(w, r, err)
		return
	}
	feed, err := s.store.GetFeedByID(r.Context(), feedID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.refreshTimeout)
	defer cancel()

	results, err := s.coord.RefreshAll(ctx)
	if err != nil && len(results) == 0 {
		s.writeError(w, r, fmt.Errorf("refresh: %w", err))
		return
	}

	out := make([]resultResponse, 0, len(results))
	written, failed := 0, 0
	for _, res := range results {
		out = append(out, newResultResponse(res))
		written += res.ArticlesWritten
		if res.Status != ingest.StatusSuccess {
			failed++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"feeds":           len(results),
		"failed":          failed,
		"articlesWritten": written,
		"results":         out,
	})
}

// --- Article Handlers ---

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	read, err := parseReadStatus(q.Get("readStatus"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	articles, err := s.store.ListArticles(r.Context(), model.ArticleFilter{
		Search:  strings.TrimSpace(q.Get("search")),
		FeedID:  q.Get("feedId"),
		GroupID: q.Get("groupId"),
		Read:    read,
		Limit:   limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, articles)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.store.GetArticle(r.Context(), chi.URLParam(r, "articleID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, article)
}

func (s *Server) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Read *bool `json:"read"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Read == nil {
		s.writeError(w, r, jujuerrors.NotValidf("missing read flag"))
		return
	}
	article, err := s.store.SetArticleRead(r.Context(), chi.URLParam(r, "articleID"), *req.Read)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, article)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArticleIDs []string `json:"articleIds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.MarkArticlesRead(r.Context(), req.ArticleIDs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "marked": len(req.ArticleIDs)})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.CleanupReadArticles(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "deleted": deleted})
}

// --- Group Handlers ---

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []model.GroupWithFeeds{}
	}
	s.writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.writeError(w, r, jujuerrors.NotValidf("empty group name"))
		return
	}
	group, err := s.store.CreateGroup(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      *string `json:"name"`
		SortOrder *int    `json:"sortOrder"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			s.writeError(w, r, jujuerrors.NotValidf("empty group name"))
			return
		}
		req.Name = &name
	}
	group, err := s.store.UpdateGroup(r.Context(), chi.URLParam(r, "groupID"), req.Name, req.SortOrder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteGroup(r.Context(), chi.URLParam(r, "groupID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Discovery ---

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	pageURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if pageURL == "" {
		s.writeError(w, r, jujuerrors.NotValidf("empty url"))
		return
	}
	candidates := s.prober.Candidates(r.Context(), pageURL)
	if candidates == nil {
		candidates = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"likelyFeed": rss.IsLikelyFeedURL(pageURL),
	})
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	interval, err := s.store.GetPollingInterval(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pollingInterval": interval})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PollingInterval int `json:"pollingInterval"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Enforce minimum.
	if req.PollingInterval < database.MinPollingIntervalMinutes {
		req.PollingInterval = database.MinPollingIntervalMinutes
	}
	if err := s.store.SetSetting(r.Context(), model.SettingPollingInterval, strconv.Itoa(req.PollingInterval)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pollingInterval": req.PollingInterval})
}

// --- OPML ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("opml")
	if err != nil {
		s.writeError(w, r, jujuerrors.NotValidf("opml upload (%v)", err))
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		s.writeError(w, r, jujuerrors.NotValidf("opml document (%v)", err))
		return
	}
	summary, err := s.coord.Import(r.Context(), entries)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var ungrouped []model.Feed
	for _, f := range feeds {
		if f.GroupID == nil {
			ungrouped = append(ungrouped, f)
		}
	}

	data, err := opml.Export("feedhub subscriptions", groups, ungrouped, time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=feedhub-feeds.opml")
	w.Write(data)
}
