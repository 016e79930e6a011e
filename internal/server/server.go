// Package server provides the HTTP API and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jujuerrors "github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryan-buckman/feedhub/internal/database"
	"github.com/bryan-buckman/feedhub/internal/ingest"
	"github.com/bryan-buckman/feedhub/internal/logger"
	"github.com/bryan-buckman/feedhub/internal/rss"
)

// maxUploadBytes bounds OPML uploads.
const maxUploadBytes = 5 << 20

// Config wires the server to its collaborators.
type Config struct {
	Store       database.Store
	Coordinator *ingest.Coordinator
	Prober      *rss.Prober
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// RefreshTimeout bounds a refresh-all request.
	RefreshTimeout time.Duration
}

// Server is the main HTTP server.
type Server struct {
	store          database.Store
	coord          *ingest.Coordinator
	prober         *rss.Prober
	gatherer       prometheus.Gatherer
	log            *slog.Logger
	refreshTimeout time.Duration
	router         chi.Router
	httpServer     *http.Server
}

// New creates a new server.
func New(cfg Config) *Server {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 5 * time.Minute
	}
	s := &Server{
		store:          cfg.Store,
		coord:          cfg.Coordinator,
		prober:         cfg.Prober,
		gatherer:       cfg.Gatherer,
		log:            logger.OrDiscard(cfg.Logger),
		refreshTimeout: cfg.RefreshTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", s.handleListFeeds)
			r.Post("/", s.handleAddFeed)
			r.Get("/{feedID}", s.handleGetFeed)
			r.Delete("/{feedID}", s.handleDeleteFeed)
			r.Post("/{feedID}/refresh", s.handleRefreshFeed)
			r.Put("/{feedID}/group", s.handleSetFeedGroup)
		})
		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.handleListArticles)
			r.Get("/{articleID}", s.handleGetArticle)
			r.Patch("/{articleID}", s.handleUpdateArticle)
		})
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)
			r.Patch("/{groupID}", s.handleUpdateGroup)
			r.Delete("/{groupID}", s.handleDeleteGroup)
		})
		r.Get("/discover", s.handleDiscover)
		r.Post("/refresh", s.handleRefreshAll)
		r.Post("/mark-read", s.handleMarkRead)
		r.Post("/cleanup", s.handleCleanup)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("server starting", "addr", addr, "database", s.store.DatabaseType())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

// writeError maps error categories onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case jujuerrors.Is(err, jujuerrors.NotValid):
		code = http.StatusBadRequest
	case jujuerrors.Is(err, jujuerrors.NotFound):
		code = http.StatusNotFound
	case jujuerrors.Is(err, jujuerrors.AlreadyExists):
		code = http.StatusConflict
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return jujuerrors.NotValidf("request body (%v)", err)
	}
	return nil
}

// resultResponse is the wire form of an ingestion result.
type resultResponse struct {
	*ingest.Result
	Error string `json:"error,omitempty"`
}

func newResultResponse(res *ingest.Result) resultResponse {
	out := resultResponse{Result: res}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// parseReadStatus maps readStatus=read|unread|all onto a filter value.
func parseReadStatus(v string) (*bool, error) {
	switch v {
	case "", "all":
		return nil, nil
	case "read", "unread":
		read := v == "read"
		return &read, nil
	}
	return nil, jujuerrors.NotValidf("readStatus %q", v)
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, jujuerrors.NotValidf("limit %q", v)
	}
	return n, nil
}

func optionalString(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
