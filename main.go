// Command feedhub serves the feed ingestion API and polls subscribed feeds.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bryan-buckman/feedhub/internal/config"
	"github.com/bryan-buckman/feedhub/internal/database"
	"github.com/bryan-buckman/feedhub/internal/ingest"
	"github.com/bryan-buckman/feedhub/internal/logger"
	"github.com/bryan-buckman/feedhub/internal/metrics"
	"github.com/bryan-buckman/feedhub/internal/rss"
	"github.com/bryan-buckman/feedhub/internal/server"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML configuration file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err := run(cfg, log); err != nil {
		log.Error("feedhub stopped", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg config.DatabaseConfig) (database.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return database.NewPostgres(cfg.DSN)
	default:
		return database.New(cfg.Path)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	fetchCfg := rss.ConfigFromSettings(cfg.Fetch)
	fetchCfg.Client = &http.Client{}
	fetchCfg.Metrics = m
	fetchCfg.Logger = log.With("component", "fetcher")

	coord := ingest.New(ingest.Config{
		Store:       store,
		Source:      rss.NewFetcher(fetchCfg),
		Normalizer:  rss.Normalizer{BackfillPubDate: cfg.Ingest.BackfillPubDate},
		Metrics:     m,
		Logger:      log.With("component", "ingest"),
		Concurrency: cfg.Ingest.Concurrency,
	})

	var poller *ingest.Poller
	if cfg.Ingest.PollerEnabled {
		poller = ingest.NewPoller(coord, cfg.Ingest.RefreshTimeout)
		poller.Start(ctx)
	}

	srv := server.New(server.Config{
		Store:          store,
		Coordinator:    coord,
		Prober:         rss.NewProber(fetchCfg),
		Gatherer:       reg,
		Logger:         log.With("component", "server"),
		RefreshTimeout: cfg.Ingest.RefreshTimeout,
	})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(cfg.Server.Addr) }()

	select {
	case err = <-errc:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error("server shutdown", "error", serr)
	}
	if poller != nil {
		poller.Stop()
	}
	return err
}
