// Package metrics exposes Prometheus instruments for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "feedhub"

// Metrics holds the ingestion collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	IngestTotal     *prometheus.CounterVec
	FetchAttempts   *prometheus.CounterVec
	ArticlesWritten prometheus.Counter
	ArticlesSkipped prometheus.Counter
	IngestDuration  prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Feed ingestions by mode (create, refresh) and final status.",
		}, []string{"mode", "status"}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Individual fetch attempts by outcome.",
		}, []string{"outcome"}),
		ArticlesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_written_total",
			Help:      "Articles upserted by ingestion.",
		}),
		ArticlesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_skipped_total",
			Help:      "Articles skipped because their write failed.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of one feed ingestion.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	reg.MustRegister(m.IngestTotal, m.FetchAttempts, m.ArticlesWritten, m.ArticlesSkipped, m.IngestDuration)
	return m
}

// FetchAttempt counts one fetch attempt; outcome is "ok" or "error".
func (m *Metrics) FetchAttempt(outcome string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(outcome).Inc()
}

// Ingested records the outcome of one feed ingestion.
func (m *Metrics) Ingested(mode, status string, written, skipped int, took time.Duration) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(mode, status).Inc()
	m.ArticlesWritten.Add(float64(written))
	m.ArticlesSkipped.Add(float64(skipped))
	m.IngestDuration.Observe(took.Seconds())
}
