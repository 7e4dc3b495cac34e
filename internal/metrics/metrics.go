// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsProcessedTotal  *prometheus.CounterVec
	itemsSavedTotal      *prometheus.CounterVec
	itemsDroppedTotal    *prometheus.CounterVec
	pagesCrawledTotal    *prometheus.CounterVec
	fetchRequestsTotal   *prometheus.CounterVec
	activeJobs           prometheus.Gauge
	rateLimitDelaySecs   *prometheus.HistogramVec
	stageDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		itemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmmp_items_processed_total",
				Help: "Total records entering the pipeline, labeled by kind.",
			},
			[]string{"kind"},
		)
		itemsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmmp_items_saved_total",
				Help: "Total records persisted, labeled by kind.",
			},
			[]string{"kind"},
		)
		itemsDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmmp_items_dropped_total",
				Help: "Total records dropped, labeled by drop reason.",
			},
			[]string{"reason"},
		)
		pagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmmp_pages_crawled_total",
				Help: "Total result pages visited, labeled by record kind.",
			},
			[]string{"kind"},
		)
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmmp_fetch_requests_total",
				Help: "Total fetches issued, labeled by mode (direct/headless) and outcome.",
			},
			[]string{"mode", "outcome"},
		)
		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pmmp_active_crawl_jobs",
				Help: "Number of crawl jobs currently running.",
			},
		)
		rateLimitDelaySecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pmmp_rate_limit_delay_seconds",
				Help:    "Histogram of politeness wait durations, labeled by target.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"target"},
		)
		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pmmp_pipeline_stage_seconds",
				Help:    "Histogram of per-stage processing time.",
				Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2},
			},
			[]string{"stage"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProcessed counts a record entering the pipeline.
func ObserveProcessed(kind string) {
	Init()
	itemsProcessedTotal.WithLabelValues(kind).Inc()
}

// ObserveSaved counts a persisted record.
func ObserveSaved(kind string) {
	Init()
	itemsSavedTotal.WithLabelValues(kind).Inc()
}

// ObserveDropped counts a dropped record by reason.
func ObserveDropped(reason string) {
	Init()
	itemsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObservePage counts a visited result page.
func ObservePage(kind string) {
	Init()
	pagesCrawledTotal.WithLabelValues(kind).Inc()
}

// ObserveFetch counts one fetch attempt.
func ObserveFetch(mode, outcome string) {
	Init()
	fetchRequestsTotal.WithLabelValues(mode, outcome).Inc()
}

// IncActiveJobs marks a crawl job as started.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs marks a crawl job as finished.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveRateLimitDelay records one politeness wait.
func ObserveRateLimitDelay(target string, d time.Duration) {
	Init()
	rateLimitDelaySecs.WithLabelValues(target).Observe(d.Seconds())
}

// ObserveStageDuration records one pipeline stage execution.
func ObserveStageDuration(stage string, d time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}
