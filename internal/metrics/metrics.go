// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesScrapedTotal   *prometheus.CounterVec
	scrapeFailuresTotal *prometheus.CounterVec
	urlsDiscoveredTotal *prometheus.CounterVec
	claimBatchSize      prometheus.Histogram
	indexVectors        prometheus.Gauge
	indexTombstones     prometheus.Gauge
	searchDuration      prometheus.Histogram
	activeWorkers       prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		pagesScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zeroweb_pages_scraped_total",
				Help: "Pages scraped, labeled by domain.",
			},
			[]string{"domain"},
		)
		scrapeFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zeroweb_scrape_failures_total",
				Help: "Scrape failures, labeled by domain and kind (fetch, store).",
			},
			[]string{"domain", "kind"},
		)
		urlsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zeroweb_urls_discovered_total",
				Help: "Candidate URLs discovered, labeled by domain and strategy.",
			},
			[]string{"domain", "strategy"},
		)
		claimBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zeroweb_claim_batch_size",
				Help:    "Rows returned per claim batch.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		)
		indexVectors = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "zeroweb_index_vectors",
				Help: "Vectors currently live in the index (tombstones excluded).",
			},
		)
		indexTombstones = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "zeroweb_index_tombstones",
				Help: "Tombstoned entries awaiting a rebuild.",
			},
		)
		searchDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zeroweb_search_duration_seconds",
				Help:    "Latency of vector searches.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "zeroweb_active_workers",
				Help: "Scrape workers currently running.",
			},
		)
	})
}

// PageScraped increments the scraped-pages counter for a domain.
func PageScraped(domain string) {
	if pagesScrapedTotal != nil {
		pagesScrapedTotal.WithLabelValues(domain).Inc()
	}
}

// ScrapeFailed increments the failure counter.
func ScrapeFailed(domain, kind string) {
	if scrapeFailuresTotal != nil {
		scrapeFailuresTotal.WithLabelValues(domain, kind).Inc()
	}
}

// URLsDiscovered adds to the discovery counter.
func URLsDiscovered(domain, strategy string, n int) {
	if urlsDiscoveredTotal != nil {
		urlsDiscoveredTotal.WithLabelValues(domain, strategy).Add(float64(n))
	}
}

// ObserveClaimBatch records the size of a claim batch.
func ObserveClaimBatch(n int) {
	if claimBatchSize != nil {
		claimBatchSize.Observe(float64(n))
	}
}

// SetIndexSize records live vector and tombstone counts.
func SetIndexSize(live, tombstones int) {
	if indexVectors != nil {
		indexVectors.Set(float64(live))
	}
	if indexTombstones != nil {
		indexTombstones.Set(float64(tombstones))
	}
}

// ObserveSearch records the latency of one search call.
func ObserveSearch(d time.Duration) {
	if searchDuration != nil {
		searchDuration.Observe(d.Seconds())
	}
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerStopped decrements the active worker gauge.
func WorkerStopped() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}
