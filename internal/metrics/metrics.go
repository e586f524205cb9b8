// Package metrics provides Prometheus metrics for the KPI widget
// backend. Scrape these at /metrics for Grafana dashboards and
// alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpi_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Refresh pipeline metrics
	RefreshesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_refreshes_started_total",
			Help: "Total number of refresh cycles started",
		},
	)

	RefreshesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_refreshes_dropped_total",
			Help: "Refresh requests dropped because one was already running",
		},
	)

	RefreshesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_refreshes_skipped_total",
			Help: "Refresh cycles skipped because the fingerprint was unchanged",
		},
	)

	RefreshesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_refreshes_failed_total",
			Help: "Refresh cycles that aborted before cards were built",
		},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kpi_refresh_duration_seconds",
			Help:    "Time taken by a full refresh cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	CardsRendered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kpi_cards_rendered",
			Help: "Number of cards produced by the last refresh",
		},
	)

	// Worksheet fetch metrics
	WorksheetFetchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_worksheet_fetches_total",
			Help: "Total number of worksheet table fetches",
		},
	)

	// Series cache metrics
	SeriesCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_series_cache_hits_total",
			Help: "Chart series cache lookups that found an entry",
		},
	)

	SeriesCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_series_cache_misses_total",
			Help: "Chart series cache lookups that found nothing",
		},
	)

	SeriesCacheStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_series_cache_stale_total",
			Help: "Cached series discarded because totals drifted past epsilon",
		},
	)

	// Change notification metrics
	ChangeNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_change_notifications_total",
			Help: "Data-changed notifications received from the source",
		},
	)

	ChangeNotificationsDebounced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_change_notifications_debounced_total",
			Help: "Notifications collapsed by the burst debounce",
		},
	)

	ChangeNotificationsSelfSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpi_change_notifications_self_suppressed_total",
			Help: "Notifications dropped because this widget's own filter writes caused them",
		},
	)
)
