package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Fetch / source metrics ─────────────────────────────────────────────

var (
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "fetch",
		Name:      "total",
		Help:      "Total number of snapshot fetch attempts per source.",
	}, []string{"source", "status"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Duration of snapshot fetch per source in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"source"})

	FetchLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "fetch",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful fetch per source.",
	}, []string{"source"})

	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream API calls by endpoint and outcome.",
	}, []string{"endpoint", "status"})

	SkippedTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "upstream",
		Name:      "skipped_tokens_total",
		Help:      "Malformed token records skipped during accumulation.",
	})
)

// ── Report delivery metrics ────────────────────────────────────────────

var (
	ReportsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "reports",
		Name:      "sent_total",
		Help:      "Total reports successfully delivered.",
	}, []string{"source"})

	ReportsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "reports",
		Name:      "failed_total",
		Help:      "Total report delivery failures.",
	}, []string{"source"})

	ReportsDeduplicatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "reports",
		Name:      "deduplicated_total",
		Help:      "Total reports suppressed because they were already sent.",
	}, []string{"source"})

	BotCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "telegram",
		Name:      "commands_total",
		Help:      "Bot commands received by command name.",
	}, []string{"command"})
)

// ── Business metrics ───────────────────────────────────────────────────

var (
	MetricValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "portfolio_reporter",
		Subsystem: "business",
		Name:      "metric_value",
		Help:      "Current value of a tracked snapshot metric.",
	}, []string{"source", "metric_name"})
)
