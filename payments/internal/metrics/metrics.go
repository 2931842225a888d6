package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger provider metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_ledger_provider_requests_total",
			Help: "Total number of ledger provider requests",
		},
		[]string{"provider", "status"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paywatch_ledger_provider_duration_seconds",
			Help:    "Duration of ledger provider requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	FetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paywatch_ledger_fetch_failures_total",
			Help: "Total number of fetches where every provider failed",
		},
	)

	// Confirmation metrics
	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_confirmation_outcomes_total",
			Help: "Total number of processed candidates by watcher and outcome",
		},
		[]string{"watcher", "outcome"},
	)

	FraudScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paywatch_fraud_risk_score",
			Help:    "Distribution of fraud risk scores",
			Buckets: []float64{0, 0.1, 0.25, 0.4, 0.5, 0.6, 0.8, 1},
		},
	)

	// Monitor metrics
	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paywatch_active_monitors",
			Help: "Current number of running Active Monitors",
		},
	)

	MonitorTerminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_monitor_terminations_total",
			Help: "Total number of Active Monitors that ended, by final status",
		},
		[]string{"status"},
	)

	// Scanner metrics
	ScannerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_scanner_ticks_total",
			Help: "Total number of reconciliation passes",
		},
		[]string{"trigger"},
	)

	ScannerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paywatch_scanner_tick_duration_seconds",
			Help:    "Duration of reconciliation passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UntrackedPayments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_untracked_payments_total",
			Help: "Total number of untracked payments recorded",
		},
		[]string{"reason"},
	)

	// Notification metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paywatch_notifications_total",
			Help: "Total number of notifications delivered",
		},
		[]string{"channel", "kind", "status"},
	)

	// HTTP metrics
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paywatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
