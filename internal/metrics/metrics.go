// Package metrics: Prometheus-метрики синхронизации архива, live-опроса, прогноза Yr и наборов данных.
//
// Метрики регистрируются в prometheus.DefaultRegisterer и отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncCycles считает циклы синхронизации по режиму и результату
	// (ok, unavailable, schema, error).
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_sync_cycles_total",
			Help: "Archive synchronization cycles by mode and result",
		},
		[]string{"mode", "result"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_sync_duration_seconds",
			Help:    "Duration of archive synchronization cycles",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	SyncRowsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_sync_rows_merged_total",
			Help: "Archive rows merged into dataset buffers",
		},
		[]string{"mode"},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_sync_last_success_timestamp",
			Help: "Unix time of the last successful archive synchronization",
		},
	)

	SyncBusyRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_sync_triggers_rejected_total",
			Help: "Sync triggers rejected because a cycle was already running",
		},
	)

	// BreakerState: 0=closed, 1=half-open, 2=open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archive_circuit_breaker_state",
			Help: "Archive source circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	ArchiveRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_request_duration_seconds",
			Help:    "Archive HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format", "status"},
	)

	DatasetLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dataset_points",
			Help: "Number of points stored per dataset",
		},
		[]string{"kind", "source", "name"},
	)

	LivePoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_points_total",
			Help: "Live socket readings by outcome (forwarded, suppressed, error)",
		},
		[]string{"kind", "outcome"},
	)

	// YrRequests считает запросы прогноза по точке и HTTP-статусу ("error": сбой транспорта).
	YrRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yr_forecast_requests_total",
			Help: "Yr forecast requests by location and status",
		},
		[]string{"location", "status"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients_active",
			Help: "Connected completion event subscribers",
		},
	)
)
