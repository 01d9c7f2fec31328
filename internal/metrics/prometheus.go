package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiwatch_evaluation_passes_total",
			Help: "Total number of evaluation passes",
		},
		[]string{"entry", "status"}, // status: ok, partial, cancelled
	)

	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wifiwatch_evaluation_pass_duration_seconds",
			Help:    "Evaluation pass latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"entry"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiwatch_alerts_total",
			Help: "Total number of alerts appended to the ledger",
		},
		[]string{"kind"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiwatch_alerts_suppressed_total",
			Help: "Alerts dropped by the repeat cooldown",
		},
		[]string{"kind"},
	)

	RuleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiwatch_rule_errors_total",
			Help: "Rule evaluations that failed",
		},
		[]string{"rule"},
	)

	// Ingest
	MeasurementsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiwatch_measurements_ingested_total",
			Help: "Measurements received by ingest sources",
		},
		[]string{"source", "status"}, // status: accepted, rejected, duplicate
	)

	MeasurementBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wifiwatch_measurement_batch_size",
			Help:    "Size of measurement batches written to storage",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	StoreWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wifiwatch_store_write_errors_total",
			Help: "Measurement batches that failed to persist",
		},
	)

	// Notify
	NotifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiwatch_notify_failures_total",
			Help: "Alert notifications that could not be delivered",
		},
		[]string{"sink"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifiwatch_websocket_clients",
			Help: "Connected live alert clients",
		},
	)

	// Maintenance
	PrunedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiwatch_pruned_rows_total",
			Help: "Rows removed by retention",
		},
		[]string{"table"},
	)
)
