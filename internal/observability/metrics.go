// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingest metrics
	EventsRecorded  prometheus.Counter
	EventsDuplicate prometheus.Counter
	EventsRejected  *prometheus.CounterVec

	// Scheduler metrics
	TasksEnqueued    prometheus.Counter
	TasksClaimed     prometheus.Counter
	TasksCompleted   prometheus.Counter
	TasksRescheduled prometheus.Counter
	TasksFailed      prometheus.Counter
	TasksByState     *prometheus.GaugeVec
	TaskProcessing   prometheus.Histogram

	// Gateway metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// Aggregation and decision metrics
	AggregationRuns    prometheus.Counter
	AggregationLatency prometheus.Histogram
	DecisionRuns       prometheus.Counter
	VerdictsEmitted    *prometheus.CounterVec

	// Database metrics
	DBQueryErrors *prometheus.CounterVec

	// Health metrics
	LastSuccessfulMeasurement prometheus.Gauge
	LastDecisionRun           prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_wallet_lab"
	}

	return &Metrics{
		// Ingest metrics
		EventsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_recorded_total",
			Help:      "Total number of buy events recorded",
		}),
		EventsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_duplicate_total",
			Help:      "Total number of duplicate buy events ignored",
		}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_rejected_total",
			Help:      "Total number of buy events rejected by reason",
		}, []string{"reason"}),

		// Scheduler metrics
		TasksEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_enqueued_total",
			Help:      "Total number of measurement tasks enqueued",
		}),
		TasksClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_claimed_total",
			Help:      "Total number of due tasks claimed by workers",
		}),
		TasksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed with a record",
		}),
		TasksRescheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_rescheduled_total",
			Help:      "Total number of transient-failure retries scheduled",
		}),
		TasksFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks failed terminally",
		}),
		TasksByState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_by_state",
			Help:      "Current number of measurement tasks per state",
		}, []string{"state"}),
		TaskProcessing: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_processing_seconds",
			Help:      "End-to-end task processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Gateway metrics
		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "provider_calls_total",
			Help:      "Total number of provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "provider_latency_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		// Aggregation and decision metrics
		AggregationRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "runs_total",
			Help:      "Total number of wallet aggregation runs",
		}),
		AggregationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "run_seconds",
			Help:      "Wallet aggregation run latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DecisionRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "runs_total",
			Help:      "Total number of decision engine runs",
		}),
		VerdictsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "verdicts_total",
			Help:      "Total number of verdicts emitted by action",
		}, []string{"action"}),

		// Database metrics
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors by operation",
		}, []string{"operation"}),

		// Health metrics
		LastSuccessfulMeasurement: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_measurement_timestamp",
			Help:      "Unix timestamp of the last completed measurement",
		}),
		LastDecisionRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_decision_run_timestamp",
			Help:      "Unix timestamp of the last decision engine run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
