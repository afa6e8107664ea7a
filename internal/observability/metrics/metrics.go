package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "billing_"

	resultSuccess = "success"
	resultError   = "error"

	dispatchSent   = "sent"
	dispatchRetry  = "retry"
	dispatchFailed = "failed"

	cacheHit  = "hit"
	cacheMiss = "miss"
)

var (
	registerOnce sync.Once

	ordersClassified *prometheus.CounterVec
	processLatency   *prometheus.HistogramVec
	processErrors    *prometheus.CounterVec

	outboxPublishTotal   *prometheus.CounterVec
	outboxPublishLatency *prometheus.HistogramVec
	dispatchResults      *prometheus.CounterVec
	consumerLag          *prometheus.GaugeVec

	rolloverCycles *prometheus.CounterVec

	statementExportTotal   *prometheus.CounterVec
	statementExportLatency *prometheus.HistogramVec

	integrityAlerts     *prometheus.CounterVec
	subscriptionLookups *prometheus.CounterVec
)

// Init registers billing metrics and DB-backed gauges.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		ordersClassified = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "orders_classified_total",
				Help: "Delivered orders classified by outcome",
			},
			[]string{"type"},
		)
		processLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "process_latency_seconds",
				Help:    "Order processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		processErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "process_errors_total",
				Help: "Order processing failures by error code",
			},
			[]string{"code"},
		)

		outboxPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_publish_total",
				Help: "Outbox publish operations by result",
			},
			[]string{"result"},
		)
		outboxPublishLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_publish_latency_seconds",
				Help:    "Outbox publish latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		dispatchResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_results_total",
				Help: "Outbox dispatch outcomes",
			},
			[]string{"result"},
		)
		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		rolloverCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rollover_cycles_total",
				Help: "Cycles handled by rollover runs by result",
			},
			[]string{"result"},
		)

		statementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total statement export operations by format and result",
			},
			[]string{"format", "result"},
		)
		statementExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_export_latency_seconds",
				Help:    "Statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		integrityAlerts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "integrity_alerts_total",
				Help: "Data integrity alerts raised by reason",
			},
			[]string{"reason"},
		)
		subscriptionLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "subscription_cache_total",
				Help: "Subscription cache lookups by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			ordersClassified,
			processLatency,
			processErrors,
			outboxPublishTotal,
			outboxPublishLatency,
			dispatchResults,
			consumerLag,
			rolloverCycles,
			statementExportTotal,
			statementExportLatency,
			integrityAlerts,
			subscriptionLookups,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncOrderClassified counts one classification outcome (FREE, OVERAGE, SKIPPED).
func IncOrderClassified(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if ordersClassified != nil {
		ordersClassified.WithLabelValues(kind).Inc()
	}
}

// ObserveProcess records order processing latency and result.
func ObserveProcess(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if processLatency != nil {
		processLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncProcessError counts a processing failure by error code.
func IncProcessError(code string) {
	if code == "" {
		code = "unknown"
	}
	if processErrors != nil {
		processErrors.WithLabelValues(code).Inc()
	}
}

// ObserveOutboxPublish records outbox publish latency and result.
func ObserveOutboxPublish(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if outboxPublishTotal != nil {
		outboxPublishTotal.WithLabelValues(result).Inc()
	}
	if outboxPublishLatency != nil {
		outboxPublishLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncDispatch counts an outbox dispatch outcome.
func IncDispatch(result string) {
	if result == "" {
		result = "unknown"
	}
	if dispatchResults != nil {
		dispatchResults.WithLabelValues(result).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// IncRollover counts a cycle handled by the rollover job.
func IncRollover(result string) {
	if result == "" {
		result = "unknown"
	}
	if rolloverCycles != nil {
		rolloverCycles.WithLabelValues(result).Inc()
	}
}

// ObserveStatementExport records export latency and result.
func ObserveStatementExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if statementExportTotal != nil {
		statementExportTotal.WithLabelValues(format, result).Inc()
	}
	if statementExportLatency != nil {
		statementExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncIntegrityAlert counts an integrity alert.
func IncIntegrityAlert(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if integrityAlerts != nil {
		integrityAlerts.WithLabelValues(reason).Inc()
	}
}

// IncSubscriptionLookup counts a cache hit or miss.
func IncSubscriptionLookup(hit bool) {
	result := cacheMiss
	if hit {
		result = cacheHit
	}
	if subscriptionLookups != nil {
		subscriptionLookups.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	DispatchSent   = dispatchSent
	DispatchRetry  = dispatchRetry
	DispatchFailed = dispatchFailed

	RolloverClosed  = "closed"
	RolloverSkipped = "skipped"
	RolloverFailed  = "failed"
)
