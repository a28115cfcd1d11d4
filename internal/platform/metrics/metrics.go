// Package metrics exposes Prometheus instrumentation for the HTTP surface and
// the review pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labreview_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labreview_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Reference lookups
	lookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labreview_lookup_duration_seconds",
			Help:    "Reference store lookup duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		},
		[]string{"operation"},
	)

	lookupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labreview_lookup_failures_total",
			Help: "Reference store lookups that failed with an infrastructure error",
		},
		[]string{"operation"},
	)

	// Pipeline
	parametersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labreview_parameters_processed_total",
			Help: "Raw parameters processed, by resulting status",
		},
		[]string{"status"},
	)

	riskFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labreview_risk_flags_total",
			Help: "Risk flags produced, by risk level",
		},
		[]string{"risk_level"},
	)

	gateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labreview_gate_decisions_total",
			Help: "Review gate decisions, by result",
		},
		[]string{"gate_result"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "labreview_batch_duration_seconds",
			Help:    "End-to-end pipeline batch duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Audit log
	auditFlushSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "labreview_audit_flush_entries",
			Help:    "Audit entries written per flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	auditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labreview_audit_write_failures_total",
			Help: "Audit flushes that failed",
		},
	)
)

// Handler serves the Prometheus exposition format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Middleware records request count and latency keyed by the route pattern.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			status := strconv.Itoa(c.Response().Status)

			httpRequestsTotal.WithLabelValues(method, path, status).Inc()
			httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// ObserveLookup records one reference store call.
func ObserveLookup(operation string, d time.Duration, failed bool) {
	lookupDuration.WithLabelValues(operation).Observe(d.Seconds())
	if failed {
		lookupFailures.WithLabelValues(operation).Inc()
	}
}

// ParameterProcessed counts a parameter by its final status.
func ParameterProcessed(status string) {
	parametersProcessed.WithLabelValues(status).Inc()
}

// RiskFlagged counts a produced risk flag.
func RiskFlagged(level string) {
	riskFlags.WithLabelValues(level).Inc()
}

// GateDecided counts a review gate decision.
func GateDecided(result string) {
	gateDecisions.WithLabelValues(result).Inc()
}

// ObserveBatch records a completed batch.
func ObserveBatch(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}

// ObserveAuditFlush records one flush of n entries.
func ObserveAuditFlush(n int, failed bool) {
	if failed {
		auditWriteFailures.Inc()
		return
	}
	auditFlushSize.Observe(float64(n))
}
