package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	statementRowsTotal    *prometheus.CounterVec
	reconcileLinksTotal   *prometheus.CounterVec
	reconcileLatency      prometheus.Histogram
	feesGeneratedTotal    *prometheus.CounterVec
	feeStatusUpdatesTotal prometheus.Counter
	paymentsTotal         *prometheus.CounterVec
	reportCacheTotal      *prometheus.CounterVec
	assistantToolsTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		statementRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statement_rows_imported_total",
			Help: "Statement rows processed by imports, by outcome.",
		}, []string{"outcome"})

		reconcileLinksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_links_total",
			Help: "Statement rows linked to guardians, by pass.",
		}, []string{"pass"})

		reconcileLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciliation_duration_seconds",
			Help:    "Duration of reconciliation runs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		})

		feesGeneratedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fees_generated_total",
			Help: "Fee generation attempts, by outcome.",
		}, []string{"outcome"})

		feeStatusUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fee_status_updates_total",
			Help: "Stored fee statuses rewritten by the refresh job.",
		})

		paymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_registered_total",
			Help: "Payments registered, by type and source.",
		}, []string{"type", "source"})

		reportCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_cache_total",
			Help: "Financial report cache lookups, by result.",
		}, []string{"result"})

		assistantToolsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_tool_calls_total",
			Help: "Assistant tool invocations, by tool and outcome.",
		}, []string{"tool", "outcome"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			statementRowsTotal, reconcileLinksTotal, reconcileLatency,
			feesGeneratedTotal, feeStatusUpdatesTotal, paymentsTotal,
			reportCacheTotal, assistantToolsTotal,
		)
	})
}

// MetricsHandler serves the Prometheus scrape endpoint. Collectors are registered first so
// a scrape before any traffic still lists every series family.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.Handler())
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// StatementRows counts imported statement rows.
func StatementRows() *prometheus.CounterVec {
	RegisterMetrics()
	return statementRowsTotal
}

// ReconciliationLinks counts guardian links written by reconciliation.
func ReconciliationLinks() *prometheus.CounterVec {
	RegisterMetrics()
	return reconcileLinksTotal
}

// ReconciliationLatency observes reconciliation run durations.
func ReconciliationLatency() prometheus.Histogram {
	RegisterMetrics()
	return reconcileLatency
}

// FeesGenerated counts fee generation outcomes.
func FeesGenerated() *prometheus.CounterVec {
	RegisterMetrics()
	return feesGeneratedTotal
}

// FeeStatusUpdates counts stored status snapshots rewritten by the refresh job.
func FeeStatusUpdates() prometheus.Counter {
	RegisterMetrics()
	return feeStatusUpdatesTotal
}

// PaymentsRegistered counts registered payments.
func PaymentsRegistered() *prometheus.CounterVec {
	RegisterMetrics()
	return paymentsTotal
}

// ReportCache counts report cache hits and misses.
func ReportCache() *prometheus.CounterVec {
	RegisterMetrics()
	return reportCacheTotal
}

// AssistantToolCalls counts assistant tool invocations.
func AssistantToolCalls() *prometheus.CounterVec {
	RegisterMetrics()
	return assistantToolsTotal
}
