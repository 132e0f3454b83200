package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	gradingRequestsTotal  *prometheus.CounterVec
	gradingLatencySeconds *prometheus.HistogramVec
	gradingErrorsTotal    *prometheus.CounterVec
	pairsEvaluatedTotal   *prometheus.CounterVec
	documentsGradedTotal  *prometheus.CounterVec
	leaderboardCacheTotal *prometheus.CounterVec
	progressEventsTotal   *prometheus.CounterVec
	progressSubscribers   prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the grading API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		gradingRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_requests_total",
			Help: "Total number of grading API requests served.",
		}, []string{"method", "route", "status"})

		gradingLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_latency_seconds",
			Help:    "Latency distribution for grading API requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"method", "route"})

		gradingErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_errors_total",
			Help: "Total number of error responses returned by grading endpoints.",
		}, []string{"method", "route", "status"})

		pairsEvaluatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_pairs_evaluated_total",
			Help: "Question/answer pairs evaluated, by outcome.",
		}, []string{"outcome"})

		documentsGradedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_documents_total",
			Help: "Student documents graded, by status.",
		}, []string{"status"})

		leaderboardCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_leaderboard_cache_total",
			Help: "Leaderboard cache lookups, by result.",
		}, []string{"result"})

		progressEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_progress_events_total",
			Help: "Progress events published, by type.",
		}, []string{"type"})

		progressSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grading_progress_subscribers",
			Help: "Currently connected progress subscribers.",
		})

		prometheus.MustRegister(
			gradingRequestsTotal,
			gradingLatencySeconds,
			gradingErrorsTotal,
			pairsEvaluatedTotal,
			documentsGradedTotal,
			leaderboardCacheTotal,
			progressEventsTotal,
			progressSubscribers,
		)
	})
}

// GradingRequests exposes the counter for grading API requests.
func GradingRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRequestsTotal
}

// GradingLatency exposes the latency histogram for grading API requests.
func GradingLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingLatencySeconds
}

// GradingErrors exposes the counter for grading error responses.
func GradingErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingErrorsTotal
}

// PairsEvaluated counts evaluated pairs labelled "judged", "proportional" or "fallback".
func PairsEvaluated() *prometheus.CounterVec {
	RegisterMetrics()
	return pairsEvaluatedTotal
}

// DocumentsGraded counts graded documents labelled "ok" or "error".
func DocumentsGraded() *prometheus.CounterVec {
	RegisterMetrics()
	return documentsGradedTotal
}

// LeaderboardCache counts leaderboard cache hits and misses.
func LeaderboardCache() *prometheus.CounterVec {
	RegisterMetrics()
	return leaderboardCacheTotal
}

// ProgressEvents counts published progress events.
func ProgressEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return progressEventsTotal
}

// ProgressSubscribers tracks connected progress subscribers.
func ProgressSubscribers() prometheus.Gauge {
	RegisterMetrics()
	return progressSubscribers
}
