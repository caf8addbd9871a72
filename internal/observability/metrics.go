package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	apiRequestsTotal    *prometheus.CounterVec
	apiLatencySeconds   *prometheus.HistogramVec
	apiErrorsTotal      *prometheus.CounterVec
	evaluationsTotal    *prometheus.CounterVec
	gradePassbackTotal  *prometheus.CounterVec
	submissionsTotal    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamba_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lamba_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamba_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamba_evaluations_total",
			Help: "Submissions run through the external grader, by result.",
		}, []string{"result"})

		gradePassbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamba_grade_passback_total",
			Help: "Grade passback attempts to Moodle, by result.",
		}, []string{"result"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lamba_submissions_total",
			Help: "Accepted submission uploads, by activity type.",
		}, []string{"activity_type"})

		prometheus.MustRegister(apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			evaluationsTotal, gradePassbackTotal, submissionsTotal)
	})
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

// Evaluations exposes the counter for grader runs.
func Evaluations() *prometheus.CounterVec {
	RegisterMetrics()
	return evaluationsTotal
}

// GradePassbacks exposes the counter for Moodle passback attempts.
func GradePassbacks() *prometheus.CounterVec {
	RegisterMetrics()
	return gradePassbackTotal
}

// Submissions exposes the counter for accepted uploads.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}
