// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Row outcomes recorded by ObserveRow.
const (
	OutcomeDispatched = "dispatched"
	OutcomeSkipped    = "skipped"
	OutcomeUnassigned = "unassigned"
	OutcomeNoImage    = "no_image"
	OutcomeMalformed  = "malformed"
	OutcomeError      = "error"
)

var (
	rowsTotal                  *prometheus.CounterVec
	submissionsTotal           prometheus.Counter
	submitFailuresTotal        prometheus.Counter
	backlogJobs                prometheus.Gauge
	admissionWaitSeconds       prometheus.Histogram
	checkpointRow              prometheus.Gauge
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_rows_total",
				Help: "Manifest rows handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		submissionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_submissions_total",
				Help: "Remote export jobs accepted.",
			},
		)

		submitFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_submit_failures_total",
				Help: "Remote export submissions that returned an error.",
			},
		)

		backlogJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_backlog_jobs",
				Help: "Export jobs currently tracked as pending.",
			},
		)

		admissionWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_admission_wait_seconds",
				Help:    "Time spent waiting for the export admission permit.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		checkpointRow = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_checkpoint_row",
				Help: "Last row index written to the checkpoint store.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a row.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRow counts one handled row.
func ObserveRow(outcome string) {
	Init()
	rowsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSubmission records the result of one export submission.
func ObserveSubmission(err error) {
	Init()
	if err != nil {
		submitFailuresTotal.Inc()
		return
	}
	submissionsTotal.Inc()
}

// SetBacklog publishes the current backlog size.
func SetBacklog(n int) {
	Init()
	backlogJobs.Set(float64(n))
}

// ObserveAdmissionWait records how long a submission waited for the permit.
func ObserveAdmissionWait(d time.Duration) {
	Init()
	admissionWaitSeconds.Observe(d.Seconds())
}

// SetCheckpoint publishes the last saved row.
func SetCheckpoint(row int) {
	Init()
	checkpointRow.Set(float64(row))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
