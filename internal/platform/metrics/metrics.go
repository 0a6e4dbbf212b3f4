package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the playout orchestrator.
// Every method is safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          *prometheus.CounterVec
	errorsTotal            prometheus.Counter
	timelineBuildsTotal    prometheus.Counter
	rundownFailuresTotal   prometheus.Counter
	transformFailuresTotal prometheus.Counter
	operationsTotal        *prometheus.CounterVec
	operationTimeoutsTotal *prometheus.CounterVec
	operationWaitSeconds   prometheus.Histogram
	activePlaylists        prometheus.Gauge
}

// New creates and registers Prometheus metrics for the orchestrator.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_requests_total",
		Help: "Total number of HTTP requests received, by method and route pattern",
	}, []string{"method", "route"})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playout_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	timelineBuildsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playout_timeline_builds_total",
		Help: "Total number of studio timelines generated",
	})
	rundownFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playout_rundown_build_failures_total",
		Help: "Rundowns that failed to contribute to a timeline build",
	})
	transformFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playout_timeline_transform_failures_total",
		Help: "Timeline transform hook failures",
	})
	operationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_operations_total",
		Help: "Playout operations by name and outcome",
	}, []string{"operation", "outcome"})
	operationTimeoutsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_operation_timeouts_total",
		Help: "Operations that held their key past the job timeout",
	}, []string{"operation"})
	operationWaitSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "playout_operation_wait_seconds",
		Help:    "Time operations spent queued before acquiring their key",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
	activePlaylists := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playout_active_playlists",
		Help: "Number of activated playlists",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		timelineBuildsTotal,
		rundownFailuresTotal,
		transformFailuresTotal,
		operationsTotal,
		operationTimeoutsTotal,
		operationWaitSeconds,
		activePlaylists,
	)

	return &Metrics{
		registry:               registry,
		requestsTotal:          requestsTotal,
		errorsTotal:            errorsTotal,
		timelineBuildsTotal:    timelineBuildsTotal,
		rundownFailuresTotal:   rundownFailuresTotal,
		transformFailuresTotal: transformFailuresTotal,
		operationsTotal:        operationsTotal,
		operationTimeoutsTotal: operationTimeoutsTotal,
		operationWaitSeconds:   operationWaitSeconds,
		activePlaylists:        activePlaylists,
	}
}

// IncRequests increments the request counter of a route.
func (m *Metrics) IncRequests(method, route string) {
	if m != nil {
		m.requestsTotal.WithLabelValues(method, route).Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// IncTimelineBuilds counts one generated studio timeline.
func (m *Metrics) IncTimelineBuilds() {
	if m != nil {
		m.timelineBuildsTotal.Inc()
	}
}

// IncRundownFailures counts a rundown dropped from a timeline build.
func (m *Metrics) IncRundownFailures() {
	if m != nil {
		m.rundownFailuresTotal.Inc()
	}
}

// IncTransformFailures counts a failed transform hook call.
func (m *Metrics) IncTransformFailures() {
	if m != nil {
		m.transformFailuresTotal.Inc()
	}
}

// ObserveOperation records the outcome of a finished operation.
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m != nil {
		m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	}
}

// IncOperationTimeouts counts an operation that overran the job timeout.
func (m *Metrics) IncOperationTimeouts(operation string) {
	if m != nil {
		m.operationTimeoutsTotal.WithLabelValues(operation).Inc()
	}
}

// ObserveWait records how long an operation waited for its key.
func (m *Metrics) ObserveWait(d time.Duration) {
	if m != nil {
		m.operationWaitSeconds.Observe(d.Seconds())
	}
}

// SetActivePlaylists sets the active playlists gauge.
func (m *Metrics) SetActivePlaylists(n int) {
	if m != nil {
		m.activePlaylists.Set(float64(n))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active playlists).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
