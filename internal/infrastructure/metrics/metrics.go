// Package metrics exposes the bridge's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/busroute-hub/stopfinder-bridge/internal/application/coordinator"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/scheduler"
)

const namespace = "stopfinder"

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RefreshCycles    *prometheus.CounterVec
	RefreshDuration  *prometheus.HistogramVec
	RefreshAttempts  prometheus.Histogram
	RefreshDropped   prometheus.Counter
	LastSuccess      prometheus.Gauge
	PublishedCounts  *prometheus.GaugeVec
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	JobRuns          *prometheus.CounterVec
	EventsHandled    *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New creates and registers the collectors, plus the Go and process
// collectors.
func New(version string) *Metrics {
	constLabels := prometheus.Labels{"version": version}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RefreshCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles by terminal phase and error kind.",
		}, []string{"phase", "error_kind"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh cycles.",
			Buckets:   latencyBuckets,
		}, []string{"phase"}),
		RefreshAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_attempts",
			Help:      "Upstream attempts per refresh cycle.",
			Buckets:   []float64{1, 2},
		}),
		RefreshDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_dropped_total",
			Help:      "Refresh triggers dropped because a cycle was in flight.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last published schedule.",
			ConstLabels: constLabels,
		}),
		PublishedCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "published_records",
			Help:      "Records in the last published schedule.",
		}, []string{"kind"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests to the Stopfinder API by endpoint and status.",
		}, []string{"endpoint", "status"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of Stopfinder API requests.",
			Buckets:   latencyBuckets,
		}, []string{"endpoint"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduler job executions.",
		}, []string{"job", "result", "trigger"}),
		EventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Event handler executions.",
		}, []string{"event_type", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Requests served by the status API.",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RefreshCycles,
		m.RefreshDuration,
		m.RefreshAttempts,
		m.RefreshDropped,
		m.LastSuccess,
		m.PublishedCounts,
		m.UpstreamRequests,
		m.UpstreamLatency,
		m.JobRuns,
		m.EventsHandled,
		m.HTTPRequests,
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordCycle implements coordinator.Metrics.
func (m *Metrics) RecordCycle(phase coordinator.Phase, kind shared.ErrorKind, attempts int, duration time.Duration) {
	m.RefreshCycles.WithLabelValues(phase.String(), kind.String()).Inc()
	m.RefreshDuration.WithLabelValues(phase.String()).Observe(duration.Seconds())
	if attempts > 0 {
		m.RefreshAttempts.Observe(float64(attempts))
	}
}

// RecordPublished implements coordinator.Metrics.
func (m *Metrics) RecordPublished(students, trips, rejected int, at time.Time) {
	m.LastSuccess.Set(float64(at.Unix()))
	m.PublishedCounts.WithLabelValues("students").Set(float64(students))
	m.PublishedCounts.WithLabelValues("trips").Set(float64(trips))
	m.PublishedCounts.WithLabelValues("rejected").Set(float64(rejected))
}

// RecordDropped implements coordinator.Metrics.
func (m *Metrics) RecordDropped() {
	m.RefreshDropped.Inc()
}

// ObserveRequest implements stopfinder.RequestObserver. Status 0 is reported
// as "error".
func (m *Metrics) ObserveRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequests.WithLabelValues(endpoint, label).Inc()
	m.UpstreamLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveJob is a scheduler completion hook.
func (m *Metrics) ObserveJob(result scheduler.JobResult) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	trigger := "schedule"
	if result.Manual {
		trigger = "manual"
	}
	m.JobRuns.WithLabelValues(result.JobName, outcome, trigger).Inc()
}

// ObserveEvent implements messaging.HandlerObserver.
func (m *Metrics) ObserveEvent(eventType string, _ time.Duration, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.EventsHandled.WithLabelValues(eventType, result).Inc()
}

// ObserveHTTP counts a served API request.
func (m *Metrics) ObserveHTTP(method, route string, status int) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
