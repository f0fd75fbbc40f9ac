// Package metrics exposes governance counters and histograms in Prometheus
// format from a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recoguard"

// scoreBuckets cover the 0-100 quality scale.
var scoreBuckets = prometheus.LinearBuckets(10, 10, 10)

// Metrics holds every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	// Governance
	Requests         *prometheus.CounterVec
	Degradations     *prometheus.CounterVec
	FallbackFailures prometheus.Counter
	QualityScores    *prometheus.HistogramVec
	RequestLatency   prometheus.Histogram
	StageLatency     *prometheus.HistogramVec
	Alerts           *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec

	// Spans and records
	SpansInFlight    prometheus.Gauge
	SpansReaped      prometheus.Counter
	Duplicates       *prometheus.CounterVec
	RecordsRetained  prometheus.Gauge
	RecordsPurged    prometheus.Counter
	SinkWrites       *prometheus.CounterVec
	ThresholdReloads *prometheus.CounterVec
	ThresholdVersion prometheus.Gauge

	// Bus
	BusEventsPublished *prometheus.CounterVec
	BusEventLatency    *prometheus.HistogramVec
	BusErrors          *prometheus.CounterVec
	BusEventsHandled   *prometheus.CounterVec
	BusHandleLatency   *prometheus.HistogramVec

	// HTTP
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
	HTTPRequestSize      *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates the metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Governed recommendation requests by final strategy.",
		}, []string{"strategy"}),
		Degradations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradations_total",
			Help:      "Requests degraded to a fallback list, by trigger.",
		}, []string{"reason"}),
		FallbackFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_failures_total",
			Help:      "Degradations where no fallback list could be produced.",
		}),
		QualityScores: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quality_score",
			Help:      "Final quality score per dimension.",
			Buckets:   scoreBuckets,
		}, []string{"dimension"}),
		RequestLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end recommendation latency as measured by the span tracker.",
			Buckets:   []float64{.025, .05, .1, .2, .3, .5, .75, 1, 1.5, 2, 3, 5},
		}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Per-stage recommendation latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .2, .5, 1, 2},
		}, []string{"stage"}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Threshold alerts raised.",
		}, []string{"severity", "metric"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),

		SpansInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spans_in_flight",
			Help:      "Spans started and not yet ended.",
		}),
		SpansReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_reaped_total",
			Help:      "Open spans discarded after exceeding the reap ceiling.",
		}),
		Duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Rejected duplicate spans and records.",
		}, []string{"kind"}),
		RecordsRetained: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_retained",
			Help:      "Records held by the monitoring store.",
		}),
		RecordsPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_purged_total",
			Help:      "Records dropped after the retention window.",
		}),
		SinkWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Durable sink writes by kind and result.",
		}, []string{"kind", "result"}),
		ThresholdReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_reloads_total",
			Help:      "Threshold reload attempts by result.",
		}, []string{"result"}),
		ThresholdVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_version",
			Help:      "Version of the active threshold set.",
		}),

		BusEventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Events published to the bus.",
		}, []string{"topic"}),
		BusEventLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_duration_seconds",
			Help:      "Bus publish latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		BusErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_errors_total",
			Help:      "Failed bus publishes.",
		}, []string{"topic"}),
		BusEventsHandled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_handled_total",
			Help:      "Events delivered to subscribers, by outcome.",
		}, []string{"topic", "outcome"}),
		BusHandleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_handler_duration_seconds",
			Help:      "Subscriber handler latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"topic"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request body size.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:          m.registry,
		EnableOpenMetrics: true,
	})
}

// RecordRequest counts one governed request.
func (m *Metrics) RecordRequest(strategy string, degraded bool, reason string) {
	m.Requests.WithLabelValues(strategy).Inc()
	if degraded {
		m.Degradations.WithLabelValues(reason).Inc()
	}
}

// RecordFallbackFailure counts a degradation without a usable fallback.
func (m *Metrics) RecordFallbackFailure() {
	m.FallbackFailures.Inc()
}

// RecordScore observes one final dimension score.
func (m *Metrics) RecordScore(dimension string, value float64) {
	m.QualityScores.WithLabelValues(dimension).Observe(value)
}

// RecordLatency observes a sealed span. Values are milliseconds.
func (m *Metrics) RecordLatency(totalMs float64, stages map[string]float64) {
	m.RequestLatency.Observe(totalMs / 1000)
	for stage, ms := range stages {
		m.StageLatency.WithLabelValues(stage).Observe(ms / 1000)
	}
}

// RecordAlert counts one alert.
func (m *Metrics) RecordAlert(severity, metric string) {
	m.Alerts.WithLabelValues(severity, metric).Inc()
}

// RecordBreakerState publishes a breaker state as 0 closed, 1 half-open, 2 open.
func (m *Metrics) RecordBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordDuplicate counts a rejected duplicate span or record.
func (m *Metrics) RecordDuplicate(kind string) {
	m.Duplicates.WithLabelValues(kind).Inc()
}

// RecordSpansReaped counts spans discarded by the reaper.
func (m *Metrics) RecordSpansReaped(n int) {
	m.SpansReaped.Add(float64(n))
}

// SetSpansInFlight publishes the open span count.
func (m *Metrics) SetSpansInFlight(n int) {
	m.SpansInFlight.Set(float64(n))
}

// SetRecordsRetained publishes the store size.
func (m *Metrics) SetRecordsRetained(n int) {
	m.RecordsRetained.Set(float64(n))
}

// RecordPurge counts records dropped by retention.
func (m *Metrics) RecordPurge(n int) {
	m.RecordsPurged.Add(float64(n))
}

// RecordSinkWrite counts a durable sink write.
func (m *Metrics) RecordSinkWrite(kind string, err error) {
	m.SinkWrites.WithLabelValues(kind, result(err)).Inc()
}

// RecordThresholdReload counts a reload attempt and tracks the active version.
func (m *Metrics) RecordThresholdReload(version uint64, err error) {
	m.ThresholdReloads.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.ThresholdVersion.Set(float64(version))
	}
}

// RecordBusPublish counts one publish attempt and its latency.
func (m *Metrics) RecordBusPublish(topic string, d time.Duration, err error) {
	m.BusEventsPublished.WithLabelValues(topic).Inc()
	m.BusEventLatency.WithLabelValues(topic).Observe(d.Seconds())
	if err != nil {
		m.BusErrors.WithLabelValues(topic).Inc()
	}
}

// RecordBusHandled counts one subscriber delivery.
func (m *Metrics) RecordBusHandled(topic string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BusEventsHandled.WithLabelValues(topic, outcome).Inc()
	m.BusHandleLatency.WithLabelValues(topic).Observe(d.Seconds())
}

// RecordHTTP records HTTP request metrics.
// This is called by the HTTP middleware.
func (m *Metrics) RecordHTTP(method, path string, status int, durationSeconds float64, sizeBytes int64) {
	m.HTTPRequests.WithLabelValues(method, path, statusCode(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)

	if sizeBytes > 0 {
		m.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(sizeBytes))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
