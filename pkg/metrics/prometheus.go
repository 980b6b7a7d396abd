package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains all Prometheus metrics for the hearing processor
type Metrics struct {
	// Session metrics
	SessionsSubmitted prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionsActive    prometheus.Gauge
	SessionDuration   prometheus.Histogram

	// Stage metrics
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	// Audio chunking metrics
	ChunksGenerated prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates all metrics and registers them on a private registry so
// that several instances (tests) can coexist in one process.
func NewMetrics() *Metrics {
	m := &Metrics{
		SessionsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearing_sessions_submitted_total",
			Help: "Total number of processing sessions submitted",
		}),
		SessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearing_sessions_completed_total",
			Help: "Total number of sessions that completed successfully",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearing_sessions_failed_total",
			Help: "Total number of sessions that failed",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hearing_sessions_active",
			Help: "Current number of sessions being processed",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hearing_session_duration_seconds",
			Help:    "End-to-end pipeline duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hearing_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearing_stage_failures_total",
			Help: "Total number of stage failures",
		}, []string{"stage"}),

		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearing_provider_requests_total",
			Help: "Requests sent to external providers",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hearing_provider_duration_seconds",
			Help:    "Duration of external provider calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}, []string{"provider"}),

		ChunksGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearing_audio_chunks_generated_total",
			Help: "Total number of audio chunks produced for transcription",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearing_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hearing_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SessionsSubmitted, m.SessionsCompleted, m.SessionsFailed, m.SessionsActive, m.SessionDuration,
		m.StageDuration, m.StageFailures,
		m.ProviderRequests, m.ProviderDuration,
		m.ChunksGenerated,
		m.HTTPRequests, m.HTTPRequestDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordSessionSubmitted() {
	if m == nil {
		return
	}
	m.SessionsSubmitted.Inc()
}

func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionFinished decrements the active gauge and records the outcome
func (m *Metrics) RecordSessionFinished(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	if success {
		m.SessionsCompleted.Inc()
	} else {
		m.SessionsFailed.Inc()
	}
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionAbandoned counts a session that failed before a worker started it.
func (m *Metrics) RecordSessionAbandoned() {
	if m == nil {
		return
	}
	m.SessionsFailed.Inc()
}

func (m *Metrics) RecordStage(stage string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if err != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordProviderCall records one external call (speech-to-text, llm, calendar, fetch)
func (m *Metrics) RecordProviderCall(provider string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(durationSeconds)
}

func (m *Metrics) RecordChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksGenerated.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
