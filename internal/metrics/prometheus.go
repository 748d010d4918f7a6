package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the splitter. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Job metrics
	JobsSubmitted prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	ActiveJobs    prometheus.Gauge

	// Pipeline metrics
	StageDuration   *prometheus.HistogramVec
	SegmentsEmitted prometheus.Counter
	SegmentsDropped prometheus.Counter
	SegmentDuration prometheus.Histogram
	SourceDuration  prometheus.Histogram
	EncodedBytes    prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "marker_jobs_submitted_total",
			Help: "Total number of recordings submitted for splitting",
		}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marker_jobs_finished_total",
			Help: "Total number of finished jobs by final status",
		}, []string{"status"}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "marker_active_jobs",
			Help: "Current number of jobs being processed",
		}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marker_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4 minutes
		}, []string{"stage"}),
		SegmentsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "marker_segments_emitted_total",
			Help: "Total number of segments emitted by the detector",
		}),
		SegmentsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "marker_segments_dropped_total",
			Help: "Total number of candidate segments dropped below the minimum duration",
		}),
		SegmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marker_segment_duration_seconds",
			Help:    "Duration of emitted segments",
			Buckets: prometheus.LinearBuckets(1, 1, 15), // 1s to 15s
		}),
		SourceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marker_source_duration_seconds",
			Help:    "Duration of submitted recordings",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~85 minutes
		}),
		EncodedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "marker_encoded_bytes_total",
			Help: "Total number of WAV bytes produced for segments",
		}),

		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "marker_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "marker_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "marker_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marker_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		TranscriptionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "marker_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marker_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marker_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marker_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordJobSubmitted increments the submitted counter and the active gauge
func (m *Metrics) RecordJobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
	m.ActiveJobs.Inc()
}

// RecordJobFinished records a job leaving the active set with its status
func (m *Metrics) RecordJobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(status).Inc()
	m.ActiveJobs.Dec()
}

// ObserveStage records the time spent in a pipeline stage
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordSource records the duration of a decoded recording
func (m *Metrics) RecordSource(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceDuration.Observe(durationSeconds)
}

// RecordSegments records emitted segment durations and the dropped count
func (m *Metrics) RecordSegments(durations []float64, dropped int) {
	if m == nil {
		return
	}
	for _, d := range durations {
		m.SegmentsEmitted.Inc()
		m.SegmentDuration.Observe(d)
	}
	m.SegmentsDropped.Add(float64(dropped))
}

// RecordEncoded adds produced container bytes
func (m *Metrics) RecordEncoded(sizeBytes int) {
	if m == nil {
		return
	}
	m.EncodedBytes.Add(float64(sizeBytes))
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
