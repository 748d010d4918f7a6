package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/config"
	"github.com/skypro1111/marker-splitter/internal/job"
	"github.com/skypro1111/marker-splitter/internal/metrics"
	"github.com/skypro1111/marker-splitter/internal/transcription"
)

const (
	serviceName    = "marker-splitter"
	serviceVersion = "1.0.0"

	// multipartMemory is the part of an upload kept in memory before
	// spilling to temporary files.
	multipartMemory = 32 << 20
)

// TranscriptionStats exposes transcription client counters.
type TranscriptionStats interface {
	GetStats() transcription.ClientStats
}

// HTTPServer provides the job API plus monitoring endpoints
type HTTPServer struct {
	server        *http.Server
	handler       http.Handler
	logger        *slog.Logger
	config        *config.Config
	jobs          *job.Manager
	transcription TranscriptionStats
	metrics       *metrics.Metrics
	gatherer      prometheus.Gatherer

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port           int
	Address        string
	MaxUploadBytes int64
	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewHTTPServer creates a new HTTP API server. stats and m may be nil.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger,
	appConfig *config.Config, jobs *job.Manager, stats TranscriptionStats, m *metrics.Metrics) *HTTPServer {

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = appConfig.HTTP.GetMaxUploadBytes()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:        logger.With(slog.String("component", "http")),
		config:        appConfig,
		jobs:          jobs,
		transcription: stats,
		metrics:       m,
		gatherer:      cfg.Gatherer,
		startTime:     time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, cfg.MaxUploadBytes)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Minute, // large uploads
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for tests and embedding.
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, maxUpload int64) {
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("POST /jobs", h.withMetrics("/jobs", h.uploadHandler(maxUpload)))
	mux.HandleFunc("GET /jobs", h.withMetrics("/jobs", h.handleJobs))
	mux.HandleFunc("GET /jobs/{id}", h.withMetrics("/jobs/{id}", h.handleJobDetail))
	mux.HandleFunc("DELETE /jobs/{id}", h.withMetrics("/jobs/{id}", h.handleJobCancel))
	mux.HandleFunc("GET /jobs/{id}/segments/{file}", h.withMetrics("/jobs/{id}/segments/{file}", h.handleSegment))

	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	jobStats := h.jobs.Stats()

	components := map[string]interface{}{
		"job_manager": map[string]interface{}{
			"status":      "running",
			"active_jobs": jobStats.Active,
			"stored_jobs": jobStats.Stored,
		},
	}
	if h.transcription != nil {
		ts := h.transcription.GetStats()
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  ts.TotalRequests,
			"success_rate":    ts.SuccessRate,
			"active_requests": ts.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// uploadHandler accepts a multipart upload in the "file" field and starts a
// job for it.
func (h *HTTPServer) uploadHandler(maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxUpload {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxUpload))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxUpload))
				return
			}
			writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing form field \"file\"")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
			return
		}
		if len(data) == 0 {
			writeError(w, http.StatusBadRequest, "uploaded file is empty")
			return
		}
		if audio.DetectFormat(header.Filename, data) == "" {
			writeError(w, http.StatusUnsupportedMediaType,
				fmt.Sprintf("unsupported audio format, expected one of %s", strings.Join(audio.SupportedExtensions, ", ")))
			return
		}

		j, err := h.jobs.Submit(header.Filename, data)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}

		w.Header().Set("Location", "/jobs/"+j.ID)
		writeJSON(w, http.StatusAccepted, j.Info())
	}
}

// handleJobs implements GET /jobs
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_jobs": len(jobs),
		"timestamp":  time.Now().UTC(),
		"jobs":       jobs,
	})
}

// handleJobDetail implements GET /jobs/{id}
func (h *HTTPServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	j, ok := h.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j.Info())
}

// handleJobCancel implements DELETE /jobs/{id}. With ?purge=true the job is
// also forgotten and its segments released.
func (h *HTTPServer) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if purge, _ := strconv.ParseBool(r.URL.Query().Get("purge")); purge {
		if !h.jobs.Remove(id) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !h.jobs.Cancel(id) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	j, ok := h.jobs.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusAccepted, j.Info())
}

// handleSegment implements GET /jobs/{id}/segments/{NNN}.wav. The container
// is encoded for each request.
func (h *HTTPServer) handleSegment(w http.ResponseWriter, r *http.Request) {
	j, ok := h.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	file := r.PathValue("file")
	id, err := strconv.Atoi(strings.TrimSuffix(file, ".wav"))
	if err != nil || !strings.HasSuffix(file, ".wav") {
		writeError(w, http.StatusBadRequest, "segment must be named NNN.wav")
		return
	}

	if status := j.Status(); status != job.StatusDone {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", status))
		return
	}

	buf, ok := j.Segment(id)
	if !ok {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}

	data, err := audio.EncodeSegment(buf)
	if err != nil {
		h.logger.Error("Failed to encode segment",
			slog.String("job_id", j.ID),
			slog.Int("segment", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to encode segment")
		return
	}
	h.metrics.RecordEncoded(len(data))

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", buf.Name()+".wav"))
	w.Header().Set("X-Segment-Marker", strconv.FormatUint(buf.Marker, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"http": map[string]interface{}{
			"address":       c.HTTP.Address,
			"port":          c.HTTP.Port,
			"max_upload_mb": c.HTTP.MaxUploadMB,
		},
		"segmentation": map[string]interface{}{
			"min_segment_duration": c.Segmentation.MinSegmentDuration,
		},
		"audio": map[string]interface{}{
			"transcription_sample_rate": c.Audio.TranscriptionSampleRate,
			"workers":                   c.Audio.Workers,
		},
		"transcription": map[string]interface{}{
			"endpoint":       c.Transcription.Endpoint,
			"model":          c.Transcription.Model,
			"language":       c.Transcription.Language,
			"timeout":        c.Transcription.Timeout,
			"max_retries":    c.Transcription.MaxRetries,
			"max_concurrent": c.Transcription.MaxConcurrent,
			// api_key omitted
		},
		"jobs": map[string]interface{}{
			"retention":       c.Jobs.Retention,
			"cancel_previous": c.Jobs.CancelPrevious,
		},
		"watch": map[string]interface{}{
			"enabled":    c.Watch.Enabled,
			"input_dir":  c.Watch.InputDir,
			"extensions": c.Watch.Extensions,
		},
		"output": map[string]interface{}{
			"dir": c.Output.Dir,
			"srt": c.Output.SRT,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"jobs":      h.jobs.Stats(),
	}
	if h.transcription != nil {
		stats["transcription"] = h.transcription.GetStats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Marker Splitter",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                             "API documentation",
			"GET /health":                       "Service health check",
			"POST /jobs":                        "Upload a recording (multipart field \"file\") and start splitting",
			"GET /jobs":                         "List jobs",
			"GET /jobs/{id}":                    "Job status and detected segments",
			"DELETE /jobs/{id}":                 "Cancel a job; ?purge=true also removes it",
			"GET /jobs/{id}/segments/{NNN}.wav": "Download one segment as 16-bit PCM WAV",
			"GET /config":                       "Service configuration",
			"GET /stats":                        "Service statistics",
			"GET /metrics":                      "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
