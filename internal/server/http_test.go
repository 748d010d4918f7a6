package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/config"
	"github.com/skypro1111/marker-splitter/internal/job"
	"github.com/skypro1111/marker-splitter/internal/logging"
	"github.com/skypro1111/marker-splitter/internal/metrics"
	"github.com/skypro1111/marker-splitter/internal/pipeline"
	"github.com/skypro1111/marker-splitter/internal/segment"
	"github.com/skypro1111/marker-splitter/internal/transcription"
)

type fakeTranscriber struct {
	tokens []segment.Token
}

func (f fakeTranscriber) Transcribe(ctx context.Context, _ audio.Signal) ([]segment.Token, error) {
	return f.tokens, ctx.Err()
}

type fakeStats struct{}

func (fakeStats) GetStats() transcription.ClientStats {
	return transcription.ClientStats{TotalRequests: 3, SuccessRate: 100}
}

// testServer wires the real decoder and pipeline behind a fake transcriber.
func testServer(t *testing.T, tokens []segment.Token) (*HTTPServer, *metrics.Metrics) {
	t.Helper()
	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	p, err := pipeline.New(fakeTranscriber{tokens: tokens}, pipeline.Config{
		MinSegmentDuration: 2.0,
		TargetSampleRate:   16000,
		Workers:            2,
	}, logger, m)
	require.NoError(t, err)

	mgr, err := job.NewManager(p, audio.NewDecoder(), job.ManagerConfig{
		Retention:      time.Minute,
		CleanupPeriod:  time.Minute,
		CancelPrevious: true,
	}, logger, m)
	require.NoError(t, err)
	t.Cleanup(mgr.Stop)

	cfg := config.Default()
	cfg.Transcription.APIKey = "super-secret"
	h := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: 0, MaxUploadBytes: 4 << 20, Gatherer: reg},
		logger, cfg, mgr, fakeStats{}, m)
	return h, m
}

func wavFile(t *testing.T, seconds float64, rate int) []byte {
	t.Helper()
	n := int(seconds * float64(rate))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.25
	}
	data, err := audio.EncodeSignal(audio.Signal{Channels: [][]float64{samples}, SampleRate: rate})
	require.NoError(t, err)
	return data
}

func uploadRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h *HTTPServer, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)
	return rec
}

func waitForStatus(t *testing.T, h *HTTPServer, id string) job.Info {
	t.Helper()
	var info job.Info
	require.Eventually(t, func() bool {
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
			return false
		}
		return info.Status.Finished()
	}, 5*time.Second, 10*time.Millisecond)
	return info
}

func TestUploadAndDownloadSegments(t *testing.T) {
	h, m := testServer(t, []segment.Token{
		{Text: "105", Start: 0.0, End: 0.4},
		{Text: "hello", Start: 0.5, End: 1.0},
		{Text: "world", Start: 1.1, End: 2.6},
		{Text: "7", Start: 3.0, End: 3.3},
		{Text: "seven", Start: 3.5, End: 5.5},
	})

	rec := serve(h, uploadRequest(t, "lesson.wav", wavFile(t, 6, 8000)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted job.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.Equal(t, "lesson.wav", submitted.FileName)
	assert.Equal(t, "/jobs/"+submitted.ID, rec.Header().Get("Location"))

	info := waitForStatus(t, h, submitted.ID)
	require.Equal(t, job.StatusDone, info.Status, info.Error)
	require.Len(t, info.Segments, 2)
	assert.Equal(t, uint64(105), info.Segments[0].Marker)
	assert.Equal(t, "105 hello world", info.Segments[0].Text)
	assert.Equal(t, 2, info.Segments[1].ID)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.ID+"/segments/001.wav", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "105", rec.Header().Get("X-Segment-Marker"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "001.wav")

	body := rec.Body.Bytes()
	// 2.6 s at 8 kHz mono.
	assert.Len(t, body, audio.EncodedSize(20800, 1))
	wavInfo, err := audio.GetWAVInfo(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(8000), wavInfo.SampleRate)
	assert.Equal(t, uint16(1), wavInfo.Channels)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.ID+"/segments/003.wav", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.ID+"/segments/one.mp3", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Greater(t, testutil.CollectAndCount(m.HTTPRequests), 0)
}

func TestUploadEmptyResult(t *testing.T) {
	h, _ := testServer(t, []segment.Token{
		{Text: "7", Start: 0.0, End: 0.3},
		{Text: "8", Start: 0.4, End: 0.7},
	})

	rec := serve(h, uploadRequest(t, "short.wav", wavFile(t, 1, 8000)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted job.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	info := waitForStatus(t, h, submitted.ID)
	assert.Equal(t, job.StatusEmpty, info.Status)
	assert.Empty(t, info.Error)
	assert.Equal(t, 2, info.Dropped)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.ID+"/segments/001.wav", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadCorruptFileFails(t *testing.T) {
	h, _ := testServer(t, nil)

	rec := serve(h, uploadRequest(t, "broken.wav", []byte("RIFF....WAVEjunk")))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted job.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	info := waitForStatus(t, h, submitted.ID)
	assert.Equal(t, job.StatusFailed, info.Status)
	assert.Equal(t, pipeline.StageValidate, info.Stage)
	assert.False(t, info.Retryable)
}

func TestUploadValidation(t *testing.T) {
	h, _ := testServer(t, nil)

	rec := serve(h, uploadRequest(t, "notes.txt", []byte("plain text")))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = serve(h, uploadRequest(t, "empty.wav", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rec = serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, uploadRequest(t, "huge.wav", make([]byte, 5<<20)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestJobNotFound(t *testing.T) {
	h, _ := testServer(t, nil)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/jobs/missing", nil),
		httptest.NewRequest(http.MethodDelete, "/jobs/missing", nil),
		httptest.NewRequest(http.MethodGet, "/jobs/missing/segments/001.wav", nil),
	} {
		rec := serve(h, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, req.Method+" "+req.URL.Path)
	}
}

func TestListAndCancelJobs(t *testing.T) {
	h, _ := testServer(t, []segment.Token{{Text: "1", Start: 0, End: 0.5}, {Text: "a", Start: 0.6, End: 2.5}})

	rec := serve(h, uploadRequest(t, "a.wav", wavFile(t, 3, 8000)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted job.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	waitForStatus(t, h, submitted.ID)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Total int        `json:"total_jobs"`
		Jobs  []job.Info `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, submitted.ID, list.Jobs[0].ID)

	rec = serve(h, httptest.NewRequest(http.MethodDelete, "/jobs/"+submitted.ID, nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPurgeJob(t *testing.T) {
	h, _ := testServer(t, []segment.Token{{Text: "1", Start: 0, End: 0.5}, {Text: "a", Start: 0.6, End: 2.5}})

	rec := serve(h, uploadRequest(t, "a.wav", wavFile(t, 3, 8000)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted job.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	waitForStatus(t, h, submitted.ID)

	rec = serve(h, httptest.NewRequest(http.MethodDelete, "/jobs/"+submitted.ID+"?purge=true", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for _, path := range []string{"/jobs/" + submitted.ID, "/jobs/" + submitted.ID + "/segments/001.wav"} {
		rec = serve(h, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec = serve(h, httptest.NewRequest(http.MethodDelete, "/jobs/"+submitted.ID+"?purge=true", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitoringEndpoints(t *testing.T) {
	h, _ := testServer(t, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "super-secret")
	assert.Contains(t, rec.Body.String(), "min_segment_duration")

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"total_requests\":3")

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "POST /jobs")

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodPut, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "marker_http_requests_total")
}
