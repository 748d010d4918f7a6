package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/metrics"
	"github.com/skypro1111/marker-splitter/internal/segment"
)

func testSignal(t *testing.T) audio.Signal {
	t.Helper()
	sig, err := audio.NewSignal(16000, make([]float64, 16000))
	require.NoError(t, err)
	return sig
}

func newTestClient(t *testing.T, url string, m *metrics.Metrics) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoint:     url,
		APIKey:       "secret",
		Language:     "en",
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		Timeout:      5 * time.Second,
	}, m)
	require.NoError(t, err)
	return c
}

func jsonHandler(resp any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestTranscribeSendsMultipartRequest(t *testing.T) {
	var (
		auth, model, format, lang string
		granularities             []string
		audioBytes                []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, r.ParseMultipartForm(10<<20))
		model = r.FormValue("model")
		format = r.FormValue("response_format")
		lang = r.FormValue("language")
		granularities = r.MultipartForm.Value["timestamp_granularities[]"]
		if f, _, err := r.FormFile("file"); assert.NoError(t, err) {
			audioBytes, _ = io.ReadAll(f)
		}
		jsonHandler(Response{Text: "1 hi", Words: []Word{{Word: "1", Start: 0, End: 0.3}, {Word: " hi", Start: 0.4, End: 0.6}}})(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	tokens, err := c.Transcribe(context.Background(), testSignal(t))
	require.NoError(t, err)

	assert.Equal(t, []segment.Token{{Text: "1", Start: 0, End: 0.3}, {Text: "hi", Start: 0.4, End: 0.6}}, tokens)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "whisper-1", model)
	assert.Equal(t, "verbose_json", format)
	assert.Equal(t, "en", lang)
	assert.Equal(t, []string{"word", "segment"}, granularities)

	info, err := audio.GetWAVInfo(audioBytes)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), info.SampleRate)
	assert.Equal(t, uint16(1), info.Channels)
	assert.Equal(t, uint32(16000), info.NumFrames)
}

func TestResponseTokens(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want []segment.Token
	}{
		{
			name: "top-level words win",
			resp: Response{
				Words:    []Word{{Word: "5", Start: 1, End: 1.2}},
				Segments: []Segment{{Text: "ignored", Start: 0, End: 9}},
			},
			want: []segment.Token{{Text: "5", Start: 1, End: 1.2}},
		},
		{
			name: "segment words",
			resp: Response{Segments: []Segment{
				{Text: "3 a", Words: []Word{{Word: " 3", Start: 0, End: 0.2}, {Word: " a", Start: 0.3, End: 0.5}}},
				{Text: "b", Words: []Word{{Word: "b", Start: 1, End: 1.5}}},
			}},
			want: []segment.Token{{Text: "3", Start: 0, End: 0.2}, {Text: "a", Start: 0.3, End: 0.5}, {Text: "b", Start: 1, End: 1.5}},
		},
		{
			name: "whole segments",
			resp: Response{Segments: []Segment{{Text: " 9 ", Start: 2, End: 2.4}, {Text: "rest of it", Start: 2.5, End: 5}}},
			want: []segment.Token{{Text: "9", Start: 2, End: 2.4}, {Text: "rest of it", Start: 2.5, End: 5}},
		},
		{
			name: "nothing",
			resp: Response{Text: ""},
			want: []segment.Token{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.Tokens())
		})
	}
}

func TestTranscribeEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(Response{Text: "  ", Duration: 1}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).Transcribe(context.Background(), testSignal(t))
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		jsonHandler(Response{Text: "1", Words: []Word{{Word: "1", Start: 0, End: 1}}})(w, r)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	c := newTestClient(t, srv.URL, m)

	tokens, err := c.Transcribe(context.Background(), testSignal(t))
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
	assert.Equal(t, int32(3), calls.Load())

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.SuccessRequests)
	assert.Equal(t, uint64(2), stats.TotalRetries)
	assert.Equal(t, 100.0, stats.SuccessRate)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TranscriptionRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionSuccesses))
}

func TestSendGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Transcribe(context.Background(), testSignal(t))
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, "down", httpErr.Body)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(1), c.GetStats().FailedRequests)
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad file", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).Transcribe(context.Background(), testSignal(t))
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendRejectsMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, nil).Transcribe(context.Background(), testSignal(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response JSON")
}

func TestSendHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := newTestClient(t, srv.URL, nil).Transcribe(ctx, testSignal(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranscribeRejectsInvalidSignal(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", nil)
	_, err := c.Transcribe(context.Background(), audio.Signal{})
	assert.ErrorIs(t, err, audio.ErrInvalidSignal)
}

func TestNewClientDefaults(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)

	c, err := NewClient(Config{Endpoint: "http://localhost:9000", MaxRetries: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "whisper-1", c.config.Model)
	assert.Equal(t, 3, c.config.MaxRetries)
	assert.Equal(t, 2, c.config.MaxConcurrent)
	assert.Equal(t, time.Second, c.config.RetryBackoff)
}

func TestBackoff(t *testing.T) {
	c := &Client{config: Config{RetryBackoff: time.Second}}
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 8*time.Second, c.backoff(4))
	assert.Equal(t, maxBackoff, c.backoff(10))
}
