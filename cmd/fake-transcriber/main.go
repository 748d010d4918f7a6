// Command fake-transcriber serves an OpenAI-compatible transcription endpoint
// that returns a scripted transcript with a spoken number every few seconds.
// It lets the splitter run end to end without a speech model.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/logging"
	"github.com/skypro1111/marker-splitter/internal/transcription"
)

var (
	addr     = flag.String("addr", ":9000", "Listen address")
	interval = flag.Float64("interval", 5, "Seconds between spoken markers")
	first    = flag.Int("first", 1, "First marker number")
	delay    = flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
)

var filler = []string{"listen", "and", "repeat", "after", "me"}

// script builds a transcript for duration seconds: every interval a marker
// followed by filler words spread over the rest of the slot.
func script(duration, interval float64, first int) transcription.Response {
	resp := transcription.Response{Language: "en", Duration: duration}
	var text []string

	marker := first
	for start := 0.0; start+0.5 <= duration; start += interval {
		slot := min(interval, duration-start)
		word := transcription.Word{Word: strconv.Itoa(marker), Start: start, End: start + 0.4}
		resp.Words = append(resp.Words, word)
		text = append(text, word.Word)

		step := (slot - 0.5) / float64(len(filler))
		for i, f := range filler {
			ws := start + 0.5 + float64(i)*step
			w := transcription.Word{Word: f, Start: ws, End: ws + step*0.8}
			resp.Words = append(resp.Words, w)
			text = append(text, f)
		}
		marker++
	}
	resp.Text = strings.Join(text, " ")
	return resp
}

func transcribeHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		info, err := audio.GetWAVInfo(data)
		if err != nil {
			http.Error(w, fmt.Sprintf("Unsupported audio: %v", err), http.StatusBadRequest)
			return
		}

		logger.Info("Transcription request received",
			slog.String("request_id", r.FormValue("request_id")),
			slog.String("model", r.FormValue("model")),
			slog.String("response_format", r.FormValue("response_format")),
			slog.String("filename", header.Filename),
			slog.Int("audio_size", len(data)),
			slog.Float64("duration", info.Duration),
			slog.Int("sample_rate", int(info.SampleRate)),
		)

		time.Sleep(*delay)

		resp := script(info.Duration, *interval, *first)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)

		logger.Info("Transcription response sent", slog.Int("words", len(resp.Words)))
	}
}

func main() {
	flag.Parse()
	logger := slog.New(logging.NewHandler(os.Stdout, "text", &slog.HandlerOptions{Level: slog.LevelInfo}))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/audio/transcriptions", transcribeHandler(logger))

	logger.Info("Fake transcription server starting",
		slog.String("addr", *addr),
		slog.String("endpoint", "/v1/audio/transcriptions"),
	)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
