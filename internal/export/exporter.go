package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/metrics"
	"github.com/skypro1111/marker-splitter/internal/segment"
)

// File names written next to the segment files.
const (
	ManifestFile = "manifest.json"
	SRTFile      = "segments.srt"
)

// ManifestSegment describes one exported segment file
type ManifestSegment struct {
	ID       int     `json:"id"`
	File     string  `json:"file"`
	Marker   uint64  `json:"marker"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Bytes    int     `json:"bytes"`
}

// Manifest summarises an export directory
type Manifest struct {
	Source         string            `json:"source"`
	SourceDuration float64           `json:"source_duration,omitempty"`
	SampleRate     int               `json:"sample_rate"`
	Channels       int               `json:"channels"`
	Dropped        int               `json:"dropped"`
	Segments       []ManifestSegment `json:"segments"`
}

// Options controls an export run
type Options struct {
	Source         string
	SourceDuration float64
	Dropped        int
	SRT            bool
	Workers        int
}

// Exporter encodes segment buffers and writes them to a directory.
type Exporter struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewExporter creates an exporter. m may be nil.
func NewExporter(logger *slog.Logger, m *metrics.Metrics) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		logger:  logger.With(slog.String("component", "export")),
		metrics: m,
	}
}

// DirFor returns the export directory for a source file under root:
// root/<basename without extension>.
func DirFor(root, source string) string {
	base := filepath.Base(source)
	return filepath.Join(root, strings.TrimSuffix(base, filepath.Ext(base)))
}

// Write encodes every buffer as NNN.wav in dir and writes the manifest.
// Encoding runs on up to opts.Workers goroutines.
func (e *Exporter) Write(ctx context.Context, dir string, buffers []audio.SegmentBuffer, opts Options) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	if err := removeStaleSegments(dir); err != nil {
		return nil, err
	}

	workers := max(opts.Workers, 1)
	manifest := &Manifest{
		Source:         opts.Source,
		SourceDuration: opts.SourceDuration,
		Dropped:        opts.Dropped,
		Segments:       make([]ManifestSegment, len(buffers)),
	}
	if len(buffers) > 0 {
		manifest.SampleRate = buffers[0].Signal.SampleRate
		manifest.Channels = buffers[0].Signal.NumChannels()
	}

	errs := make([]error, len(buffers))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i, b := range buffers {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(i int, b audio.SegmentBuffer) {
			defer wg.Done()
			defer func() { <-sem }()
			manifest.Segments[i], errs[i] = e.writeSegment(dir, b)
		}(i, b)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := SaveFileAtomic(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	if opts.SRT {
		descs := make([]segment.Descriptor, len(buffers))
		for i, b := range buffers {
			descs[i] = b.Descriptor
		}
		if err := SaveFileAtomic(filepath.Join(dir, SRTFile), []byte(SRT(descs)), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write transcript: %w", err)
		}
	}

	e.logger.Info("Segments exported",
		slog.String("dir", dir),
		slog.String("source", opts.Source),
		slog.Int("segments", len(buffers)),
	)

	return manifest, nil
}

// removeStaleSegments deletes NNN.wav files and the transcript left by an
// earlier export so a re-run with fewer segments leaves no orphans.
func removeStaleSegments(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list output directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !(isSegmentFile(entry.Name()) || entry.Name() == SRTFile) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale segment %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func isSegmentFile(name string) bool {
	stem, ok := strings.CutSuffix(name, ".wav")
	if !ok || stem == "" {
		return false
	}
	for _, r := range stem {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (e *Exporter) writeSegment(dir string, b audio.SegmentBuffer) (ManifestSegment, error) {
	data, err := audio.EncodeSegment(b)
	if err != nil {
		return ManifestSegment{}, err
	}

	name := segment.FileName(b.ID)
	if err := SaveFileAtomic(filepath.Join(dir, name), data, 0o644); err != nil {
		return ManifestSegment{}, fmt.Errorf("failed to write %s: %w", name, err)
	}
	e.metrics.RecordEncoded(len(data))

	e.logger.Debug("Segment written",
		slog.String("file", name),
		slog.Uint64("marker", b.Marker),
		slog.Float64("duration", b.Duration()),
	)

	return ManifestSegment{
		ID:       b.ID,
		File:     name,
		Marker:   b.Marker,
		Start:    b.Start,
		End:      b.End,
		Duration: b.Duration(),
		Text:     b.Text,
		Bytes:    len(data),
	}, nil
}
