package watcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/skypro1111/marker-splitter/internal/export"
	"github.com/skypro1111/marker-splitter/internal/pipeline"
)

// Runner processes one encoded recording.
type Runner interface {
	Process(ctx context.Context, dec pipeline.Decoder, r io.Reader, name string) (*pipeline.Result, error)
}

// SplitHandler splits every handed file and exports the segments to
// OutputDir/<basename>/.
type SplitHandler struct {
	Runner    Runner
	Decoder   pipeline.Decoder
	Exporter  *export.Exporter
	OutputDir string
	SRT       bool
	Workers   int
	Logger    *slog.Logger
}

// HandleFile implements Handler.
func (h *SplitHandler) HandleFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	result, err := h.Runner.Process(ctx, h.Decoder, f, path)
	if err != nil {
		return err
	}

	dir := export.DirFor(h.OutputDir, path)
	if result.Empty() && h.Logger != nil {
		h.Logger.Info("No segments detected", slog.String("file", path))
	}

	_, err = h.Exporter.Write(ctx, dir, result.Segments, export.Options{
		Source:         path,
		SourceDuration: result.SourceDuration,
		Dropped:        len(result.Dropped),
		SRT:            h.SRT,
		Workers:        h.Workers,
	})
	return err
}
