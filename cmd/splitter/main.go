package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/config"
	"github.com/skypro1111/marker-splitter/internal/export"
	"github.com/skypro1111/marker-splitter/internal/logging"
	"github.com/skypro1111/marker-splitter/internal/pipeline"
	"github.com/skypro1111/marker-splitter/internal/transcription"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	inputFile   = flag.String("in", "", "Recording to split (wav, mp3 or flac)")
	outputDir   = flag.String("out", "", "Output directory (defaults to output.dir/<basename>)")
	minDuration = flag.Float64("min-duration", 0, "Minimum segment duration in seconds, 1.0 to 5.0")
	noSRT       = flag.Bool("no-srt", false, "Do not write segments.srt")
)

func main() {
	flag.Parse()
	if *inputFile == "" && flag.NArg() > 0 {
		*inputFile = flag.Arg(0)
	}
	if *inputFile == "" {
		fmt.Fprintln(os.Stderr, "usage: splitter [-config file] [-out dir] [-min-duration s] -in recording.wav")
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Configuration error: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		color.Red("Failed: %v", err)
		if pipeline.IsRetryable(err) {
			color.Yellow("Transcription failed; running again may succeed.")
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *minDuration != 0 {
		cfg.Segmentation.MinSegmentDuration = *minDuration
	}
	if *noSRT {
		cfg.Output.SRT = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	client, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		Language:      cfg.Transcription.Language,
		Prompt:        cfg.Transcription.Prompt,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	}, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	p, err := pipeline.New(client, pipeline.Config{
		MinSegmentDuration: cfg.Segmentation.MinSegmentDuration,
		TargetSampleRate:   cfg.Audio.TranscriptionSampleRate,
		Workers:            cfg.Audio.Workers,
	}, logger, nil)
	if err != nil {
		return err
	}

	f, err := os.Open(*inputFile)
	if err != nil {
		return err
	}
	defer f.Close()

	started := time.Now()
	result, err := p.Process(ctx, audio.NewDecoder(), f, *inputFile)
	if err != nil {
		return err
	}

	dir := *outputDir
	if dir == "" {
		dir = export.DirFor(cfg.Output.Dir, *inputFile)
	}

	if result.Empty() {
		color.Yellow("No segments detected in %s (%d candidates below %.1fs)",
			filepath.Base(*inputFile), len(result.Dropped), cfg.Segmentation.MinSegmentDuration)
		return nil
	}

	manifest, err := export.NewExporter(logger, nil).Write(ctx, dir, result.Segments, export.Options{
		Source:         *inputFile,
		SourceDuration: result.SourceDuration,
		Dropped:        len(result.Dropped),
		SRT:            cfg.Output.SRT,
		Workers:        cfg.Audio.Workers,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("interrupted: %w", err)
		}
		return err
	}

	printSummary(manifest, dir, time.Since(started))
	return nil
}

func printSummary(m *export.Manifest, dir string, elapsed time.Duration) {
	fmt.Println()
	color.Cyan("================================")
	color.Cyan("  %d segments -> %s", len(m.Segments), dir)
	color.Cyan("================================")
	for _, s := range m.Segments {
		fmt.Printf("  %s  marker %-6d %7.2fs - %7.2fs  %s\n",
			color.GreenString(s.File), s.Marker, s.Start, s.End, s.Text)
	}
	if m.Dropped > 0 {
		color.Yellow("  %d short candidates dropped", m.Dropped)
	}
	fmt.Printf("Done in %s\n", elapsed.Round(time.Millisecond))
}
