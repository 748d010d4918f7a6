package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/config"
	"github.com/skypro1111/marker-splitter/internal/export"
	"github.com/skypro1111/marker-splitter/internal/job"
	"github.com/skypro1111/marker-splitter/internal/logging"
	"github.com/skypro1111/marker-splitter/internal/metrics"
	"github.com/skypro1111/marker-splitter/internal/pipeline"
	"github.com/skypro1111/marker-splitter/internal/server"
	"github.com/skypro1111/marker-splitter/internal/transcription"
	"github.com/skypro1111/marker-splitter/internal/watcher"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "marker-splitter"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Configuration summary without secrets
	logger.Info("Configuration loaded",
		slog.Float64("min_segment_duration", cfg.Segmentation.MinSegmentDuration),
		slog.Int("transcription_sample_rate", cfg.Audio.TranscriptionSampleRate),
		slog.Int("workers", cfg.Audio.Workers),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Bool("watch_enabled", cfg.Watch.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	transcriptionClient, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		Language:      cfg.Transcription.Language,
		Prompt:        cfg.Transcription.Prompt,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	}, appMetrics)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer transcriptionClient.Close()

	splitter, err := pipeline.New(transcriptionClient, pipeline.Config{
		MinSegmentDuration: cfg.Segmentation.MinSegmentDuration,
		TargetSampleRate:   cfg.Audio.TranscriptionSampleRate,
		Workers:            cfg.Audio.Workers,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	decoder := audio.NewDecoder()

	jobMgr, err := job.NewManager(splitter, decoder, job.ManagerConfig{
		Retention:      cfg.Jobs.GetRetentionDuration(),
		CleanupPeriod:  cfg.Jobs.GetCleanupPeriodDuration(),
		CancelPrevious: cfg.Jobs.CancelPrevious,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create job manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(server.HTTPServerConfig{
			Port:           cfg.HTTP.Port,
			Address:        cfg.HTTP.Address,
			MaxUploadBytes: cfg.HTTP.GetMaxUploadBytes(),
			Gatherer:       registry,
		}, logger, cfg, jobMgr, transcriptionClient, appMetrics)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	var monitor *watcher.FolderMonitor
	if cfg.Watch.Enabled {
		handler := &watcher.SplitHandler{
			Runner:    splitter,
			Decoder:   decoder,
			Exporter:  export.NewExporter(logger, appMetrics),
			OutputDir: cfg.Output.Dir,
			SRT:       cfg.Output.SRT,
			Workers:   cfg.Audio.Workers,
			Logger:    logger,
		}
		monitor, err = watcher.NewFolderMonitor(cfg.Watch.InputDir, cfg.Watch.Extensions, handler,
			cfg.Watch.GetDebounceDuration(), logger)
		if err != nil {
			logger.Error("Failed to create folder monitor", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := monitor.Start(); err != nil {
			logger.Error("Failed to start folder monitor", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop accepting uploads first
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	if monitor != nil {
		monitor.Stop()
	}

	jobMgr.Stop()

	stats := transcriptionClient.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("successful", stats.SuccessRequests),
		slog.Uint64("failed", stats.FailedRequests),
		slog.Uint64("retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
}
