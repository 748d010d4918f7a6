package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits for the minimum segment duration, in seconds.
const (
	MinSegmentDurationLower = 1.0
	MinSegmentDurationUpper = 5.0
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Segmentation  SegmentationConfig  `yaml:"segmentation"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Watch         WatchConfig         `yaml:"watch"`
	Output        OutputConfig        `yaml:"output"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	Address     string `yaml:"address"`
	Enabled     bool   `yaml:"enabled"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// SegmentationConfig holds the only tunable of the boundary detector
type SegmentationConfig struct {
	MinSegmentDuration float64 `yaml:"min_segment_duration"` // seconds
}

// AudioConfig contains audio processing parameters
type AudioConfig struct {
	TranscriptionSampleRate int `yaml:"transcription_sample_rate"`
	Workers                 int `yaml:"workers"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Prompt        string `yaml:"prompt"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// JobsConfig controls retention of finished jobs
type JobsConfig struct {
	Retention      int  `yaml:"retention"`       // seconds
	CleanupPeriod  int  `yaml:"cleanup_period"`  // seconds
	CancelPrevious bool `yaml:"cancel_previous"` // a new upload abandons the running job
}

// WatchConfig configures the drop-folder watcher
type WatchConfig struct {
	Enabled    bool     `yaml:"enabled"`
	InputDir   string   `yaml:"input_dir"`
	Extensions []string `yaml:"extensions"`
	DebounceMs int      `yaml:"debounce_ms"`
}

// OutputConfig configures where exported segments are written
type OutputConfig struct {
	Dir string `yaml:"dir"`
	SRT bool   `yaml:"srt"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:        8080,
			Address:     "0.0.0.0",
			Enabled:     true,
			MaxUploadMB: 512,
		},
		Segmentation: SegmentationConfig{
			MinSegmentDuration: 2.0,
		},
		Audio: AudioConfig{
			TranscriptionSampleRate: 16000,
			Workers:                 4,
		},
		Transcription: TranscriptionConfig{
			Endpoint:      "http://localhost:9000/v1/audio/transcriptions",
			Model:         "whisper-1",
			Timeout:       300,
			MaxRetries:    3,
			MaxConcurrent: 2,
		},
		Jobs: JobsConfig{
			Retention:      3600,
			CleanupPeriod:  30,
			CancelPrevious: true,
		},
		Watch: WatchConfig{
			Enabled:    false,
			InputDir:   "./inbox",
			Extensions: []string{".wav", ".mp3", ".flac"},
			DebounceMs: 2000,
		},
		Output: OutputConfig{
			Dir: "./segments",
			SRT: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return config, nil
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Jobs.Validate(); err != nil {
		return fmt.Errorf("jobs config: %w", err)
	}

	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty when HTTP is enabled")
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	return nil
}

// Validate validates the segmentation tunable
func (s *SegmentationConfig) Validate() error {
	if s.MinSegmentDuration < MinSegmentDurationLower || s.MinSegmentDuration > MinSegmentDurationUpper {
		return fmt.Errorf("min_segment_duration must be between %.1f and %.1f seconds, got %g",
			MinSegmentDurationLower, MinSegmentDurationUpper, s.MinSegmentDuration)
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.TranscriptionSampleRate < 8000 || a.TranscriptionSampleRate > 48000 {
		return fmt.Errorf("transcription_sample_rate must be between 8000 and 48000 Hz, got %d", a.TranscriptionSampleRate)
	}

	if a.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", a.Workers)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(t.Endpoint, "http://") && !strings.HasPrefix(t.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", t.Endpoint)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates job retention settings
func (j *JobsConfig) Validate() error {
	if j.Retention < 1 {
		return fmt.Errorf("retention must be at least 1 second, got %d", j.Retention)
	}

	if j.CleanupPeriod < 1 {
		return fmt.Errorf("cleanup_period must be at least 1 second, got %d", j.CleanupPeriod)
	}

	return nil
}

// Validate validates watcher configuration
func (w *WatchConfig) Validate() error {
	if !w.Enabled {
		return nil
	}

	if w.InputDir == "" {
		return fmt.Errorf("input_dir cannot be empty when watching is enabled")
	}

	if len(w.Extensions) == 0 {
		return fmt.Errorf("extensions cannot be empty when watching is enabled")
	}

	for _, ext := range w.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}

	if w.DebounceMs < 0 {
		return fmt.Errorf("debounce_ms cannot be negative, got %d", w.DebounceMs)
	}

	return nil
}

// Validate validates output configuration
func (o *OutputConfig) Validate() error {
	if o.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRetentionDuration returns the job retention as a time.Duration
func (j *JobsConfig) GetRetentionDuration() time.Duration {
	return time.Duration(j.Retention) * time.Second
}

// GetCleanupPeriodDuration returns the cleanup interval as a time.Duration
func (j *JobsConfig) GetCleanupPeriodDuration() time.Duration {
	return time.Duration(j.CleanupPeriod) * time.Second
}

// GetDebounceDuration returns the watcher debounce as a time.Duration
func (w *WatchConfig) GetDebounceDuration() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// GetMaxUploadBytes returns the upload limit in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) << 20
}
