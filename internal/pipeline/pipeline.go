package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/metrics"
	"github.com/skypro1111/marker-splitter/internal/segment"
)

// Transcriber turns mono audio at a fixed rate into ordered, time-stamped
// tokens. Implementations must honour ctx cancellation.
type Transcriber interface {
	Transcribe(ctx context.Context, sig audio.Signal) ([]segment.Token, error)
}

// Decoder turns an encoded audio file into a signal.
type Decoder interface {
	Decode(r io.Reader, name string) (audio.Signal, error)
}

// Config holds pipeline tunables
type Config struct {
	MinSegmentDuration float64
	TargetSampleRate   int
	Workers            int
}

// Result is the outcome of a successful run. A result without segments is
// valid and means no markers qualified.
type Result struct {
	Segments       []audio.SegmentBuffer
	Tokens         []segment.Token
	Dropped        []segment.Descriptor
	SourceDuration float64
}

// Empty reports whether no segment was detected.
func (r *Result) Empty() bool {
	return len(r.Segments) == 0
}

// Descriptors returns the descriptors of the extracted segments in order.
func (r *Result) Descriptors() []segment.Descriptor {
	out := make([]segment.Descriptor, len(r.Segments))
	for i, s := range r.Segments {
		out[i] = s.Descriptor
	}
	return out
}

// Pipeline splits recordings at spoken markers. It keeps no state between
// runs and is safe for concurrent use if the transcriber is.
type Pipeline struct {
	transcriber Transcriber
	config      Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a pipeline. m may be nil.
func New(t Transcriber, config Config, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if t == nil {
		return nil, errors.New("transcriber is required")
	}
	if config.TargetSampleRate <= 0 {
		return nil, fmt.Errorf("target sample rate must be positive, got %d", config.TargetSampleRate)
	}
	if config.MinSegmentDuration <= 0 {
		config.MinSegmentDuration = segment.DefaultMinDuration
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		transcriber: t,
		config:      config,
		logger:      logger.With(slog.String("component", "pipeline")),
		metrics:     m,
	}, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Run processes src end to end. Failures are *StageError values wrapping
// ErrPrecondition, ErrTranscription or the context error.
func (p *Pipeline) Run(ctx context.Context, src audio.Signal) (*Result, error) {
	logger := p.logger

	if err := src.Validate(); err != nil {
		return nil, stageError(StageValidate, ErrPrecondition, err)
	}
	result := &Result{SourceDuration: src.Duration()}
	p.metrics.RecordSource(result.SourceDuration)

	logger.Debug("Processing recording",
		slog.Int("channels", src.NumChannels()),
		slog.Int("sample_rate", src.SampleRate),
		slog.Float64("duration", result.SourceDuration),
	)

	var normalized audio.Signal
	err := p.timed(StageNormalize, func() error {
		var err error
		normalized, err = audio.Normalize(src, p.config.TargetSampleRate)
		return err
	})
	if err != nil {
		return nil, stageError(StageNormalize, ErrPrecondition, err)
	}

	err = p.timed(StageTranscribe, func() error {
		var err error
		result.Tokens, err = p.transcriber.Transcribe(ctx, normalized)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, stageError(StageTranscribe, nil, ctxErr)
		}
		return nil, stageError(StageTranscribe, ErrTranscription, err)
	}
	if len(result.Tokens) == 0 {
		return nil, stageError(StageTranscribe, ErrTranscription, errors.New("transcript has no tokens"))
	}

	var detected segment.Result
	err = p.timed(StageDetect, func() error {
		if err := segment.ValidateTokens(result.Tokens); err != nil {
			return err
		}
		detected = segment.DetectAll(result.Tokens, p.config.MinSegmentDuration)
		return nil
	})
	if err != nil {
		return nil, stageError(StageDetect, ErrPrecondition, err)
	}
	result.Dropped = detected.Dropped

	for _, d := range detected.Dropped {
		logger.Debug("Dropped short segment",
			slog.Uint64("marker", d.Marker),
			slog.Float64("start", d.Start),
			slog.Float64("duration", d.Duration()),
		)
	}

	err = p.timed(StageExtract, func() error {
		var err error
		result.Segments, err = audio.ExtractConcurrent(ctx, src, detected.Segments, p.config.Workers)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, stageError(StageExtract, nil, ctxErr)
		}
		return nil, stageError(StageExtract, ErrPrecondition, err)
	}

	durations := make([]float64, len(detected.Segments))
	for i, d := range detected.Segments {
		durations[i] = d.Duration()
	}
	p.metrics.RecordSegments(durations, len(detected.Dropped))

	logger.Info("Recording split",
		slog.Int("tokens", len(result.Tokens)),
		slog.Int("segments", len(result.Segments)),
		slog.Int("dropped", len(result.Dropped)),
	)

	return result, nil
}

func (p *Pipeline) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.ObserveStage(stage, time.Since(start).Seconds())
	return err
}

// Process decodes a file with dec and runs the pipeline on it.
func (p *Pipeline) Process(ctx context.Context, dec Decoder, r io.Reader, name string) (*Result, error) {
	src, err := dec.Decode(r, name)
	if err != nil {
		return nil, stageError(StageValidate, ErrPrecondition, err)
	}
	return p.Run(ctx, src)
}
