package pipeline

import (
	"errors"
	"fmt"
)

// Stage names reported in StageError and used as metric labels.
const (
	StageValidate   = "validate"
	StageNormalize  = "normalize"
	StageTranscribe = "transcribe"
	StageDetect     = "detect"
	StageExtract    = "extract"
)

var (
	// ErrPrecondition marks input that was rejected before processing.
	ErrPrecondition = errors.New("precondition violation")

	// ErrTranscription marks a failed or empty transcription. The caller may
	// retry the same input.
	ErrTranscription = errors.New("transcription failed")
)

// StageError reports which pipeline stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage string, kind, err error) error {
	if kind == nil {
		return &StageError{Stage: stage, Err: err}
	}
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, err)}
}

// IsRetryable reports whether the failure came from transcription.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTranscription)
}
