package audio

import (
	"errors"
	"fmt"
)

// ErrInvalidSignal is returned when a signal violates the PCM input contract
// (no channels, no samples, non-positive rate or ragged channels).
var ErrInvalidSignal = errors.New("invalid signal")

// Signal is planar floating point PCM. Samples are nominally in [-1.0, 1.0]
// and every channel holds the same number of frames.
type Signal struct {
	Channels   [][]float64
	SampleRate int
}

// NewSignal wraps per-channel sample slices into a validated Signal.
func NewSignal(sampleRate int, channels ...[]float64) (Signal, error) {
	s := Signal{Channels: channels, SampleRate: sampleRate}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// NumChannels returns the channel count
func (s Signal) NumChannels() int {
	return len(s.Channels)
}

// Len returns the number of frames per channel.
func (s Signal) Len() int {
	if len(s.Channels) == 0 {
		return 0
	}
	return len(s.Channels[0])
}

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(s.Len()) / float64(s.SampleRate)
}

// Validate checks the signal invariants.
func (s Signal) Validate() error {
	if len(s.Channels) == 0 {
		return fmt.Errorf("%w: zero channels", ErrInvalidSignal)
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidSignal, s.SampleRate)
	}
	n := len(s.Channels[0])
	if n == 0 {
		return fmt.Errorf("%w: zero length", ErrInvalidSignal)
	}
	for i, ch := range s.Channels[1:] {
		if len(ch) != n {
			return fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d",
				ErrInvalidSignal, i+1, len(ch), n)
		}
	}
	return nil
}
