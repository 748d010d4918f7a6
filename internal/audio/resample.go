package audio

import (
	"fmt"

	"github.com/gopxl/beep/v2"
)

// resampleQuality is the Lagrange interpolation order used by beep.Resample.
// 4 is what beep's speaker package uses for playback conversion.
const resampleQuality = 4

// streamChunk is the number of frames pulled from a streamer per call.
const streamChunk = 512

// Normalize converts a signal of any channel count and rate into mono PCM at
// targetRate, suitable for transcription. The input is never modified.
func Normalize(s Signal, targetRate int) (Signal, error) {
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	if targetRate <= 0 {
		return Signal{}, fmt.Errorf("%w: target rate must be positive, got %d", ErrInvalidSignal, targetRate)
	}

	mono := Downmix(s)
	return Resample(mono, targetRate)
}

// Downmix averages all channels into one. Mono input is returned unchanged.
func Downmix(s Signal) Signal {
	if len(s.Channels) <= 1 {
		return s
	}

	n := s.Len()
	out := make([]float64, n)
	scale := 1.0 / float64(len(s.Channels))
	for i := 0; i < n; i++ {
		var sum float64
		for _, ch := range s.Channels {
			sum += ch[i]
		}
		out[i] = sum * scale
	}

	return Signal{Channels: [][]float64{out}, SampleRate: s.SampleRate}
}

// ResampledLength returns ceil(n * targetRate / sourceRate) using integer math.
func ResampledLength(n, sourceRate, targetRate int) int {
	num := int64(n) * int64(targetRate)
	den := int64(sourceRate)
	return int((num + den - 1) / den)
}

// Resample converts a mono signal to targetRate. The output always holds
// exactly ResampledLength frames; any tail the interpolator does not emit is
// left as silence.
func Resample(s Signal, targetRate int) (Signal, error) {
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	if s.NumChannels() != 1 {
		return Signal{}, fmt.Errorf("%w: resample expects mono input, got %d channels", ErrInvalidSignal, s.NumChannels())
	}
	if targetRate <= 0 {
		return Signal{}, fmt.Errorf("%w: target rate must be positive, got %d", ErrInvalidSignal, targetRate)
	}
	if s.SampleRate == targetRate {
		return s, nil
	}

	n := ResampledLength(s.Len(), s.SampleRate, targetRate)
	out := make([]float64, n)

	r := beep.Resample(resampleQuality, beep.SampleRate(s.SampleRate), beep.SampleRate(targetRate), monoStreamer(s.Channels[0]))
	buf := make([][2]float64, streamChunk)
	filled := 0
	for filled < n {
		want := min(len(buf), n-filled)
		k, ok := r.Stream(buf[:want])
		for i := 0; i < k; i++ {
			out[filled+i] = buf[i][0]
		}
		filled += k
		if !ok || k == 0 {
			break
		}
	}

	return Signal{Channels: [][]float64{out}, SampleRate: targetRate}, nil
}

// monoStreamer exposes a sample slice as a beep.Streamer, duplicating the
// channel into both stereo slots.
func monoStreamer(samples []float64) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(frames [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := copyMono(frames, samples[pos:])
		pos += n
		return n, true
	})
}

func copyMono(frames [][2]float64, samples []float64) int {
	n := min(len(frames), len(samples))
	for i := 0; i < n; i++ {
		frames[i][0] = samples[i]
		frames[i][1] = samples[i]
	}
	return n
}
