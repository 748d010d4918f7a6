package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// ErrUnsupportedFormat is returned when the container cannot be identified.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Format names accepted by the decoder.
const (
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatFLAC = "flac"
)

// SupportedExtensions lists file extensions the decoder accepts.
var SupportedExtensions = []string{".wav", ".mp3", ".flac"}

// Decoder turns encoded audio files into planar float signals using beep.
type Decoder struct{}

// NewDecoder creates a decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode reads a whole audio file from r. name is used to pick the container
// by extension; when it has none the content is sniffed.
func (d *Decoder) Decode(r io.Reader, name string) (Signal, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to read audio: %w", err)
	}

	format := DetectFormat(name, data)
	if format == "" {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}

	var (
		stream beep.StreamSeekCloser
		bf     beep.Format
	)
	switch format {
	case FormatWAV:
		stream, bf, err = wav.Decode(bytes.NewReader(data))
	case FormatMP3:
		stream, bf, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case FormatFLAC:
		stream, bf, err = flac.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return Signal{}, fmt.Errorf("failed to decode %s: %w", format, err)
	}
	defer stream.Close()

	sig, err := readStreamer(stream, bf, stream.Len())
	if err != nil {
		return Signal{}, fmt.Errorf("failed to decode %s: %w", format, err)
	}
	return sig, nil
}

// DetectFormat picks a container from the file extension, falling back to
// magic bytes. It returns "" when nothing matches.
func DetectFormat(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".flac":
		return FormatFLAC
	}

	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FormatFLAC
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return ""
}

// readStreamer drains s into a planar signal. sizeHint may be <= 0.
func readStreamer(s beep.Streamer, bf beep.Format, sizeHint int) (Signal, error) {
	numChannels := bf.NumChannels
	if numChannels < 1 || numChannels > 2 {
		return Signal{}, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, numChannels)
	}

	channels := make([][]float64, numChannels)
	for c := range channels {
		channels[c] = make([]float64, 0, max(sizeHint, 0))
	}

	buf := make([][2]float64, streamChunk)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			for c := range channels {
				channels[c] = append(channels[c], buf[i][c])
			}
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return Signal{}, err
	}

	sig := Signal{Channels: channels, SampleRate: int(bf.SampleRate)}
	if err := sig.Validate(); err != nil {
		return Signal{}, err
	}
	return sig, nil
}
