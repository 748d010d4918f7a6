package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// WAVHeaderSize is the size of the canonical RIFF/WAVE header.
	WAVHeaderSize = 44

	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
	formatPCM      = 1
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newWAVHeader builds the header for a 16-bit PCM payload of dataSize bytes.
func newWAVHeader(numChannels, sampleRate int, dataSize uint32) WAVHeader {
	channels := uint16(numChannels)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * bytesPerSample,
		BlockAlign:    channels * bytesPerSample,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// PCM16 converts a float sample to signed 16-bit. Input is clamped to
// [-1, 1]; negative values scale by 32768 and the rest by 32767 so that +1.0
// does not overflow. NaN maps to 0.
func PCM16(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < -1:
		v = -1
	case v > 1:
		v = 1
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// EncodedSize returns the container size for frames of numChannels.
func EncodedSize(frames, numChannels int) int {
	return WAVHeaderSize + frames*numChannels*bytesPerSample
}

// EncodeSegment encodes a segment buffer's audio into a WAV container.
func EncodeSegment(b SegmentBuffer) ([]byte, error) {
	data, err := EncodeSignal(b.Signal)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", b.Name(), err)
	}
	return data, nil
}

// EncodeSignal encodes a signal into a 16-bit linear PCM WAV container with
// interleaved channels.
func EncodeSignal(s Signal) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, EncodedSize(s.Len(), s.NumChannels())))
	if err := WriteSignal(buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteSignal streams the WAV encoding of s to w.
func WriteSignal(w io.Writer, s Signal) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("cannot encode: %w", err)
	}

	frames := s.Len()
	numChannels := s.NumChannels()
	dataSize := uint64(frames) * uint64(numChannels) * bytesPerSample
	if dataSize > math.MaxUint32-36 {
		return fmt.Errorf("cannot encode: payload of %d bytes exceeds WAV limit", dataSize)
	}

	header := newWAVHeader(numChannels, s.SampleRate, uint32(dataSize))
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	payload := make([]byte, dataSize)
	off := 0
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			binary.LittleEndian.PutUint16(payload[off:], uint16(PCM16(s.Channels[c][i])))
			off += bytesPerSample
		}
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}

	return nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// GetWAVInfo extracts metadata from a canonical WAV header
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.BlockAlign == 0 || header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV header: block_align=%d sample_rate=%d",
			header.BlockAlign, header.SampleRate)
	}

	frames := header.Subchunk2Size / uint32(header.BlockAlign)
	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(frames) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumFrames:     frames,
	}, nil
}
