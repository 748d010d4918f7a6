package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/marker-splitter/internal/audio"
	"github.com/skypro1111/marker-splitter/internal/logging"
	"github.com/skypro1111/marker-splitter/internal/metrics"
	"github.com/skypro1111/marker-splitter/internal/segment"
)

func buffer(id int, marker uint64, start, end float64, frames int) audio.SegmentBuffer {
	return audio.SegmentBuffer{
		Descriptor: segment.Descriptor{ID: id, Start: start, End: end, Marker: marker, Text: "text"},
		Signal: audio.Signal{
			Channels:   [][]float64{make([]float64, frames), make([]float64, frames)},
			SampleRate: 8000,
		},
	}
}

func TestFormatSRTTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00,000"},
		{2.6, "00:00:02,600"},
		{61.005, "00:01:01,005"},
		{3725.25, "01:02:05,250"},
		{-1, "00:00:00,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSRTTime(tt.seconds))
	}
}

func TestSRT(t *testing.T) {
	got := SRT([]segment.Descriptor{
		{ID: 1, Start: 0, End: 2.6, Text: "105 hello world"},
		{ID: 2, Start: 3, End: 5.5, Text: "  "},
		{ID: 3, Start: 12, End: 14.25, Text: "7 again"},
	})
	want := "1\n00:00:00,000 --> 00:00:02,600\n105 hello world\n\n" +
		"3\n00:00:12,000 --> 00:00:14,250\n7 again\n\n"
	assert.Equal(t, want, got)
}

func TestSaveFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.bin")
	require.NoError(t, SaveFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, SaveFileAtomic(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestDirFor(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "lesson"), DirFor("out", "/in/lesson.mp3"))
	assert.Equal(t, filepath.Join("out", "noext"), DirFor("out", "noext"))
}

func TestWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	e := NewExporter(logging.Discard(), m)
	dir := filepath.Join(t.TempDir(), "lesson")

	buffers := []audio.SegmentBuffer{
		buffer(1, 105, 0, 2.6, 20800),
		buffer(2, 7, 3, 5.5, 20000),
	}
	manifest, err := e.Write(context.Background(), dir, buffers, Options{
		Source:  "lesson.wav",
		Dropped: 1,
		SRT:     true,
		Workers: 2,
	})
	require.NoError(t, err)

	require.Len(t, manifest.Segments, 2)
	assert.Equal(t, "001.wav", manifest.Segments[0].File)
	assert.Equal(t, "002.wav", manifest.Segments[1].File)
	assert.Equal(t, uint64(7), manifest.Segments[1].Marker)
	assert.Equal(t, 8000, manifest.SampleRate)
	assert.Equal(t, 2, manifest.Channels)

	data, err := os.ReadFile(filepath.Join(dir, "001.wav"))
	require.NoError(t, err)
	assert.Len(t, data, audio.EncodedSize(20800, 2))
	info, err := audio.GetWAVInfo(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), info.Channels)
	assert.Equal(t, uint32(8000), info.SampleRate)
	assert.Equal(t, manifest.Segments[0].Bytes, len(data))

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	var decoded Manifest
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "lesson.wav", decoded.Source)
	assert.Equal(t, 1, decoded.Dropped)
	assert.Len(t, decoded.Segments, 2)

	srt, err := os.ReadFile(filepath.Join(dir, SRTFile))
	require.NoError(t, err)
	assert.Contains(t, string(srt), "00:00:03,000 --> 00:00:05,500")

	wantBytes := float64(audio.EncodedSize(20800, 2) + audio.EncodedSize(20000, 2))
	assert.Equal(t, wantBytes, testutil.ToFloat64(m.EncodedBytes))
}

func TestWriteReplacesEarlierExport(t *testing.T) {
	e := NewExporter(logging.Discard(), nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lesson.wav"), []byte("source"), 0o644))

	_, err := e.Write(context.Background(), dir, []audio.SegmentBuffer{
		buffer(1, 1, 0, 2, 100),
		buffer(2, 2, 3, 5, 100),
		buffer(3, 3, 6, 8, 100),
	}, Options{SRT: true})
	require.NoError(t, err)

	_, err = e.Write(context.Background(), dir, []audio.SegmentBuffer{buffer(1, 9, 0, 2, 100)}, Options{})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{"001.wav", ManifestFile, "lesson.wav"}, names)
}

func TestIsSegmentFile(t *testing.T) {
	tests := map[string]bool{
		"001.wav":     true,
		"1234.wav":    true,
		".wav":        false,
		"lesson.wav":  false,
		"001.wav.tmp": false,
		"001.mp3":     false,
	}
	for name, want := range tests {
		assert.Equal(t, want, isSegmentFile(name), name)
	}
}

func TestWriteWithoutSRT(t *testing.T) {
	e := NewExporter(logging.Discard(), nil)
	dir := t.TempDir()

	_, err := e.Write(context.Background(), dir, []audio.SegmentBuffer{buffer(1, 1, 0, 2, 100)}, Options{})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, SRTFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "001.wav"))
	assert.NoError(t, err)
}

func TestWriteRejectsEmptyBuffer(t *testing.T) {
	e := NewExporter(logging.Discard(), nil)
	bad := audio.SegmentBuffer{Descriptor: segment.Descriptor{ID: 1}}

	_, err := e.Write(context.Background(), t.TempDir(), []audio.SegmentBuffer{bad}, Options{})
	assert.ErrorIs(t, err, audio.ErrInvalidSignal)
}
