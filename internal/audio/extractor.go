package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/skypro1111/marker-splitter/internal/segment"
)

// ErrInvalidDescriptor is returned when a descriptor maps to an empty or
// negative sample range.
var ErrInvalidDescriptor = errors.New("invalid segment descriptor")

// SegmentBuffer is a detected segment together with its audio, cut from the
// original signal at the original rate and channel count.
type SegmentBuffer struct {
	segment.Descriptor
	Signal Signal
}

// SampleRange maps a descriptor onto [start, start+length) frames at rate.
func SampleRange(d segment.Descriptor, rate int) (start, length int) {
	start = int(math.Floor(d.Start * float64(rate)))
	end := int(math.Floor(d.End * float64(rate)))
	return start, end - start
}

// ExtractOne cuts a single descriptor out of src. Frames past the end of src
// are zero.
func ExtractOne(src Signal, d segment.Descriptor) (SegmentBuffer, error) {
	start, length := SampleRange(d, src.SampleRate)
	if length <= 0 || start < 0 {
		return SegmentBuffer{}, fmt.Errorf("%w: segment %d [%.3f, %.3f] maps to %d samples at offset %d",
			ErrInvalidDescriptor, d.ID, d.Start, d.End, length, start)
	}

	channels := make([][]float64, len(src.Channels))
	for c := range src.Channels {
		channels[c] = sliceChannel(src.Channels[c], start, length)
	}

	return SegmentBuffer{
		Descriptor: d,
		Signal:     Signal{Channels: channels, SampleRate: src.SampleRate},
	}, nil
}

// sliceChannel copies length samples from start, zero padding any overrun.
func sliceChannel(ch []float64, start, length int) []float64 {
	out := make([]float64, length)
	if start < len(ch) {
		copy(out, ch[start:])
	}
	return out
}

// Extract cuts every descriptor out of src sequentially, in order.
func Extract(src Signal, descriptors []segment.Descriptor) ([]SegmentBuffer, error) {
	return ExtractConcurrent(context.Background(), src, descriptors, 1)
}

// ExtractConcurrent cuts descriptors out of src using up to workers
// goroutines. src is only read. Output order matches descriptors.
func ExtractConcurrent(ctx context.Context, src Signal, descriptors []segment.Descriptor, workers int) ([]SegmentBuffer, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	out := make([]SegmentBuffer, len(descriptors))
	errs := make([]error, len(descriptors))

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i, d := range descriptors {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(i int, d segment.Descriptor) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i], errs[i] = ExtractOne(src, d)
		}(i, d)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
