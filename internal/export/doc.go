// Package export writes a split recording to disk: one WAV file per segment,
// a JSON manifest and an optional SRT transcript.
package export
