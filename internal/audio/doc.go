// Package audio handles PCM signals: decoding source files, downmixing and
// resampling for transcription, cutting detected segments out of the original
// signal, and encoding segments into 16-bit linear PCM WAV containers.
package audio
