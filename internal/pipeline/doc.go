// Package pipeline runs one recording through normalization, transcription,
// marker detection and extraction, and reports failures by stage.
package pipeline
