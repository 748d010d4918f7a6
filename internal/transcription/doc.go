// Package transcription implements the HTTP client for a Whisper-compatible
// transcription API. It uploads normalized audio as a WAV multipart form,
// requests word-level timestamps, retries with exponential backoff and
// limits concurrent requests.
package transcription
