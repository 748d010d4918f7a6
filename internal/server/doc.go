// Package server exposes the splitter over HTTP: recordings are uploaded as
// jobs, segments are downloaded as WAV files, and health, configuration,
// statistics and Prometheus metrics are served alongside.
package server
