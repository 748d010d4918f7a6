// Package metrics defines the Prometheus collectors exported by the splitter.
package metrics
