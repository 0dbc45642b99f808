// Package prometheus renders authgate engine metrics in the Prometheus text
// exposition format.
//
// Counters are named authgate_*_total; the one histogram is
// authgate_provider_latency_seconds. The exporter never touches a global
// registry: callers mount [PrometheusExporter.Handler] themselves.
package prometheus
