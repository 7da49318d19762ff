// Package metrics provides interfaces and implementations for Prometheus-compatible metrics.
//
// The package supports two modes of operation:
//   - Scrape mode: metrics are registered with a Prometheus registry and exposed via /metrics
//   - Push mode: metric values are buffered and written to a VictoriaMetrics/Prometheus
//     remote write endpoint on every Flush
//
// Host components do not talk to a Registry directly; they take a *HostMetrics
// built from one. A nil *HostMetrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge holds the latest value of a series.
type Gauge interface {
	Set(float64)
}

// Counter only goes up. Add panics on negative values in scrape mode.
type Counter interface {
	Inc()
	Add(float64)
}

// GaugeVec partitions a Gauge by label values.
type GaugeVec interface {
	With(prometheus.Labels) Gauge
}

// CounterVec partitions a Counter by label values.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// Registry creates instruments. ScrapeRegistry backs them with client_golang
// collectors; PushRegistry buffers values until Flush.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
}
