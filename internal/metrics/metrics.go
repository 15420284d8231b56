// Package metrics records download counters and durations with the Prometheus client library.
// Metrics live on a private registry and can be written out in the node-exporter textfile format,
// which suits a CLI that exits after each run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SourceHTTPS = "https"
	SourceS3    = "s3"
)

// Recorder is what the downloaders report to. A nil Recorder is not allowed; use Noop.
type Recorder interface {
	StartDownload(source string)
	FinishDownload(source string, bytes int64, elapsed time.Duration, err error)
}

// Noop discards everything.
type Noop struct{}

func (Noop) StartDownload(string)                                {}
func (Noop) FinishDownload(string, int64, time.Duration, error) {}

// Prometheus implements Recorder.
type Prometheus struct {
	registry *prometheus.Registry

	downloadsTotal  *prometheus.CounterVec
	bytesTotal      *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	inProgress      *prometheus.GaugeVec
}

// New creates the collectors under namespace and registers them on a fresh registry.
func New(namespace string) *Prometheus {
	m := &Prometheus{registry: prometheus.NewRegistry()}

	m.downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Finished product downloads by source and status.",
		},
		[]string{"source", "status"},
	)

	m.bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes written to disk by successful downloads.",
		},
		[]string{"source"},
	)

	// Product archives range from a few MB to several GB, so durations run long.
	m.durationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Wall time of a single product download.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"source"},
	)

	m.inProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_progress",
			Help:      "Downloads currently streaming.",
		},
		[]string{"source"},
	)

	m.registry.MustRegister(m.downloadsTotal, m.bytesTotal, m.durationSeconds, m.inProgress)

	return m
}

func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Prometheus) StartDownload(source string) {
	m.inProgress.WithLabelValues(source).Inc()
}

func (m *Prometheus) FinishDownload(source string, bytes int64, elapsed time.Duration, err error) {
	m.inProgress.WithLabelValues(source).Dec()
	m.durationSeconds.WithLabelValues(source).Observe(elapsed.Seconds())

	if err != nil {
		m.downloadsTotal.WithLabelValues(source, "error").Inc()
		return
	}
	m.downloadsTotal.WithLabelValues(source, "success").Inc()
	m.bytesTotal.WithLabelValues(source).Add(float64(bytes))
}

// WriteTextfile writes the current values atomically to path.
func (m *Prometheus) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
