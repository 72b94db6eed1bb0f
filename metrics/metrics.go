// Package metrics exposes Prometheus counters for a packaging run. In live
// mode the counters are served over HTTP for scraping; in static mode they
// still accumulate and are simply never exported.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one packaging run.
type Metrics struct {
	registry             *prometheus.Registry
	framesSegmentedTotal prometheus.Counter
	segmentsWrittenTotal prometheus.Counter
	segmentsDeletedTotal prometheus.Counter
	configuredTracks     prometheus.Gauge
}

// New creates and registers the packager metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	framesSegmentedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omafpack_frames_segmented_total",
		Help: "Total number of presentation frames written across all tracks",
	})
	segmentsWrittenTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omafpack_segments_written_total",
		Help: "Total number of completed media segments",
	})
	segmentsDeletedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omafpack_segments_deleted_total",
		Help: "Total number of segment files deleted by live windowing",
	})
	configuredTracks := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omafpack_configured_tracks",
		Help: "Number of tile and extractor tracks in the current run",
	})

	registry.MustRegister(
		framesSegmentedTotal,
		segmentsWrittenTotal,
		segmentsDeletedTotal,
		configuredTracks,
	)

	return &Metrics{
		registry:             registry,
		framesSegmentedTotal: framesSegmentedTotal,
		segmentsWrittenTotal: segmentsWrittenTotal,
		segmentsDeletedTotal: segmentsDeletedTotal,
		configuredTracks:     configuredTracks,
	}
}

// IncFramesSegmented counts one fully segmented presentation frame.
func (m *Metrics) IncFramesSegmented() {
	m.framesSegmentedTotal.Inc()
}

// IncSegmentsWritten counts one closed media segment.
func (m *Metrics) IncSegmentsWritten() {
	m.segmentsWrittenTotal.Inc()
}

// AddSegmentsDeleted counts segment files removed by the live window.
func (m *Metrics) AddSegmentsDeleted(n int) {
	m.segmentsDeletedTotal.Add(float64(n))
}

// SetConfiguredTracks records the run's track count.
func (m *Metrics) SetConfiguredTracks(n int) {
	m.configuredTracks.Set(float64(n))
}

// Handler returns an http.Handler serving the run's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
