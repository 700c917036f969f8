// Package metrics exposes a small Prometheus registry for ingest
// throughput, download bytes/sec, and in-flight fingerprint dedup, named
// in the domain stack after the dependency seen in the plexTuner example
// (github.com/prometheus/client_golang); no concrete wiring code survives
// in that repo to adapt from, so the registry and metric names below
// follow the library's own promauto idiom rather than a teacher file.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric this process exports.
type Registry struct {
	reg *prometheus.Registry

	VideosProcessed  *prometheus.CounterVec
	VideosDeleted    prometheus.Counter
	DownloadBytes    prometheus.Counter
	DownloadFailures *prometheus.CounterVec
	FingerprintsBusy prometheus.Gauge
	StageDuration    *prometheus.HistogramVec
}

// New builds a Registry with every metric registered against a fresh
// prometheus.Registry (not the global DefaultRegisterer, so multiple
// instances can coexist in tests).
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		VideosProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biliarchive",
			Subsystem: "ingest",
			Name:      "videos_processed_total",
			Help:      "Video descriptors processed by source and outcome.",
		}, []string{"source_key", "status"}),
		VideosDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "biliarchive",
			Subsystem: "ingest",
			Name:      "videos_deleted_total",
			Help:      "Videos marked deleted by the deletion scan.",
		}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "biliarchive",
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes written to disk by the downloader.",
		}),
		DownloadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biliarchive",
			Subsystem: "download",
			Name:      "failures_total",
			Help:      "Download failures by reason.",
		}, []string{"reason"}),
		FingerprintsBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "biliarchive",
			Subsystem: "pipeline",
			Name:      "fingerprints_in_flight",
			Help:      "Fingerprints currently deduplicated via the fingerprint tracker.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "biliarchive",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// Gatherer returns the underlying prometheus.Gatherer for a /metrics
// handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveStageDuration satisfies pipeline.Metrics, recording one pipeline
// stage's wall-clock duration against StageDuration.
func (r *Registry) ObserveStageDuration(stage string, d time.Duration) {
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncVideoProcessed satisfies pipeline.Metrics, recording one video's
// terminal outcome for a source's download run.
func (r *Registry) IncVideoProcessed(sourceKey, status string) {
	r.VideosProcessed.WithLabelValues(sourceKey, status).Inc()
}

// IncDownloadFailure satisfies pipeline.Metrics, recording one page-lane
// download failure by reason.
func (r *Registry) IncDownloadFailure(reason string) {
	r.DownloadFailures.WithLabelValues(reason).Inc()
}
