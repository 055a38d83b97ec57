// Package metrics exposes the kernel's Prometheus collectors. The
// recorder binds to a caller-supplied registry so concurrent hosts in
// one process never share collector state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "simkernel"

// Recorder holds the host-side collectors.
type Recorder struct {
	FramesTotal      prometheus.Counter
	FrameDuration    prometheus.Histogram
	ModuleRuns       *prometheus.CounterVec
	ModuleFailures   *prometheus.CounterVec
	ModuleTimeouts   *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	DispatchLatency  *prometheus.HistogramVec
	EventsPublished  *prometheus.CounterVec
	LeasesExpired    prometheus.Counter
	SyncChunksCopied prometheus.Counter
}

// NewRecorder creates and registers the collectors on reg. Pass
// prometheus.NewRegistry() for an isolated host.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "frames_total",
			Help:      "Total number of frames executed.",
		}),
		FrameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "frame_duration_seconds",
			Help:      "Wall duration of one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
		ModuleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modules",
			Name:      "runs_total",
			Help:      "Total module tick dispatches.",
		}, []string{"module"}),
		ModuleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modules",
			Name:      "failures_total",
			Help:      "Total module tick failures.",
		}, []string{"module"}),
		ModuleTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modules",
			Name:      "timeouts_total",
			Help:      "Total module ticks abandoned on timeout.",
		}, []string{"module"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "modules",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per module (0 closed, 1 open, 2 half-open).",
		}, []string{"module"}),
		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "modules",
			Name:      "tick_duration_seconds",
			Help:      "Duration of module ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"module"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published per type id.",
		}, []string{"type"}),
		LeasesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "leases_expired_total",
			Help:      "Snapshot leases hard-expired.",
		}),
		SyncChunksCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "sync_chunks_copied_total",
			Help:      "Chunks copied by dirty syncs.",
		}),
	}

	reg.MustRegister(
		r.FramesTotal, r.FrameDuration,
		r.ModuleRuns, r.ModuleFailures, r.ModuleTimeouts,
		r.BreakerState, r.DispatchLatency,
		r.EventsPublished, r.LeasesExpired, r.SyncChunksCopied,
	)
	return r
}

// NewNopRecorder creates a recorder on a throwaway registry, for tests
// and hosts that do not scrape.
func NewNopRecorder() *Recorder {
	return NewRecorder(prometheus.NewRegistry())
}
