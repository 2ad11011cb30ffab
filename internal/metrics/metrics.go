// Package metrics holds the Prometheus collectors of the recognition engine.
// Collectors live on a private registry exposed through Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "face_attendance"

var registry = prometheus.NewRegistry()

var (
	// CacheLookups counts descriptor cache reads by result (hit, miss, degraded).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Descriptor cache lookups by result",
		},
		[]string{"result"},
	)

	CacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Descriptor cache store errors by operation",
		},
		[]string{"op"},
	)

	// Extractions counts descriptor builder outcomes (seeded, cached, extracted, skipped).
	Extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "descriptors",
			Name:      "members_total",
			Help:      "Members processed by the descriptor builder by outcome",
		},
		[]string{"outcome"},
	)

	DetectionPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "passes_total",
			Help:      "Completed detection passes",
		},
	)

	FrameErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "frame_errors_total",
			Help:      "Detection passes abandoned because of a frame error",
		},
	)

	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a detection pass",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// Matches counts faces seen per pass by outcome (known, unknown).
	Matches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "faces_total",
			Help:      "Detected faces by match outcome",
		},
		[]string{"outcome"},
	)

	// SessionPhase is 1 for the current phase of every session and 0 otherwise.
	SessionPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "phase",
			Help:      "Current recognition session phase",
		},
		[]string{"phase"},
	)

	AttendanceMarks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attendance",
			Name:      "marks_total",
			Help:      "Attendance marks by source (auto, manual)",
		},
		[]string{"source"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CacheLookups,
		CacheErrors,
		Extractions,
		DetectionPasses,
		FrameErrors,
		PassDuration,
		Matches,
		SessionPhase,
		AttendanceMarks,
	)
}

// SetPhase marks phase as the only active session phase.
func SetPhase(phase string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		SessionPhase.WithLabelValues(p).Set(v)
	}
}

// Registry returns the registry holding every collector of this package.
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
