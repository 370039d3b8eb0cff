package samewatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the scan and decode path.
// Decoder and scheduler failures are absorbed here and into the logs; a
// noisy channel degrades the numbers, never the process.
type Metrics struct {
	ScansRun           *prometheus.CounterVec // label: source
	ScanOverruns       *prometheus.CounterVec // label: source
	ScanTimeouts       *prometheus.CounterVec // label: source
	SourceReadFailures *prometheus.CounterVec // label: source

	FramingErrors        prometheus.Counter
	ParityErrors         prometheus.Counter
	CandidatesReported   prometheus.Counter
	CandidatesBelowFloor prometheus.Counter

	ScanDuration prometheus.Histogram
}

func newMetrics() *Metrics {
	return &Metrics{
		ScansRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samewatch",
			Name:      "scans_total",
			Help:      "Demodulation passes started, per source.",
		}, []string{"source"}),
		ScanOverruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samewatch",
			Name:      "scan_overruns_total",
			Help:      "Cadence ticks skipped because the previous scan was still running.",
		}, []string{"source"}),
		ScanTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samewatch",
			Name:      "scan_timeouts_total",
			Help:      "Scans aborted for exceeding the wall clock budget.",
		}, []string{"source"}),
		SourceReadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samewatch",
			Name:      "source_read_failures_total",
			Help:      "Capture read errors, per source.",
		}, []string{"source"}),
		FramingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "samewatch",
			Name:      "framing_errors_total",
			Help:      "Bitstreams abandoned for an invalid start/stop pattern.",
		}),
		ParityErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "samewatch",
			Name:      "parity_errors_total",
			Help:      "Decoded characters whose parity bit did not match.",
		}),
		CandidatesReported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "samewatch",
			Name:      "candidates_reported_total",
			Help:      "Decoded headers at or above the confidence floor.",
		}),
		CandidatesBelowFloor: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "samewatch",
			Name:      "candidates_below_floor_total",
			Help:      "Decoded headers surfaced for diagnostics only.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "samewatch",
			Name:      "scan_duration_seconds",
			Help:      "Wall clock cost of one demodulation pass.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// NewMetrics creates the collectors and registers them with the default
// registry.
func NewMetrics() *Metrics {
	var m = newMetrics()
	prometheus.MustRegister(
		m.ScansRun,
		m.ScanOverruns,
		m.ScanTimeouts,
		m.SourceReadFailures,
		m.FramingErrors,
		m.ParityErrors,
		m.CandidatesReported,
		m.CandidatesBelowFloor,
		m.ScanDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered collectors so parallel tests do
// not trip over "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
