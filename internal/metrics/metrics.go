// Package metrics provides Prometheus metrics for a sync run. A run is a
// short lived process, so metrics are written to a node exporter textfile
// instead of being served.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	reg *prometheus.Registry

	operations    *prometheus.CounterVec
	filesIndexed  *prometheus.CounterVec
	collections   *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	lastRun       prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smog_operations_total",
				Help: "Operations applied to the remote side",
			},
			[]string{"kind", "status"},
		),
		filesIndexed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smog_files_indexed_total",
				Help: "Local files indexed, by whether the cached hash was reused",
			},
			[]string{"source"},
		),
		collections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smog_collections_total",
				Help: "Remote collections seen while binding",
			},
			[]string{"state"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smog_phase_duration_seconds",
				Help:    "Duration of each sync phase",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "smog_last_run_timestamp_seconds",
				Help: "Unix time the last sync run finished",
			},
		),
	}
}

func (m *Metrics) RecordOperation(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordIndexed(reused, hashed int) {
	m.filesIndexed.WithLabelValues("cache").Add(float64(reused))
	m.filesIndexed.WithLabelValues("hashed").Add(float64(hashed))
}

func (m *Metrics) RecordCollections(state string, n int) {
	m.collections.WithLabelValues(state).Add(float64(n))
}

// ObservePhase returns a func that records the elapsed time of phase when
// called.
func (m *Metrics) ObservePhase(phase string) func() {
	start := time.Now()
	return func() {
		m.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}

// WriteTextfile marks the run finished and writes every metric to path in
// the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	m.lastRun.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("could not write metrics to '%s': %w", path, err)
	}
	return nil
}
