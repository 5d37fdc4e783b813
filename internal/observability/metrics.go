// Package observability provides run statistics tracking and Prometheus
// metrics for pipeline monitoring.
package observability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all pipeline-level metrics.
type Metrics struct {
	registry *prometheus.Registry

	RecordsIngested *prometheus.CounterVec
	RecordsRejected *prometheus.CounterVec
	RowsFused       prometheus.Counter
	FeedbackMatched prometheus.Counter
	FeedbackAbsent  prometheus.Counter
	DoseMatched     prometheus.Counter
	DoseAbsent      prometheus.Counter
	UsersProcessed  prometheus.Counter
	RunDuration     prometheus.Histogram
}

// NewMetrics creates a Metrics instance backed by a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RecordsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tempofuse",
				Subsystem: "records",
				Name:      "ingested_total",
				Help:      "Total number of raw records read from the source",
			},
			[]string{"stream"},
		),

		RecordsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tempofuse",
				Subsystem: "records",
				Name:      "rejected_total",
				Help:      "Total number of records dropped during normalization",
			},
			[]string{"stream", "reason"},
		),

		RowsFused: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tempofuse",
				Subsystem: "fusion",
				Name:      "rows_total",
				Help:      "Total number of fused rows emitted",
			},
		),

		FeedbackMatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tempofuse",
				Subsystem: "fusion",
				Name:      "feedback_matched_total",
				Help:      "Fused rows with a feedback event within tolerance",
			},
		),

		FeedbackAbsent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tempofuse",
				Subsystem: "fusion",
				Name:      "feedback_absent_total",
				Help:      "Fused rows with no feedback event within tolerance",
			},
		),

		DoseMatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tempofuse",
				Subsystem: "fusion",
				Name:      "dose_matched_total",
				Help:      "Fused rows with a preceding dose event within tolerance",
			},
		),

		DoseAbsent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tempofuse",
				Subsystem: "fusion",
				Name:      "dose_absent_total",
				Help:      "Fused rows with no preceding dose event within tolerance",
			},
		),

		UsersProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tempofuse",
				Subsystem: "fusion",
				Name:      "users_total",
				Help:      "Total number of user streams fused",
			},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tempofuse",
				Subsystem: "run",
				Name:      "duration_seconds",
				Help:      "End-to-end pipeline run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
	}

	m.registry.MustRegister(
		m.RecordsIngested,
		m.RecordsRejected,
		m.RowsFused,
		m.FeedbackMatched,
		m.FeedbackAbsent,
		m.DoseMatched,
		m.DoseAbsent,
		m.UsersProcessed,
		m.RunDuration,
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot gathers the registry and returns counter values keyed by fully
// qualified metric name, with label pairs appended as "{k=v,...}". Used for
// the end-of-run summary log.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("observability: failed to gather metrics: %w", err)
	}

	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			name := family.GetName()
			if labels := metric.GetLabel(); len(labels) > 0 {
				pairs := make([]string, 0, len(labels))
				for _, l := range labels {
					pairs = append(pairs, l.GetName()+"="+l.GetValue())
				}
				sort.Strings(pairs)
				name += "{" + strings.Join(pairs, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				values[name] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[name] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				values[name] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return values, nil
}
