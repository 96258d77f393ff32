// Package metrics provides Prometheus metrics for the filesystem engine.
//
// Metrics are optional. A nil *Metrics is never handed to the engine; callers
// that do not want metrics simply leave memfs.Config.Metrics unset.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

const namespace = "memfs"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeOther = "other"
)

// Metrics implements memfs.Recorder on top of a Prometheus registry.
type Metrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	bytes       *prometheus.CounterVec
	inodes      prometheus.Gauge
	orphans     prometheus.Gauge
	descriptors prometheus.Gauge
}

// New registers the engine metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of filesystem operations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of filesystem operations in seconds",
				Buckets:   []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1},
			},
			[]string{"op"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_total",
				Help:      "Total bytes moved through descriptors by direction",
			},
			[]string{"direction"},
		),
		inodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inodes",
			Help:      "Current number of live inodes",
		}),
		orphans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orphan_inodes",
			Help:      "Current number of unlinked inodes kept alive by open descriptors",
		}),
		descriptors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_descriptors",
			Help:      "Current number of open descriptors",
		}),
	}
}

// RecordOperation counts op under its outcome and observes its duration.
func (m *Metrics) RecordOperation(op string, duration time.Duration, err error) {
	m.operations.WithLabelValues(op, Outcome(err)).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordBytes adds n to the byte counter for direction.
func (m *Metrics) RecordBytes(direction string, n int) {
	m.bytes.WithLabelValues(direction).Add(float64(n))
}

// SetStats publishes the engine counters as gauges.
func (m *Metrics) SetStats(stats types.Stats) {
	m.inodes.Set(float64(stats.Inodes))
	m.orphans.Set(float64(stats.Orphans))
	m.descriptors.Set(float64(stats.Descriptors))
}

// Outcome returns the outcome label for err: "ok", the error kind, or
// "other" for errors that carry no kind.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if kind, ok := types.KindOf(err); ok {
		return kind.String()
	}
	return OutcomeOther
}
