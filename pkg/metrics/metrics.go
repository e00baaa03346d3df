// Package metrics exposes orchestrator and steering counters in the
// Prometheus format. The CLI writes them to a node-exporter textfile.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/newtron-network/extport/pkg/util"
)

// Metrics holds the collectors of one agent. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	bound           prometheus.Gauge
	steeringFailure *prometheus.CounterVec
	compensations   prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "extport_operations_total",
			Help: "Lifecycle operations by operation, driver and result",
		}, []string{"operation", "driver", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extport_operation_duration_seconds",
			Help:    "Duration of attach and detach runs against devices",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"operation", "driver"}),
		bound: f.NewGauge(prometheus.GaugeOpts{
			Name: "extport_attachment_points_bound",
			Help: "Attachment points currently bound to a network",
		}),
		steeringFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "extport_steering_hook_failures_total",
			Help: "Failed steering driver hooks by driver and method",
		}, []string{"driver", "method"}),
		compensations: f.NewCounter(prometheus.CounterOpts{
			Name: "extport_steering_compensations_total",
			Help: "Compensating deletes after a failed postcommit",
		}),
	}
}

// Result maps an error to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, util.ErrConfiguration):
		return "configuration"
	case errors.Is(err, util.ErrConnection):
		return "connection"
	case errors.Is(err, util.ErrTimeout):
		return "timeout"
	case errors.Is(err, util.ErrResourceNotFound):
		return "resource_not_found"
	case errors.Is(err, util.ErrDriver):
		return "driver"
	case errors.Is(err, util.ErrDeviceLocked):
		return "locked"
	}
	return "error"
}

// ObserveOperation counts one operation and, for device runs, its duration.
func (m *Metrics) ObserveOperation(operation, driver string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, driver, Result(err)).Inc()
	if d > 0 {
		m.duration.WithLabelValues(operation, driver).Observe(d.Seconds())
	}
}

// SetBound sets the bound attachment point gauge.
func (m *Metrics) SetBound(n int) {
	if m == nil {
		return
	}
	m.bound.Set(float64(n))
}

// SteeringFailure counts a failed steering hook.
func (m *Metrics) SteeringFailure(driver, method string) {
	if m == nil {
		return
	}
	m.steeringFailure.WithLabelValues(driver, method).Inc()
}

// Compensation counts a compensating delete.
func (m *Metrics) Compensation() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

// WriteTextfile writes every collector to path in the text exposition
// format, replacing the file atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
