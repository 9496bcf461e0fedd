// Package metrics defines the prometheus collectors for the classification
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snapclass"

// Metrics groups the pipeline collectors.
type Metrics struct {
	Acquisitions        *prometheus.CounterVec
	Classifications     *prometheus.CounterVec
	InferenceDuration   prometheus.Histogram
	PermissionDecisions *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Image acquisitions by source and outcome",
		}, []string{"source", "status"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classification requests by outcome",
		}, []string{"outcome"}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Time spent instantiating and running the model",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		PermissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_decisions_total",
			Help:      "Camera permission request results",
		}, []string{"state"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently held by the store",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.Acquisitions,
		m.Classifications,
		m.InferenceDuration,
		m.PermissionDecisions,
		m.ActiveSessions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveAcquisition(source, status string) {
	if m == nil {
		return
	}
	m.Acquisitions.WithLabelValues(source, status).Inc()
}

func (m *Metrics) ObserveClassification(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.InferenceDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObservePermission(state string) {
	if m == nil {
		return
	}
	m.PermissionDecisions.WithLabelValues(state).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
