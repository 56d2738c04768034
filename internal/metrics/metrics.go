// Package metrics exposes gateway pipeline metrics in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts terminal outcomes per capability and status.
	RequestsTotal *prometheus.CounterVec

	// RejectionsTotal counts pipeline rejections by stage.
	RejectionsTotal *prometheus.CounterVec

	// BackendLatency observes outbound call latency per capability.
	BackendLatency *prometheus.HistogramVec

	// AuditDropped counts audit records lost to buffer overflow.
	AuditDropped prometheus.Counter
}

// New creates and registers all gateway metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of requests by capability and status code",
			},
			[]string{"capability", "status"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "requests",
				Name:      "rejected_total",
				Help:      "Requests terminated before the backend call, by stage",
			},
			[]string{"stage"},
		),
		BackendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "backend",
				Name:      "latency_seconds",
				Help:      "Outbound backend call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"capability"},
		),
		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Audit records dropped because the write buffer was full",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RejectionsTotal,
		m.BackendLatency,
		m.AuditDropped,
	)

	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
