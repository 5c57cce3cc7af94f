// Package metrics exports graph database and host timings to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/notegraph/internal/engine"
	"github.com/roach88/notegraph/internal/graph"
)

const namespace = "notegraph"

// Metrics is a graph.Observer backed by Prometheus collectors.
type Metrics struct {
	opLatency   *prometheus.HistogramVec
	opErrors    *prometheus.CounterVec
	hostLatency *prometheus.HistogramVec
}

var _ graph.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer. Registering twice with the same registry
// panics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of graph database operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed graph database operations by error code.",
		}, []string{"op", "code"}),
		hostLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "host_request_duration_seconds",
			Help:      "Latency of requests handled by the host process.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
	reg.MustRegister(m.opLatency, m.opErrors, m.hostLatency)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveOperation records a graph.DB operation.
func (m *Metrics) ObserveOperation(op string, d time.Duration, err error) {
	m.opLatency.WithLabelValues(op, status(err)).Observe(d.Seconds())
	if err != nil {
		code := string(engine.CodeOf(err))
		if code == "" {
			code = "UNKNOWN"
		}
		m.opErrors.WithLabelValues(op, code).Inc()
	}
}

// ObserveRequest records a request handled by host.Server. It matches
// host.ServerOptions.Observe.
func (m *Metrics) ObserveRequest(method string, d time.Duration, err error) {
	m.hostLatency.WithLabelValues(method, status(err)).Observe(d.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
